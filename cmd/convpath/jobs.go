package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/maintenance"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/queue"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "river",
				Usage: "Also apply River's queue migrations (pgx driver only)",
				Value: true,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			drv, pool, closeDB, err := openDriver(c.Context, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			applied, err := storage.Migrate(c.Context, drv)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Fprintf(c.App.Writer, "applied %s\n", name)
			}
			if len(applied) == 0 {
				fmt.Fprintln(c.App.Writer, "schema is up to date")
			}

			if c.Bool("river") && pool != nil {
				if err := queue.Migrate(c.Context, pool); err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, "river schema is up to date")
			}
			return nil
		},
	}
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "Run one compaction sweep, or compact a single path",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be compacted without writing"},
			&cli.BoolFlag{Name: "all-paths", Usage: "Check every path instead of the active one"},
			&cli.StringFlag{Name: "strategy", Usage: "Override compaction.strategy"},
			&cli.IntFlag{Name: "token-threshold", Usage: "Override compaction.token_threshold"},
			&cli.IntFlag{Name: "batch-size", Usage: "Conversations fetched per page"},
			&cli.StringFlag{Name: "tenant", Usage: "Only sweep this tenant"},
			&cli.StringFlag{Name: "conversation", Usage: "Compact one path of this conversation"},
			&cli.StringFlag{Name: "path", Usage: "Path to compact with --conversation (default: active path)"},
		},
		Action: runCompact,
	}
}

func runCompact(c *cli.Context) error {
	rt, err := newRuntime(c, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	jobCfg := rt.cfg.JobConfig()
	jobCfg.DryRun = jobCfg.DryRun || c.Bool("dry-run")
	jobCfg.AllPaths = jobCfg.AllPaths || c.Bool("all-paths")
	jobCfg.Strategy = compaction.Strategy(c.String("strategy"))
	jobCfg.TokenThreshold = c.Int("token-threshold")
	jobCfg.TenantID = c.String("tenant")
	if c.Int("batch-size") > 0 {
		jobCfg.BatchSize = c.Int("batch-size")
	}

	if conversationID := c.String("conversation"); conversationID != "" {
		return compactOne(c, rt, conversationID, jobCfg)
	}

	job := maintenance.NewCompactionJob(rt.client, jobCfg, rt.logger, rt.metrics)
	result, err := job.Run(c.Context)
	if result != nil {
		if werr := writeJSON(c.App.Writer, result); werr != nil {
			return werr
		}
	}
	return err
}

func compactOne(c *cli.Context, rt *runtime, conversationID string, jobCfg *maintenance.JobConfig) error {
	pathID := c.String("path")
	if pathID == "" {
		path, err := rt.client.GetActivePath(c.Context, conversationID)
		if err != nil {
			return err
		}
		pathID = path.ID
	}

	cfg := rt.client.Compactor().Config()
	if jobCfg.Strategy != "" {
		cfg.Strategy = jobCfg.Strategy
	}
	if jobCfg.TokenThreshold > 0 {
		cfg.TokenThreshold = jobCfg.TokenThreshold
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	result, err := rt.client.Compact(c.Context, convpath.CompactParams{
		ConversationID: conversationID,
		PathID:         pathID,
		Trigger:        compaction.TriggerManual,
		Compactor:      rt.client.Compactor().WithConfig(&cfg),
		DryRun:         jobCfg.DryRun,
	})
	if result != nil {
		if werr := writeJSON(c.App.Writer, map[string]any{
			"conversation_id":  conversationID,
			"path_id":          pathID,
			"success":          result.Success,
			"dry_run":          jobCfg.DryRun,
			"strategy":         result.Strategy,
			"tokens_before":    result.TokensBefore,
			"tokens_after":     result.TokensAfter,
			"messages_removed": result.MessagesRemoved,
			"snapshot_id":      result.SnapshotID,
			"error":            result.Error,
		}); werr != nil {
			return werr
		}
	}
	return err
}

func reapCommand() *cli.Command {
	return &cli.Command{
		Name:  "reap",
		Usage: "Delete expired compaction snapshots",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "retention", Usage: "Override jobs.snapshot_retention"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.close()

			reaperCfg := rt.cfg.ReaperConfig()
			if c.IsSet("retention") {
				reaperCfg.SnapshotRetention = c.Duration("retention")
			}

			result := maintenance.NewReaper(rt.store, reaperCfg, rt.metrics).RunOnce(c.Context)
			errs := make([]string, 0, len(result.Errors))
			for _, err := range result.Errors {
				errs = append(errs, err.Error())
			}
			if err := writeJSON(c.App.Writer, map[string]any{"reaped": result.Reaped, "errors": errs}); err != nil {
				return err
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d reap errors", len(errs))
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
