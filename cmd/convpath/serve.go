package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/api"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/leadership"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/maintenance"
)

// Scheduled job names
const (
	compactionJobName = "compaction"
	reapJobName       = "reap"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API, scheduled jobs and queue workers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.addr",
			},
			&cli.StringFlag{
				Name:  "node-id",
				Usage: "Leader election identity of this instance",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	rt, err := newRuntime(c, runtimeOptions{broadcast: true, workers: true})
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := rt.cfg
	logger := rt.logger

	if err := rt.notifier.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notifier: %w", err)
	}

	elector := leadership.NewElector(rt.store, nodeID(c.String("node-id")), &leadership.Config{
		LeaderTTL: cfg.Jobs.LeaderTTL,
		OnError:   func(err error) { logger.Warn("leader election error", "error", err) },
	}, leadership.Callbacks{
		OnBecameLeader:   func(context.Context) { logger.Info("became leader") },
		OnLostLeadership: func(context.Context) { logger.Info("lost leadership") },
	})
	if err := elector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	scheduler, err := maintenance.NewScheduler(&maintenance.SchedulerConfig{
		Location: cfg.Location(),
		Leader:   elector,
		Metrics:  rt.metrics,
		Logger:   logger.With("component", "scheduler"),
	})
	if err != nil {
		return err
	}
	if cfg.Jobs.CompactionSchedule != "" {
		job := maintenance.NewCompactionJob(rt.client, cfg.JobConfig(), logger.With("job", compactionJobName), rt.metrics)
		if err := scheduler.Add(job.ScheduledJob(compactionJobName, cfg.Jobs.CompactionSchedule)); err != nil {
			return err
		}
	}
	if cfg.Jobs.ReapSchedule != "" {
		reaper := maintenance.NewReaper(rt.store, cfg.ReaperConfig(), rt.metrics)
		if err := scheduler.Add(reaper.ScheduledJob(reapJobName, cfg.Jobs.ReapSchedule)); err != nil {
			return err
		}
	}
	if err := scheduler.Start(); err != nil {
		return err
	}

	if rt.queue != nil {
		if err := rt.queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start queue: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+cfg.Server.MetricsPath, promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{Registry: rt.registry}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","leader":%t}`, elector.IsLeader())
	})
	mux.Handle("/", api.NewRouter(rt.client, &api.Config{
		Notifier:  rt.notifier,
		JobConfig: cfg.JobConfig(),
		Metrics:   rt.metrics,
		Logger:    logger.With("component", "api"),
	}))

	addr := cfg.Server.Addr
	if c.String("addr") != "" {
		addr = c.String("addr")
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "node_id", elector.NodeID())
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if rt.queue != nil {
		if err := rt.queue.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
	}
	if err := elector.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("elector: %w", err))
	}
	if err := rt.notifier.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}
	return errors.Join(errs...)
}

// nodeID returns id, or the hostname plus a random suffix.
func nodeID(id string) string {
	if id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		host = "convpath"
	}
	return host + "-" + uuid.NewString()[:8]
}
