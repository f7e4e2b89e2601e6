package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/config"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver/databasesql"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver/pgxv5"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/logging"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/metrics"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/queue"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// runtime is everything a command needs, built from the configuration.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	driver driver.Driver
	pool   *pgxpool.Pool
	store  storage.Store

	notifier *notifier.Notifier
	queue    *queue.Queue
	client   *convpath.Client

	closers []func()
}

type runtimeOptions struct {
	// broadcast connects the notifier to Postgres and Redis.
	broadcast bool
	// workers creates a working river client instead of an insert-only one.
	workers bool
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDriver connects to the configured database.
func openDriver(ctx context.Context, cfg *config.Config) (driver.Driver, *pgxpool.Pool, func(), error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, nil, err
	}

	switch cfg.Database.Driver {
	case config.DriverDatabaseSQL:
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxConns)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return databasesql.New(db, cfg.Database.URL), nil, func() { _ = db.Close() }, nil

	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid database url: %w", err)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.Database.MaxConns)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return pgxv5.New(pool), pool, pool.Close, nil
	}
}

func newRuntime(c *cli.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr),
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = metrics.New(rt.registry)

	if err := rt.open(c.Context, opts); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) open(ctx context.Context, opts runtimeOptions) error {
	cfg := rt.cfg

	drv, pool, closeDB, err := openDriver(ctx, cfg)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, closeDB)
	rt.driver, rt.pool = drv, pool
	rt.store = storage.NewPostgresStore(drv, &storage.PostgresConfig{LockTimeout: cfg.Database.LockTimeout})

	var broadcasters []notifier.Broadcaster
	if opts.broadcast {
		if cfg.Database.Notify && drv.SupportsListener() {
			broadcasters = append(broadcasters, notifier.NewPostgresBroadcaster(drv))
		}
		if cfg.Redis.URL != "" {
			redisOpts, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("invalid redis url: %w", err)
			}
			rdb := redis.NewClient(redisOpts)
			rt.closers = append(rt.closers, func() { _ = rdb.Close() })
			broadcasters = append(broadcasters, notifier.NewRedisBroadcaster(rdb, cfg.Redis.Channel))
		}
	}
	rt.notifier = notifier.New(&notifier.Config{
		OnError: func(err error) { rt.logger.Warn("notifier error", "error", err) },
	}, broadcasters...)

	var trigger convpath.CompactionTrigger
	if cfg.Queue.Enabled {
		if pool == nil {
			return fmt.Errorf("%w: queue requires the %s driver", config.ErrInvalidConfig, config.DriverPgx)
		}
		q, err := queue.New(pool, &queue.Config{
			Queue:      cfg.Queue.Name,
			MaxWorkers: cfg.Queue.MaxWorkers,
			InsertOnly: !opts.workers,
			Logger:     rt.logger.With("component", "queue"),
		})
		if err != nil {
			return err
		}
		rt.queue = q
		trigger = q
	}

	clientCfg := &convpath.Config{
		Store:       rt.store,
		Compaction:  cfg.CompactionConfig(),
		Notifier:    rt.notifier,
		Trigger:     trigger,
		Metrics:     rt.metrics,
		Logger:      rt.logger,
		LockTimeout: cfg.Database.LockTimeout,
	}
	if cfg.Anthropic.APIKey != "" {
		clientCfg.APIKey = cfg.Anthropic.APIKey
	} else {
		rt.logger.Warn("anthropic.api_key is not set, summarizing compactions will fail")
		clientCfg.Compactor = compaction.NewWithSummarizer(rt.store, missingCredentials{}, nil, cfg.CompactionConfig(), rt.logger)
	}

	client, err := convpath.New(clientCfg)
	if err != nil {
		return err
	}
	rt.client = client
	if rt.queue != nil {
		rt.queue.Bind(client)
	}
	return nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// missingCredentials lets read-only commands run without an API key.
type missingCredentials struct{}

func (missingCredentials) Summarize(context.Context, []*types.Message, []*types.Message) (string, error) {
	return "", errors.New("anthropic.api_key is not configured")
}
