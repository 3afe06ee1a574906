// Package app assembles eventsink from configuration and runs it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/common/messaging/nats"
	"github.com/telhawk-systems/eventsink/internal/config"
	"github.com/telhawk-systems/eventsink/internal/dlq"
	"github.com/telhawk-systems/eventsink/internal/handlers"
	"github.com/telhawk-systems/eventsink/internal/pipeline"
	"github.com/telhawk-systems/eventsink/internal/reporter"
	"github.com/telhawk-systems/eventsink/internal/server"
	"github.com/telhawk-systems/eventsink/internal/source"
	"github.com/telhawk-systems/eventsink/internal/store"
	"github.com/telhawk-systems/eventsink/internal/store/memory"
	"github.com/telhawk-systems/eventsink/internal/store/opensearch"
	"github.com/telhawk-systems/eventsink/internal/store/postgres"
	redisstore "github.com/telhawk-systems/eventsink/internal/store/redis"
	"github.com/telhawk-systems/eventsink/internal/upsert"
)

const shutdownTimeout = 15 * time.Second

// OpenStore connects the configured backend once. Any failure here is a
// startup error.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.Store, error) {
	sc := cfg.Store
	switch sc.Backend {
	case config.BackendOpenSearch:
		client, err := opensearch.NewClient(opensearch.Config{
			URL:           sc.OpenSearch.URL,
			Username:      sc.OpenSearch.Username,
			Password:      sc.OpenSearch.Password,
			TLSSkipVerify: sc.OpenSearch.TLSSkipVerify,
			Index:         sc.IndexName(),
			ShardCount:    sc.OpenSearch.ShardCount,
			ReplicaCount:  sc.OpenSearch.ReplicaCount,
			Refresh:       sc.OpenSearch.Refresh,
		})
		if err != nil {
			return nil, err
		}
		if err := client.Initialize(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Info("opensearch store ready", "index", sc.IndexName())
		return client, nil

	case config.BackendPostgres:
		if sc.Postgres.AutoMigrate {
			version, err := postgres.Migrate(sc.Postgres.DSN)
			if err != nil {
				return nil, err
			}
			logger.Info("postgres migrations applied", "version", version)
		}
		st, err := postgres.New(ctx, postgres.Config{
			DSN:        sc.Postgres.DSN,
			Collection: sc.Database + "." + sc.Collection,
			MaxConns:   sc.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("postgres store ready", "collection", sc.Database+"."+sc.Collection)
		return st, nil

	case config.BackendRedis:
		st, err := redisstore.New(ctx, redisstore.Config{URL: sc.Redis.URL, KeyPrefix: sc.KeyPrefix()})
		if err != nil {
			return nil, err
		}
		logger.Info("redis store ready", "prefix", sc.KeyPrefix())
		return st, nil

	case config.BackendMemory:
		logger.Warn("using in-memory store; documents are lost on exit")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// OpenDLQ returns the configured dead-letter writer, or nil when disabled.
func OpenDLQ(ctx context.Context, cfg *config.Config, js *nats.JetStreamClient, logger *logging.Logger) (dlq.Writer, error) {
	if !cfg.DLQ.Enabled {
		logger.Info("DLQ disabled")
		return nil, nil
	}

	switch cfg.DLQ.Backend {
	case config.DLQFile:
		q, err := dlq.NewQueue(cfg.DLQ.BasePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("DLQ enabled", "backend", config.DLQFile, "base_path", cfg.DLQ.BasePath)
		return q, nil
	case config.DLQJetStream:
		if js == nil {
			return nil, errors.New("jetstream dlq requires a NATS connection")
		}
		q, err := dlq.NewJetStreamQueue(ctx, js, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown dlq backend %q", cfg.DLQ.Backend)
	}
}

// NewPipeline wires coordinator, reporter and pipeline over st.
func NewPipeline(cfg *config.Config, st store.Store, w dlq.Writer, logger *logging.Logger) *pipeline.Pipeline {
	coord := upsert.New(st, upsert.Config{
		Timeout:        cfg.Pipeline.MessageTimeout,
		MaxRetries:     cfg.Pipeline.MaxRetries,
		InitialBackoff: cfg.Pipeline.InitialBackoff,
		MaxBackoff:     cfg.Pipeline.MaxBackoff,
	}, upsert.WithLogger(logger))

	opts := []reporter.Option{}
	if w != nil {
		opts = append(opts, reporter.WithDLQ(w))
	}
	rep := reporter.New(logger, opts...)

	return pipeline.New(coord, rep,
		pipeline.WithConsumerGroup(cfg.Pipeline.ConsumerGroup),
		pipeline.WithLogger(logger))
}

// Serve runs the stream consumer and HTTP server until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", logging.Error(err))
		}
	}()

	js, err := connectNATS(cfg, logger)
	if err != nil {
		return err
	}
	if js != nil {
		defer func() {
			if err := js.Drain(); err != nil {
				logger.Warn("nats drain failed", logging.Error(err))
			}
		}()
	}

	w, err := OpenDLQ(ctx, cfg, js, logger)
	if err != nil {
		return fmt.Errorf("open dlq: %w", err)
	}

	pipe := NewPipeline(cfg, st, w, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Source.Enabled {
		consumer, err := source.New(ctx, js, source.Config{
			Stream:     cfg.Source.Stream,
			Subjects:   cfg.Source.Subjects,
			Consumer:   cfg.Source.Consumer,
			Workers:    cfg.Source.Workers,
			AckWait:    cfg.Source.AckWait,
			MaxDeliver: cfg.Source.MaxDeliver,
		}, pipe, logger)
		if err != nil {
			return fmt.Errorf("start source: %w", err)
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.Server.Enabled {
		hopts := []handlers.Option{
			handlers.WithLogger(logger),
			handlers.WithTimeout(cfg.Pipeline.MessageTimeout),
		}
		if js != nil && cfg.Source.Enabled {
			hopts = append(hopts, handlers.WithSource(js))
		}
		h := handlers.New(st, pipe, hopts...)

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      server.NewRouter(h, server.Options{FunctionKey: cfg.Server.FunctionKey, Logger: logger}),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		g.Go(func() error {
			logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("eventsink started",
		"store", cfg.Store.Backend,
		"source", cfg.Source.Enabled,
		"http", cfg.Server.Enabled)

	<-gctx.Done()
	logger.Info("shutdown signal received")
	return g.Wait()
}

// connectNATS opens the JetStream connection shared by the source and the
// JetStream DLQ. It returns nil when neither needs one.
func connectNATS(cfg *config.Config, logger *logging.Logger) (*nats.JetStreamClient, error) {
	jetstreamDLQ := cfg.DLQ.Enabled && cfg.DLQ.Backend == config.DLQJetStream
	if !cfg.Source.Enabled && !jetstreamDLQ {
		return nil, nil
	}

	url := cfg.Source.NATSURL
	if !cfg.Source.Enabled && cfg.DLQ.NATSURL != "" {
		url = cfg.DLQ.NATSURL
	}

	ncfg := nats.DefaultConfig()
	ncfg.URL = url
	ncfg.Logger = logger.Logger
	js, err := nats.NewJetStreamClient(ncfg)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("connected to NATS", "url", url)
	return js, nil
}
