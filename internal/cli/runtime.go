package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/turnpike"
	"github.com/aretw0/turnpike/internal/config"
	"github.com/aretw0/turnpike/pkg/adapters/file"
	"github.com/aretw0/turnpike/pkg/adapters/memory"
	"github.com/aretw0/turnpike/pkg/adapters/process"
	redisadapter "github.com/aretw0/turnpike/pkg/adapters/redis"
	"github.com/aretw0/turnpike/pkg/adapters/sqlite"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/persistence/middleware"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// Runtime is an engine wired from configuration together with the
// resources it owns.
type Runtime struct {
	Engine  *turnpike.Engine
	Catalog *file.Catalog
	Metrics *prometheus.Registry
	Tasks   *registry.Registry
	Config  *config.Config
	logger  *slog.Logger
	closers []func() error
}

// Build opens the catalog and the configured stores and creates the engine.
// Extra engine options are applied last.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...turnpike.Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rt := &Runtime{
		Metrics: prometheus.NewRegistry(),
		Tasks:   registry.NewRegistry(),
		Config:  cfg,
		logger:  logger,
	}
	rt.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registerBuiltinTasks(rt.Tasks, logger.With("component", "tasks"))
	if err := installTools(cfg.Tasks, rt.Tasks, logger.With("component", "process")); err != nil {
		return nil, err
	}

	catalog, err := file.Open(cfg.Catalog.Path,
		file.WithLogger(logger.With("component", "catalog")),
		file.WithDebounce(cfg.Catalog.Debounce),
	)
	if err != nil {
		return nil, err
	}
	rt.Catalog = catalog

	opts := []turnpike.Option{
		turnpike.WithCatalog(catalog),
		turnpike.WithLogger(logger),
		turnpike.WithRegisterer(rt.Metrics),
		turnpike.WithTasks(rt.Tasks),
		turnpike.WithLockWait(cfg.Engine.LockWait),
		turnpike.WithPersistTimeout(cfg.Engine.PersistTimeout),
		turnpike.WithMaxInputSize(cfg.Engine.MaxInputSize),
	}

	if cfg.Audit.Backend == config.BackendSQLite {
		store, err := sqlite.New(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, rt.fail(err)
		}
		rt.closers = append(rt.closers, store.Close)
		opts = append(opts, turnpike.WithAuditStore(store))
		logger.Info("Audit log opened", "backend", "sqlite", "path", cfg.Audit.SQLitePath)
	}
	if cfg.Audit.Async {
		opts = append(opts, turnpike.WithAsyncAudit(cfg.Audit.Capacity))
	}

	var conversations ports.ConversationStore = memory.NewStore()
	if cfg.UsesRedis() {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, rt.fail(fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err))
		}
		if cfg.Conversation.Backend == config.BackendRedis {
			conversations = redisadapter.NewFromClient(client,
				redisadapter.WithPrefix(cfg.Redis.Prefix),
				redisadapter.WithTTL(cfg.Redis.TTL),
			)
		}
		if cfg.Redis.Lock {
			opts = append(opts,
				turnpike.WithLocker(redisadapter.NewLocker(client, cfg.Redis.Prefix)),
				turnpike.WithLockTTL(cfg.Redis.LockTTL),
			)
		}
		logger.Info("Redis connected", "addr", cfg.Redis.Addr, "lock", cfg.Redis.Lock)
	}
	if cfg.Conversation.Backend == config.BackendFile {
		conversations = file.NewStore(cfg.Conversation.Dir)
	}
	mws, err := storeMiddlewares(cfg.Conversation)
	if err != nil {
		return nil, rt.fail(err)
	}
	opts = append(opts, turnpike.WithConversationStore(middleware.Chain(conversations, mws...)))

	engine, err := turnpike.New(append(opts, extra...)...)
	if err != nil {
		return nil, rt.fail(err)
	}
	rt.Engine = engine
	return rt, nil
}

// Close stops the engine and releases the stores, in reverse order of creation.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Engine != nil {
		errs = append(errs, rt.Engine.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *Runtime) fail(err error) error {
	if cerr := rt.Close(); cerr != nil {
		rt.logger.Warn("Cleanup after failed start", "err", cerr)
	}
	return err
}

// storeMiddlewares masks configured keys first so that encryption only
// ever sees redacted context.
func storeMiddlewares(cfg config.ConversationConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.MaskKeys) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.MaskKeys)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if cfg.EncryptionKey != "" {
		encCfg := middleware.EncryptionConfig{}
		var err error
		if encCfg.ActiveKey, err = middleware.DecodeKey(cfg.EncryptionKey); err != nil {
			return nil, err
		}
		for _, k := range cfg.FallbackKeys {
			key, err := middleware.DecodeKey(k)
			if err != nil {
				return nil, err
			}
			encCfg.FallbackKeys = append(encCfg.FallbackKeys, key)
		}
		enc, err := middleware.NewEncryptionMiddleware(encCfg)
		if err != nil {
			return nil, err
		}
		mws = append(mws, enc)
	}
	return mws, nil
}

func installTools(cfg config.TasksConfig, reg *registry.Registry, logger *slog.Logger) error {
	if cfg.ToolsPath == "" {
		return nil
	}
	tools, err := process.LoadTools(cfg.ToolsPath)
	if err != nil {
		return err
	}
	runner := process.NewRunner(
		process.WithRegistry(tools),
		process.WithBaseDir(cfg.Dir),
		process.WithTimeout(cfg.Timeout),
		process.WithLogger(logger),
	)
	if err := runner.Install(reg); err != nil {
		return err
	}
	logger.Info("Process tools installed", "path", cfg.ToolsPath, "count", len(tools))
	return nil
}

// registerBuiltinTasks installs the tasks every binary can invoke from rules.
func registerBuiltinTasks(r *registry.Registry, logger *slog.Logger) {
	r.MustRegister("log", "turn", func(_ context.Context, s *domain.EngineSession, rule domain.Rule) error {
		logger.Info("Turn snapshot",
			"rule", rule.ID,
			"conversation_id", s.ConversationID,
			"intent", s.Intent,
			"state", s.State,
			"missing_fields", s.MissingFields,
		)
		return nil
	})
}
