package main

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/threaded-comments/internal/platform/auth"
	"github.com/example/threaded-comments/internal/platform/config"
	"github.com/example/threaded-comments/internal/platform/db"
	"github.com/example/threaded-comments/internal/platform/events"
	"github.com/example/threaded-comments/internal/platform/httpserver"
	"github.com/example/threaded-comments/internal/platform/logging"
	"github.com/example/threaded-comments/internal/platform/natsconn"
	"github.com/example/threaded-comments/internal/platform/ratelimit"
	"github.com/example/threaded-comments/internal/platform/run"
	policycfg "github.com/example/threaded-comments/services/comments/internal/config"
	"github.com/example/threaded-comments/services/comments/internal/contenttypes"
	"github.com/example/threaded-comments/services/comments/internal/handlers"
	"github.com/example/threaded-comments/services/comments/internal/idempotency"
	"github.com/example/threaded-comments/services/comments/internal/notify"
	"github.com/example/threaded-comments/services/comments/internal/service"
	"github.com/example/threaded-comments/services/comments/internal/spam"
	"github.com/example/threaded-comments/services/comments/internal/store"
	"github.com/example/threaded-comments/services/comments/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	policy, err := policycfg.Load(log)
	if err != nil {
		log.Error("comment policy", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}
	policy.Watch()
	p := policy.Current()

	st, pool := initStore(log, cfg, policy.Limits)
	if pool != nil {
		defer pool.Close()
	}

	var resolver contenttypes.Resolver = contenttypes.Sequential(append(slices.Clone(p.ContentTypes), p.ProfileContentType)...)
	if pool != nil {
		resolver = contenttypes.NewPostgresResolver(pool)
	}
	registry := contenttypes.NewRegistry(resolver, p.ContentTypes, p.ProfileContentType)

	nc, js := initNATS(log, cfg)
	if nc != nil {
		defer nc.Close()
	}
	pub := events.New(js, log)

	var deliverer notify.Deliverer = notify.LogDeliverer{Log: log.Named("notify")}
	var feedback spam.Feedback = spam.Nop{}
	if pub.Enabled() {
		deliverer = notify.EventDeliverer{Pub: pub}
		feedback = spam.NewPublisher(pub)
	}
	notifier := notify.New(st, deliverer, policy.Limits, log)

	var dispatcher notify.Dispatcher = notify.Direct{Notifier: notifier}
	if pub.Enabled() {
		dispatcher = notify.EventDispatcher{Pub: pub}
	}

	svc := service.New(service.Options{
		Store:        st,
		Policy:       policy,
		ContentTypes: registry,
		Permissions: service.DefaultPermissions{ProfileType: func(ctx context.Context) (int64, bool) {
			id, ok, err := registry.ID(ctx, policy.Current().ProfileContentType)
			return id, ok && err == nil
		}},
		Spam:       feedback,
		Dispatcher: dispatcher,
		Logger:     log,
	})

	limiter := ratelimit.New(p.PostRate, p.PostBurst)
	policy.OnChange(func(p policycfg.Policy) {
		registry.Reload(p.ContentTypes, p.ProfileContentType)
		limiter.SetLimit(p.PostRate, p.PostBurst)
	})

	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error {
			if pool == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		},
		Logger:  log,
		Metrics: true,
	})
	handlers.New(svc, registry, log).Register(r, verifier, limiter)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	var rdb *redis.Client
	if cfg.RedisDSN != "" {
		rdb = idempotency.NewRedisClient(cfg.RedisDSN)
		defer func() { _ = rdb.Close() }()
	}

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if js != nil {
			seen, err := idempotency.NewStore(idempotency.Options{Redis: rdb, Pool: pool, Production: cfg.IsProduction()})
			if err != nil {
				return err
			}
			w := worker.New(log, js, st, notifier, seen)
			go func() {
				if err := w.Run(ctx); err != nil {
					log.Error("fan-out worker stopped", zap.Error(err))
				}
			}()
		}

		go runner.Graceful(ctx, srv.Shutdown, func(context.Context) error {
			svc.Hooks().Wait()
			return nil
		})
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initStore selects the comment store backend.
// In production (APP_ENV=production) it requires a working Postgres connection
// and terminates the process otherwise.
func initStore(log *zap.Logger, cfg config.AppConfig, limits store.LimitsFunc) (store.Store, *pgxpool.Pool) {
	fail := func(msg string, err error) {
		log.Error(msg, zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}

	if cfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			fail("DATABASE_URL is required in production", errors.New("missing DATABASE_URL"))
		}
		log.Warn("DATABASE_URL not set, using in-memory comment store (development only)")
		return store.NewInMemoryStore(limits), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		if cfg.IsProduction() {
			fail("postgres is required in production but unavailable", err)
		}
		log.Warn("postgres unavailable, falling back to in-memory comment store", zap.Error(err))
		return store.NewInMemoryStore(limits), nil
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			fail("schema migration failed", err)
		}
		log.Info("schema applied")
	}

	log.Info("comments store: postgres")
	return store.NewPostgresStore(pool, limits), pool
}

// initNATS connects to JetStream. NATS is optional outside production: without
// it fan-out runs in-process and events are dropped.
func initNATS(log *zap.Logger, cfg config.AppConfig) (*nats.Conn, nats.JetStreamContext) {
	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName})
	if err != nil {
		if cfg.IsProduction() {
			log.Error("nats is required in production", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("nats unavailable, notifications run in-process", zap.Error(err))
		return nil, nil
	}
	js, err := natsconn.EnsureStream(nc, events.StreamName, events.StreamSubjects)
	if err != nil {
		nc.Close()
		if cfg.IsProduction() {
			log.Error("jetstream stream setup failed", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("jetstream unavailable, notifications run in-process", zap.Error(err))
		return nil, nil
	}
	return nc, js
}
