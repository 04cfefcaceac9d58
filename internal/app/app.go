// Package app assembles the session engine from configuration. Both the server
// and the CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/datelink/config"
	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/auth"
	"github.com/pilab-dev/datelink/internal/identity"
	"github.com/pilab-dev/datelink/internal/memstore"
	"github.com/pilab-dev/datelink/internal/metrics"
	"github.com/pilab-dev/datelink/log"
	"github.com/pilab-dev/datelink/matches"
	"github.com/pilab-dev/datelink/mongodb"
	"github.com/pilab-dev/datelink/session"
	"github.com/pilab-dev/datelink/sessionstore"
	redisstore "github.com/pilab-dev/datelink/sessionstore/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store         domain.SessionStore
	Accounts      domain.AccountRepository
	Profiles      domain.ProfileRepository
	Relationships domain.RelationshipRepository
	Photos        domain.PhotoStore

	Provider   *identity.Provider
	Sessions   *session.Manager
	Aggregator *matches.Aggregator

	ready   []func(ctx context.Context) error
	closers []func(ctx context.Context)
}

// New builds every component selected by cfg. On failure everything opened so
// far is closed again.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, err error) {
	if logger == nil {
		logger = log.NewNop()
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.Metrics = metrics.InitCustomMetrics(a.Registry)

	if err := a.openSessionStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openBackend(ctx); err != nil {
		return nil, err
	}

	a.Provider = identity.NewProvider(identity.Config{
		Accounts: a.Accounts,
		Hasher:   auth.NewBcryptPasswordHasher(bcrypt.DefaultCost),
		Signer:   identity.NewTokenSigner(cfg.JWTSecret, cfg.TokenTTL, nil),
		Store:    a.Store,
	})
	a.onClose(func(context.Context) { _ = a.Provider.Close() })

	policy := auth.DefaultPasswordPolicy()
	if cfg.PasswordMinLength > 0 {
		policy.MinLength = cfg.PasswordMinLength
	}

	a.Sessions = session.NewManager(session.Deps{
		Provider: a.Provider,
		Profiles: a.Profiles,
		Store:    a.Store,
		Photos:   a.Photos,
		Logger:   logger,
	},
		session.WithResumeTimeout(cfg.ResumeTimeout),
		session.WithSuperLikeLimit(cfg.SuperLikeLimit),
		session.WithPasswordPolicy(policy),
		session.WithMetrics(a.Metrics),
	)
	a.onClose(func(context.Context) { a.Sessions.Close() })

	a.Aggregator = matches.NewAggregator(a.Relationships, a.Profiles, logger,
		matches.WithLookupConcurrency(cfg.LookupConcurrency),
		matches.WithMetrics(a.Metrics),
	)

	return a, nil
}

func (a *App) openSessionStore(ctx context.Context) error {
	cfg := a.Config

	switch cfg.SessionStore {
	case config.SessionStoreBolt:
		store, err := sessionstore.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return err
		}
		a.Store = store
		a.onClose(func(context.Context) { _ = store.Close() })

	case config.SessionStoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		a.Store = redisstore.NewStore(client, cfg.RedisPrefix, 0)
		a.ready = append(a.ready, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		a.onClose(func(context.Context) { _ = client.Close() })

	case config.SessionStoreMemory:
		store := sessionstore.NewMemoryStore(0)
		a.Store = store
		a.onClose(func(context.Context) { _ = store.Close() })

	default:
		return fmt.Errorf("unsupported session_store %q", cfg.SessionStore)
	}

	a.Logger.Info(ctx, "session store opened", log.Fields{"session_store": cfg.SessionStore})

	return nil
}

func (a *App) openBackend(ctx context.Context) error {
	cfg := a.Config

	switch cfg.StorageBackend {
	case config.BackendMongo:
		repos, err := mongodb.NewRepositoryProvider(ctx, cfg.MongoURI, cfg.MongoDBName, cfg.PublicURL)
		if err != nil {
			return err
		}
		a.Accounts = repos.Accounts()
		a.Profiles = repos.Profiles()
		a.Relationships = repos.Relationships()
		a.Photos = repos.Photos()
		a.ready = append(a.ready, repos.Ping)
		a.onClose(repos.Disconnect)

	case config.BackendMemory:
		store := memstore.New()
		a.Accounts = identity.NewMemoryAccountStore()
		a.Profiles = store
		a.Relationships = store
		a.Photos = memstore.NewPhotoStore(cfg.PublicURL)

	default:
		return fmt.Errorf("unsupported storage_backend %q", cfg.StorageBackend)
	}

	a.Logger.Info(ctx, "storage backend ready", log.Fields{"storage_backend": cfg.StorageBackend})

	return nil
}

func (a *App) onClose(fn func(ctx context.Context)) {
	a.closers = append(a.closers, fn)
}

// Ready reports whether the remote stores answer.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	for _, check := range a.ready {
		if err := check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every component, newest first.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
