package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-authgate/authsession/config"
	"github.com/go-authgate/authsession/credential"
	"github.com/go-authgate/authsession/display"
	"github.com/go-authgate/authsession/provider"
	"github.com/go-authgate/authsession/refresh"
	"github.com/go-authgate/authsession/retrier"
	"github.com/go-authgate/authsession/session"
	"github.com/go-authgate/authsession/token"
)

// app is one wired session for the lifetime of a command.
type app struct {
	client  *session.Client
	store   *credential.Store
	display display.Displayer
	log     zerolog.Logger
	closeFn func() error
}

func newApp(
	ctx context.Context,
	cfg *config.Config,
	endpoint config.EndpointConfig,
	d display.Displayer,
	log zerolog.Logger,
) (*app, error) {
	medium, closeFn, err := openMedium(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	store := credential.NewStore(medium, credential.WithLogger(log))
	exec := retrier.New(retrier.Policy{
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
	}, retrier.WithLogger(log))

	idp := provider.NewClient(provider.Endpoints{
		BaseURL:     endpoint.BaseURL,
		LoginPath:   endpoint.LoginPath,
		RefreshPath: endpoint.RefreshPath,
	}, exec, cfg.Retry.MaxAttempts)

	coord := refresh.NewCoordinator(store, idp, cfg.Session.RefreshTimeout,
		refresh.WithLogger(log),
		refresh.WithObserver(d),
	)

	client := session.New(session.Config{
		BaseURL:     endpoint.BaseURL,
		ProfilePath: endpoint.ProfilePath,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, session.Deps{
		Store:         store,
		Inspector:     token.NewInspector(cfg.Session.ExpiryThreshold),
		Refresher:     coord,
		Executor:      exec,
		Authenticator: idp,
	},
		session.WithLogger(log),
		session.WithObserver(d),
	)

	return &app{
		client:  client,
		store:   store,
		display: d,
		log:     log,
		closeFn: closeFn,
	}, nil
}

// Close waits for background refreshes, then releases the medium.
func (a *app) Close() {
	a.client.Wait()
	if err := a.closeFn(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close credential storage")
	}
}

// openMedium returns the configured storage and its release function.
func openMedium(
	ctx context.Context,
	cfg config.StorageConfig,
	log zerolog.Logger,
) (credential.Medium, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.StorageMemory:
		return credential.NewMemoryMedium(), noop, nil

	case config.StorageFile:
		m, err := credential.NewFileMedium(cfg.TokenFile, cfg.Namespace, log)
		if err != nil {
			return nil, nil, err
		}
		return m, noop, nil

	case config.StorageSQLite:
		m, err := credential.OpenSQLiteMedium(ctx, cfg.SQLitePath, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil

	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		// An unreachable server degrades to an empty session rather than
		// failing the command.
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable")
		}
		return credential.NewRedisMedium(rdb, cfg.RedisPrefix, cfg.Namespace), rdb.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown storage driver %q", errUsage, cfg.Driver)
	}
}
