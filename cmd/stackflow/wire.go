package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/client"
	"github.com/goliatone/go-stackflow/config"
	"github.com/goliatone/go-stackflow/execution"
	"github.com/goliatone/go-stackflow/logging"
	"github.com/goliatone/go-stackflow/runner"
	"github.com/goliatone/go-stackflow/session"
	"github.com/goliatone/go-stackflow/store/sqlitestore"
)

type executorFactory func() (execution.Executor, error)

func newClient(cfg config.Config, logger logging.Logger) (*client.Client, error) {
	breaker := client.DefaultBreakerSettings()
	breaker.MinRequests = cfg.Backend.Breaker.MinRequests
	breaker.FailureThreshold = cfg.Backend.Breaker.FailureThreshold
	breaker.Timeout = cfg.Backend.Breaker.OpenTimeout

	retries := runner.NewHandler(
		runner.WithLogger(logger),
		runner.WithMaxRetries(cfg.Backend.MaxRetries),
		runner.WithRetryStrategy(runner.RetryIf{
			Strategy:  runner.ExponentialBackoffStrategy{Base: 200 * time.Millisecond, Factor: 2, Max: 2 * time.Second},
			Retryable: client.Retryable,
		}),
	)

	return client.New(cfg.Backend.BaseURL,
		client.WithLogger(logger),
		client.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		client.WithTokenSource(client.NewTokenStore(cfg.Backend.Token)),
		client.WithRunner(retries),
		client.WithBreakerSettings(breaker),
		client.WithMaxUploadSize(cfg.MaxUploadBytes()),
	)
}

// backend builds the API client, nil when no backend url is configured.
func (e *Env) backend() (*client.Client, error) {
	if e.Config.Backend.BaseURL == "" {
		return nil, nil
	}
	return newClient(e.Config, e.Logger)
}

// Executor returns the execution backend: api unless replaced.
func (e *Env) Executor(api *client.Client) (execution.Executor, error) {
	if e.executor != nil {
		return e.executor()
	}
	if api == nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidConfig, "backend.base_url is required to execute workflows", nil, nil)
	}
	return api, nil
}

// openRepository selects the workflow store named by cfg.Store.Driver. The
// returned close function is never nil.
func openRepository(ctx context.Context, cfg config.Config, api *client.Client) (session.Repository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case config.StoreSQLite:
		db, err := sql.Open("sqlite", cfg.Store.DSN)
		if err != nil {
			return nil, noop, stackflow.NewError(stackflow.ErrCollaborator, "open sqlite", err,
				map[string]any{"dsn": cfg.Store.DSN})
		}
		// one connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
		store, err := sqlitestore.New(ctx, db, cfg.Store.Table)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return store, db.Close, nil
	case config.StoreBackend:
		if api == nil {
			return nil, noop, stackflow.NewError(stackflow.ErrInvalidConfig, "backend store needs a backend client", nil, nil)
		}
		return api.Workflows(), noop, nil
	default:
		return session.NewMemoryRepository(), noop, nil
	}
}
