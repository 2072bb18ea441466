// Package runtime assembles the process: configuration, logging, storage,
// provider clients, the service graph, and the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/trackfolio/backend/internal/app"
	"github.com/trackfolio/backend/internal/app/httpapi"
	"github.com/trackfolio/backend/internal/app/metrics"
	"github.com/trackfolio/backend/internal/app/storage/memory"
	"github.com/trackfolio/backend/internal/app/storage/postgres"
	"github.com/trackfolio/backend/internal/app/storage/redisstore"
	"github.com/trackfolio/backend/internal/config"
	"github.com/trackfolio/backend/internal/platform/migrations"
	"github.com/trackfolio/backend/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg   *config.Config
	log   *logger.Logger
	inner *app.Application

	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication constructs a fully wired application from the environment.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		Component: "trackfolio",
	})

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		stores.Sessions = redisstore.NewSessions(redisClient)
		log.WithField("addr", cfg.Redis.Addr).Info("sessions stored in redis")
	}

	inner, err := app.New(cfg, stores, app.Providers{}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	handler := metrics.InstrumentHandler(rootHandler(inner, log))
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		inner:      inner,
		httpServer: httpSrv,
		db:         db,
		redis:      redisClient,
	}, nil
}

// rootHandler mounts the REST API and the Prometheus endpoint.
func rootHandler(application *app.Application, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", httpapi.NewHandler(application, log))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Run starts the managed services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.inner.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and the managed services, then closes the
// storage connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.inner.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	return nil
}

// buildStores opens PostgreSQL when a DSN is configured and falls back to
// the in-memory store otherwise. The schema is applied on every start.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_DSN not set; using in-memory storage")
		mem := memory.New()
		return app.Stores{Prices: mem, Rates: mem, Assets: mem, Users: mem, Sessions: mem}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(migrateCtx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.NewWithStrategy(db, postgres.QueryStrategy(cfg.Database.QueryStrategy))
	return app.Stores{
		Prices:   store,
		Rates:    store,
		Assets:   store,
		Users:    store,
		Sessions: store,
	}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
