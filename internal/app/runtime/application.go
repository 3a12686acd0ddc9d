// Package runtime wires configuration, stores, services and the HTTP server into one process.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/footprint-labs/footprint/internal/app/httpapi"
	"github.com/footprint-labs/footprint/internal/app/services/accounts"
	"github.com/footprint-labs/footprint/internal/app/services/walks"
	"github.com/footprint-labs/footprint/internal/app/storage"
	"github.com/footprint-labs/footprint/internal/app/storage/memory"
	"github.com/footprint-labs/footprint/internal/app/storage/postgres"
	"github.com/footprint-labs/footprint/internal/boundary"
	"github.com/footprint-labs/footprint/internal/config"
	"github.com/footprint-labs/footprint/internal/logging"
	"github.com/footprint-labs/footprint/internal/middleware"
	"github.com/footprint-labs/footprint/internal/platform/migrations"
)

const limiterIdleTimeout = 10 * time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg         *config.Config
	log         *logging.Logger
	handler     http.Handler
	httpServer  *http.Server
	rateLimiter *middleware.RateLimiter
	audit       *httpapi.AuditLog
	db          *sql.DB

	mu       sync.Mutex
	listener net.Listener
}

type stores struct {
	accounts storage.AccountStore
	walks    storage.WalkStore
}

// NewApplication constructs the application from cfg. The body cipher and token secret are
// loaded here once and shared read-only by every request.
func NewApplication(cfg *config.Config, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.New("footprint", cfg.Logging.Level, cfg.Logging.Format)
	}

	cipher, err := cfg.Crypto.Cipher()
	if err != nil {
		return nil, fmt.Errorf("configure body cipher: %w", err)
	}
	secret := []byte(cfg.Auth.Secret)
	resolver := middleware.NewResolver(middleware.ResolverConfig{
		Secret: secret,
		Header: cfg.Auth.Header,
		Leeway: cfg.Auth.Leeway,
	})

	st, db, err := buildStores(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	audit, err := httpapi.NewAuditLog(cfg.Logging.AuditSize, cfg.Logging.AuditPath)
	if err != nil {
		closeDB(db, log)
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	ttl := cfg.Auth.TokenTTL
	issuer := func(userID string) (string, error) {
		return middleware.IssueToken(secret, userID, ttl, time.Now())
	}
	accountSvc := accounts.New(st.accounts, issuer, log)
	walkSvc := walks.New(accountSvc, st.walks, log)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	}

	handler := httpapi.NewHandler(httpapi.Services{
		Accounts: accountSvc,
		Walks:    walkSvc,
	}, httpapi.Config{
		Boundary: boundary.Config{
			Cipher:           cipher,
			Resolver:         resolver,
			Logger:           log,
			MaxBodyBytes:     cfg.Crypto.MaxBodyBytes,
			DecryptMethods:   cfg.Crypto.DecryptMethods,
			DecryptSkipPaths: cfg.Crypto.SkipPaths,
			AuthSkipPaths:    cfg.Auth.SkipPaths,
		},
		RateLimiter:    limiter,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Audit:          audit,
		Logger:         log,
	})

	return &Application{
		cfg:     cfg,
		log:     log,
		handler: handler,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
		rateLimiter: limiter,
		audit:       audit,
		db:          db,
	}, nil
}

// Handler returns the root HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Addr returns the bound listen address once Run has started listening.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run starts the HTTP server and blocks until the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.httpServer.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	if a.rateLimiter != nil {
		a.rateLimiter.StartCleanup(ctx, time.Minute, limiterIdleTimeout)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Shutdown gracefully shuts down the HTTP server and releases the stores.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if a.rateLimiter != nil {
		a.rateLimiter.Cleanup(limiterIdleTimeout)
	}
	if cerr := a.audit.Close(); cerr != nil {
		a.log.WithError(cerr).Warn("error closing audit log")
	}
	closeDB(a.db, a.log)
	return err
}

func buildStores(cfg config.DatabaseConfig) (stores, *sql.DB, error) {
	if cfg.DSN == "" {
		mem := memory.New()
		return stores{accounts: mem, walks: mem}, nil, nil
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return stores{}, nil, err
	}
	if cfg.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return stores{}, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	pg := postgres.New(db)
	return stores{accounts: pg, walks: pg}, db, nil
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
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func closeDB(db *sql.DB, log *logging.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("error closing database connection")
	}
}
