// Package app wires the latch server runtime: config, logging, storage, the account service,
// and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"latch/cmd/identity"
	"latch/cmd/internal/account"
	authapi "latch/cmd/internal/auth/api"
	"latch/cmd/internal/auth/session"
	"latch/cmd/internal/mail"
	"latch/cmd/internal/metrics"
	"latch/cmd/security/password"
)

// App is the latch server runtime: it owns the store, the account service and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	store    identity.Store
	accounts *account.Service
	auth     *authapi.Handler
	metrics  *metrics.Registry
}

// Services groups the domain objects built from the environment. The CLI uses it for
// commands that do not serve HTTP.
type Services struct {
	Store    identity.Store
	Accounts *account.Service
}

// NewServices loads every LATCH_* sub-config and builds the store and account service.
// The caller owns Store and must Close it.
func NewServices(ctx context.Context, cfg Config, log Logger, reg *metrics.Registry, migrate bool) (*Services, error) {
	hasher, err := SecretHasher(cfg)
	if err != nil {
		return nil, err
	}
	if !hasher.HMACEnabled() {
		log.Warn("security.token_hasher.sha256", "hint", "set LATCH_TOKEN_HMAC_KEY to store codes and reset tokens as HMAC digests")
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(sessCfg)
	if err != nil {
		return nil, err
	}
	mailCfg, err := mail.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	mailer, err := mail.NewSender(mailCfg, log)
	if err != nil {
		return nil, err
	}
	accCfg, err := account.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg, log, migrate)
	if err != nil {
		return nil, err
	}

	accounts, err := account.NewService(store, sessions, accCfg,
		account.WithMailer(mailer),
		account.WithLogger(log),
		account.WithMetrics(reg),
		account.WithPasswordConfig(pwCfg),
		account.WithHasher(hasher),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Services{Store: store, Accounts: accounts}, nil
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	var reg *metrics.Registry
	if cfg.MetricsEnabled {
		reg = metrics.New()
	}

	svc, err := NewServices(ctx, cfg, log, reg, false)
	if err != nil {
		return nil, err
	}

	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		_ = svc.Store.Close()
		return nil, err
	}
	authHandler, err := authapi.NewHandler(log, svc.Accounts, apiCfg, authapi.WithMetrics(reg))
	if err != nil {
		_ = svc.Store.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		store:    svc.Store,
		accounts: svc.Accounts,
		auth:     authHandler,
		metrics:  reg,
	}, nil
}

// Handler returns the full middleware-wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.store, a.auth, a.metrics)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log, a.metrics)
}

// Run starts the HTTP server and the expiry sweeper and blocks until context cancellation or
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	driver, _ := a.cfg.StoreDriver()
	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", driver, "metrics", a.metrics != nil)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.accounts.RunSweeper(sweepCtx, 0)
	}()
	defer func() {
		stopSweeper()
		wg.Wait()
		// Close store resources (pool etc).
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the store without running the server.
func (a *App) Close() error {
	return a.store.Close()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
