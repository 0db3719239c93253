package app

import (
	"context"
	"net/http"
	"time"

	"latch/cmd/identity"
	authapi "latch/cmd/internal/auth/api"
	"latch/cmd/internal/metrics"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	store identity.Store,
	auth *authapi.Handler,
	reg *metrics.Registry,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		driver, _ := cfg.StoreDriver()
		if cfg.ReadinessRequireDB && driver == StoreMemory {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			log.Info("readyz.db.not_ready", "driver", driver, "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if reg != nil {
		mux.Handle("/metrics", reg.Handler())
	}

	if auth != nil {
		auth.Register(mux)
	}
}
