package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sgadmin.org/internal/audit"
	"sgadmin.org/internal/auth"
	"sgadmin.org/internal/config"
	"sgadmin.org/internal/httpapi"
	"sgadmin.org/internal/obs"
	"sgadmin.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	tokens, err := auth.NewTokenService(store, cfg.TokenSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	resolver := auth.NewResolver(store, cfg.ResolverCacheTTL)
	recorder := audit.NewRecorder(store.AccessLogs())

	flow, err := auth.NewService(store, tokens, resolver, recorder,
		auth.WithDefaultRole("user"),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	rbac, err := auth.NewRBACService(store, resolver)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	if err := rbac.EnsureBuiltins(context.Background()); err != nil {
		log.Fatalf("seed permission catalog: %v", err)
	}

	api := httpapi.New(
		httpapi.ReadyProbe{DB: store.DB()},
		version,
		flow,
		rbac,
		resolver,
		httpapi.RateLimits{Burst: cfg.RateBurst, PerSecond: cfg.RatePerSecond},
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting sgadmin-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	recorder.Flush()
	_ = store.Close()
	log.Println("stopped")
}
