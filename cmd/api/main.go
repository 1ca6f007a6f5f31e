package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/authz"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/obs"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GATEHOUSE_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		db             *sql.DB
		principalStore auth.PrincipalStore
		refreshStore   auth.RefreshTokenStore
		grantStore     authz.Store
	)
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		principalStore = auth.NewPGPrincipalStore(db)
		refreshStore = auth.NewPGRefreshTokenStore(db)
		grantStore = authz.NewPGStore(db)
	} else {
		// Development mode: everything in-process, nothing survives restart.
		log.Println("GATEHOUSE_PG_DSN is empty, using in-memory stores")
		principalStore = auth.NewMemoryPrincipalStore()
		refreshStore = auth.NewMemoryRefreshTokenStore()
		grantStore = authz.NewMemoryStore()
	}

	resolver, err := authz.NewResolver(grantStore, authz.WithCacheTTL(cfg.GrantCacheTTL))
	if err != nil {
		log.Fatalf("authz resolver: %v", err)
	}

	issuer, err := auth.NewIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.AccessTTL,
		auth.WithLeeway(cfg.ClockSkew),
		auth.WithRevocationList(auth.NewMemoryRevocationList()),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	hasher := auth.NewHasher(cfg.BcryptCost, cfg.MaxConcurrentHashes)

	svc, err := auth.NewService(principalStore, refreshStore, hasher, issuer,
		auth.WithLockoutPolicy(auth.LockoutPolicy{
			Threshold: cfg.LockoutThreshold,
			Duration:  cfg.LockoutDuration,
		}),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithStoreTimeout(cfg.StoreTimeout),
		auth.WithAuthorizer(resolver),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, svc, version,
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitPerSecond))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatehouse-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
