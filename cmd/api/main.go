package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Muggles200/contract-analize-sub003/internal/billing"
	"github.com/Muggles200/contract-analize-sub003/internal/config"
	"github.com/Muggles200/contract-analize-sub003/internal/httpapi"
	"github.com/Muggles200/contract-analize-sub003/internal/lifecycle"
	"github.com/Muggles200/contract-analize-sub003/internal/notify"
	"github.com/Muggles200/contract-analize-sub003/internal/obs"
	"github.com/Muggles200/contract-analize-sub003/internal/store/pg"
	"github.com/Muggles200/contract-analize-sub003/internal/sweep"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		store lifecycle.Store
		probe httpapi.ReadyProbe
	)
	if cfg.DatabaseDSN != "" {
		pgStore, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// Dev mode without postgres.
		log.Println("LIFECYCLE_PG_DSN not set, using in-memory store")
		store = lifecycle.NewInMemory()
	}

	var provider billing.Provider = billing.Nop{}
	if cfg.BillingBaseURL != "" {
		provider = billing.NewClient(cfg.BillingBaseURL, cfg.BillingToken, cfg.BillingTimeout)
	}

	hub := notify.NewHub()
	notifier := notify.Multi(notify.LogNotifier{}, hub)

	svc, err := lifecycle.NewService(store,
		lifecycle.WithGracePeriod(cfg.GracePeriod()),
		lifecycle.WithBilling(provider),
		lifecycle.WithBillingTimeout(cfg.BillingTimeout),
		lifecycle.WithNotifier(notifier),
		lifecycle.WithSweepBatch(cfg.SweepBatch),
	)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	api := httpapi.New(probe, version, svc, hub)
	api.ConfigureRateLimit(cfg.RateBurst, cfg.RatePerSecond)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go func() {
		if err := sweep.NewRunner(svc, cfg.SweepInterval).Run(sweepCtx); err != nil && err != context.Canceled {
			log.Printf("sweep runner stopped: %v", err)
		}
	}()

	log.Printf("Starting lifecycle-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	cancelSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
