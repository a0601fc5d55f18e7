// Sweeper runs the deletion sweep as a standalone process, for deployments
// that separate the API from background execution. Any number of sweepers
// can run against the same database.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Muggles200/contract-analize-sub003/internal/billing"
	"github.com/Muggles200/contract-analize-sub003/internal/config"
	"github.com/Muggles200/contract-analize-sub003/internal/lifecycle"
	"github.com/Muggles200/contract-analize-sub003/internal/notify"
	"github.com/Muggles200/contract-analize-sub003/internal/obs"
	"github.com/Muggles200/contract-analize-sub003/internal/store/pg"
	"github.com/Muggles200/contract-analize-sub003/internal/sweep"
)

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("LIFECYCLE_PG_DSN is required")
	}

	store, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var provider billing.Provider = billing.Nop{}
	if cfg.BillingBaseURL != "" {
		provider = billing.NewClient(cfg.BillingBaseURL, cfg.BillingToken, cfg.BillingTimeout)
	}

	svc, err := lifecycle.NewService(store,
		lifecycle.WithGracePeriod(cfg.GracePeriod()),
		lifecycle.WithBilling(provider),
		lifecycle.WithBillingTimeout(cfg.BillingTimeout),
		lifecycle.WithNotifier(notify.LogNotifier{}),
		lifecycle.WithSweepBatch(cfg.SweepBatch),
	)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Println("Shutting down...")
		cancel()
	}()

	log.Printf("Starting lifecycle-sweeper (interval %s, batch %d)", cfg.SweepInterval, cfg.SweepBatch)
	if err := sweep.NewRunner(svc, cfg.SweepInterval).Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("sweep runner: %v", err)
	}
	log.Println("Stopped")
}
