// Package sweep runs the periodic pass that executes deletions whose grace
// period has elapsed.
package sweep

import (
	"context"
	"time"

	"github.com/Muggles200/contract-analize-sub003/internal/lifecycle"
	"github.com/Muggles200/contract-analize-sub003/internal/obs"
)

const defaultInterval = time.Hour

// Runner periodically invokes the lifecycle sweep. Multiple runners may
// operate against the same store; the claim step partitions the work.
type Runner struct {
	svc      *lifecycle.Service
	interval time.Duration
}

func NewRunner(svc *lifecycle.Service, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Runner{svc: svc, interval: interval}
}

// Run sweeps immediately, then on every tick until the context ends.
func (r *Runner) Run(ctx context.Context) error {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	report, err := r.svc.SweepExpired(ctx)
	if err != nil {
		obs.LogRequest(map[string]any{
			"level": "error",
			"msg":   "sweep pass failed",
			"error": err.Error(),
		})
		return
	}
	if report.Claimed == 0 {
		return
	}
	obs.LogRequest(map[string]any{
		"level":    "info",
		"msg":      "sweep pass finished",
		"claimed":  report.Claimed,
		"executed": report.Executed,
		"failed":   report.Failed,
	})
}
