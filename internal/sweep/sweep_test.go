package sweep

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Muggles200/contract-analize-sub003/internal/auth"
	"github.com/Muggles200/contract-analize-sub003/internal/lifecycle"
	"github.com/Muggles200/contract-analize-sub003/internal/obs"
)

func TestMain(m *testing.M) {
	obs.Logger().SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestRunnerExecutesExpiredDeletions(t *testing.T) {
	store := lifecycle.NewInMemory()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := lifecycle.NewService(store, lifecycle.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	hash, err := auth.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ctx := context.Background()
	user := &lifecycle.User{ID: "user-1", Email: "one@example.com", PasswordHash: hash, Status: lifecycle.UserActive}
	if err := store.Users(ctx).Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := svc.RequestDeletion(ctx, lifecycle.RequestDeletionInput{
		UserID: "user-1", Password: "hunter2hunter2", Confirmation: "DELETE",
	}); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	clock.Advance(31 * 24 * time.Hour)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := NewRunner(svc, 20*time.Millisecond).Run(runCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}

	rec, err := store.Deletions(ctx).Latest(ctx, "user-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if rec.Status != lifecycle.DeletionExecuted {
		t.Fatalf("record status = %q, want executed", rec.Status)
	}
}
