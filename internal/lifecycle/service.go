package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/Muggles200/contract-analize-sub003/internal/audit"
	"github.com/Muggles200/contract-analize-sub003/internal/auth"
	"github.com/Muggles200/contract-analize-sub003/internal/billing"
	"github.com/Muggles200/contract-analize-sub003/internal/notify"
	"github.com/Muggles200/contract-analize-sub003/internal/obs"
)

const (
	defaultGracePeriod    = 30 * 24 * time.Hour
	defaultBillingTimeout = 10 * time.Second
	defaultSweepBatch     = 50

	// The phrase the user must type to confirm a deletion request.
	confirmationPhrase = "DELETE"
)

// Service orchestrates the account deletion lifecycle: request, status,
// recovery within the grace window, and execution of expired deletions.
type Service struct {
	store    Store
	billing  billing.Provider
	notifier notify.Notifier
	now      func() time.Time

	grace          time.Duration
	billingTimeout time.Duration
	sweepBatch     int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithGracePeriod overrides the grace window between request and execution.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d <= 0 {
			return errors.New("lifecycle: grace period must be positive")
		}
		s.grace = d
		return nil
	}
}

// WithBilling sets the external billing provider.
func WithBilling(p billing.Provider) ServiceOption {
	return func(s *Service) error {
		if p != nil {
			s.billing = p
		}
		return nil
	}
}

// WithBillingTimeout bounds each individual billing cancellation call.
func WithBillingTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.billingTimeout = d
		}
		return nil
	}
}

// WithNotifier sets the user notification channel.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithSweepBatch limits how many expired deletions one sweep pass claims.
func WithSweepBatch(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.sweepBatch = n
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	svc := &Service{
		store:          store,
		billing:        billing.Nop{},
		notifier:       notify.LogNotifier{},
		now:            time.Now,
		grace:          defaultGracePeriod,
		billingTimeout: defaultBillingTimeout,
		sweepBatch:     defaultSweepBatch,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// GracePeriodDays returns the configured grace window in whole days.
func (s *Service) GracePeriodDays() int {
	return int(math.Ceil(s.grace.Hours() / 24))
}

// RequestDeletionInput carries everything the deletion entry point needs.
type RequestDeletionInput struct {
	UserID       string
	Password     string
	Confirmation string
	Reason       string
	ExportData   bool
}

// DeletionResult reports a successfully scheduled (or refreshed) deletion.
// The grace period and exact date are always present, even when secondary
// steps (export, billing) only partially succeeded.
type DeletionResult struct {
	Record          *DeletionRecord
	GracePeriodDays int
	DeletionDate    time.Time
	ExportIncluded  bool
	Export          *ExportSnapshot
	Dispositions    []Disposition
	BillingFailures int
}

// RequestDeletion verifies the preconditions, eagerly disposes shared
// organizations and recurring subscriptions, and schedules the deletion at
// now + grace period. Export and billing are best-effort; the organization
// dispositions and the deletion record itself are not.
func (s *Service) RequestDeletion(ctx context.Context, input RequestDeletionInput) (*DeletionResult, error) {
	user, err := s.store.Users(ctx).Find(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status != UserActive {
		return nil, ErrAccountDeactivated
	}
	if err := auth.VerifyPassword(user.PasswordHash, input.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if input.Confirmation != confirmationPhrase {
		return nil, ErrConfirmationPhrase
	}

	var snapshot *ExportSnapshot
	if input.ExportData {
		snap, err := s.Export(ctx, user.ID)
		if err != nil {
			// Export is best-effort: log, record, and keep going.
			obs.IncExportFailure()
			_ = audit.LogEvent(ctx, "lifecycle.export.failed", map[string]any{
				"user_id": user.ID,
				"error":   err.Error(),
			})
		} else {
			snapshot = snap
		}
	}

	// Organization dispositions and subscription termination touch disjoint
	// entity sets and run concurrently; each item is internally atomic.
	var (
		wg              sync.WaitGroup
		dispositions    []Disposition
		dispErr         error
		billingFailures int
		subErr          error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispositions, dispErr = s.disposeAll(ctx, user.ID)
	}()
	go func() {
		defer wg.Done()
		billingFailures, subErr = s.terminateSubscriptions(ctx, user.ID)
	}()
	wg.Wait()
	if dispErr != nil {
		return nil, fmt.Errorf("organization disposition: %w", dispErr)
	}
	if subErr != nil {
		return nil, fmt.Errorf("subscription termination: %w", subErr)
	}

	now := s.now().UTC()
	scheduledFor := now.Add(s.grace)
	rec, err := s.store.Deletions(ctx).Schedule(ctx, user.ID, scheduledFor, input.Reason)
	if err != nil {
		return nil, fmt.Errorf("schedule deletion: %w", err)
	}

	_ = s.store.Activity(ctx).Append(ctx, &ActivityRecord{
		UserID: user.ID,
		Action: ActionDeletionScheduled,
		Metadata: map[string]string{
			"scheduled_for": rec.ScheduledFor.Format(time.RFC3339),
			"reason":        input.Reason,
		},
		OccurredAt: now,
	})
	obs.IncDeletionScheduled()
	_ = audit.LogEvent(ctx, "lifecycle.deletion.scheduled", map[string]any{
		"user_id":          user.ID,
		"scheduled_for":    rec.ScheduledFor.Format(time.RFC3339),
		"export_included":  snapshot != nil,
		"billing_failures": billingFailures,
	})
	s.notify(ctx, user.ID, notify.TemplateDeletionScheduled, map[string]string{
		"deletion_date":     rec.ScheduledFor.Format(time.RFC3339),
		"grace_period_days": strconv.Itoa(s.GracePeriodDays()),
	})

	return &DeletionResult{
		Record:          rec,
		GracePeriodDays: s.GracePeriodDays(),
		DeletionDate:    rec.ScheduledFor,
		ExportIncluded:  snapshot != nil,
		Export:          snapshot,
		Dispositions:    dispositions,
		BillingFailures: billingFailures,
	}, nil
}

// disposeAll resolves every organization membership of the departing user.
// A membership that vanished since listing (another owner's deletion racing
// ours) is skipped.
func (s *Service) disposeAll(ctx context.Context, userID string) ([]Disposition, error) {
	orgs := s.store.Organizations(ctx)
	memberships, err := orgs.MembershipsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var dispositions []Disposition
	for _, mem := range memberships {
		disp, err := orgs.Dispose(ctx, mem.OrganizationID, userID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return dispositions, err
		}
		dispositions = append(dispositions, disp)

		switch disp.Action {
		case DispositionTransferred:
			_ = s.store.Activity(ctx).Append(ctx, &ActivityRecord{
				UserID: userID,
				Action: ActionOwnershipTransferred,
				Metadata: map[string]string{
					"organization_id": disp.OrganizationID,
					"successor_id":    disp.SuccessorID,
				},
				OccurredAt: s.now().UTC(),
			})
		case DispositionDissolved:
			_ = s.store.Activity(ctx).Append(ctx, &ActivityRecord{
				UserID:     userID,
				Action:     ActionOrgDissolved,
				Metadata:   map[string]string{"organization_id": disp.OrganizationID},
				OccurredAt: s.now().UTC(),
			})
		}
		_ = audit.LogEvent(ctx, "lifecycle.organization.disposed", map[string]any{
			"user_id":         userID,
			"organization_id": disp.OrganizationID,
			"action":          disp.Action,
			"successor_id":    disp.SuccessorID,
		})
	}
	return dispositions, nil
}

// terminateSubscriptions cancels every terminable subscription with the
// billing provider and mirrors the cancellation locally. Provider failures
// degrade to audit entries; only store failures abort.
func (s *Service) terminateSubscriptions(ctx context.Context, userID string) (failures int, err error) {
	subs := s.store.Subscriptions(ctx)
	terminable, err := subs.ListTerminable(ctx, userID)
	if err != nil {
		return 0, err
	}

	for _, sub := range terminable {
		callCtx, cancel := context.WithTimeout(ctx, s.billingTimeout)
		cancelErr := s.billing.CancelSubscription(callCtx, sub.ExternalRef)
		cancel()
		if cancelErr != nil {
			failures++
			obs.IncBillingCancelFailure()
			_ = audit.LogEvent(ctx, "lifecycle.subscription.cancel_failed", map[string]any{
				"user_id":         userID,
				"subscription_id": sub.ID,
				"external_ref":    sub.ExternalRef,
				"error":           cancelErr.Error(),
			})
			// Out-of-band reconciliation retries this one.
			continue
		}
		if err := subs.MarkCanceled(ctx, sub.ID, s.now().UTC()); err != nil {
			return failures, err
		}
		_ = s.store.Activity(ctx).Append(ctx, &ActivityRecord{
			UserID:     userID,
			Action:     ActionSubscriptionCanceled,
			Metadata:   map[string]string{"subscription_id": sub.ID},
			OccurredAt: s.now().UTC(),
		})
	}
	return failures, nil
}

// DeletionStatus answers "is this account scheduled for deletion and can it
// still be recovered".
type DeletionStatus struct {
	IsScheduled   bool
	DeletionDate  *time.Time
	DaysRemaining int
	Reason        string
	Status        string
	CanRecover    bool
}

// Status loads the most recent deletion record and derives the recovery
// window. A user with no record at all gets the zero status.
func (s *Service) Status(ctx context.Context, userID string) (*DeletionStatus, error) {
	rec, err := s.store.Deletions(ctx).Latest(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &DeletionStatus{}, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	st := &DeletionStatus{
		Status: rec.Status,
		Reason: rec.Reason,
	}
	if rec.Status == DeletionScheduled {
		st.IsScheduled = true
		date := rec.ScheduledFor
		st.DeletionDate = &date
		st.DaysRemaining = daysRemaining(now, rec.ScheduledFor)
		st.CanRecover = rec.ScheduledFor.After(now)
	}
	return st, nil
}

func daysRemaining(now, scheduledFor time.Time) int {
	days := int(math.Ceil(scheduledFor.Sub(now).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// Recover cancels a still-recoverable scheduled deletion. It restores
// account access only: organization dispositions and subscription
// cancellations performed at request time are deliberately not rolled back.
func (s *Service) Recover(ctx context.Context, userID, reason string) (*DeletionRecord, error) {
	now := s.now().UTC()
	rec, err := s.store.Deletions(ctx).Cancel(ctx, userID, now, reason)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNothingScheduled
	}
	if err != nil {
		return nil, err
	}

	_ = s.store.Activity(ctx).Append(ctx, &ActivityRecord{
		UserID:     userID,
		Action:     ActionDeletionRecovered,
		Metadata:   map[string]string{"cancelled_reason": reason},
		OccurredAt: now,
	})
	obs.IncDeletionRecovered()
	_ = audit.LogEvent(ctx, "lifecycle.deletion.recovered", map[string]any{
		"user_id":   userID,
		"record_id": rec.ID,
	})
	s.notify(ctx, userID, notify.TemplateDeletionRecovered, nil)
	return rec, nil
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Claimed  int
	Executed int
	Failed   int
}

// SweepExpired claims deletions whose grace period elapsed and purges them.
// Claiming is an atomic status transition in the store, so any number of
// workers can sweep concurrently without double execution. A failed purge
// leaves the claim in place; a later sweep reclaims it once stale.
func (s *Service) SweepExpired(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { obs.ObserveSweep(time.Since(start)) }()

	now := s.now().UTC()
	claimed, err := s.store.Deletions(ctx).ClaimExpired(ctx, now, s.sweepBatch)
	if err != nil {
		return SweepReport{}, fmt.Errorf("claim expired deletions: %w", err)
	}

	report := SweepReport{Claimed: len(claimed)}
	for _, rec := range claimed {
		if err := s.execute(ctx, rec); err != nil {
			report.Failed++
			obs.IncSweepFailure()
			_ = audit.LogEvent(ctx, "lifecycle.deletion.execute_failed", map[string]any{
				"user_id":   rec.UserID,
				"record_id": rec.ID,
				"error":     err.Error(),
			})
			continue
		}
		report.Executed++
	}
	return report, nil
}

// execute performs the irreversible purge for one claimed record. Every step
// is idempotent so a crash mid-purge can be resumed by a later sweep.
func (s *Service) execute(ctx context.Context, rec *DeletionRecord) error {
	// Notify first, while the user's address is still on file.
	s.notify(ctx, rec.UserID, notify.TemplateDeletionExecuted, nil)

	// Memberships acquired during the grace period still need disposition.
	if _, err := s.disposeAll(ctx, rec.UserID); err != nil {
		return fmt.Errorf("dispose organizations: %w", err)
	}
	if err := s.store.Users(ctx).Purge(ctx, rec.UserID); err != nil {
		return fmt.Errorf("purge user: %w", err)
	}
	if err := s.store.Deletions(ctx).MarkExecuted(ctx, rec.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}

	_ = s.store.Activity(ctx).Append(ctx, &ActivityRecord{
		UserID:     rec.UserID,
		Action:     ActionDeletionExecuted,
		Metadata:   map[string]string{"record_id": rec.ID},
		OccurredAt: s.now().UTC(),
	})
	obs.IncDeletionExecuted()
	_ = audit.LogEvent(ctx, "lifecycle.deletion.executed", map[string]any{
		"user_id":   rec.UserID,
		"record_id": rec.ID,
	})
	return nil
}

// notify sends a best-effort user notification. Failures are logged and
// never revert the transition they describe.
func (s *Service) notify(ctx context.Context, userID, template string, meta map[string]string) {
	if s.notifier == nil {
		return
	}
	n := notify.Notification{
		UserID:   userID,
		Template: template,
		Metadata: meta,
		SentAt:   s.now().UTC(),
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		obs.LogRequest(map[string]any{
			"level":    "warn",
			"msg":      "notification send failed",
			"user_id":  userID,
			"template": template,
			"error":    err.Error(),
		})
	}
}
