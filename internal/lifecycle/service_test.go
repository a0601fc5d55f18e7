package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Muggles200/contract-analize-sub003/internal/auth"
	"github.com/Muggles200/contract-analize-sub003/internal/obs"
)

func TestMain(m *testing.M) {
	// Keep audit and notification JSON lines out of the test output.
	obs.Logger().SetOutput(io.Discard)
	os.Exit(m.Run())
}

const testPassword = "correct horse battery staple"

var (
	hashOnce sync.Once
	testHash string
)

func testPasswordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := auth.HashPassword(testPassword)
		if err != nil {
			panic(err)
		}
		testHash = h
	})
	return testHash
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

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

func newTestService(t *testing.T, store Store, opts ...ServiceOption) (*Service, *fakeClock) {
	t.Helper()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]ServiceOption{WithClock(clock.Now)}, opts...)
	svc, err := NewService(store, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, clock
}

func seedUser(t *testing.T, store *InMemory, id, email string) *User {
	t.Helper()
	u := &User{ID: id, Email: email, PasswordHash: testPasswordHash(t), Status: UserActive}
	if err := store.Users(context.Background()).Create(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}

func deletionInput(userID string) RequestDeletionInput {
	return RequestDeletionInput{
		UserID:       userID,
		Password:     testPassword,
		Confirmation: "DELETE",
		Reason:       "leaving the product",
	}
}

func userActions(t *testing.T, store *InMemory, userID string) []string {
	t.Helper()
	records, err := store.Activity(context.Background()).ListByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	actions := make([]string, 0, len(records))
	for _, rec := range records {
		actions = append(actions, rec.Action)
	}
	return actions
}

func containsAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

type recordingProvider struct {
	mu        sync.Mutex
	cancelled []string
	fail      map[string]error
}

func (p *recordingProvider) CancelSubscription(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[ref]; err != nil {
		return err
	}
	p.cancelled = append(p.cancelled, ref)
	return nil
}

func TestRequestDeletionSchedulesWithGracePeriod(t *testing.T) {
	store := NewInMemory()
	svc, clock := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	res, err := svc.RequestDeletion(context.Background(), deletionInput("user-1"))
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	if res.GracePeriodDays != 30 {
		t.Fatalf("grace period days = %d, want 30", res.GracePeriodDays)
	}
	wantDate := clock.Now().UTC().Add(30 * 24 * time.Hour)
	if !res.DeletionDate.Equal(wantDate) {
		t.Fatalf("deletion date = %v, want %v", res.DeletionDate, wantDate)
	}
	if res.Record.Status != DeletionScheduled {
		t.Fatalf("record status = %q", res.Record.Status)
	}
	if !containsAction(userActions(t, store, "user-1"), ActionDeletionScheduled) {
		t.Fatal("missing scheduled activity record")
	}
}

func TestRequestDeletionGate(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	deactivated := &User{ID: "user-2", Email: "two@example.com", PasswordHash: testPasswordHash(t), Status: UserDeleted}
	if err := store.Users(context.Background()).Create(context.Background(), deactivated); err != nil {
		t.Fatalf("seed deactivated user: %v", err)
	}

	cases := []struct {
		name  string
		input RequestDeletionInput
		want  error
	}{
		{"wrong password", RequestDeletionInput{UserID: "user-1", Password: "nope", Confirmation: "DELETE"}, ErrInvalidCredentials},
		{"wrong confirmation", RequestDeletionInput{UserID: "user-1", Password: testPassword, Confirmation: "delete"}, ErrConfirmationPhrase},
		{"missing confirmation", RequestDeletionInput{UserID: "user-1", Password: testPassword}, ErrConfirmationPhrase},
		{"deactivated account", RequestDeletionInput{UserID: "user-2", Password: testPassword, Confirmation: "DELETE"}, ErrAccountDeactivated},
		{"unknown user", RequestDeletionInput{UserID: "ghost", Password: testPassword, Confirmation: "DELETE"}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.RequestDeletion(context.Background(), tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := store.Deletions(context.Background()).Latest(context.Background(), "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("gate failure must not schedule anything, got %v", err)
	}
}

func TestRequestDeletionRefreshesExistingSchedule(t *testing.T) {
	store := NewInMemory()
	svc, clock := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	first, err := svc.RequestDeletion(context.Background(), deletionInput("user-1"))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	clock.Advance(5 * 24 * time.Hour)
	input := deletionInput("user-1")
	input.Reason = "changed my mind about the reason"
	second, err := svc.RequestDeletion(context.Background(), input)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	if second.Record.ID != first.Record.ID {
		t.Fatalf("re-request created a new record: %s vs %s", second.Record.ID, first.Record.ID)
	}
	if !second.DeletionDate.After(first.DeletionDate) {
		t.Fatal("re-request did not push the deletion date forward")
	}
	if second.Record.Reason != input.Reason {
		t.Fatalf("reason not refreshed: %q", second.Record.Reason)
	}

	scheduled := 0
	for _, rec := range store.deletions {
		if rec.UserID == "user-1" && rec.Status == DeletionScheduled {
			scheduled++
		}
	}
	if scheduled != 1 {
		t.Fatalf("scheduled records = %d, want 1", scheduled)
	}
}

func TestConcurrentRequestsYieldOneScheduledRecord(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RequestDeletion(context.Background(), deletionInput("user-1")); err != nil {
				t.Errorf("RequestDeletion: %v", err)
			}
		}()
	}
	wg.Wait()

	scheduled := 0
	for _, rec := range store.deletions {
		if rec.UserID == "user-1" && rec.Status == DeletionScheduled {
			scheduled++
		}
	}
	if scheduled != 1 {
		t.Fatalf("scheduled records = %d, want 1", scheduled)
	}
}

func TestSoleOwnerOrganizationDissolved(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "owner-1", "owner@example.com")

	ctx := context.Background()
	org := &Organization{ID: "org-1", Name: "Solo"}
	if err := store.Organizations(ctx).Create(ctx, org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := store.Organizations(ctx).AddMember(ctx, OrganizationMembership{OrganizationID: "org-1", UserID: "owner-1", Role: RoleOwner}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	res, err := svc.RequestDeletion(ctx, deletionInput("owner-1"))
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	if len(res.Dispositions) != 1 || res.Dispositions[0].Action != DispositionDissolved {
		t.Fatalf("dispositions = %+v, want one dissolution", res.Dispositions)
	}
	if _, err := store.Organizations(ctx).Find(ctx, "org-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("organization should be gone, got %v", err)
	}
	if !containsAction(userActions(t, store, "owner-1"), ActionOrgDissolved) {
		t.Fatal("missing dissolution activity record")
	}
}

func TestOwnershipTransfersToOldestAdmin(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "owner-1", "owner@example.com")
	seedUser(t, store, "admin-1", "admin1@example.com")
	seedUser(t, store, "admin-2", "admin2@example.com")
	seedUser(t, store, "member-1", "member@example.com")

	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Organizations(ctx).Create(ctx, &Organization{ID: "org-1", Name: "Shared"}); err != nil {
		t.Fatalf("create org: %v", err)
	}
	members := []OrganizationMembership{
		{OrganizationID: "org-1", UserID: "owner-1", Role: RoleOwner, CreatedAt: base},
		{OrganizationID: "org-1", UserID: "admin-2", Role: RoleAdmin, CreatedAt: base.Add(48 * time.Hour)},
		{OrganizationID: "org-1", UserID: "admin-1", Role: RoleAdmin, CreatedAt: base.Add(24 * time.Hour)},
		{OrganizationID: "org-1", UserID: "member-1", Role: RoleMember, CreatedAt: base.Add(time.Hour)},
	}
	for _, mem := range members {
		if err := store.Organizations(ctx).AddMember(ctx, mem); err != nil {
			t.Fatalf("add member %s: %v", mem.UserID, err)
		}
	}

	res, err := svc.RequestDeletion(ctx, deletionInput("owner-1"))
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	if len(res.Dispositions) != 1 {
		t.Fatalf("dispositions = %+v", res.Dispositions)
	}
	disp := res.Dispositions[0]
	if disp.Action != DispositionTransferred || disp.SuccessorID != "admin-1" {
		t.Fatalf("disposition = %+v, want transfer to oldest admin", disp)
	}

	remaining, err := store.Organizations(ctx).Members(ctx, "org-1")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	owners := 0
	for _, mem := range remaining {
		if mem.UserID == "owner-1" {
			t.Fatal("departing owner still a member")
		}
		if mem.Role == RoleOwner {
			owners++
			if mem.UserID != "admin-1" {
				t.Fatalf("owner = %s, want admin-1", mem.UserID)
			}
		}
	}
	if owners != 1 {
		t.Fatalf("owners = %d, want exactly 1", owners)
	}
}

func TestSubscriptionsTerminated(t *testing.T) {
	store := NewInMemory()
	provider := &recordingProvider{}
	svc, _ := newTestService(t, store, WithBilling(provider))
	seedUser(t, store, "user-1", "one@example.com")

	ctx := context.Background()
	subs := []*Subscription{
		{ID: "sub-1", UserID: "user-1", ExternalRef: "ext-1", Status: SubscriptionActive},
		{ID: "sub-2", UserID: "user-1", ExternalRef: "ext-2", Status: SubscriptionTrialing},
		{ID: "sub-3", UserID: "user-1", ExternalRef: "ext-3", Status: SubscriptionCanceled},
	}
	for _, sub := range subs {
		if err := store.Subscriptions(ctx).Create(ctx, sub); err != nil {
			t.Fatalf("create %s: %v", sub.ID, err)
		}
	}

	res, err := svc.RequestDeletion(ctx, deletionInput("user-1"))
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	if res.BillingFailures != 0 {
		t.Fatalf("billing failures = %d", res.BillingFailures)
	}
	if len(provider.cancelled) != 2 {
		t.Fatalf("provider cancellations = %v, want ext-1 and ext-2", provider.cancelled)
	}

	all, err := store.Subscriptions(ctx).ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	for _, sub := range all {
		if sub.Status != SubscriptionCanceled {
			t.Fatalf("subscription %s status = %q", sub.ID, sub.Status)
		}
	}
}

func TestBillingFailureDegradesButStillSchedules(t *testing.T) {
	store := NewInMemory()
	provider := &recordingProvider{fail: map[string]error{"ext-1": errors.New("billing api down")}}
	svc, _ := newTestService(t, store, WithBilling(provider))
	seedUser(t, store, "user-1", "one@example.com")

	ctx := context.Background()
	if err := store.Subscriptions(ctx).Create(ctx, &Subscription{ID: "sub-1", UserID: "user-1", ExternalRef: "ext-1", Status: SubscriptionActive}); err != nil {
		t.Fatalf("create sub: %v", err)
	}

	res, err := svc.RequestDeletion(ctx, deletionInput("user-1"))
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	if res.BillingFailures != 1 {
		t.Fatalf("billing failures = %d, want 1", res.BillingFailures)
	}
	if res.Record.Status != DeletionScheduled {
		t.Fatalf("record status = %q", res.Record.Status)
	}

	// The local mirror keeps the subscription terminable for reconciliation.
	terminable, err := store.Subscriptions(ctx).ListTerminable(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTerminable: %v", err)
	}
	if len(terminable) != 1 {
		t.Fatalf("terminable = %d, want 1", len(terminable))
	}
}

func TestStatusWindow(t *testing.T) {
	store := NewInMemory()
	svc, clock := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	ctx := context.Background()
	if _, err := svc.RequestDeletion(ctx, deletionInput("user-1")); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}

	clock.Advance(29 * 24 * time.Hour)
	st, err := svc.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.IsScheduled || !st.CanRecover {
		t.Fatalf("day 29 status = %+v, want scheduled and recoverable", st)
	}
	if st.DaysRemaining != 1 {
		t.Fatalf("days remaining = %d, want 1", st.DaysRemaining)
	}

	clock.Advance(2 * 24 * time.Hour)
	st, err = svc.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.CanRecover {
		t.Fatal("deletion past its date must not be recoverable")
	}
	if st.DaysRemaining != 0 {
		t.Fatalf("days remaining = %d, want 0", st.DaysRemaining)
	}
}

func TestStatusWithoutRecord(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	st, err := svc.Status(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.IsScheduled || st.CanRecover || st.DeletionDate != nil {
		t.Fatalf("status = %+v, want zero status", st)
	}
}

func TestRecoverCancelsScheduledDeletion(t *testing.T) {
	store := NewInMemory()
	svc, clock := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	ctx := context.Background()
	if _, err := svc.RequestDeletion(ctx, deletionInput("user-1")); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}

	clock.Advance(10 * 24 * time.Hour)
	rec, err := svc.Recover(ctx, "user-1", "changed my mind")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if rec.Status != DeletionCancelled || rec.CancelledAt == nil {
		t.Fatalf("record = %+v, want cancelled", rec)
	}

	st, err := svc.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.IsScheduled || st.CanRecover {
		t.Fatalf("status after recovery = %+v", st)
	}

	if _, err := svc.Recover(ctx, "user-1", "again"); !errors.Is(err, ErrNotRecoverable) {
		t.Fatalf("second recover err = %v, want %v", err, ErrNotRecoverable)
	}
	if !containsAction(userActions(t, store, "user-1"), ActionDeletionRecovered) {
		t.Fatal("missing recovery activity record")
	}
}

func TestRecoverAfterExpiryFails(t *testing.T) {
	store := NewInMemory()
	svc, clock := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	ctx := context.Background()
	if _, err := svc.RequestDeletion(ctx, deletionInput("user-1")); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	clock.Advance(31 * 24 * time.Hour)

	if _, err := svc.Recover(ctx, "user-1", "too late"); !errors.Is(err, ErrNotRecoverable) {
		t.Fatalf("err = %v, want %v", err, ErrNotRecoverable)
	}
}

func TestRecoverWithoutScheduleFails(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	if _, err := svc.Recover(context.Background(), "user-1", "nothing there"); !errors.Is(err, ErrNothingScheduled) {
		t.Fatalf("err = %v, want %v", err, ErrNothingScheduled)
	}
}

func TestRecoveryDoesNotRestoreDispositions(t *testing.T) {
	store := NewInMemory()
	provider := &recordingProvider{}
	svc, clock := newTestService(t, store, WithBilling(provider))
	seedUser(t, store, "owner-1", "owner@example.com")
	seedUser(t, store, "admin-1", "admin@example.com")

	ctx := context.Background()
	if err := store.Organizations(ctx).Create(ctx, &Organization{ID: "org-1", Name: "Shared"}); err != nil {
		t.Fatalf("create org: %v", err)
	}
	for _, mem := range []OrganizationMembership{
		{OrganizationID: "org-1", UserID: "owner-1", Role: RoleOwner},
		{OrganizationID: "org-1", UserID: "admin-1", Role: RoleAdmin},
	} {
		if err := store.Organizations(ctx).AddMember(ctx, mem); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	if err := store.Subscriptions(ctx).Create(ctx, &Subscription{ID: "sub-1", UserID: "owner-1", ExternalRef: "ext-1", Status: SubscriptionActive}); err != nil {
		t.Fatalf("create sub: %v", err)
	}

	if _, err := svc.RequestDeletion(ctx, deletionInput("owner-1")); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	clock.Advance(24 * time.Hour)
	if _, err := svc.Recover(ctx, "owner-1", "coming back"); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	memberships, err := store.Organizations(ctx).MembershipsByUser(ctx, "owner-1")
	if err != nil {
		t.Fatalf("MembershipsByUser: %v", err)
	}
	if len(memberships) != 0 {
		t.Fatalf("memberships restored after recovery: %+v", memberships)
	}
	terminable, err := store.Subscriptions(ctx).ListTerminable(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListTerminable: %v", err)
	}
	if len(terminable) != 0 {
		t.Fatalf("subscriptions restored after recovery: %+v", terminable)
	}
}

func TestSweepExecutesExpiredDeletions(t *testing.T) {
	store := NewInMemory()
	svc, clock := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")
	store.SeedContract(Contract{ID: "c-1", UserID: "user-1", Title: "NDA"})
	store.SetSetting("user-1", "theme", "dark")

	ctx := context.Background()
	if _, err := svc.RequestDeletion(ctx, deletionInput("user-1")); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}

	clock.Advance(31 * 24 * time.Hour)
	report, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if report.Claimed != 1 || report.Executed != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	user, err := store.Users(ctx).Find(ctx, "user-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if user.Status != UserDeleted {
		t.Fatalf("user status = %q", user.Status)
	}
	if !strings.HasPrefix(user.Email, "deleted+") || !strings.HasSuffix(user.Email, "@redacted.invalid") {
		t.Fatalf("email not anonymized: %q", user.Email)
	}
	if user.PasswordHash != "" {
		t.Fatal("credential hash survived the purge")
	}
	if len(store.contracts) != 0 {
		t.Fatal("contracts survived the purge")
	}

	rec, err := store.Deletions(ctx).Latest(ctx, "user-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if rec.Status != DeletionExecuted || rec.ExecutedAt == nil {
		t.Fatalf("record = %+v, want executed", rec)
	}

	// A second pass finds nothing left to do.
	report, err = svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Claimed != 0 {
		t.Fatalf("second sweep claimed %d records", report.Claimed)
	}
}

func TestSweepLeavesUnexpiredDeletionsAlone(t *testing.T) {
	store := NewInMemory()
	svc, clock := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	ctx := context.Background()
	if _, err := svc.RequestDeletion(ctx, deletionInput("user-1")); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}

	clock.Advance(15 * 24 * time.Hour)
	report, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if report.Claimed != 0 {
		t.Fatalf("claimed %d records inside the grace window", report.Claimed)
	}
}

func TestSweepReclaimsStaleClaims(t *testing.T) {
	store := NewInMemory()
	svc, clock := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")

	ctx := context.Background()
	if _, err := svc.RequestDeletion(ctx, deletionInput("user-1")); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	clock.Advance(31 * 24 * time.Hour)

	// Simulate a worker that claimed the record and then crashed.
	claimedAt := clock.Now().UTC().Add(-2 * time.Hour)
	store.mu.Lock()
	for _, rec := range store.deletions {
		if rec.UserID == "user-1" {
			rec.Status = DeletionExecuting
			rec.ClaimedAt = &claimedAt
		}
	}
	store.mu.Unlock()

	report, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if report.Claimed != 1 || report.Executed != 1 {
		t.Fatalf("report = %+v, want stale claim reclaimed and executed", report)
	}
}

func TestExportSnapshotRedactsCredentials(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "user-1", "one@example.com")
	store.SeedContract(Contract{ID: "c-1", UserID: "user-1", Title: "NDA"})
	store.SeedAnalysis(Analysis{ID: "a-1", ContractID: "c-1", UserID: "user-1", Summary: "low risk"})
	store.SeedReport(Report{ID: "r-1", UserID: "user-1", Name: "monthly"})
	store.SetSetting("user-1", "theme", "dark")

	snap, err := svc.Export(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if snap.ID == "" || snap.ExportVersion != "1.0" {
		t.Fatalf("snapshot not stamped: %+v", snap)
	}
	if len(snap.Contracts) != 1 || len(snap.Analyses) != 1 || len(snap.Reports) != 1 {
		t.Fatalf("snapshot incomplete: %+v", snap)
	}
	if snap.Settings["theme"] != "dark" {
		t.Fatalf("settings = %v", snap.Settings)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), testPasswordHash(t)) {
		t.Fatal("export contains credential material")
	}
	if strings.Contains(string(data), "password") {
		t.Fatalf("export mentions passwords: %s", data)
	}
}

type failingExportStore struct{ *InMemory }

func (f *failingExportStore) Export(context.Context, string) (*ExportSnapshot, error) {
	return nil, errors.New("snapshot backend down")
}

func TestExportFailureDoesNotBlockDeletion(t *testing.T) {
	mem := NewInMemory()
	svc, _ := newTestService(t, &failingExportStore{mem})
	seedUser(t, mem, "user-1", "one@example.com")

	input := deletionInput("user-1")
	input.ExportData = true
	res, err := svc.RequestDeletion(context.Background(), input)
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	if res.ExportIncluded || res.Export != nil {
		t.Fatalf("result claims an export: %+v", res)
	}
	if res.Record.Status != DeletionScheduled {
		t.Fatalf("record status = %q", res.Record.Status)
	}
}

func TestChooseSuccessor(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name       string
		candidates []OrganizationMembership
		want       string
		ok         bool
	}{
		{"empty", nil, "", false},
		{
			"admin beats older member",
			[]OrganizationMembership{
				{UserID: "m", Role: RoleMember, CreatedAt: base},
				{UserID: "a", Role: RoleAdmin, CreatedAt: base.Add(time.Hour)},
			},
			"a", true,
		},
		{
			"oldest admin wins",
			[]OrganizationMembership{
				{UserID: "a2", Role: RoleAdmin, CreatedAt: base.Add(time.Hour)},
				{UserID: "a1", Role: RoleAdmin, CreatedAt: base},
			},
			"a1", true,
		},
		{
			"user id breaks exact ties",
			[]OrganizationMembership{
				{UserID: "b", Role: RoleMember, CreatedAt: base},
				{UserID: "a", Role: RoleMember, CreatedAt: base},
			},
			"a", true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ChooseSuccessor(tc.candidates)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got.UserID != tc.want {
				t.Fatalf("successor = %s, want %s", got.UserID, tc.want)
			}
		})
	}
}
