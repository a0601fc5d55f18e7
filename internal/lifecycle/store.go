package lifecycle

import (
	"context"
	"time"
)

// StaleClaimWindow is how long an "executing" claim may sit before another
// sweep worker is allowed to reclaim it (crashed worker recovery).
const StaleClaimWindow = time.Hour

// Store describes persistence operations required by the lifecycle manager.
// Implementations must back the atomic operations (Schedule, Cancel, Claim,
// Dispose, Purge) with real transactions or equivalent locking.
type Store interface {
	Users(ctx context.Context) UserStore
	Deletions(ctx context.Context) DeletionStore
	Organizations(ctx context.Context) OrganizationStore
	Subscriptions(ctx context.Context) SubscriptionStore
	Activity(ctx context.Context) ActivityStore

	// Export reads a consistent cross-entity snapshot of everything the
	// user owns. The read must observe a single point in time and must not
	// block or be blocked by concurrent writes. Credential material is
	// never included.
	Export(ctx context.Context, userID string) (*ExportSnapshot, error)
}

// UserStore manages user identities.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// Purge irreversibly removes all entities owned by the user and
	// anonymizes the user row itself. It is idempotent per entity type so
	// a crashed sweep can safely resume.
	Purge(ctx context.Context, userID string) error
}

// DeletionStore manages deletion records. Records are append-only history:
// they transition between statuses but are never removed.
type DeletionStore interface {
	// Schedule creates the single active record for the user, or refreshes
	// the existing scheduled record's timestamp and reason. The uniqueness
	// of (userID, status=scheduled) must hold under concurrent calls.
	Schedule(ctx context.Context, userID string, scheduledFor time.Time, reason string) (*DeletionRecord, error)

	// Latest returns the most recent record for the user, ErrNotFound when
	// the user never requested deletion.
	Latest(ctx context.Context, userID string) (*DeletionRecord, error)

	// Cancel transitions the user's scheduled record to cancelled iff it is
	// still scheduled and its execution time is in the future. Any other
	// state yields ErrNotRecoverable (ErrNotFound when no record exists)
	// with zero mutation.
	Cancel(ctx context.Context, userID string, at time.Time, reason string) (*DeletionRecord, error)

	// ClaimExpired atomically claims up to limit due records
	// (scheduled with scheduledFor <= now, or executing claims that went
	// stale) by moving them to executing. Two concurrent sweep workers never
	// receive the same record.
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*DeletionRecord, error)

	// MarkExecuted finalizes a claimed record.
	MarkExecuted(ctx context.Context, id string, at time.Time) error
}

// OrganizationStore manages organizations and memberships.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	AddMember(ctx context.Context, m OrganizationMembership) error
	Members(ctx context.Context, orgID string) ([]OrganizationMembership, error)
	MembershipsByUser(ctx context.Context, userID string) ([]OrganizationMembership, error)

	// Dispose atomically resolves the departing user's membership in one
	// organization: plain removal for non-owners, ownership transfer to the
	// best successor, or dissolution when nobody remains. The organization's
	// memberships are locked for the duration of the decision so two
	// departing owners cannot race each other.
	Dispose(ctx context.Context, orgID, userID string) (Disposition, error)
}

// SubscriptionStore manages the local mirror of billing subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)
	ListTerminable(ctx context.Context, userID string) ([]Subscription, error)
	MarkCanceled(ctx context.Context, id string, at time.Time) error
}

// ActivityStore appends immutable activity records.
type ActivityStore interface {
	Append(ctx context.Context, rec *ActivityRecord) error
	ListByUser(ctx context.Context, userID string) ([]ActivityRecord, error)
}
