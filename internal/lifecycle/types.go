package lifecycle

import (
	"errors"
	"sort"
	"time"
)

// Deletion record statuses.
const (
	DeletionScheduled = "scheduled"
	DeletionExecuting = "executing"
	DeletionCancelled = "cancelled"
	DeletionExecuted  = "executed"
)

// Organization membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Subscription statuses. Anything in terminableStatuses must be cancelled
// before an account deletion is scheduled.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// User statuses.
const (
	UserActive  = "active"
	UserDeleted = "deleted"
)

var (
	ErrNotFound           = errors.New("lifecycle: not found")
	ErrAlreadyExists      = errors.New("lifecycle: already exists")
	ErrInvalidCredentials = errors.New("lifecycle: invalid credentials")
	ErrConfirmationPhrase = errors.New("lifecycle: confirmation phrase mismatch")
	ErrNotRecoverable     = errors.New("lifecycle: deletion is not recoverable")
	ErrNothingScheduled   = errors.New("lifecycle: no deletion scheduled")
	ErrAccountDeactivated = errors.New("lifecycle: account is deactivated")
)

// User is the identity root. The credential hash is opaque to this subsystem
// and must never leave it (exports redact it).
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DeletionRecord tracks one deletion request through its lifecycle. At most
// one record per user may be in status "scheduled" at any time; records are
// never physically deleted and double as audit history.
type DeletionRecord struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ScheduledFor    time.Time  `json:"scheduled_for"`
	Reason          string     `json:"reason,omitempty"`
	Status          string     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledReason string     `json:"cancelled_reason,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
}

// Organization is a shared workspace. An organization with zero memberships
// must not persist.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrganizationMembership joins a user to an organization with a role.
// Every surviving organization has exactly one owner at any stable point.
type OrganizationMembership struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Subscription mirrors a recurring-billing subscription held by the user.
type Subscription struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ExternalRef string    `json:"external_ref"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActivityRecord is an append-only entry describing one state transition.
type ActivityRecord struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Action     string            `json:"action"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Activity action names recorded alongside every transition.
const (
	ActionDeletionScheduled    = "account_deletion_scheduled"
	ActionDeletionRecovered    = "account_deletion_recovered"
	ActionDeletionExecuted     = "account_deletion_executed"
	ActionOwnershipTransferred = "organization_ownership_transferred"
	ActionOrgDissolved         = "organization_dissolved"
	ActionSubscriptionCanceled = "subscription_canceled"
)

// Disposition describes what happened to one organization when its member
// departed.
type Disposition struct {
	OrganizationID string `json:"organization_id"`
	Action         string `json:"action"`
	SuccessorID    string `json:"successor_id,omitempty"`
}

// Disposition actions.
const (
	DispositionRemoved     = "membership_removed"
	DispositionTransferred = "ownership_transferred"
	DispositionDissolved   = "organization_dissolved"
)

// Contract is a user-owned document analysed by the surrounding product.
type Contract struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Analysis is a derived result attached to a contract.
type Analysis struct {
	ID         string    `json:"id"`
	ContractID string    `json:"contract_id"`
	UserID     string    `json:"user_id"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
}

// AnalyticsEvent is a usage event emitted by the product.
type AnalyticsEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Report is a generated report artifact reference.
type Report struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ExportProfile is the redacted identity part of an export snapshot.
type ExportProfile struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// ExportSnapshot is a redacted point-in-time copy of everything the user
// owns. It is derived, never persisted, and must never contain credential
// material.
type ExportSnapshot struct {
	ID              string                   `json:"id"`
	UserID          string                   `json:"user_id"`
	ExportDate      time.Time                `json:"export_date"`
	ExportVersion   string                   `json:"export_version"`
	Profile         ExportProfile            `json:"profile"`
	Contracts       []Contract               `json:"contracts"`
	Analyses        []Analysis               `json:"analyses"`
	Memberships     []OrganizationMembership `json:"organization_memberships"`
	Subscriptions   []Subscription           `json:"subscriptions"`
	Activity        []ActivityRecord         `json:"activity"`
	AnalyticsEvents []AnalyticsEvent         `json:"analytics_events"`
	Settings        map[string]string        `json:"settings"`
	Reports         []Report                 `json:"reports"`
}

// IsTerminable reports whether a subscription in this status must be
// cancelled when the account departs.
func IsTerminable(status string) bool {
	switch status {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue:
		return true
	}
	return false
}

// ChooseSuccessor picks the member to promote to owner when the current
// owner departs: admins first, then members, oldest membership winning ties
// (user id as the final stable tie-break). The slice must not contain the
// departing user.
func ChooseSuccessor(candidates []OrganizationMembership) (OrganizationMembership, bool) {
	if len(candidates) == 0 {
		return OrganizationMembership{}, false
	}
	ranked := make([]OrganizationMembership, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := rolePriority(ranked[i].Role), rolePriority(ranked[j].Role)
		if ri != rj {
			return ri < rj
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
		}
		return ranked[i].UserID < ranked[j].UserID
	})
	return ranked[0], true
}

func rolePriority(role string) int {
	switch role {
	case RoleOwner:
		return 0
	case RoleAdmin:
		return 1
	default:
		return 2
	}
}
