package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Muggles200/contract-analize-sub003/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and the dev mode of cmd/api; production uses the postgres store.
type InMemory struct {
	mu          sync.RWMutex
	users       map[string]*User
	deletions   []*DeletionRecord
	orgs        map[string]*Organization
	memberships []OrganizationMembership
	subs        map[string]*Subscription
	activity    []ActivityRecord
	contracts   map[string]*Contract
	analyses    map[string]*Analysis
	events      map[string]*AnalyticsEvent
	reports     map[string]*Report
	settings    map[string]map[string]string
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:     make(map[string]*User),
		orgs:      make(map[string]*Organization),
		subs:      make(map[string]*Subscription),
		contracts: make(map[string]*Contract),
		analyses:  make(map[string]*Analysis),
		events:    make(map[string]*AnalyticsEvent),
		reports:   make(map[string]*Report),
		settings:  make(map[string]map[string]string),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Users(context.Context) UserStore                 { return &memUsers{s} }
func (s *InMemory) Deletions(context.Context) DeletionStore         { return &memDeletions{s} }
func (s *InMemory) Organizations(context.Context) OrganizationStore { return &memOrgs{s} }
func (s *InMemory) Subscriptions(context.Context) SubscriptionStore { return &memSubs{s} }
func (s *InMemory) Activity(context.Context) ActivityStore          { return &memActivity{s} }

// User store ---------------------------------------------------------------

type memUsers struct{ s *InMemory }

func (m *memUsers) Create(ctx context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, ok := m.s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range m.s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrAlreadyExists
		}
	}
	if u.Status == "" {
		u.Status = UserActive
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, u := range m.s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) Purge(ctx context.Context, userID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for id, c := range m.s.contracts {
		if c.UserID == userID {
			delete(m.s.contracts, id)
		}
	}
	for id, a := range m.s.analyses {
		if a.UserID == userID {
			delete(m.s.analyses, id)
		}
	}
	for id, e := range m.s.events {
		if e.UserID == userID {
			delete(m.s.events, id)
		}
	}
	for id, r := range m.s.reports {
		if r.UserID == userID {
			delete(m.s.reports, id)
		}
	}
	delete(m.s.settings, userID)
	for id, sub := range m.s.subs {
		if sub.UserID == userID {
			delete(m.s.subs, id)
		}
	}
	kept := m.s.memberships[:0]
	for _, mem := range m.s.memberships {
		if mem.UserID != userID {
			kept = append(kept, mem)
		}
	}
	m.s.memberships = kept

	if u, ok := m.s.users[userID]; ok {
		u.Email = fmt.Sprintf("deleted+%s@redacted.invalid", userID)
		u.PasswordHash = ""
		u.Status = UserDeleted
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Deletion store -----------------------------------------------------------

type memDeletions struct{ s *InMemory }

func (m *memDeletions) Schedule(ctx context.Context, userID string, scheduledFor time.Time, reason string) (*DeletionRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	// Refresh the existing scheduled record instead of creating a duplicate.
	for _, rec := range m.s.deletions {
		if rec.UserID == userID && rec.Status == DeletionScheduled {
			rec.ScheduledFor = scheduledFor
			rec.Reason = reason
			cp := *rec
			return &cp, nil
		}
	}

	rec := &DeletionRecord{
		ID:           ids.New(),
		UserID:       userID,
		ScheduledFor: scheduledFor,
		Reason:       reason,
		Status:       DeletionScheduled,
		RequestedAt:  time.Now().UTC(),
	}
	m.s.deletions = append(m.s.deletions, rec)
	cp := *rec
	return &cp, nil
}

func (m *memDeletions) Latest(ctx context.Context, userID string) (*DeletionRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for i := len(m.s.deletions) - 1; i >= 0; i-- {
		if m.s.deletions[i].UserID == userID {
			cp := *m.s.deletions[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memDeletions) Cancel(ctx context.Context, userID string, at time.Time, reason string) (*DeletionRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var latest *DeletionRecord
	for i := len(m.s.deletions) - 1; i >= 0; i-- {
		if m.s.deletions[i].UserID == userID {
			latest = m.s.deletions[i]
			break
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	if latest.Status != DeletionScheduled || !latest.ScheduledFor.After(at) {
		return nil, ErrNotRecoverable
	}
	latest.Status = DeletionCancelled
	cancelledAt := at
	latest.CancelledAt = &cancelledAt
	latest.CancelledReason = reason
	cp := *latest
	return &cp, nil
}

func (m *memDeletions) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*DeletionRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var claimed []*DeletionRecord
	for _, rec := range m.s.deletions {
		if len(claimed) >= limit {
			break
		}
		due := rec.Status == DeletionScheduled && !rec.ScheduledFor.After(now)
		stale := rec.Status == DeletionExecuting && rec.ClaimedAt != nil &&
			now.Sub(*rec.ClaimedAt) >= StaleClaimWindow
		if !due && !stale {
			continue
		}
		rec.Status = DeletionExecuting
		claimedAt := now
		rec.ClaimedAt = &claimedAt
		cp := *rec
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *memDeletions) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, rec := range m.s.deletions {
		if rec.ID != id {
			continue
		}
		if rec.Status == DeletionExecuted {
			return nil
		}
		if rec.Status != DeletionExecuting {
			return ErrNotFound
		}
		rec.Status = DeletionExecuted
		executedAt := at
		rec.ExecutedAt = &executedAt
		return nil
	}
	return ErrNotFound
}

// Organization store -------------------------------------------------------

type memOrgs struct{ s *InMemory }

func (m *memOrgs) Create(ctx context.Context, org *Organization) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if org.ID == "" {
		org.ID = ids.New()
	}
	if _, ok := m.s.orgs[org.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	cp := *org
	m.s.orgs[org.ID] = &cp
	return nil
}

func (m *memOrgs) Find(ctx context.Context, id string) (*Organization, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	org, ok := m.s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (m *memOrgs) AddMember(ctx context.Context, mem OrganizationMembership) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.orgs[mem.OrganizationID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.s.memberships {
		if existing.OrganizationID == mem.OrganizationID && existing.UserID == mem.UserID {
			return ErrAlreadyExists
		}
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	m.s.memberships = append(m.s.memberships, mem)
	return nil
}

func (m *memOrgs) Members(ctx context.Context, orgID string) ([]OrganizationMembership, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.membersLocked(orgID), nil
}

func (m *memOrgs) membersLocked(orgID string) []OrganizationMembership {
	var res []OrganizationMembership
	for _, mem := range m.s.memberships {
		if mem.OrganizationID == orgID {
			res = append(res, mem)
		}
	}
	return res
}

func (m *memOrgs) MembershipsByUser(ctx context.Context, userID string) ([]OrganizationMembership, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var res []OrganizationMembership
	for _, mem := range m.s.memberships {
		if mem.UserID == userID {
			res = append(res, mem)
		}
	}
	return res, nil
}

func (m *memOrgs) Dispose(ctx context.Context, orgID, userID string) (Disposition, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var departing *OrganizationMembership
	for i := range m.s.memberships {
		mem := &m.s.memberships[i]
		if mem.OrganizationID == orgID && mem.UserID == userID {
			departing = mem
			break
		}
	}
	if departing == nil {
		return Disposition{}, ErrNotFound
	}

	if departing.Role != RoleOwner {
		m.removeMembershipLocked(orgID, userID)
		return Disposition{OrganizationID: orgID, Action: DispositionRemoved}, nil
	}

	var others []OrganizationMembership
	for _, mem := range m.s.memberships {
		if mem.OrganizationID == orgID && mem.UserID != userID {
			others = append(others, mem)
		}
	}

	if len(others) == 0 {
		m.removeMembershipLocked(orgID, userID)
		delete(m.s.orgs, orgID)
		return Disposition{OrganizationID: orgID, Action: DispositionDissolved}, nil
	}

	successor, _ := ChooseSuccessor(others)
	for i := range m.s.memberships {
		mem := &m.s.memberships[i]
		if mem.OrganizationID == orgID && mem.UserID == successor.UserID {
			mem.Role = RoleOwner
			break
		}
	}
	m.removeMembershipLocked(orgID, userID)
	return Disposition{
		OrganizationID: orgID,
		Action:         DispositionTransferred,
		SuccessorID:    successor.UserID,
	}, nil
}

func (m *memOrgs) removeMembershipLocked(orgID, userID string) {
	kept := m.s.memberships[:0]
	for _, mem := range m.s.memberships {
		if mem.OrganizationID == orgID && mem.UserID == userID {
			continue
		}
		kept = append(kept, mem)
	}
	m.s.memberships = kept
}

// Subscription store -------------------------------------------------------

type memSubs struct{ s *InMemory }

func (m *memSubs) Create(ctx context.Context, sub *Subscription) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	if _, ok := m.s.subs[sub.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	cp := *sub
	m.s.subs[sub.ID] = &cp
	return nil
}

func (m *memSubs) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.listLocked(userID, false), nil
}

func (m *memSubs) ListTerminable(ctx context.Context, userID string) ([]Subscription, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.listLocked(userID, true), nil
}

func (m *memSubs) listLocked(userID string, terminableOnly bool) []Subscription {
	var res []Subscription
	for _, sub := range m.s.subs {
		if sub.UserID != userID {
			continue
		}
		if terminableOnly && !IsTerminable(sub.Status) {
			continue
		}
		res = append(res, *sub)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (m *memSubs) MarkCanceled(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sub, ok := m.s.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Status = SubscriptionCanceled
	sub.UpdatedAt = at
	return nil
}

// Activity store -----------------------------------------------------------

type memActivity struct{ s *InMemory }

func (m *memActivity) Append(ctx context.Context, rec *ActivityRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	cp := *rec
	if len(rec.Metadata) > 0 {
		cp.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	m.s.activity = append(m.s.activity, cp)
	return nil
}

func (m *memActivity) ListByUser(ctx context.Context, userID string) ([]ActivityRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var res []ActivityRecord
	for _, rec := range m.s.activity {
		if rec.UserID == userID {
			res = append(res, rec)
		}
	}
	return res, nil
}

// Export -------------------------------------------------------------------

// Export builds the snapshot under a single read lock, which gives the
// in-memory store the same point-in-time guarantee the postgres store gets
// from a repeatable-read transaction.
func (s *InMemory) Export(ctx context.Context, userID string) (*ExportSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}

	snap := &ExportSnapshot{
		UserID: userID,
		Profile: ExportProfile{
			Email:     user.Email,
			CreatedAt: user.CreatedAt,
		},
		Settings: map[string]string{},
	}
	for _, c := range s.contracts {
		if c.UserID == userID {
			snap.Contracts = append(snap.Contracts, *c)
		}
	}
	for _, a := range s.analyses {
		if a.UserID == userID {
			snap.Analyses = append(snap.Analyses, *a)
		}
	}
	for _, mem := range s.memberships {
		if mem.UserID == userID {
			snap.Memberships = append(snap.Memberships, mem)
		}
	}
	for _, sub := range s.subs {
		if sub.UserID == userID {
			snap.Subscriptions = append(snap.Subscriptions, *sub)
		}
	}
	for _, rec := range s.activity {
		if rec.UserID == userID {
			snap.Activity = append(snap.Activity, rec)
		}
	}
	for _, e := range s.events {
		if e.UserID == userID {
			snap.AnalyticsEvents = append(snap.AnalyticsEvents, *e)
		}
	}
	for k, v := range s.settings[userID] {
		snap.Settings[k] = v
	}
	for _, r := range s.reports {
		if r.UserID == userID {
			snap.Reports = append(snap.Reports, *r)
		}
	}

	sort.Slice(snap.Contracts, func(i, j int) bool { return snap.Contracts[i].ID < snap.Contracts[j].ID })
	sort.Slice(snap.Analyses, func(i, j int) bool { return snap.Analyses[i].ID < snap.Analyses[j].ID })
	sort.Slice(snap.Subscriptions, func(i, j int) bool { return snap.Subscriptions[i].ID < snap.Subscriptions[j].ID })
	sort.Slice(snap.AnalyticsEvents, func(i, j int) bool { return snap.AnalyticsEvents[i].ID < snap.AnalyticsEvents[j].ID })
	sort.Slice(snap.Reports, func(i, j int) bool { return snap.Reports[i].ID < snap.Reports[j].ID })
	return snap, nil
}

// Seed helpers used by tests and dev mode ----------------------------------

func (s *InMemory) SeedContract(c Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.contracts[c.ID] = &c
}

func (s *InMemory) SeedAnalysis(a Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.analyses[a.ID] = &a
}

func (s *InMemory) SeedAnalyticsEvent(e AnalyticsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	s.events[e.ID] = &e
}

func (s *InMemory) SeedReport(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	s.reports[r.ID] = &r
}

func (s *InMemory) SetSetting(userID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings[userID] == nil {
		s.settings[userID] = make(map[string]string)
	}
	s.settings[userID][key] = value
}
