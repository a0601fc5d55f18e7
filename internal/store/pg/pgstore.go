// Package pg implements the lifecycle store on postgres. The atomic
// operations (Schedule, Cancel, ClaimExpired, Dispose, Purge) map to single
// statements or short transactions with explicit row locks.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Muggles200/contract-analize-sub003/internal/ids"
	"github.com/Muggles200/contract-analize-sub003/internal/lifecycle"
)

type Store struct {
	db *sql.DB
}

var _ lifecycle.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (tests use sqlmock through this).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(context.Context) lifecycle.UserStore                 { return &pgUsers{s} }
func (s *Store) Deletions(context.Context) lifecycle.DeletionStore         { return &pgDeletions{s} }
func (s *Store) Organizations(context.Context) lifecycle.OrganizationStore { return &pgOrgs{s} }
func (s *Store) Subscriptions(context.Context) lifecycle.SubscriptionStore { return &pgSubs{s} }
func (s *Store) Activity(context.Context) lifecycle.ActivityStore          { return &pgActivity{s} }

// User store ---------------------------------------------------------------

type pgUsers struct{ s *Store }

func (p *pgUsers) Create(ctx context.Context, u *lifecycle.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = lifecycle.UserActive
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := p.s.db.ExecContext(ctx, `
		insert into users(id, email, password_hash, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6)
	`, u.ID, u.Email, u.PasswordHash, u.Status, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return lifecycle.ErrAlreadyExists
	}
	return err
}

func (p *pgUsers) Find(ctx context.Context, id string) (*lifecycle.User, error) {
	return p.scanOne(p.s.db.QueryRowContext(ctx, `
		select id, email, password_hash, status, created_at, updated_at
		from users where id=$1
	`, id))
}

func (p *pgUsers) FindByEmail(ctx context.Context, email string) (*lifecycle.User, error) {
	return p.scanOne(p.s.db.QueryRowContext(ctx, `
		select id, email, password_hash, status, created_at, updated_at
		from users where lower(email)=lower($1)
	`, email))
}

func (p *pgUsers) scanOne(row *sql.Row) (*lifecycle.User, error) {
	var u lifecycle.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Purge removes everything the user owns and anonymizes the user row. Each
// delete is idempotent, so a sweep interrupted mid-purge can safely rerun.
func (p *pgUsers) Purge(ctx context.Context, userID string) error {
	tx, err := p.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	deletes := []string{
		`delete from analyses where user_id=$1`,
		`delete from contracts where user_id=$1`,
		`delete from analytics_events where user_id=$1`,
		`delete from reports where user_id=$1`,
		`delete from user_settings where user_id=$1`,
		`delete from subscriptions where user_id=$1`,
		`delete from organization_memberships where user_id=$1`,
	}
	for _, q := range deletes {
		if _, err := tx.ExecContext(ctx, q, userID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		update users
		set email = 'deleted+' || id || '@redacted.invalid',
		    password_hash = '',
		    status = 'deleted',
		    updated_at = now()
		where id=$1
	`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// Deletion store -----------------------------------------------------------

type pgDeletions struct{ s *Store }

const deletionColumns = `id, user_id, scheduled_for, coalesce(reason,''), status,
	requested_at, claimed_at, cancelled_at, coalesce(cancelled_reason,''), executed_at`

// Schedule upserts against the partial unique index on
// (user_id) where status='scheduled', so concurrent requests collapse into
// one refreshed record.
func (p *pgDeletions) Schedule(ctx context.Context, userID string, scheduledFor time.Time, reason string) (*lifecycle.DeletionRecord, error) {
	row := p.s.db.QueryRowContext(ctx, `
		insert into deletion_records(id, user_id, scheduled_for, reason, status, requested_at)
		values ($1,$2,$3,nullif($4,''),'scheduled',now())
		on conflict (user_id) where status='scheduled' do update
		set scheduled_for = excluded.scheduled_for,
		    reason = excluded.reason
		returning `+deletionColumns, ids.New(), userID, scheduledFor, reason)
	rec, err := scanDeletion(row)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *pgDeletions) Latest(ctx context.Context, userID string) (*lifecycle.DeletionRecord, error) {
	row := p.s.db.QueryRowContext(ctx, `
		select `+deletionColumns+`
		from deletion_records
		where user_id=$1
		order by requested_at desc
		limit 1
	`, userID)
	rec, err := scanDeletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Cancel is a compare-and-set: only a record that is still scheduled with a
// future execution time transitions to cancelled.
func (p *pgDeletions) Cancel(ctx context.Context, userID string, at time.Time, reason string) (*lifecycle.DeletionRecord, error) {
	row := p.s.db.QueryRowContext(ctx, `
		update deletion_records
		set status='cancelled', cancelled_at=$2, cancelled_reason=nullif($3,'')
		where user_id=$1 and status='scheduled' and scheduled_for > $2
		returning `+deletionColumns, userID, at, reason)
	rec, err := scanDeletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish "never requested" from "not recoverable anymore".
		var n int
		if err := p.s.db.QueryRowContext(ctx,
			`select count(1) from deletion_records where user_id=$1`, userID).Scan(&n); err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, lifecycle.ErrNotFound
		}
		return nil, lifecycle.ErrNotRecoverable
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ClaimExpired moves due records to executing under skip-locked row locks,
// so concurrent sweep workers partition the batch instead of colliding.
// Executing claims older than the stale window are reclaimed.
func (p *pgDeletions) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*lifecycle.DeletionRecord, error) {
	rows, err := p.s.db.QueryContext(ctx, `
		update deletion_records
		set status='executing', claimed_at=$1
		where id in (
			select id from deletion_records
			where (status='scheduled' and scheduled_for <= $1)
			   or (status='executing' and claimed_at <= $2)
			order by scheduled_for
			limit $3
			for update skip locked
		)
		returning `+deletionColumns, now, now.Add(-lifecycle.StaleClaimWindow), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []*lifecycle.DeletionRecord
	for rows.Next() {
		rec, err := scanDeletion(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, rec)
	}
	return claimed, rows.Err()
}

func (p *pgDeletions) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	res, err := p.s.db.ExecContext(ctx, `
		update deletion_records
		set status='executed', executed_at=$2
		where id=$1 and status='executing'
	`, id, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var status string
	err = p.s.db.QueryRowContext(ctx,
		`select status from deletion_records where id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == lifecycle.DeletionExecuted {
		return nil
	}
	return lifecycle.ErrNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeletion(row rowScanner) (*lifecycle.DeletionRecord, error) {
	var rec lifecycle.DeletionRecord
	var claimedAt, cancelledAt, executedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.UserID, &rec.ScheduledFor, &rec.Reason, &rec.Status,
		&rec.RequestedAt, &claimedAt, &cancelledAt, &rec.CancelledReason, &executedAt)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		rec.ClaimedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		rec.CancelledAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		rec.ExecutedAt = &t
	}
	return &rec, nil
}

// Organization store -------------------------------------------------------

type pgOrgs struct{ s *Store }

func (p *pgOrgs) Create(ctx context.Context, org *lifecycle.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	_, err := p.s.db.ExecContext(ctx, `
		insert into organizations(id, name, description, created_at, updated_at)
		values ($1,$2,$3,$4,$5)
	`, org.ID, org.Name, org.Description, org.CreatedAt, org.UpdatedAt)
	if isUniqueViolation(err) {
		return lifecycle.ErrAlreadyExists
	}
	return err
}

func (p *pgOrgs) Find(ctx context.Context, id string) (*lifecycle.Organization, error) {
	var org lifecycle.Organization
	err := p.s.db.QueryRowContext(ctx, `
		select id, name, coalesce(description,''), created_at, updated_at
		from organizations where id=$1
	`, id).Scan(&org.ID, &org.Name, &org.Description, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (p *pgOrgs) AddMember(ctx context.Context, m lifecycle.OrganizationMembership) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := p.s.db.ExecContext(ctx, `
		insert into organization_memberships(organization_id, user_id, role, created_at)
		values ($1,$2,$3,$4)
	`, m.OrganizationID, m.UserID, m.Role, m.CreatedAt)
	if isUniqueViolation(err) {
		return lifecycle.ErrAlreadyExists
	}
	if isForeignKeyViolation(err) {
		return lifecycle.ErrNotFound
	}
	return err
}

func (p *pgOrgs) Members(ctx context.Context, orgID string) ([]lifecycle.OrganizationMembership, error) {
	return p.queryMembers(ctx, `
		select organization_id, user_id, role, created_at
		from organization_memberships where organization_id=$1
		order by created_at, user_id
	`, orgID)
}

func (p *pgOrgs) MembershipsByUser(ctx context.Context, userID string) ([]lifecycle.OrganizationMembership, error) {
	return p.queryMembers(ctx, `
		select organization_id, user_id, role, created_at
		from organization_memberships where user_id=$1
		order by created_at, organization_id
	`, userID)
}

func (p *pgOrgs) queryMembers(ctx context.Context, query, arg string) ([]lifecycle.OrganizationMembership, error) {
	rows, err := p.s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []lifecycle.OrganizationMembership
	for rows.Next() {
		var m lifecycle.OrganizationMembership
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// Dispose locks every membership of the organization for the duration of the
// decision, so two departing owners serialize instead of both transferring.
func (p *pgOrgs) Dispose(ctx context.Context, orgID, userID string) (lifecycle.Disposition, error) {
	tx, err := p.s.db.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Disposition{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		select user_id, role, created_at
		from organization_memberships
		where organization_id=$1
		order by user_id
		for update
	`, orgID)
	if err != nil {
		return lifecycle.Disposition{}, err
	}
	var members []lifecycle.OrganizationMembership
	for rows.Next() {
		m := lifecycle.OrganizationMembership{OrganizationID: orgID}
		if err := rows.Scan(&m.UserID, &m.Role, &m.CreatedAt); err != nil {
			rows.Close()
			return lifecycle.Disposition{}, err
		}
		members = append(members, m)
	}
	if err := rows.Close(); err != nil {
		return lifecycle.Disposition{}, err
	}
	if err := rows.Err(); err != nil {
		return lifecycle.Disposition{}, err
	}

	var departing *lifecycle.OrganizationMembership
	var others []lifecycle.OrganizationMembership
	for i := range members {
		if members[i].UserID == userID {
			departing = &members[i]
		} else {
			others = append(others, members[i])
		}
	}
	if departing == nil {
		return lifecycle.Disposition{}, lifecycle.ErrNotFound
	}

	removeDeparting := func() error {
		_, err := tx.ExecContext(ctx, `
			delete from organization_memberships
			where organization_id=$1 and user_id=$2
		`, orgID, userID)
		return err
	}

	if departing.Role != lifecycle.RoleOwner {
		if err := removeDeparting(); err != nil {
			return lifecycle.Disposition{}, err
		}
		if err := tx.Commit(); err != nil {
			return lifecycle.Disposition{}, err
		}
		return lifecycle.Disposition{OrganizationID: orgID, Action: lifecycle.DispositionRemoved}, nil
	}

	if len(others) == 0 {
		if err := removeDeparting(); err != nil {
			return lifecycle.Disposition{}, err
		}
		if _, err := tx.ExecContext(ctx, `delete from organizations where id=$1`, orgID); err != nil {
			return lifecycle.Disposition{}, err
		}
		if err := tx.Commit(); err != nil {
			return lifecycle.Disposition{}, err
		}
		return lifecycle.Disposition{OrganizationID: orgID, Action: lifecycle.DispositionDissolved}, nil
	}

	successor, _ := lifecycle.ChooseSuccessor(others)
	if _, err := tx.ExecContext(ctx, `
		update organization_memberships set role='owner'
		where organization_id=$1 and user_id=$2
	`, orgID, successor.UserID); err != nil {
		return lifecycle.Disposition{}, err
	}
	if err := removeDeparting(); err != nil {
		return lifecycle.Disposition{}, err
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.Disposition{}, err
	}
	return lifecycle.Disposition{
		OrganizationID: orgID,
		Action:         lifecycle.DispositionTransferred,
		SuccessorID:    successor.UserID,
	}, nil
}

// Subscription store -------------------------------------------------------

type pgSubs struct{ s *Store }

func (p *pgSubs) Create(ctx context.Context, sub *lifecycle.Subscription) error {
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	_, err := p.s.db.ExecContext(ctx, `
		insert into subscriptions(id, user_id, external_ref, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6)
	`, sub.ID, sub.UserID, sub.ExternalRef, sub.Status, sub.CreatedAt, sub.UpdatedAt)
	if isUniqueViolation(err) {
		return lifecycle.ErrAlreadyExists
	}
	return err
}

func (p *pgSubs) ListByUser(ctx context.Context, userID string) ([]lifecycle.Subscription, error) {
	return p.query(ctx, `
		select id, user_id, external_ref, status, created_at, updated_at
		from subscriptions where user_id=$1
		order by id
	`, userID)
}

func (p *pgSubs) ListTerminable(ctx context.Context, userID string) ([]lifecycle.Subscription, error) {
	return p.query(ctx, `
		select id, user_id, external_ref, status, created_at, updated_at
		from subscriptions
		where user_id=$1 and status in ('active','trialing','past_due')
		order by id
	`, userID)
}

func (p *pgSubs) query(ctx context.Context, query, arg string) ([]lifecycle.Subscription, error) {
	rows, err := p.s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []lifecycle.Subscription
	for rows.Next() {
		var sub lifecycle.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.ExternalRef, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, sub)
	}
	return res, rows.Err()
}

func (p *pgSubs) MarkCanceled(ctx context.Context, id string, at time.Time) error {
	res, err := p.s.db.ExecContext(ctx, `
		update subscriptions set status='canceled', updated_at=$2 where id=$1
	`, id, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

// Activity store -----------------------------------------------------------

type pgActivity struct{ s *Store }

func (p *pgActivity) Append(ctx context.Context, rec *lifecycle.ActivityRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	meta := []byte("{}")
	if len(rec.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(rec.Metadata)
		if err != nil {
			return err
		}
	}
	_, err := p.s.db.ExecContext(ctx, `
		insert into activity_log(id, user_id, action, metadata, occurred_at)
		values ($1,$2,$3,$4,$5)
	`, rec.ID, rec.UserID, rec.Action, meta, rec.OccurredAt)
	return err
}

func (p *pgActivity) ListByUser(ctx context.Context, userID string) ([]lifecycle.ActivityRecord, error) {
	rows, err := p.s.db.QueryContext(ctx, `
		select id, user_id, action, coalesce(metadata,'{}'), occurred_at
		from activity_log where user_id=$1
		order by occurred_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []lifecycle.ActivityRecord
	for rows.Next() {
		var rec lifecycle.ActivityRecord
		var meta []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Action, &meta, &rec.OccurredAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 && string(meta) != "{}" {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, err
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Export -------------------------------------------------------------------

// Export reads every user-owned collection inside one repeatable-read
// read-only transaction, so the snapshot observes a single point in time
// without blocking writers.
func (s *Store) Export(ctx context.Context, userID string) (*lifecycle.ExportSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	snap := &lifecycle.ExportSnapshot{UserID: userID, Settings: map[string]string{}}

	err = tx.QueryRowContext(ctx, `
		select email, created_at from users where id=$1
	`, userID).Scan(&snap.Profile.Email, &snap.Profile.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := queryInto(ctx, tx, `
		select id, user_id, title, status, created_at, updated_at
		from contracts where user_id=$1 order by id
	`, userID, &snap.Contracts, func(r rowScanner, c *lifecycle.Contract) error {
		return r.Scan(&c.ID, &c.UserID, &c.Title, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	}); err != nil {
		return nil, err
	}
	if err := queryInto(ctx, tx, `
		select id, contract_id, user_id, summary, created_at
		from analyses where user_id=$1 order by id
	`, userID, &snap.Analyses, func(r rowScanner, a *lifecycle.Analysis) error {
		return r.Scan(&a.ID, &a.ContractID, &a.UserID, &a.Summary, &a.CreatedAt)
	}); err != nil {
		return nil, err
	}
	if err := queryInto(ctx, tx, `
		select organization_id, user_id, role, created_at
		from organization_memberships where user_id=$1 order by organization_id
	`, userID, &snap.Memberships, func(r rowScanner, m *lifecycle.OrganizationMembership) error {
		return r.Scan(&m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt)
	}); err != nil {
		return nil, err
	}
	if err := queryInto(ctx, tx, `
		select id, user_id, external_ref, status, created_at, updated_at
		from subscriptions where user_id=$1 order by id
	`, userID, &snap.Subscriptions, func(r rowScanner, sub *lifecycle.Subscription) error {
		return r.Scan(&sub.ID, &sub.UserID, &sub.ExternalRef, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt)
	}); err != nil {
		return nil, err
	}
	if err := queryInto(ctx, tx, `
		select id, user_id, name, occurred_at
		from analytics_events where user_id=$1 order by id
	`, userID, &snap.AnalyticsEvents, func(r rowScanner, e *lifecycle.AnalyticsEvent) error {
		return r.Scan(&e.ID, &e.UserID, &e.Name, &e.OccurredAt)
	}); err != nil {
		return nil, err
	}
	if err := queryInto(ctx, tx, `
		select id, user_id, name, generated_at
		from reports where user_id=$1 order by id
	`, userID, &snap.Reports, func(r rowScanner, rep *lifecycle.Report) error {
		return r.Scan(&rep.ID, &rep.UserID, &rep.Name, &rep.GeneratedAt)
	}); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		select key, value from user_settings where user_id=$1
	`, userID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		snap.Settings[k] = v
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	actRows, err := tx.QueryContext(ctx, `
		select id, user_id, action, coalesce(metadata,'{}'), occurred_at
		from activity_log where user_id=$1
		order by occurred_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	for actRows.Next() {
		var rec lifecycle.ActivityRecord
		var meta []byte
		if err := actRows.Scan(&rec.ID, &rec.UserID, &rec.Action, &meta, &rec.OccurredAt); err != nil {
			actRows.Close()
			return nil, err
		}
		if len(meta) > 0 && string(meta) != "{}" {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				actRows.Close()
				return nil, err
			}
		}
		snap.Activity = append(snap.Activity, rec)
	}
	if err := actRows.Close(); err != nil {
		return nil, err
	}
	if err := actRows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return snap, nil
}

func queryInto[T any](ctx context.Context, tx *sql.Tx, query, arg string, dst *[]T, scan func(rowScanner, *T) error) error {
	rows, err := tx.QueryContext(ctx, query, arg)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item T
		if err := scan(rows, &item); err != nil {
			return err
		}
		*dst = append(*dst, item)
	}
	return rows.Err()
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
