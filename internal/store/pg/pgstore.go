package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"quotewell.org/internal/contacts"
	"quotewell.org/internal/ids"
	"quotewell.org/internal/usage"
)

// Store implements contact tracking and usage counting on PostgreSQL.
// Exactly-once creation rests on the (organization_id, email) unique
// constraint; the counter update rides in the same transaction as the insert
// so the two can never diverge, even with multiple service instances writing
// to the same organization.
type Store struct {
	db *sql.DB
}

var (
	_ contacts.Service = (*Store)(nil)
	_ usage.Counter    = (*Store)(nil)
)

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

// NewStore wraps an existing handle (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Track(ctx context.Context, orgID, agentID uint64, identity contacts.Identity) (contacts.TrackResult, error) {
	email := contacts.NormalizeEmail(identity.Email)
	if email == "" {
		return contacts.TrackResult{}, contacts.ErrInvalidIdentity
	}

	res, err := s.trackOnce(ctx, orgID, agentID, email, identity)
	if err == nil || !retriable(ctx, err) {
		return res, err
	}
	// A transient failure between insert and counter update would undercount;
	// the transaction rolled back, so one retry with the same key is safe.
	res, err = s.trackOnce(ctx, orgID, agentID, email, identity)
	if err != nil {
		return contacts.TrackResult{}, fmt.Errorf("%w: %v", contacts.ErrStorageUnavailable, err)
	}
	return res, nil
}

func (s *Store) trackOnce(ctx context.Context, orgID, agentID uint64, email string, identity contacts.Identity) (contacts.TrackResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contacts.TrackResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id uint64
	err = tx.QueryRowContext(ctx, `
		insert into contacts(
			organization_id, email, first_name, last_name, current_carrier,
			plan_type, effective_date, birth_date, tobacco_user, gender,
			state, zip_code, created_by_agent_id
		)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		on conflict (organization_id, email) do nothing
		returning id
	`, orgID, email, identity.FirstName, identity.LastName, identity.CurrentCarrier,
		identity.PlanType, identity.EffectiveDate, identity.BirthDate, identity.TobaccoUser,
		identity.Gender, identity.State, identity.ZipCode, agentID).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race or already tracked: read the winner's row.
		if err := tx.QueryRowContext(ctx, `
			select id from contacts where organization_id=$1 and email=$2
		`, orgID, email).Scan(&id); err != nil {
			return contacts.TrackResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return contacts.TrackResult{}, err
		}
		return contacts.TrackResult{ContactID: id, IsNew: false}, nil
	}
	if err != nil {
		return contacts.TrackResult{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into usage_counters(organization_id, distinct_contacts)
		values ($1,1)
		on conflict (organization_id) do update
		set distinct_contacts = usage_counters.distinct_contacts + 1
	`, orgID); err != nil {
		return contacts.TrackResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return contacts.TrackResult{}, err
	}
	return contacts.TrackResult{ContactID: id, IsNew: true}, nil
}

func (s *Store) TrackBatch(ctx context.Context, orgID, agentID uint64, identities []contacts.Identity) (contacts.BatchResult, error) {
	res := contacts.BatchResult{Items: make([]contacts.BatchItem, len(identities))}
	// In-batch dedupe: only the first occurrence of a normalized email
	// reaches storage; later occurrences reuse its result slot.
	first := make(map[string]int, len(identities))
	for i, identity := range identities {
		email := contacts.NormalizeEmail(identity.Email)
		res.Items[i].Email = email
		if email == "" {
			res.Items[i].Error = contacts.ErrInvalidIdentity.Error()
			continue
		}
		if j, seen := first[email]; seen {
			res.Items[i].ContactID = res.Items[j].ContactID
			continue
		}
		first[email] = i
		tr, err := s.Track(ctx, orgID, agentID, identity)
		if err != nil {
			res.Items[i].Error = err.Error()
			delete(first, email)
			continue
		}
		res.Items[i].ContactID = tr.ContactID
		res.Items[i].IsNew = tr.IsNew
		if tr.IsNew {
			res.NewCount++
		}
	}
	res.Processed = len(identities)
	return res, nil
}

func (s *Store) Reset(ctx context.Context, orgID uint64, email, reason, actor string) (bool, error) {
	email = contacts.NormalizeEmail(email)
	if email == "" {
		return false, contacts.ErrInvalidIdentity
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var contactID uint64
	err = tx.QueryRowContext(ctx, `
		delete from contacts where organization_id=$1 and email=$2 returning id
	`, orgID, email).Scan(&contactID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var previous uint64
	err = tx.QueryRowContext(ctx, `
		update usage_counters
		set distinct_contacts = distinct_contacts - 1
		where organization_id=$1 and distinct_contacts > 0
		returning distinct_contacts + 1
	`, orgID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return false, usage.ErrCounterUnderflow
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into usage_resets(id, organization_id, email, actor, reason, previous_count)
		values ($1,$2,$3,$4,$5,$6)
	`, ids.New(), orgID, email, actor, reason, previous); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetContact(ctx context.Context, orgID, contactID uint64) (contacts.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, organization_id, email, first_name, last_name, current_carrier,
		       plan_type, effective_date, birth_date, tobacco_user, gender,
		       state, zip_code, created_by_agent_id, created_at
		from contacts where organization_id=$1 and id=$2
	`, orgID, contactID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contacts.Contact{}, contacts.ErrNotFound
	}
	if err != nil {
		return contacts.Contact{}, err
	}
	return c, nil
}

func (s *Store) ListContacts(ctx context.Context, orgID uint64, limit int) ([]contacts.Contact, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, email, first_name, last_name, current_carrier,
		       plan_type, effective_date, birth_date, tobacco_user, gender,
		       state, zip_code, created_by_agent_id, created_at
		from contacts where organization_id=$1
		order by created_at desc, id desc
		limit $2
	`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []contacts.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- usage.Counter ---

func (s *Store) IncrementIfNew(ctx context.Context, orgID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into usage_counters(organization_id, distinct_contacts)
		values ($1,1)
		on conflict (organization_id) do update
		set distinct_contacts = usage_counters.distinct_contacts + 1
	`, orgID)
	return err
}

func (s *Store) Decrement(ctx context.Context, orgID uint64, reason, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var previous uint64
	err = tx.QueryRowContext(ctx, `
		update usage_counters
		set distinct_contacts = distinct_contacts - 1
		where organization_id=$1 and distinct_contacts > 0
		returning distinct_contacts + 1
	`, orgID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.ErrCounterUnderflow
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into usage_resets(id, organization_id, email, actor, reason, previous_count)
		values ($1,$2,'',$3,$4,$5)
	`, ids.New(), orgID, actor, reason, previous); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CurrentCount(ctx context.Context, orgID uint64) (uint64, error) {
	var count uint64
	err := s.db.QueryRowContext(ctx, `
		select distinct_contacts from usage_counters where organization_id=$1
	`, orgID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetHistory(ctx context.Context, orgID uint64) ([]usage.ResetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select occurred_at, actor, reason, previous_count
		from usage_resets where organization_id=$1
		order by occurred_at asc, id asc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []usage.ResetRecord
	for rows.Next() {
		var rec usage.ResetRecord
		if err := rows.Scan(&rec.Timestamp, &rec.Actor, &rec.Reason, &rec.PreviousCount); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (contacts.Contact, error) {
	var (
		c         contacts.Contact
		firstName sql.NullString
		lastName  sql.NullString
		carrier   sql.NullString
		planType  sql.NullString
		effective sql.NullTime
		birth     sql.NullTime
		gender    sql.NullString
		state     sql.NullString
		zip       sql.NullString
		agentID   sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Email, &firstName, &lastName,
		&carrier, &planType, &effective, &birth, &c.TobaccoUser, &gender,
		&state, &zip, &agentID, &c.CreatedAt); err != nil {
		return contacts.Contact{}, err
	}
	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.CurrentCarrier = carrier.String
	c.PlanType = planType.String
	if effective.Valid {
		t := effective.Time
		c.EffectiveDate = &t
	}
	if birth.Valid {
		t := birth.Time
		c.BirthDate = &t
	}
	c.Gender = gender.String
	c.State = state.String
	c.ZipCode = zip.String
	if agentID.Valid {
		c.CreatedByAgent = uint64(agentID.Int64)
	}
	return c, nil
}

func retriable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	// Caller errors are final; anything else is treated as a transient
	// storage fault worth one retry.
	return !errors.Is(err, contacts.ErrInvalidIdentity)
}
