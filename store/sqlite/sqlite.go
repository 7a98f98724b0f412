/*
Package sqlite provides a SQLite-backed implementation of the engine's storage interfaces.

PURPOSE:
  Implements engine.TxStore (periods, activities, referentials, directory)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  periods:              HR accounting periods and their close audit
  activity_types:       Referential, forfait flag and optional coefficient
  rates:                Dated hourly rates per activity type
  intervenants:         Directory entries (display only)
  scheduled_activities: Calendar-bound interventions, pinned on close
  lump_sum_activities:  Forfaits booked on a period

PIN CONTRACT:
  scheduled_activities.assigned_period is written by PinActivities only.
  SaveScheduled's upsert never lists that column, so an edit after a close
  cannot move an activity to another period.

STORAGE FORMATS:
  Decimals as TEXT (decimal.String), calendar dates as YYYY-MM-DD and
  timestamps as RFC3339, so lexical order is chronological order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole unit and runs every query on the *sql.Tx. Transactions begin
  IMMEDIATE (_txlock=immediate), so another process writing the same file
  makes them wait up to the busy timeout instead of failing mid-unit.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/bilan.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  registry := engine.NewPeriodRegistry(store, logger)

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/bilan-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Periods (closed exactly once)
	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		deadline TEXT NOT NULL,
		sent INTEGER NOT NULL DEFAULT 0,
		sent_at TEXT,
		sent_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_periods_start
		ON periods(start_date);

	-- Referentials
	CREATE TABLE IF NOT EXISTS activity_types (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		forfait INTEGER NOT NULL DEFAULT 0,
		overhead_coefficient TEXT
	);

	CREATE TABLE IF NOT EXISTS rates (
		id TEXT PRIMARY KEY,
		activity_type_id TEXT NOT NULL REFERENCES activity_types(id),
		amount TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rates_type_start
		ON rates(activity_type_id, start_date);

	-- Directory
	CREATE TABLE IF NOT EXISTS intervenants (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT
	);

	-- Scheduled activities (assigned_period written on close only)
	CREATE TABLE IF NOT EXISTS scheduled_activities (
		id TEXT PRIMARY KEY,
		intervenant_id TEXT NOT NULL,
		activity_type_id TEXT NOT NULL REFERENCES activity_types(id),
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		end_date TEXT NOT NULL,
		prep_minutes INTEGER NOT NULL DEFAULT 0,
		extra_minutes INTEGER NOT NULL DEFAULT 0,
		beneficiaries_json TEXT,
		cancelled_at TEXT,
		assigned_period TEXT REFERENCES periods(id)
	);

	-- Hot path: pinned lookups and the unpinned sweep
	CREATE INDEX IF NOT EXISTS idx_scheduled_assigned
		ON scheduled_activities(assigned_period);
	CREATE INDEX IF NOT EXISTS idx_scheduled_unpinned_end
		ON scheduled_activities(end_date) WHERE assigned_period IS NULL;
	CREATE INDEX IF NOT EXISTS idx_scheduled_intervenant
		ON scheduled_activities(intervenant_id);

	-- Lump sums (forfaits)
	CREATE TABLE IF NOT EXISTS lump_sum_activities (
		id TEXT PRIMARY KEY,
		intervenant_id TEXT NOT NULL,
		activity_type_id TEXT NOT NULL REFERENCES activity_types(id),
		period_id TEXT NOT NULL REFERENCES periods(id),
		hours TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lump_sum_period
		ON lump_sum_activities(period_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) q() queries { return queries{db: s.db} }

// =============================================================================
// PERIOD STORE
// =============================================================================

func (s *Store) ListPeriods(ctx context.Context) ([]engine.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListPeriods(ctx)
}

func (s *Store) GetPeriod(ctx context.Context, id engine.PeriodID) (engine.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetPeriod(ctx, id)
}

func (s *Store) SavePeriod(ctx context.Context, p engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SavePeriod(ctx, p)
}

// =============================================================================
// ACTIVITY STORE
// =============================================================================

func (s *Store) ScheduledActivities(ctx context.Context, f engine.ActivityFilter) ([]engine.ScheduledActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ScheduledActivities(ctx, f)
}

func (s *Store) LumpSumActivities(ctx context.Context, f engine.ActivityFilter) ([]engine.LumpSumActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().LumpSumActivities(ctx, f)
}

func (s *Store) GetScheduled(ctx context.Context, id engine.ActivityID) (engine.ScheduledActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetScheduled(ctx, id)
}

func (s *Store) GetLumpSum(ctx context.Context, id engine.ActivityID) (engine.LumpSumActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetLumpSum(ctx, id)
}

func (s *Store) SaveScheduled(ctx context.Context, a engine.ScheduledActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveScheduled(ctx, a)
}

func (s *Store) SaveLumpSum(ctx context.Context, a engine.LumpSumActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveLumpSum(ctx, a)
}

// PinActivities pins all ids or none.
func (s *Store) PinActivities(ctx context.Context, ids []engine.ActivityID, period engine.PeriodID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (queries{db: sqlTx}).PinActivities(ctx, ids, period); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// REFERENTIAL STORE & DIRECTORY
// =============================================================================

func (s *Store) ActivityTypes(ctx context.Context) ([]engine.ActivityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ActivityTypes(ctx)
}

func (s *Store) SaveActivityType(ctx context.Context, t engine.ActivityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveActivityType(ctx, t)
}

func (s *Store) Rates(ctx context.Context) ([]engine.RateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().Rates(ctx)
}

func (s *Store) SaveRate(ctx context.Context, r engine.RateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveRate(ctx, r)
}

func (s *Store) Intervenants(ctx context.Context) ([]engine.Intervenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().Intervenants(ctx)
}

func (s *Store) SaveIntervenant(ctx context.Context, i engine.Intervenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveIntervenant(ctx, i)
}

// =============================================================================
// QUERIES - engine.Store over any dbtx, no locking
// =============================================================================

type queries struct {
	db dbtx
}

const periodColumns = `id, start_date, end_date, deadline, sent, sent_at, sent_by, created_at`

func (q queries) ListPeriods(ctx context.Context) ([]engine.Period, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+periodColumns+` FROM periods ORDER BY start_date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var periods []engine.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (q queries) GetPeriod(ctx context.Context, id engine.PeriodID) (engine.Period, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM periods WHERE id = ?`, id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Period{}, fmt.Errorf("%w: %s", engine.ErrPeriodNotFound, id)
	}
	return p, err
}

func (q queries) SavePeriod(ctx context.Context, p engine.Period) error {
	query := `
		INSERT INTO periods (id, start_date, end_date, deadline, sent, sent_at, sent_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			deadline = excluded.deadline,
			sent = excluded.sent,
			sent_at = excluded.sent_at,
			sent_by = excluded.sent_by
	`
	_, err := q.db.ExecContext(ctx, query,
		p.ID,
		formatDate(p.Start),
		formatDate(p.End),
		formatDate(p.Deadline),
		p.Sent,
		nullTime(p.SentAt),
		nullString(p.SentBy),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	return nil
}

const scheduledColumns = `id, intervenant_id, activity_type_id, start_at, end_at, prep_minutes, extra_minutes,
	beneficiaries_json, cancelled_at, assigned_period`

func (q queries) ScheduledActivities(ctx context.Context, f engine.ActivityFilter) ([]engine.ScheduledActivity, error) {
	var (
		where []string
		args  []any
	)
	if f.IntervenantID != "" {
		where = append(where, "intervenant_id = ?")
		args = append(args, f.IntervenantID)
	}
	if !f.IncludeCancelled {
		where = append(where, "cancelled_at IS NULL")
	}
	if len(f.PeriodIDs) > 0 {
		clause := "assigned_period IN (" + placeholders(len(f.PeriodIDs)) + ")"
		for _, id := range f.PeriodIDs {
			args = append(args, id)
		}
		if f.UnpinnedUntil != nil {
			clause = "(" + clause + " OR (assigned_period IS NULL AND end_date <= ?))"
			args = append(args, formatDate(*f.UnpinnedUntil))
		}
		where = append(where, clause)
	}

	query := `SELECT ` + scheduledColumns + ` FROM scheduled_activities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_at, id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled activities: %w", err)
	}
	defer rows.Close()

	var activities []engine.ScheduledActivity
	for rows.Next() {
		a, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (q queries) GetScheduled(ctx context.Context, id engine.ActivityID) (engine.ScheduledActivity, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_activities WHERE id = ?`, id)
	a, err := scanScheduled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ScheduledActivity{}, fmt.Errorf("%w: %s", engine.ErrActivityNotFound, id)
	}
	return a, err
}

// SaveScheduled upserts everything except assigned_period.
func (q queries) SaveScheduled(ctx context.Context, a engine.ScheduledActivity) error {
	beneficiaries, err := json.Marshal(a.Beneficiaries)
	if err != nil {
		return fmt.Errorf("failed to encode beneficiaries: %w", err)
	}

	query := `
		INSERT INTO scheduled_activities
		(id, intervenant_id, activity_type_id, start_at, end_at, end_date,
		 prep_minutes, extra_minutes, beneficiaries_json, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			intervenant_id = excluded.intervenant_id,
			activity_type_id = excluded.activity_type_id,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			end_date = excluded.end_date,
			prep_minutes = excluded.prep_minutes,
			extra_minutes = excluded.extra_minutes,
			beneficiaries_json = excluded.beneficiaries_json,
			cancelled_at = excluded.cancelled_at
	`
	_, err = q.db.ExecContext(ctx, query,
		a.ID,
		a.IntervenantID,
		a.ActivityTypeID,
		formatTimestamp(a.Start),
		formatTimestamp(a.End),
		formatDate(a.EndDate()),
		a.PrepMinutes,
		a.ExtraMinutes,
		string(beneficiaries),
		nullTime(a.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save scheduled activity: %w", err)
	}
	return nil
}

func (q queries) PinActivities(ctx context.Context, ids []engine.ActivityID, period engine.PeriodID) error {
	for _, id := range ids {
		res, err := q.db.ExecContext(ctx,
			`UPDATE scheduled_activities SET assigned_period = ? WHERE id = ?`, period, id)
		if err != nil {
			return fmt.Errorf("failed to pin activity %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", engine.ErrActivityNotFound, id)
		}
	}
	return nil
}

const lumpSumColumns = `id, intervenant_id, activity_type_id, period_id, hours`

func (q queries) LumpSumActivities(ctx context.Context, f engine.ActivityFilter) ([]engine.LumpSumActivity, error) {
	var (
		where []string
		args  []any
	)
	if f.IntervenantID != "" {
		where = append(where, "intervenant_id = ?")
		args = append(args, f.IntervenantID)
	}
	if len(f.PeriodIDs) > 0 {
		where = append(where, "period_id IN ("+placeholders(len(f.PeriodIDs))+")")
		for _, id := range f.PeriodIDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + lumpSumColumns + ` FROM lump_sum_activities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lump sums: %w", err)
	}
	defer rows.Close()

	var activities []engine.LumpSumActivity
	for rows.Next() {
		a, err := scanLumpSum(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (q queries) GetLumpSum(ctx context.Context, id engine.ActivityID) (engine.LumpSumActivity, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+lumpSumColumns+` FROM lump_sum_activities WHERE id = ?`, id)
	a, err := scanLumpSum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.LumpSumActivity{}, fmt.Errorf("%w: %s", engine.ErrActivityNotFound, id)
	}
	return a, err
}

func (q queries) SaveLumpSum(ctx context.Context, a engine.LumpSumActivity) error {
	query := `
		INSERT INTO lump_sum_activities (id, intervenant_id, activity_type_id, period_id, hours)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			intervenant_id = excluded.intervenant_id,
			activity_type_id = excluded.activity_type_id,
			period_id = excluded.period_id,
			hours = excluded.hours
	`
	_, err := q.db.ExecContext(ctx, query, a.ID, a.IntervenantID, a.ActivityTypeID, a.PeriodID, a.Hours.String())
	if err != nil {
		return fmt.Errorf("failed to save lump sum: %w", err)
	}
	return nil
}

func (q queries) ActivityTypes(ctx context.Context) ([]engine.ActivityType, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, label, forfait, overhead_coefficient FROM activity_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity types: %w", err)
	}
	defer rows.Close()

	var types []engine.ActivityType
	for rows.Next() {
		var (
			t           engine.ActivityType
			coefficient sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Label, &t.Forfait, &coefficient); err != nil {
			return nil, fmt.Errorf("failed to scan activity type: %w", err)
		}
		if coefficient.Valid {
			c, err := parseDecimal(coefficient.String)
			if err != nil {
				return nil, err
			}
			t.OverheadCoefficient = &c
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (q queries) SaveActivityType(ctx context.Context, t engine.ActivityType) error {
	var coefficient sql.NullString
	if t.OverheadCoefficient != nil {
		coefficient = sql.NullString{String: t.OverheadCoefficient.String(), Valid: true}
	}
	query := `
		INSERT INTO activity_types (id, label, forfait, overhead_coefficient)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			forfait = excluded.forfait,
			overhead_coefficient = excluded.overhead_coefficient
	`
	if _, err := q.db.ExecContext(ctx, query, t.ID, t.Label, t.Forfait, coefficient); err != nil {
		return fmt.Errorf("failed to save activity type: %w", err)
	}
	return nil
}

func (q queries) Rates(ctx context.Context) ([]engine.RateRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, activity_type_id, amount, start_date, end_date FROM rates ORDER BY activity_type_id, start_date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var rates []engine.RateRecord
	for rows.Next() {
		var (
			r            engine.RateRecord
			amount, from string
			to           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ActivityTypeID, &amount, &from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		if r.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if r.Start, err = engine.ParseDate(from); err != nil {
			return nil, err
		}
		if to.Valid {
			end, err := engine.ParseDate(to.String)
			if err != nil {
				return nil, err
			}
			r.End = &end
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

func (q queries) SaveRate(ctx context.Context, r engine.RateRecord) error {
	var end sql.NullString
	if r.End != nil {
		end = sql.NullString{String: formatDate(*r.End), Valid: true}
	}
	query := `
		INSERT INTO rates (id, activity_type_id, amount, start_date, end_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			activity_type_id = excluded.activity_type_id,
			amount = excluded.amount,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`
	if _, err := q.db.ExecContext(ctx, query, r.ID, r.ActivityTypeID, r.Amount.String(), formatDate(r.Start), end); err != nil {
		return fmt.Errorf("failed to save rate: %w", err)
	}
	return nil
}

func (q queries) Intervenants(ctx context.Context) ([]engine.Intervenant, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, display_name, email FROM intervenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query intervenants: %w", err)
	}
	defer rows.Close()

	var intervenants []engine.Intervenant
	for rows.Next() {
		var (
			i     engine.Intervenant
			email sql.NullString
		)
		if err := rows.Scan(&i.ID, &i.DisplayName, &email); err != nil {
			return nil, fmt.Errorf("failed to scan intervenant: %w", err)
		}
		i.Email = email.String
		intervenants = append(intervenants, i)
	}
	return intervenants, rows.Err()
}

func (q queries) SaveIntervenant(ctx context.Context, i engine.Intervenant) error {
	query := `
		INSERT INTO intervenants (id, display_name, email)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email
	`
	if _, err := q.db.ExecContext(ctx, query, i.ID, i.DisplayName, nullString(i.Email)); err != nil {
		return fmt.Errorf("failed to save intervenant: %w", err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row scanner) (engine.Period, error) {
	var (
		p                          engine.Period
		start, end, deadline, made string
		sentAt, sentBy             sql.NullString
	)
	if err := row.Scan(&p.ID, &start, &end, &deadline, &p.Sent, &sentAt, &sentBy, &made); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan period: %w", err)
	}

	var err error
	if p.Start, err = engine.ParseDate(start); err != nil {
		return p, err
	}
	if p.End, err = engine.ParseDate(end); err != nil {
		return p, err
	}
	if p.Deadline, err = engine.ParseDate(deadline); err != nil {
		return p, err
	}
	if p.SentAt, err = parseNullTime(sentAt); err != nil {
		return p, err
	}
	p.SentBy = sentBy.String
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, made); err != nil {
		return p, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return p, nil
}

func scanLumpSum(row scanner) (engine.LumpSumActivity, error) {
	var (
		a     engine.LumpSumActivity
		hours string
	)
	if err := row.Scan(&a.ID, &a.IntervenantID, &a.ActivityTypeID, &a.PeriodID, &hours); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan lump sum: %w", err)
	}
	var err error
	a.Hours, err = parseDecimal(hours)
	return a, err
}

func scanScheduled(row scanner) (engine.ScheduledActivity, error) {
	var (
		a                   engine.ScheduledActivity
		start, end          string
		beneficiaries       sql.NullString
		cancelledAt, pinned sql.NullString
	)
	err := row.Scan(&a.ID, &a.IntervenantID, &a.ActivityTypeID, &start, &end,
		&a.PrepMinutes, &a.ExtraMinutes, &beneficiaries, &cancelledAt, &pinned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan scheduled activity: %w", err)
	}

	if a.Start, err = engine.ParseTimestamp(start); err != nil {
		return a, err
	}
	if a.End, err = engine.ParseTimestamp(end); err != nil {
		return a, err
	}
	if beneficiaries.Valid && beneficiaries.String != "" && beneficiaries.String != "null" {
		if err := json.Unmarshal([]byte(beneficiaries.String), &a.Beneficiaries); err != nil {
			return a, fmt.Errorf("failed to decode beneficiaries of %s: %w", a.ID, err)
		}
	}
	if a.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return a, err
	}
	if pinned.Valid {
		id := engine.PeriodID(pinned.String)
		a.AssignedPeriod = &id
	}
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDate(tp engine.TimePoint) string { return tp.Time.Format(engine.DateLayout) }

func formatTimestamp(tp engine.TimePoint) string { return tp.Time.Format(engine.TimestampLayout) }

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &engine.IntegrityError{Err: fmt.Errorf("stored decimal %q: %w", s, err)}
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored time %q: %w", s.String, err)
	}
	return &t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var (
	_ engine.TxStore = (*Store)(nil)
	_ engine.Store   = queries{}
)
