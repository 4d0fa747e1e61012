/*
Package sqlite provides SQLite persistence for the reference leave backend.

PURPOSE:
  Stores leave requests and the holiday catalog. The portal never talks to
  this package directly; it is the storage behind the backend's REST API.

KEY TABLES:
  leave_requests: One row per request. Resolution columns are written once.
  holidays:       Published holidays, location-scoped or global (location '').

STATUS TRANSITIONS:
  Resolve is a conditional UPDATE ... WHERE status = 'pending'. Two
  concurrent resolutions of the same request cannot both succeed: the loser
  gets *NotPendingError carrying the status the winner wrote.

  CreateRequestChecked reads the requester's overlapping and existing rows,
  runs the caller's check and inserts in one transaction under the write
  lock.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.
  ":memory:" databases are pinned to one connection so every query sees the
  same data.

WAL MODE:
  File databases are opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
)

// Timestamps use a fixed-width layout so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var ErrNotFound = errors.New("not found")

// NotPendingError is returned when resolving a request that already left
// pending.
type NotPendingError struct {
	ID     string
	Status leave.Status
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("request %s is already %s", e.ID, e.Status)
}

// Store persists requests and holidays in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable (used by health checks).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		department_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		requested_days INTEGER NOT NULL CHECK (requested_days >= 1),
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'approved', 'rejected')),
		reason TEXT NOT NULL DEFAULT '',
		approver_comments TEXT NOT NULL DEFAULT '',
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (end_date >= start_date)
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_user
		ON leave_requests(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_department
		ON leave_requests(department_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status
		ON leave_requests(status);

	-- Holidays (location-specific and global)
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_location_date
		ON holidays(location_id, date);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(location_id, date, name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `
	id, user_id, user_name, department_id, start_date, end_date, requested_days,
	status, reason, approver_comments, approved_by, approved_at, rejected_by,
	rejected_at, created_at, updated_at`

var (
	byUserQuery = `SELECT ` + requestColumns + ` FROM leave_requests
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`

	overlapQuery = `SELECT ` + requestColumns + ` FROM leave_requests
		WHERE user_id = ?
		  AND status IN ('pending', 'approved')
		  AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC`
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// CreateRequest inserts a new request. The ID must be unique.
func (s *Store) CreateRequest(ctx context.Context, r leave.LeaveRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertRequest(ctx, s.db, r)
}

// CreateCheck inspects the requester's overlapping and existing requests
// before an insert. A non-nil error aborts the insert and is returned as is.
type CreateCheck func(overlapping, own []leave.LeaveRequest) error

// CreateRequestChecked reads the requester's overlapping and own requests,
// runs check on them and inserts r, all in one transaction under the write
// lock, so two creates for the same user cannot both pass the check.
func (s *Store) CreateRequestChecked(ctx context.Context, r leave.LeaveRequest, check CreateCheck) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create %s: %w", r.ID, err)
	}
	defer tx.Rollback()

	overlapping, err := queryRequests(ctx, tx, overlapQuery, r.RequesterID, r.EndDate.String(), r.StartDate.String())
	if err != nil {
		return err
	}
	own, err := queryRequests(ctx, tx, byUserQuery, r.RequesterID)
	if err != nil {
		return err
	}
	if err := check(overlapping, own); err != nil {
		return err
	}
	if err := insertRequest(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRequest(ctx context.Context, q querier, r leave.LeaveRequest) error {
	query := `INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		r.ID, r.RequesterID, r.RequesterName, r.DepartmentID,
		r.StartDate.String(), r.EndDate.String(), r.RequestedDays,
		string(r.Status), r.Reason, r.Comments,
		nullString(r.ApprovedBy), nullTime(r.ApprovedAt),
		nullString(r.RejectedBy), nullTime(r.RejectedAt),
		r.CreatedAt.UTC().Format(timeLayout), r.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert request %s: %w", r.ID, err)
	}
	return nil
}

// GetRequest returns ErrNotFound for an unknown id.
func (s *Store) GetRequest(ctx context.Context, id string) (leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRequest(ctx, id)
}

func (s *Store) getRequest(ctx context.Context, id string) (leave.LeaveRequest, error) {
	rows, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	if err != nil {
		return leave.LeaveRequest{}, err
	}
	if len(rows) == 0 {
		return leave.LeaveRequest{}, ErrNotFound
	}
	return rows[0], nil
}

// ListRequests returns every request, newest first.
func (s *Store) ListRequests(ctx context.Context) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests
		ORDER BY created_at DESC, rowid DESC`)
}

// ListRequestsByUser returns one requester's requests, newest first.
func (s *Store) ListRequestsByUser(ctx context.Context, userID string) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRequests(ctx, byUserQuery, userID)
}

// ListRequestsByDepartment returns a department's requests, newest first.
func (s *Store) ListRequestsByDepartment(ctx context.Context, departmentID string) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests
		WHERE department_id = ?
		ORDER BY created_at DESC, rowid DESC`, departmentID)
}

// Resolve moves a pending request to approved or rejected and returns the
// updated row. Returns ErrNotFound or *NotPendingError when the transition
// is not possible.
func (s *Store) Resolve(ctx context.Context, id string, to leave.Status, by, comment string, at time.Time) (leave.LeaveRequest, error) {
	if !to.Terminal() {
		return leave.LeaveRequest{}, fmt.Errorf("cannot resolve request to %q", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := at.UTC().Format(timeLayout)
	var query string
	switch to {
	case leave.StatusApproved:
		query = `UPDATE leave_requests
			SET status = 'approved', approved_by = ?, approved_at = ?, approver_comments = ?, updated_at = ?
			WHERE id = ? AND status = 'pending'`
	case leave.StatusRejected:
		query = `UPDATE leave_requests
			SET status = 'rejected', rejected_by = ?, rejected_at = ?, approver_comments = ?, updated_at = ?
			WHERE id = ? AND status = 'pending'`
	}

	res, err := s.db.ExecContext(ctx, query, by, ts, comment, ts, id)
	if err != nil {
		return leave.LeaveRequest{}, fmt.Errorf("resolve request %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return leave.LeaveRequest{}, err
	}

	current, err := s.getRequest(ctx, id)
	if err != nil {
		return leave.LeaveRequest{}, err
	}
	if n == 0 {
		return leave.LeaveRequest{}, &NotPendingError{ID: id, Status: current.Status}
	}
	return current, nil
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]leave.LeaveRequest, error) {
	return queryRequests(ctx, s.db, query, args...)
}

func queryRequests(ctx context.Context, q querier, query string, args ...any) ([]leave.LeaveRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []leave.LeaveRequest
	for rows.Next() {
		var (
			r                      leave.LeaveRequest
			start, end, status     string
			approvedBy, rejectedBy sql.NullString
			approvedAt, rejectedAt sql.NullString
			createdAt, updatedAt   string
		)
		if err := rows.Scan(
			&r.ID, &r.RequesterID, &r.RequesterName, &r.DepartmentID,
			&start, &end, &r.RequestedDays, &status, &r.Reason, &r.Comments,
			&approvedBy, &approvedAt, &rejectedBy, &rejectedAt,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}

		if r.StartDate, err = calendar.ParseDate(start); err != nil {
			return nil, fmt.Errorf("request %s: %w", r.ID, err)
		}
		if r.EndDate, err = calendar.ParseDate(end); err != nil {
			return nil, fmt.Errorf("request %s: %w", r.ID, err)
		}
		r.Status = leave.Status(status)
		r.ApprovedBy = approvedBy.String
		r.RejectedBy = rejectedBy.String
		if r.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
			return nil, fmt.Errorf("request %s: approved_at: %w", r.ID, err)
		}
		if r.RejectedAt, err = parseNullTime(rejectedAt); err != nil {
			return nil, fmt.Errorf("request %s: rejected_at: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("request %s: created_at: %w", r.ID, err)
		}
		if r.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("request %s: updated_at: %w", r.ID, err)
		}

		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// HOLIDAY CATALOG
// =============================================================================

// SaveHoliday upserts a holiday by (location, date, name).
func (s *Store) SaveHoliday(ctx context.Context, h calendar.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, location_id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id, date, name) DO UPDATE SET
			recurring = excluded.recurring
	`
	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.LocationID,
		h.Date.String(),
		h.Name,
		h.Recurring,
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHolidays returns the holidays of a location plus the global ones.
// An empty locationID returns only global holidays.
func (s *Store) ListHolidays(ctx context.Context, locationID string) ([]calendar.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, location_id, date, name, recurring
		FROM holidays
		WHERE location_id = ? OR location_id = ''
		ORDER BY date ASC, name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holidays := []calendar.Holiday{}
	for rows.Next() {
		var h calendar.Holiday
		var dateStr string
		if err := rows.Scan(&h.ID, &h.LocationID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		if h.Date, err = calendar.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("holiday %s: %w", h.ID, err)
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"leave_requests", "holidays"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
