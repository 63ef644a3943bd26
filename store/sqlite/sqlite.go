/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Implements every persistence interface of the ledger package using an
  embedded SQLite database. store/postgres applies the same schema to
  PostgreSQL for multi-instance deployments.

APPEND-ONLY ENFORCEMENT:
  audit_entries and allocations are protected by triggers:
  - UPDATE on audit_entries or allocations aborts
  - DELETE on audit_entries aborts
  Allocations may only be deleted together with their treaty.

KEY TABLES:
  policies:               Policy rows, status changed by conditional UPDATE
  claims:                 Claim rows, FK to policies
  treaties:               Reinsurance treaties
  allocations:            Immutable cession records, FK to policies/treaties
  audit_entries:          Immutable audit log
  users:                  Directory records (unique email)
  reconciliation_reports: Latest reconciliation per policy

INDEXES:
  - idx_allocations_policy_treaty: at most one allocation per (policy,
    treaty) and one retained allocation per policy
  - idx_audit_policy / idx_audit_treaty: audit trail lookups

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so a
  transaction started by WithTx excludes every other writer until it
  commits or rolls back.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./data/cession.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/cession-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and WithTx
	// relies on holding the only writer.
	db.SetMaxOpenConns(1)

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

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		policy_number TEXT NOT NULL UNIQUE,
		insured_name TEXT NOT NULL,
		coverage_amount TEXT NOT NULL,
		premium TEXT NOT NULL,
		retention_limit TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('DRAFT', 'PENDING_APPROVAL', 'ACTIVE')),
		effective_from TEXT,
		effective_until TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_status ON policies(status);

	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		claim_number TEXT NOT NULL UNIQUE,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		claim_amount TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('SUBMITTED', 'UNDER_REVIEW', 'APPROVED', 'REJECTED', 'SETTLED')),
		created_by TEXT NOT NULL,
		reviewed_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_policy ON claims(policy_id);

	CREATE TABLE IF NOT EXISTS treaties (
		id TEXT PRIMARY KEY,
		treaty_name TEXT NOT NULL,
		reinsurer_name TEXT NOT NULL,
		share_percentage TEXT NOT NULL,
		retention_limit TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'EXPIRED')),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		treaty_id TEXT REFERENCES treaties(id),
		ceded_amount TEXT NOT NULL,
		retained_amount TEXT NOT NULL,
		percentage TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_policy_treaty
		ON allocations(policy_id, COALESCE(treaty_id, ''));
	CREATE INDEX IF NOT EXISTS idx_allocations_treaty ON allocations(treaty_id);

	CREATE TRIGGER IF NOT EXISTS trg_allocations_no_update
		BEFORE UPDATE ON allocations
		BEGIN SELECT RAISE(ABORT, 'allocations are immutable'); END;

	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		policy_id TEXT,
		claim_id TEXT,
		treaty_id TEXT,
		subject_user_id TEXT,
		performed_by TEXT NOT NULL,
		performed_by_email TEXT NOT NULL,
		details TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_policy ON audit_entries(policy_id);
	CREATE INDEX IF NOT EXISTS idx_audit_treaty ON audit_entries(treaty_id);

	CREATE TRIGGER IF NOT EXISTS trg_audit_no_update
		BEFORE UPDATE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are immutable'); END;

	CREATE TRIGGER IF NOT EXISTS trg_audit_no_delete
		BEFORE DELETE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are immutable'); END;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reconciliation_reports (
		policy_id TEXT PRIMARY KEY,
		coverage_amount TEXT NOT NULL,
		ceded_total TEXT NOT NULL,
		retained_total TEXT NOT NULL,
		difference TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		checked_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// direct returns a conn on the database outside any transaction. Callers
// hold s.mu.
func (s *Store) direct() conn { return conn{q: s.db} }

// =============================================================================
// LOCKING WRAPPERS
// =============================================================================

func (s *Store) InsertPolicy(ctx context.Context, p ledger.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertPolicy(ctx, p)
}

func (s *Store) GetPolicy(ctx context.Context, id ledger.PolicyID) (*ledger.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetPolicy(ctx, id)
}

func (s *Store) ListPolicies(ctx context.Context, f ledger.PolicyFilter) ([]ledger.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListPolicies(ctx, f)
}

func (s *Store) TransitionPolicy(ctx context.Context, id ledger.PolicyID, from, to ledger.PolicyStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().TransitionPolicy(ctx, id, from, to, at)
}

func (s *Store) InsertClaim(ctx context.Context, c ledger.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertClaim(ctx, c)
}

func (s *Store) GetClaim(ctx context.Context, id ledger.ClaimID) (*ledger.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetClaim(ctx, id)
}

func (s *Store) ListClaims(ctx context.Context, f ledger.ClaimFilter) ([]ledger.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListClaims(ctx, f)
}

func (s *Store) TransitionClaim(ctx context.Context, id ledger.ClaimID, from, to ledger.ClaimStatus, reviewer *ledger.UserID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().TransitionClaim(ctx, id, from, to, reviewer, at)
}

func (s *Store) InsertTreaty(ctx context.Context, t ledger.Treaty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertTreaty(ctx, t)
}

func (s *Store) GetTreaty(ctx context.Context, id ledger.TreatyID) (*ledger.Treaty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetTreaty(ctx, id)
}

func (s *Store) ListTreaties(ctx context.Context, f ledger.TreatyFilter) ([]ledger.Treaty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListTreaties(ctx, f)
}

func (s *Store) DeleteTreaty(ctx context.Context, id ledger.TreatyID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeleteTreaty(ctx, id)
}

func (s *Store) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertAllocation(ctx, a)
}

func (s *Store) ListAllocations(ctx context.Context, f ledger.AllocationFilter) ([]ledger.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListAllocations(ctx, f)
}

func (s *Store) DeleteAllocationsByTreaty(ctx context.Context, id ledger.TreatyID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeleteAllocationsByTreaty(ctx, id)
}

func (s *Store) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().AppendAudit(ctx, e)
}

func (s *Store) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().QueryAudit(ctx, f)
}

func (s *Store) InsertUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertUser(ctx, u)
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetUser(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetUserByEmail(ctx, email)
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListUsers(ctx)
}

func (s *Store) UpdateUserRole(ctx context.Context, id ledger.UserID, role ledger.Role, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpdateUserRole(ctx, id, role, at)
}

func (s *Store) DeleteUser(ctx context.Context, id ledger.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeleteUser(ctx, id)
}

func (s *Store) SaveReconciliationReport(ctx context.Context, r ledger.ReconciliationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveReconciliationReport(ctx, r)
}

func (s *Store) ListReconciliationReports(ctx context.Context, status *ledger.ReconciliationStatus) ([]ledger.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListReconciliationReports(ctx, status)
}

// =============================================================================
// CONN - SQL shared by *sql.DB and *sql.Tx
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q queryer
}

var _ ledger.Store = conn{}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Policies
// -----------------------------------------------------------------------------

const policyColumns = `id, policy_number, insured_name, coverage_amount, premium, retention_limit,
	status, effective_from, effective_until, created_by, created_at, updated_at`

func (c conn) InsertPolicy(ctx context.Context, p ledger.Policy) error {
	_, err := c.q.ExecContext(ctx, `INSERT INTO policies (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PolicyNumber, p.InsuredName,
		p.CoverageAmount.String(), p.Premium.String(), p.RetentionLimit.String(),
		p.Status, formatTimePtr(p.EffectiveFrom), formatTimePtr(p.EffectiveUntil),
		p.CreatedBy, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return wrapWriteError("insert policy", err)
}

func (c conn) GetPolicy(ctx context.Context, id ledger.PolicyID) (*ledger.Policy, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c conn) ListPolicies(ctx context.Context, f ledger.PolicyFilter) ([]ledger.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies`
	var args []any
	if f.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, *f.Status)
	}
	query += ` ORDER BY rowid ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []ledger.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c conn) TransitionPolicy(ctx context.Context, id ledger.PolicyID, from, to ledger.PolicyStatus, at time.Time) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		`UPDATE policies SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, formatTime(at), id, from)
	return affectedOne("transition policy", res, err)
}

func scanPolicy(row rowScanner) (ledger.Policy, error) {
	var (
		p                             ledger.Policy
		coverage, premium, retention  string
		effectiveFrom, effectiveUntil sql.NullString
		createdAt, updatedAt          string
	)
	err := row.Scan(&p.ID, &p.PolicyNumber, &p.InsuredName, &coverage, &premium, &retention,
		&p.Status, &effectiveFrom, &effectiveUntil, &p.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan policy: %w", err)
	}
	p.CoverageAmount = ledger.MustParseDecimal(coverage)
	p.Premium = ledger.MustParseDecimal(premium)
	p.RetentionLimit = ledger.MustParseDecimal(retention)
	p.EffectiveFrom = parseTimePtr(effectiveFrom)
	p.EffectiveUntil = parseTimePtr(effectiveUntil)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// -----------------------------------------------------------------------------
// Claims
// -----------------------------------------------------------------------------

const claimColumns = `id, claim_number, policy_id, claim_amount, status, created_by, reviewed_by, created_at, updated_at`

func (c conn) InsertClaim(ctx context.Context, cl ledger.Claim) error {
	_, err := c.q.ExecContext(ctx, `INSERT INTO claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cl.ID, cl.ClaimNumber, cl.PolicyID, cl.ClaimAmount.String(), cl.Status,
		cl.CreatedBy, nullUserID(cl.ReviewedBy), formatTime(cl.CreatedAt), formatTime(cl.UpdatedAt),
	)
	return wrapWriteError("insert claim", err)
}

func (c conn) GetClaim(ctx context.Context, id ledger.ClaimID) (*ledger.Claim, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)
	cl, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

func (c conn) ListClaims(ctx context.Context, f ledger.ClaimFilter) ([]ledger.Claim, error) {
	var (
		where []string
		args  []any
	)
	if f.PolicyID != nil {
		where = append(where, "policy_id = ?")
		args = append(args, *f.PolicyID)
	}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	query := `SELECT ` + claimColumns + ` FROM claims` + whereClause(where) + ` ORDER BY rowid ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var out []ledger.Claim
	for rows.Next() {
		cl, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}

func (c conn) TransitionClaim(ctx context.Context, id ledger.ClaimID, from, to ledger.ClaimStatus, reviewer *ledger.UserID, at time.Time) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		`UPDATE claims SET status = ?, updated_at = ?, reviewed_by = COALESCE(?, reviewed_by)
		 WHERE id = ? AND status = ?`,
		to, formatTime(at), nullUserID(reviewer), id, from)
	return affectedOne("transition claim", res, err)
}

func scanClaim(row rowScanner) (ledger.Claim, error) {
	var (
		cl                   ledger.Claim
		amount               string
		reviewedBy           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&cl.ID, &cl.ClaimNumber, &cl.PolicyID, &amount, &cl.Status,
		&cl.CreatedBy, &reviewedBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cl, err
		}
		return cl, fmt.Errorf("failed to scan claim: %w", err)
	}
	cl.ClaimAmount = ledger.MustParseDecimal(amount)
	if reviewedBy.Valid {
		id := ledger.UserID(reviewedBy.String)
		cl.ReviewedBy = &id
	}
	cl.CreatedAt = parseTime(createdAt)
	cl.UpdatedAt = parseTime(updatedAt)
	return cl, nil
}

// -----------------------------------------------------------------------------
// Treaties
// -----------------------------------------------------------------------------

const treatyColumns = `id, treaty_name, reinsurer_name, share_percentage, retention_limit, status, created_at`

func (c conn) InsertTreaty(ctx context.Context, t ledger.Treaty) error {
	_, err := c.q.ExecContext(ctx, `INSERT INTO treaties (`+treatyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TreatyName, t.ReinsurerName, t.SharePercentage.String(), t.RetentionLimit.String(),
		t.Status, formatTime(t.CreatedAt))
	return wrapWriteError("insert treaty", err)
}

func (c conn) GetTreaty(ctx context.Context, id ledger.TreatyID) (*ledger.Treaty, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+treatyColumns+` FROM treaties WHERE id = ?`, id)
	t, err := scanTreaty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c conn) ListTreaties(ctx context.Context, f ledger.TreatyFilter) ([]ledger.Treaty, error) {
	query := `SELECT ` + treatyColumns + ` FROM treaties`
	var args []any
	if f.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, *f.Status)
	}
	query += ` ORDER BY id ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query treaties: %w", err)
	}
	defer rows.Close()

	var out []ledger.Treaty
	for rows.Next() {
		t, err := scanTreaty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (c conn) DeleteTreaty(ctx context.Context, id ledger.TreatyID) (bool, error) {
	res, err := c.q.ExecContext(ctx, `DELETE FROM treaties WHERE id = ?`, id)
	return affectedOne("delete treaty", res, err)
}

func scanTreaty(row rowScanner) (ledger.Treaty, error) {
	var (
		t                ledger.Treaty
		share, retention string
		createdAt        string
	)
	err := row.Scan(&t.ID, &t.TreatyName, &t.ReinsurerName, &share, &retention, &t.Status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan treaty: %w", err)
	}
	t.SharePercentage = ledger.MustParseDecimal(share)
	t.RetentionLimit = ledger.MustParseDecimal(retention)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// -----------------------------------------------------------------------------
// Allocations
// -----------------------------------------------------------------------------

const allocationColumns = `id, policy_id, treaty_id, ceded_amount, retained_amount, percentage, created_at`

func (c conn) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	var treatyID sql.NullString
	if a.TreatyID != nil {
		treatyID = sql.NullString{String: string(*a.TreatyID), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `INSERT INTO allocations (`+allocationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PolicyID, treatyID, a.CededAmount.String(), a.RetainedAmount.String(),
		a.Percentage.String(), formatTime(a.CreatedAt))
	return wrapWriteError("insert allocation", err)
}

func (c conn) ListAllocations(ctx context.Context, f ledger.AllocationFilter) ([]ledger.Allocation, error) {
	var (
		where []string
		args  []any
	)
	if f.PolicyID != nil {
		where = append(where, "policy_id = ?")
		args = append(args, *f.PolicyID)
	}
	if f.TreatyID != nil {
		where = append(where, "treaty_id = ?")
		args = append(args, *f.TreatyID)
	}
	query := `SELECT ` + allocationColumns + ` FROM allocations` + whereClause(where) + ` ORDER BY rowid ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []ledger.Allocation
	for rows.Next() {
		var (
			a                       ledger.Allocation
			treatyID                sql.NullString
			ceded, retained, pct, t string
		)
		if err := rows.Scan(&a.ID, &a.PolicyID, &treatyID, &ceded, &retained, &pct, &t); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if treatyID.Valid {
			id := ledger.TreatyID(treatyID.String)
			a.TreatyID = &id
		}
		a.CededAmount = ledger.MustParseDecimal(ceded)
		a.RetainedAmount = ledger.MustParseDecimal(retained)
		a.Percentage = ledger.MustParseDecimal(pct)
		a.CreatedAt = parseTime(t)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c conn) DeleteAllocationsByTreaty(ctx context.Context, id ledger.TreatyID) (int64, error) {
	res, err := c.q.ExecContext(ctx, `DELETE FROM allocations WHERE treaty_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete allocations: %w", err)
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------
// Audit (append-only)
// -----------------------------------------------------------------------------

const auditColumns = `id, action, policy_id, claim_id, treaty_id, subject_user_id,
	performed_by, performed_by_email, details, created_at`

func (c conn) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	_, err := c.q.ExecContext(ctx, `INSERT INTO audit_entries (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action,
		nullString(strOf(e.PolicyID)), nullString(strOf(e.ClaimID)),
		nullString(strOf(e.TreatyID)), nullString(strOf(e.SubjectUserID)),
		e.PerformedBy, e.PerformedByEmail, e.Details, formatTime(e.CreatedAt),
	)
	return wrapWriteError("append audit entry", err)
}

func (c conn) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.PolicyID != nil {
		where = append(where, "policy_id = ?")
		args = append(args, *f.PolicyID)
	}
	if f.ClaimID != nil {
		where = append(where, "claim_id = ?")
		args = append(args, *f.ClaimID)
	}
	if f.TreatyID != nil {
		where = append(where, "treaty_id = ?")
		args = append(args, *f.TreatyID)
	}
	if f.PerformedBy != nil {
		where = append(where, "performed_by = ?")
		args = append(args, *f.PerformedBy)
	}
	if len(f.Actions) > 0 {
		placeholders := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			placeholders[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(placeholders, ", ")+")")
	}
	query := `SELECT ` + auditColumns + ` FROM audit_entries` + whereClause(where) + ` ORDER BY rowid ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			e                                    ledger.AuditEntry
			policyID, claimID, treatyID, subject sql.NullString
			createdAt                            string
		)
		if err := rows.Scan(&e.ID, &e.Action, &policyID, &claimID, &treatyID, &subject,
			&e.PerformedBy, &e.PerformedByEmail, &e.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if policyID.Valid {
			id := ledger.PolicyID(policyID.String)
			e.PolicyID = &id
		}
		if claimID.Valid {
			id := ledger.ClaimID(claimID.String)
			e.ClaimID = &id
		}
		if treatyID.Valid {
			id := ledger.TreatyID(treatyID.String)
			e.TreatyID = &id
		}
		if subject.Valid {
			id := ledger.UserID(subject.String)
			e.SubjectUserID = &id
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

const userColumns = `id, name, email, role, created_at, updated_at`

func (c conn) InsertUser(ctx context.Context, u ledger.User) error {
	_, err := c.q.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Role, formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	return wrapWriteError("insert user", err)
}

func (c conn) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return c.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (c conn) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	return c.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (c conn) getUser(ctx context.Context, query string, arg any) (*ledger.User, error) {
	u, err := scanUser(c.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c conn) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []ledger.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (c conn) UpdateUserRole(ctx context.Context, id ledger.UserID, role ledger.Role, at time.Time) (bool, error) {
	res, err := c.q.ExecContext(ctx, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, role, formatTime(at), id)
	return affectedOne("update user role", res, err)
}

func (c conn) DeleteUser(ctx context.Context, id ledger.UserID) (bool, error) {
	res, err := c.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return affectedOne("delete user", res, err)
}

func scanUser(row rowScanner) (ledger.User, error) {
	var (
		u                    ledger.User
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, err
		}
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

// -----------------------------------------------------------------------------
// Reconciliation reports
// -----------------------------------------------------------------------------

func (c conn) SaveReconciliationReport(ctx context.Context, r ledger.ReconciliationReport) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (policy_id, coverage_amount, ceded_total, retained_total,
			difference, status, error, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(policy_id) DO UPDATE SET
			coverage_amount = excluded.coverage_amount,
			ceded_total = excluded.ceded_total,
			retained_total = excluded.retained_total,
			difference = excluded.difference,
			status = excluded.status,
			error = excluded.error,
			checked_at = excluded.checked_at`,
		r.PolicyID, r.CoverageAmount.String(), r.CededTotal.String(), r.RetainedTotal.String(),
		r.Difference.String(), r.Status, nullString(r.Error), formatTime(r.CheckedAt))
	return wrapWriteError("save reconciliation report", err)
}

func (c conn) ListReconciliationReports(ctx context.Context, status *ledger.ReconciliationStatus) ([]ledger.ReconciliationReport, error) {
	query := `SELECT policy_id, coverage_amount, ceded_total, retained_total, difference, status, error, checked_at
		FROM reconciliation_reports`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY policy_id ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation reports: %w", err)
	}
	defer rows.Close()

	var out []ledger.ReconciliationReport
	for rows.Next() {
		var (
			r                                   ledger.ReconciliationReport
			coverage, ceded, retained, diff, at string
			errText                             sql.NullString
		)
		if err := rows.Scan(&r.PolicyID, &coverage, &ceded, &retained, &diff, &r.Status, &errText, &at); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation report: %w", err)
		}
		r.CoverageAmount = ledger.MustParseDecimal(coverage)
		r.CededTotal = ledger.MustParseDecimal(ceded)
		r.RetainedTotal = ledger.MustParseDecimal(retained)
		r.Difference = ledger.MustParseDecimal(diff)
		r.Error = errText.String
		r.CheckedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullUserID(id *ledger.UserID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func strOf[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func affectedOne(op string, res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n == 1, nil
}

func wrapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return fmt.Errorf("failed to %s: %v: %w", op, err, ledger.ErrDuplicate)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

