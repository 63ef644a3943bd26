/*
Package postgres provides a PostgreSQL-backed implementation of ledger.TxStore.

PURPOSE:
  Same contract and schema as store/sqlite, for deployments that run more
  than one server process against one database. Concurrency control is
  left to PostgreSQL instead of an in-process mutex.

CONCURRENCY:
  Inside WithTx every Get* locks the row it reads (SELECT ... FOR UPDATE).
  Two approvals of the same policy therefore serialize on the policy row;
  the second one observes ACTIVE and fails with InvalidStateError.

APPEND-ONLY ENFORCEMENT:
  A trigger rejects UPDATE and DELETE on audit_entries and UPDATE on
  allocations, mirroring the SQLite schema.

MONEY:
  Amounts are NUMERIC(20,2). They are written as decimal strings and read
  back with ::text so no float conversion happens on either side.

USAGE:
  store, err := postgres.New(ctx, postgres.Config{URL: os.Getenv("DATABASE_URL")})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlite/sqlite.go: Embedded implementation with the same schema
  - ledger/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/cession-engine/ledger"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Config holds pool settings.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements ledger.TxStore using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.TxStore = (*Store)(nil)

// New connects, verifies the connection and migrates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		seq BIGINT GENERATED ALWAYS AS IDENTITY,
		id TEXT PRIMARY KEY,
		policy_number TEXT NOT NULL UNIQUE,
		insured_name TEXT NOT NULL,
		coverage_amount NUMERIC(20,2) NOT NULL,
		premium NUMERIC(20,2) NOT NULL,
		retention_limit NUMERIC(20,2) NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('DRAFT', 'PENDING_APPROVAL', 'ACTIVE')),
		effective_from TIMESTAMPTZ,
		effective_until TIMESTAMPTZ,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_status ON policies(status);

	CREATE TABLE IF NOT EXISTS claims (
		seq BIGINT GENERATED ALWAYS AS IDENTITY,
		id TEXT PRIMARY KEY,
		claim_number TEXT NOT NULL UNIQUE,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		claim_amount NUMERIC(20,2) NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('SUBMITTED', 'UNDER_REVIEW', 'APPROVED', 'REJECTED', 'SETTLED')),
		created_by TEXT NOT NULL,
		reviewed_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_policy ON claims(policy_id);

	CREATE TABLE IF NOT EXISTS treaties (
		id TEXT PRIMARY KEY,
		treaty_name TEXT NOT NULL,
		reinsurer_name TEXT NOT NULL,
		share_percentage NUMERIC(7,4) NOT NULL,
		retention_limit NUMERIC(20,2) NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'EXPIRED')),
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS allocations (
		seq BIGINT GENERATED ALWAYS AS IDENTITY,
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		treaty_id TEXT REFERENCES treaties(id),
		ceded_amount NUMERIC(20,2) NOT NULL,
		retained_amount NUMERIC(20,2) NOT NULL,
		percentage NUMERIC(7,4) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_policy_treaty
		ON allocations(policy_id, COALESCE(treaty_id, ''));
	CREATE INDEX IF NOT EXISTS idx_allocations_treaty ON allocations(treaty_id);

	CREATE TABLE IF NOT EXISTS audit_entries (
		seq BIGINT GENERATED ALWAYS AS IDENTITY,
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		policy_id TEXT,
		claim_id TEXT,
		treaty_id TEXT,
		subject_user_id TEXT,
		performed_by TEXT NOT NULL,
		performed_by_email TEXT NOT NULL,
		details TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_policy ON audit_entries(policy_id);
	CREATE INDEX IF NOT EXISTS idx_audit_treaty ON audit_entries(treaty_id);

	CREATE OR REPLACE FUNCTION reject_mutation() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION '% rows are immutable', TG_TABLE_NAME;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS trg_audit_immutable ON audit_entries;
	CREATE TRIGGER trg_audit_immutable BEFORE UPDATE OR DELETE ON audit_entries
		FOR EACH ROW EXECUTE FUNCTION reject_mutation();

	DROP TRIGGER IF EXISTS trg_allocations_immutable ON allocations;
	CREATE TRIGGER trg_allocations_immutable BEFORE UPDATE ON allocations
		FOR EACH ROW EXECUTE FUNCTION reject_mutation();

	CREATE TABLE IF NOT EXISTS users (
		seq BIGINT GENERATED ALWAYS AS IDENTITY,
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(lower(email));

	CREATE TABLE IF NOT EXISTS reconciliation_reports (
		policy_id TEXT PRIMARY KEY,
		coverage_amount NUMERIC(20,2) NOT NULL,
		ceded_total NUMERIC(20,2) NOT NULL,
		retained_total NUMERIC(20,2) NOT NULL,
		difference NUMERIC(20,2) NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		checked_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a READ COMMITTED transaction; rows read through the
// view are locked until commit.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(conn{q: tx, lockRows: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) direct() conn { return conn{q: s.pool} }

func (s *Store) InsertPolicy(ctx context.Context, p ledger.Policy) error {
	return s.direct().InsertPolicy(ctx, p)
}

func (s *Store) GetPolicy(ctx context.Context, id ledger.PolicyID) (*ledger.Policy, error) {
	return s.direct().GetPolicy(ctx, id)
}

func (s *Store) ListPolicies(ctx context.Context, f ledger.PolicyFilter) ([]ledger.Policy, error) {
	return s.direct().ListPolicies(ctx, f)
}

func (s *Store) TransitionPolicy(ctx context.Context, id ledger.PolicyID, from, to ledger.PolicyStatus, at time.Time) (bool, error) {
	return s.direct().TransitionPolicy(ctx, id, from, to, at)
}

func (s *Store) InsertClaim(ctx context.Context, c ledger.Claim) error {
	return s.direct().InsertClaim(ctx, c)
}

func (s *Store) GetClaim(ctx context.Context, id ledger.ClaimID) (*ledger.Claim, error) {
	return s.direct().GetClaim(ctx, id)
}

func (s *Store) ListClaims(ctx context.Context, f ledger.ClaimFilter) ([]ledger.Claim, error) {
	return s.direct().ListClaims(ctx, f)
}

func (s *Store) TransitionClaim(ctx context.Context, id ledger.ClaimID, from, to ledger.ClaimStatus, reviewer *ledger.UserID, at time.Time) (bool, error) {
	return s.direct().TransitionClaim(ctx, id, from, to, reviewer, at)
}

func (s *Store) InsertTreaty(ctx context.Context, t ledger.Treaty) error {
	return s.direct().InsertTreaty(ctx, t)
}

func (s *Store) GetTreaty(ctx context.Context, id ledger.TreatyID) (*ledger.Treaty, error) {
	return s.direct().GetTreaty(ctx, id)
}

func (s *Store) ListTreaties(ctx context.Context, f ledger.TreatyFilter) ([]ledger.Treaty, error) {
	return s.direct().ListTreaties(ctx, f)
}

func (s *Store) DeleteTreaty(ctx context.Context, id ledger.TreatyID) (bool, error) {
	return s.direct().DeleteTreaty(ctx, id)
}

func (s *Store) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	return s.direct().InsertAllocation(ctx, a)
}

func (s *Store) ListAllocations(ctx context.Context, f ledger.AllocationFilter) ([]ledger.Allocation, error) {
	return s.direct().ListAllocations(ctx, f)
}

func (s *Store) DeleteAllocationsByTreaty(ctx context.Context, id ledger.TreatyID) (int64, error) {
	return s.direct().DeleteAllocationsByTreaty(ctx, id)
}

func (s *Store) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	return s.direct().AppendAudit(ctx, e)
}

func (s *Store) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return s.direct().QueryAudit(ctx, f)
}

func (s *Store) InsertUser(ctx context.Context, u ledger.User) error {
	return s.direct().InsertUser(ctx, u)
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return s.direct().GetUser(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	return s.direct().GetUserByEmail(ctx, email)
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return s.direct().ListUsers(ctx)
}

func (s *Store) UpdateUserRole(ctx context.Context, id ledger.UserID, role ledger.Role, at time.Time) (bool, error) {
	return s.direct().UpdateUserRole(ctx, id, role, at)
}

func (s *Store) DeleteUser(ctx context.Context, id ledger.UserID) (bool, error) {
	return s.direct().DeleteUser(ctx, id)
}

func (s *Store) SaveReconciliationReport(ctx context.Context, r ledger.ReconciliationReport) error {
	return s.direct().SaveReconciliationReport(ctx, r)
}

func (s *Store) ListReconciliationReports(ctx context.Context, status *ledger.ReconciliationStatus) ([]ledger.ReconciliationReport, error) {
	return s.direct().ListReconciliationReports(ctx, status)
}

// =============================================================================
// CONN - SQL shared by the pool and pgx.Tx
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type conn struct {
	q        querier
	lockRows bool
}

var _ ledger.Store = conn{}

func (c conn) forUpdate() string {
	if c.lockRows {
		return " FOR UPDATE"
	}
	return ""
}

// -----------------------------------------------------------------------------
// Policies
// -----------------------------------------------------------------------------

const policySelect = `SELECT id, policy_number, insured_name, coverage_amount::text, premium::text,
	retention_limit::text, status, effective_from, effective_until, created_by, created_at, updated_at
	FROM policies`

func (c conn) InsertPolicy(ctx context.Context, p ledger.Policy) error {
	_, err := c.q.Exec(ctx, `INSERT INTO policies (id, policy_number, insured_name, coverage_amount,
		premium, retention_limit, status, effective_from, effective_until, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(p.ID), p.PolicyNumber, p.InsuredName,
		p.CoverageAmount.String(), p.Premium.String(), p.RetentionLimit.String(),
		string(p.Status), p.EffectiveFrom, p.EffectiveUntil, string(p.CreatedBy), p.CreatedAt, p.UpdatedAt)
	return wrapWriteError("insert policy", err)
}

func (c conn) GetPolicy(ctx context.Context, id ledger.PolicyID) (*ledger.Policy, error) {
	p, err := scanPolicy(c.q.QueryRow(ctx, policySelect+` WHERE id = $1`+c.forUpdate(), string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c conn) ListPolicies(ctx context.Context, f ledger.PolicyFilter) ([]ledger.Policy, error) {
	query := policySelect
	var args []any
	if f.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*f.Status))
	}
	rows, err := c.q.Query(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
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
	tag, err := c.q.Exec(ctx, `UPDATE policies SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at, string(id), string(from))
	if err != nil {
		return false, fmt.Errorf("transition policy: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPolicy(row pgx.Row) (ledger.Policy, error) {
	var (
		p                             ledger.Policy
		id, status, createdBy         string
		coverage, premium, retention  string
		effectiveFrom, effectiveUntil *time.Time
	)
	err := row.Scan(&id, &p.PolicyNumber, &p.InsuredName, &coverage, &premium, &retention,
		&status, &effectiveFrom, &effectiveUntil, &createdBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scan policy: %w", err)
	}
	p.ID = ledger.PolicyID(id)
	p.Status = ledger.PolicyStatus(status)
	p.CreatedBy = ledger.UserID(createdBy)
	p.CoverageAmount = ledger.MustParseDecimal(coverage)
	p.Premium = ledger.MustParseDecimal(premium)
	p.RetentionLimit = ledger.MustParseDecimal(retention)
	p.EffectiveFrom = effectiveFrom
	p.EffectiveUntil = effectiveUntil
	return p, nil
}

// -----------------------------------------------------------------------------
// Claims
// -----------------------------------------------------------------------------

const claimSelect = `SELECT id, claim_number, policy_id, claim_amount::text, status, created_by,
	reviewed_by, created_at, updated_at FROM claims`

func (c conn) InsertClaim(ctx context.Context, cl ledger.Claim) error {
	_, err := c.q.Exec(ctx, `INSERT INTO claims (id, claim_number, policy_id, claim_amount, status,
		created_by, reviewed_by, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(cl.ID), cl.ClaimNumber, string(cl.PolicyID), cl.ClaimAmount.String(), string(cl.Status),
		string(cl.CreatedBy), userIDPtr(cl.ReviewedBy), cl.CreatedAt, cl.UpdatedAt)
	return wrapWriteError("insert claim", err)
}

func (c conn) GetClaim(ctx context.Context, id ledger.ClaimID) (*ledger.Claim, error) {
	cl, err := scanClaim(c.q.QueryRow(ctx, claimSelect+` WHERE id = $1`+c.forUpdate(), string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

func (c conn) ListClaims(ctx context.Context, f ledger.ClaimFilter) ([]ledger.Claim, error) {
	w := &where{}
	if f.PolicyID != nil {
		w.add("policy_id", string(*f.PolicyID))
	}
	if f.Status != nil {
		w.add("status", string(*f.Status))
	}
	rows, err := c.q.Query(ctx, claimSelect+w.String()+` ORDER BY seq`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
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
	tag, err := c.q.Exec(ctx, `UPDATE claims SET status = $1, updated_at = $2, reviewed_by = COALESCE($3, reviewed_by)
		WHERE id = $4 AND status = $5`,
		string(to), at, userIDPtr(reviewer), string(id), string(from))
	if err != nil {
		return false, fmt.Errorf("transition claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanClaim(row pgx.Row) (ledger.Claim, error) {
	var (
		cl                           ledger.Claim
		id, number, policyID, amount string
		status, createdBy            string
		reviewedBy                   *string
	)
	err := row.Scan(&id, &number, &policyID, &amount, &status, &createdBy, &reviewedBy, &cl.CreatedAt, &cl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cl, err
		}
		return cl, fmt.Errorf("scan claim: %w", err)
	}
	cl.ID = ledger.ClaimID(id)
	cl.ClaimNumber = number
	cl.PolicyID = ledger.PolicyID(policyID)
	cl.ClaimAmount = ledger.MustParseDecimal(amount)
	cl.Status = ledger.ClaimStatus(status)
	cl.CreatedBy = ledger.UserID(createdBy)
	if reviewedBy != nil {
		r := ledger.UserID(*reviewedBy)
		cl.ReviewedBy = &r
	}
	return cl, nil
}

// -----------------------------------------------------------------------------
// Treaties
// -----------------------------------------------------------------------------

const treatySelect = `SELECT id, treaty_name, reinsurer_name, share_percentage::text, retention_limit::text,
	status, created_at FROM treaties`

func (c conn) InsertTreaty(ctx context.Context, t ledger.Treaty) error {
	_, err := c.q.Exec(ctx, `INSERT INTO treaties (id, treaty_name, reinsurer_name, share_percentage,
		retention_limit, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(t.ID), t.TreatyName, t.ReinsurerName, t.SharePercentage.String(), t.RetentionLimit.String(),
		string(t.Status), t.CreatedAt)
	return wrapWriteError("insert treaty", err)
}

func (c conn) GetTreaty(ctx context.Context, id ledger.TreatyID) (*ledger.Treaty, error) {
	t, err := scanTreaty(c.q.QueryRow(ctx, treatySelect+` WHERE id = $1`+c.forUpdate(), string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c conn) ListTreaties(ctx context.Context, f ledger.TreatyFilter) ([]ledger.Treaty, error) {
	w := &where{}
	if f.Status != nil {
		w.add("status", string(*f.Status))
	}
	rows, err := c.q.Query(ctx, treatySelect+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query treaties: %w", err)
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
	tag, err := c.q.Exec(ctx, `DELETE FROM treaties WHERE id = $1`, string(id))
	if err != nil {
		return false, fmt.Errorf("delete treaty: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanTreaty(row pgx.Row) (ledger.Treaty, error) {
	var (
		t                            ledger.Treaty
		id, share, retention, status string
	)
	err := row.Scan(&id, &t.TreatyName, &t.ReinsurerName, &share, &retention, &status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan treaty: %w", err)
	}
	t.ID = ledger.TreatyID(id)
	t.SharePercentage = ledger.MustParseDecimal(share)
	t.RetentionLimit = ledger.MustParseDecimal(retention)
	t.Status = ledger.TreatyStatus(status)
	return t, nil
}

// -----------------------------------------------------------------------------
// Allocations
// -----------------------------------------------------------------------------

func (c conn) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	var treatyID *string
	if a.TreatyID != nil {
		s := string(*a.TreatyID)
		treatyID = &s
	}
	_, err := c.q.Exec(ctx, `INSERT INTO allocations (id, policy_id, treaty_id, ceded_amount,
		retained_amount, percentage, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(a.ID), string(a.PolicyID), treatyID, a.CededAmount.String(), a.RetainedAmount.String(),
		a.Percentage.String(), a.CreatedAt)
	return wrapWriteError("insert allocation", err)
}

func (c conn) ListAllocations(ctx context.Context, f ledger.AllocationFilter) ([]ledger.Allocation, error) {
	w := &where{}
	if f.PolicyID != nil {
		w.add("policy_id", string(*f.PolicyID))
	}
	if f.TreatyID != nil {
		w.add("treaty_id", string(*f.TreatyID))
	}
	rows, err := c.q.Query(ctx, `SELECT id, policy_id, treaty_id, ceded_amount::text, retained_amount::text,
		percentage::text, created_at FROM allocations`+w.String()+` ORDER BY seq`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	var out []ledger.Allocation
	for rows.Next() {
		var (
			a                    ledger.Allocation
			id, policyID         string
			treatyID             *string
			ceded, retained, pct string
		)
		if err := rows.Scan(&id, &policyID, &treatyID, &ceded, &retained, &pct, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		a.ID = ledger.AllocationID(id)
		a.PolicyID = ledger.PolicyID(policyID)
		if treatyID != nil {
			t := ledger.TreatyID(*treatyID)
			a.TreatyID = &t
		}
		a.CededAmount = ledger.MustParseDecimal(ceded)
		a.RetainedAmount = ledger.MustParseDecimal(retained)
		a.Percentage = ledger.MustParseDecimal(pct)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c conn) DeleteAllocationsByTreaty(ctx context.Context, id ledger.TreatyID) (int64, error) {
	tag, err := c.q.Exec(ctx, `DELETE FROM allocations WHERE treaty_id = $1`, string(id))
	if err != nil {
		return 0, fmt.Errorf("delete allocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// -----------------------------------------------------------------------------
// Audit (append-only)
// -----------------------------------------------------------------------------

func (c conn) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	_, err := c.q.Exec(ctx, `INSERT INTO audit_entries (id, action, policy_id, claim_id, treaty_id,
		subject_user_id, performed_by, performed_by_email, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(e.ID), string(e.Action),
		strPtr(e.PolicyID), strPtr(e.ClaimID), strPtr(e.TreatyID), strPtr(e.SubjectUserID),
		string(e.PerformedBy), e.PerformedByEmail, e.Details, e.CreatedAt)
	return wrapWriteError("append audit entry", err)
}

func (c conn) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	w := &where{}
	if f.PolicyID != nil {
		w.add("policy_id", string(*f.PolicyID))
	}
	if f.ClaimID != nil {
		w.add("claim_id", string(*f.ClaimID))
	}
	if f.TreatyID != nil {
		w.add("treaty_id", string(*f.TreatyID))
	}
	if f.PerformedBy != nil {
		w.add("performed_by", string(*f.PerformedBy))
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		w.args = append(w.args, actions)
		w.conds = append(w.conds, fmt.Sprintf("action = ANY($%d)", len(w.args)))
	}

	rows, err := c.q.Query(ctx, `SELECT id, action, policy_id, claim_id, treaty_id, subject_user_id,
		performed_by, performed_by_email, details, created_at FROM audit_entries`+w.String()+` ORDER BY seq`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			e                                    ledger.AuditEntry
			id, action, performedBy              string
			policyID, claimID, treatyID, subject *string
		)
		if err := rows.Scan(&id, &action, &policyID, &claimID, &treatyID, &subject,
			&performedBy, &e.PerformedByEmail, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = ledger.AuditID(id)
		e.Action = ledger.AuditAction(action)
		e.PerformedBy = ledger.UserID(performedBy)
		e.PolicyID = typedPtr[ledger.PolicyID](policyID)
		e.ClaimID = typedPtr[ledger.ClaimID](claimID)
		e.TreatyID = typedPtr[ledger.TreatyID](treatyID)
		e.SubjectUserID = typedPtr[ledger.UserID](subject)
		out = append(out, e)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

const userSelect = `SELECT id, name, email, role, created_at, updated_at FROM users`

func (c conn) InsertUser(ctx context.Context, u ledger.User) error {
	_, err := c.q.Exec(ctx, `INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(u.ID), u.Name, u.Email, string(u.Role), u.CreatedAt, u.UpdatedAt)
	return wrapWriteError("insert user", err)
}

func (c conn) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return c.getUser(ctx, userSelect+` WHERE id = $1`+c.forUpdate(), string(id))
}

func (c conn) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	return c.getUser(ctx, userSelect+` WHERE lower(email) = lower($1)`, email)
}

func (c conn) getUser(ctx context.Context, query string, arg any) (*ledger.User, error) {
	u, err := scanUser(c.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c conn) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := c.q.Query(ctx, userSelect+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
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
	tag, err := c.q.Exec(ctx, `UPDATE users SET role = $1, updated_at = $2 WHERE id = $3`, string(role), at, string(id))
	if err != nil {
		return false, fmt.Errorf("update user role: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (c conn) DeleteUser(ctx context.Context, id ledger.UserID) (bool, error) {
	tag, err := c.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, string(id))
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (ledger.User, error) {
	var (
		u        ledger.User
		id, role string
	)
	if err := row.Scan(&id, &u.Name, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return u, err
		}
		return u, fmt.Errorf("scan user: %w", err)
	}
	u.ID = ledger.UserID(id)
	u.Role = ledger.Role(role)
	return u, nil
}

// -----------------------------------------------------------------------------
// Reconciliation reports
// -----------------------------------------------------------------------------

func (c conn) SaveReconciliationReport(ctx context.Context, r ledger.ReconciliationReport) error {
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}
	_, err := c.q.Exec(ctx, `
		INSERT INTO reconciliation_reports (policy_id, coverage_amount, ceded_total, retained_total,
			difference, status, error, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (policy_id) DO UPDATE SET
			coverage_amount = EXCLUDED.coverage_amount,
			ceded_total = EXCLUDED.ceded_total,
			retained_total = EXCLUDED.retained_total,
			difference = EXCLUDED.difference,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			checked_at = EXCLUDED.checked_at`,
		string(r.PolicyID), r.CoverageAmount.String(), r.CededTotal.String(), r.RetainedTotal.String(),
		r.Difference.String(), string(r.Status), errText, r.CheckedAt)
	return wrapWriteError("save reconciliation report", err)
}

func (c conn) ListReconciliationReports(ctx context.Context, status *ledger.ReconciliationStatus) ([]ledger.ReconciliationReport, error) {
	w := &where{}
	if status != nil {
		w.add("status", string(*status))
	}
	rows, err := c.q.Query(ctx, `SELECT policy_id, coverage_amount::text, ceded_total::text, retained_total::text,
		difference::text, status, error, checked_at FROM reconciliation_reports`+w.String()+` ORDER BY policy_id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query reconciliation reports: %w", err)
	}
	defer rows.Close()

	var out []ledger.ReconciliationReport
	for rows.Next() {
		var (
			r                                   ledger.ReconciliationReport
			policyID, coverage, ceded, retained string
			diff, st                            string
			errText                             *string
		)
		if err := rows.Scan(&policyID, &coverage, &ceded, &retained, &diff, &st, &errText, &r.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation report: %w", err)
		}
		r.PolicyID = ledger.PolicyID(policyID)
		r.CoverageAmount = ledger.MustParseDecimal(coverage)
		r.CededTotal = ledger.MustParseDecimal(ceded)
		r.RetainedTotal = ledger.MustParseDecimal(retained)
		r.Difference = ledger.MustParseDecimal(diff)
		r.Status = ledger.ReconciliationStatus(st)
		if errText != nil {
			r.Error = *errText
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates "col = $n" conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(column string, value any) {
	w.args = append(w.args, value)
	w.conds = append(w.conds, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func strPtr[T ~string](p *T) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func typedPtr[T ~string](p *string) *T {
	if p == nil {
		return nil
	}
	v := T(*p)
	return &v
}

func userIDPtr(id *ledger.UserID) *string {
	return strPtr(id)
}

func wrapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, ledger.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
