/*
store.go - Persistence interfaces for the cession engine

PURPOSE:
  Defines the interface between the lifecycle logic and the database.
  Lifecycle packages depend only on these interfaces; concrete stores live
  in ledger/store (memory), store/sqlite and store/postgres.

KEY INTERFACES:
  PolicyStore, ClaimStore:  Entities with conditional status transitions
  TreatyStore:              Treaties, deletable by the registry only
  AllocationStore:          Immutable allocations; cascade delete per treaty
  AuditStore:               Append + Query. NO Update or Delete. Ever.
  UserStore:                Directory records
  ReconciliationStore:      Latest reconciliation report per policy
  TxStore:                  All of the above plus WithTx

CONDITIONAL TRANSITIONS:
  TransitionPolicy/TransitionClaim only change a row whose current status
  equals `from`. They report whether a row changed. A false result means a
  concurrent writer got there first (or the status was wrong all along);
  callers re-read and return an InvalidStateError.

MISSING ROWS:
  Get* methods return (nil, nil) when the row does not exist. Callers turn
  that into a NotFoundError with the entity name.

UNIQUENESS:
  Writes that violate a unique constraint return an error wrapping
  ErrDuplicate:
  - policies.policy_number, claims.claim_number, users.email
  - allocations (policy_id, treaty_id), with one retained row per policy

SEE ALSO:
  - unit.go: Runs a function in WithTx under a deadline
  - ledger/store/memory.go: In-memory implementation for tests
  - store/sqlite/sqlite.go: Embedded SQLite implementation
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ENTITY STORES
// =============================================================================

type PolicyStore interface {
	InsertPolicy(ctx context.Context, p Policy) error
	GetPolicy(ctx context.Context, id PolicyID) (*Policy, error)
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error)
	TransitionPolicy(ctx context.Context, id PolicyID, from, to PolicyStatus, at time.Time) (bool, error)
}

type ClaimStore interface {
	InsertClaim(ctx context.Context, c Claim) error
	GetClaim(ctx context.Context, id ClaimID) (*Claim, error)
	ListClaims(ctx context.Context, filter ClaimFilter) ([]Claim, error)
	// TransitionClaim sets ReviewedBy when reviewer is non-nil.
	TransitionClaim(ctx context.Context, id ClaimID, from, to ClaimStatus, reviewer *UserID, at time.Time) (bool, error)
}

type TreatyStore interface {
	InsertTreaty(ctx context.Context, t Treaty) error
	GetTreaty(ctx context.Context, id TreatyID) (*Treaty, error)
	// ListTreaties returns treaties ordered by ID ascending.
	ListTreaties(ctx context.Context, filter TreatyFilter) ([]Treaty, error)
	DeleteTreaty(ctx context.Context, id TreatyID) (bool, error)
}

type AllocationStore interface {
	InsertAllocation(ctx context.Context, a Allocation) error
	// ListAllocations returns allocations in creation order.
	ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error)
	DeleteAllocationsByTreaty(ctx context.Context, id TreatyID) (int64, error)
}

// AuditStore is APPEND-ONLY. Implementations must also refuse updates and
// deletes issued directly against their storage.
type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// QueryAudit returns matching entries in creation order.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type UserStore interface {
	InsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserRole(ctx context.Context, id UserID, role Role, at time.Time) (bool, error)
	DeleteUser(ctx context.Context, id UserID) (bool, error)
}

type ReconciliationStore interface {
	// SaveReconciliationReport replaces the previous report for the policy.
	SaveReconciliationReport(ctx context.Context, r ReconciliationReport) error
	ListReconciliationReports(ctx context.Context, status *ReconciliationStatus) ([]ReconciliationReport, error)
}

// =============================================================================
// COMBINED STORES
// =============================================================================

// Store is the full set of persistence operations.
type Store interface {
	PolicyStore
	ClaimStore
	TreatyStore
	AllocationStore
	AuditStore
	UserStore
	ReconciliationStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	// Other callers observe either none or all of fn's writes.
	WithTx(ctx context.Context, fn func(Store) error) error
}
