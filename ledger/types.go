/*
Package ledger provides the core records of the cession engine.

PURPOSE:
  This package contains the entities every other package works with:
  policies, claims, treaties, allocations, audit entries and users. It also
  owns the error taxonomy, the persistence interfaces and the audit
  recorder, so that lifecycle packages never depend on a concrete store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy: A contract whose exposure is split at approval time
  - Treaty: A reinsurance agreement with a share and a per-policy cap
  - Allocation: An immutable record of how much of a policy was ceded
  - Claim: A demand for payment against an ACTIVE policy
  - Typed IDs: PolicyID, ClaimID, TreatyID, ... cannot be mixed up

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float64
  2. Immutability: Allocations and audit entries are never modified
  3. Type Safety: Strong typing for IDs and statuses
  4. Explicit Actors: Every mutation names the principal that caused it

SEE ALSO:
  - money.go: Rounding and cent validation
  - errors.go: Error taxonomy
  - store.go: Persistence interfaces
  - audit.go: Append-only audit recorder
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	PolicyID     string
	ClaimID      string
	TreatyID     string
	AllocationID string
	AuditID      string
	UserID       string
)

// =============================================================================
// POLICY
// =============================================================================

type PolicyStatus string

const (
	PolicyDraft           PolicyStatus = "DRAFT"
	PolicyPendingApproval PolicyStatus = "PENDING_APPROVAL"
	PolicyActive          PolicyStatus = "ACTIVE"
)

func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyDraft, PolicyPendingApproval, PolicyActive:
		return true
	}
	return false
}

// Policy is an insurance contract. Status only moves forward:
// DRAFT -> PENDING_APPROVAL -> ACTIVE.
type Policy struct {
	ID             PolicyID
	PolicyNumber   string
	InsuredName    string
	CoverageAmount decimal.Decimal
	Premium        decimal.Decimal
	RetentionLimit decimal.Decimal
	Status         PolicyStatus
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
	CreatedBy      UserID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exposure is the part of the coverage above the insurer's retention.
// It is derived and never stored.
func (p Policy) Exposure() decimal.Decimal {
	return p.CoverageAmount.Sub(p.RetentionLimit)
}

// DurationDays returns the number of days between the effective dates,
// or 0 when either date is missing.
func (p Policy) DurationDays() int {
	if p.EffectiveFrom == nil || p.EffectiveUntil == nil {
		return 0
	}
	return int(p.EffectiveUntil.Sub(*p.EffectiveFrom).Hours() / 24)
}

type PolicyFilter struct {
	Status *PolicyStatus
}

// =============================================================================
// TREATY
// =============================================================================

type TreatyStatus string

const (
	TreatyActive  TreatyStatus = "ACTIVE"
	TreatyExpired TreatyStatus = "EXPIRED"
)

func (s TreatyStatus) Valid() bool {
	return s == TreatyActive || s == TreatyExpired
}

// Treaty is a reinsurance agreement. RetentionLimit caps the amount ceded
// from any single policy; SharePercentage is the treaty's weight in the
// proportional split.
type Treaty struct {
	ID              TreatyID
	TreatyName      string
	ReinsurerName   string
	SharePercentage decimal.Decimal
	RetentionLimit  decimal.Decimal
	Status          TreatyStatus
	CreatedAt       time.Time
}

type TreatyFilter struct {
	Status *TreatyStatus
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation records the portion of a policy ceded to a treaty, or the
// portion retained by the insurer when TreatyID is nil.
type Allocation struct {
	ID             AllocationID
	PolicyID       PolicyID
	TreatyID       *TreatyID
	CededAmount    decimal.Decimal
	RetainedAmount decimal.Decimal
	Percentage     decimal.Decimal
	CreatedAt      time.Time
}

// IsRetained reports whether this is the insurer's own share.
func (a Allocation) IsRetained() bool {
	return a.TreatyID == nil
}

type AllocationFilter struct {
	PolicyID *PolicyID
	TreatyID *TreatyID
}

// =============================================================================
// CLAIM
// =============================================================================

type ClaimStatus string

const (
	ClaimSubmitted   ClaimStatus = "SUBMITTED"
	ClaimUnderReview ClaimStatus = "UNDER_REVIEW"
	ClaimApproved    ClaimStatus = "APPROVED"
	ClaimRejected    ClaimStatus = "REJECTED"
	ClaimSettled     ClaimStatus = "SETTLED"
)

func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimSubmitted, ClaimUnderReview, ClaimApproved, ClaimRejected, ClaimSettled:
		return true
	}
	return false
}

type Claim struct {
	ID          ClaimID
	ClaimNumber string
	PolicyID    PolicyID
	ClaimAmount decimal.Decimal
	Status      ClaimStatus
	CreatedBy   UserID
	ReviewedBy  *UserID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ClaimFilter struct {
	PolicyID *PolicyID
	Status   *ClaimStatus
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditPolicyCreated     AuditAction = "POLICY_CREATED"
	AuditPolicySubmitted   AuditAction = "POLICY_SUBMITTED"
	AuditPolicyApproved    AuditAction = "POLICY_APPROVED"
	AuditAllocationCreated AuditAction = "ALLOCATION_CREATED"
	AuditClaimCreated      AuditAction = "CLAIM_CREATED"
	AuditClaimReviewed     AuditAction = "CLAIM_REVIEWED"
	AuditClaimApproved     AuditAction = "CLAIM_APPROVED"
	AuditClaimRejected     AuditAction = "CLAIM_REJECTED"
	AuditClaimSettled      AuditAction = "CLAIM_SETTLED"
	AuditTreatyCreated     AuditAction = "TREATY_CREATED"
	AuditTreatyDeleted     AuditAction = "TREATY_DELETED"
	AuditUserCreated       AuditAction = "USER_CREATED"
	AuditRoleUpdated       AuditAction = "ROLE_UPDATED"
	AuditUserDeleted       AuditAction = "USER_DELETED"
)

// AuditEntry records who did what when. Entries are append-only.
type AuditEntry struct {
	ID               AuditID
	Action           AuditAction
	PolicyID         *PolicyID
	ClaimID          *ClaimID
	TreatyID         *TreatyID
	SubjectUserID    *UserID
	PerformedBy      UserID
	PerformedByEmail string
	Details          string
	CreatedAt        time.Time
}

type AuditFilter struct {
	PolicyID    *PolicyID
	ClaimID     *ClaimID
	TreatyID    *TreatyID
	PerformedBy *UserID
	Actions     []AuditAction
}

// =============================================================================
// USER
// =============================================================================

// User is a directory record. Credentials live elsewhere.
type User struct {
	ID        UserID
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ReconciliationStatus string

const (
	ReconciliationBalanced ReconciliationStatus = "BALANCED"
	ReconciliationMismatch ReconciliationStatus = "MISMATCH"
	ReconciliationFailed   ReconciliationStatus = "FAILED"
)

// ReconciliationReport is the latest allocation check for a policy.
type ReconciliationReport struct {
	PolicyID       PolicyID
	CoverageAmount decimal.Decimal
	CededTotal     decimal.Decimal
	RetainedTotal  decimal.Decimal
	Difference     decimal.Decimal
	Status         ReconciliationStatus
	Error          string
	CheckedAt      time.Time
}
