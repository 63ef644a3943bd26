/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("48000.00") in both directions so no
  client ever round-trips money through a float. Responses always carry
  two decimals.

VALIDATION:
  Validation is done by the services, not in DTOs. DTOs only convert.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/reinsurance"
)

const dateLayout = "2006-01-02"

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func datePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func idPtr[T ~string](p *T) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

// =============================================================================
// POLICIES
// =============================================================================

// PolicyDTO represents a policy in API responses.
type PolicyDTO struct {
	ID             string  `json:"id"`
	PolicyNumber   string  `json:"policy_number"`
	InsuredName    string  `json:"insured_name"`
	CoverageAmount string  `json:"coverage_amount"`
	Premium        string  `json:"premium"`
	RetentionLimit string  `json:"retention_limit"`
	Exposure       string  `json:"exposure"`
	Status         string  `json:"status"`
	EffectiveFrom  *string `json:"effective_from,omitempty"`
	EffectiveUntil *string `json:"effective_until,omitempty"`
	DurationDays   int     `json:"duration_days,omitempty"`
	CreatedBy      string  `json:"created_by"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toPolicyDTO(p ledger.Policy) PolicyDTO {
	return PolicyDTO{
		ID:             string(p.ID),
		PolicyNumber:   p.PolicyNumber,
		InsuredName:    p.InsuredName,
		CoverageAmount: money(p.CoverageAmount),
		Premium:        money(p.Premium),
		RetentionLimit: money(p.RetentionLimit),
		Exposure:       money(p.Exposure()),
		Status:         string(p.Status),
		EffectiveFrom:  datePtr(p.EffectiveFrom),
		EffectiveUntil: datePtr(p.EffectiveUntil),
		DurationDays:   p.DurationDays(),
		CreatedBy:      string(p.CreatedBy),
		CreatedAt:      timestamp(p.CreatedAt),
		UpdatedAt:      timestamp(p.UpdatedAt),
	}
}

// CreatePolicyRequest is the request to create a policy.
type CreatePolicyRequest struct {
	PolicyNumber   string `json:"policy_number"`
	InsuredName    string `json:"insured_name"`
	CoverageAmount string `json:"coverage_amount"`
	Premium        string `json:"premium"`
	RetentionLimit string `json:"retention_limit"`
	EffectiveFrom  string `json:"effective_from,omitempty"`
	EffectiveUntil string `json:"effective_until,omitempty"`
}

// ApprovalDTO is the result of approving a policy.
type ApprovalDTO struct {
	Policy      PolicyDTO       `json:"policy"`
	Allocations []AllocationDTO `json:"allocations"`
	CededTotal  string          `json:"ceded_total"`
	Retained    string          `json:"retained"`
}

// ReconciliationDTO is a live allocation check for one policy.
type ReconciliationDTO struct {
	PolicyID   string `json:"policy_id"`
	Coverage   string `json:"coverage_amount"`
	Ceded      string `json:"ceded_total"`
	Retained   string `json:"retained_total"`
	Difference string `json:"difference"`
	Records    int    `json:"records"`
	Balanced   bool   `json:"balanced"`
}

func toReconciliationDTO(r reinsurance.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		PolicyID:   string(r.PolicyID),
		Coverage:   money(r.Coverage),
		Ceded:      money(r.Ceded),
		Retained:   money(r.Retained),
		Difference: money(r.Difference),
		Records:    r.Records,
		Balanced:   r.Balanced(),
	}
}

// ReconciliationReportDTO is a stored sweep result.
type ReconciliationReportDTO struct {
	PolicyID   string `json:"policy_id"`
	Coverage   string `json:"coverage_amount"`
	Ceded      string `json:"ceded_total"`
	Retained   string `json:"retained_total"`
	Difference string `json:"difference"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	CheckedAt  string `json:"checked_at"`
}

func toReportDTO(r ledger.ReconciliationReport) ReconciliationReportDTO {
	return ReconciliationReportDTO{
		PolicyID:   string(r.PolicyID),
		Coverage:   money(r.CoverageAmount),
		Ceded:      money(r.CededTotal),
		Retained:   money(r.RetainedTotal),
		Difference: money(r.Difference),
		Status:     string(r.Status),
		Error:      r.Error,
		CheckedAt:  timestamp(r.CheckedAt),
	}
}

// =============================================================================
// CLAIMS
// =============================================================================

// ClaimDTO represents a claim in API responses.
type ClaimDTO struct {
	ID          string  `json:"id"`
	ClaimNumber string  `json:"claim_number"`
	PolicyID    string  `json:"policy_id"`
	ClaimAmount string  `json:"claim_amount"`
	Status      string  `json:"status"`
	CreatedBy   string  `json:"created_by"`
	ReviewedBy  *string `json:"reviewed_by,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toClaimDTO(c ledger.Claim) ClaimDTO {
	return ClaimDTO{
		ID:          string(c.ID),
		ClaimNumber: c.ClaimNumber,
		PolicyID:    string(c.PolicyID),
		ClaimAmount: money(c.ClaimAmount),
		Status:      string(c.Status),
		CreatedBy:   string(c.CreatedBy),
		ReviewedBy:  idPtr(c.ReviewedBy),
		CreatedAt:   timestamp(c.CreatedAt),
		UpdatedAt:   timestamp(c.UpdatedAt),
	}
}

// CreateClaimRequest is the request to file a claim.
type CreateClaimRequest struct {
	ClaimNumber string `json:"claim_number"`
	PolicyID    string `json:"policy_id"`
	ClaimAmount string `json:"claim_amount"`
}

// =============================================================================
// TREATIES & ALLOCATIONS
// =============================================================================

// TreatyDTO represents a treaty in API responses.
type TreatyDTO struct {
	ID              string `json:"id"`
	TreatyName      string `json:"treaty_name"`
	ReinsurerName   string `json:"reinsurer_name"`
	SharePercentage string `json:"share_percentage"`
	RetentionLimit  string `json:"retention_limit"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

func toTreatyDTO(t ledger.Treaty) TreatyDTO {
	return TreatyDTO{
		ID:              string(t.ID),
		TreatyName:      t.TreatyName,
		ReinsurerName:   t.ReinsurerName,
		SharePercentage: t.SharePercentage.String(),
		RetentionLimit:  money(t.RetentionLimit),
		Status:          string(t.Status),
		CreatedAt:       timestamp(t.CreatedAt),
	}
}

// CreateTreatyRequest is the request to register a treaty.
type CreateTreatyRequest struct {
	TreatyName      string `json:"treaty_name"`
	ReinsurerName   string `json:"reinsurer_name"`
	SharePercentage string `json:"share_percentage"`
	RetentionLimit  string `json:"retention_limit"`
	Status          string `json:"status,omitempty"`
}

// TreatyDeletedDTO reports a cascading treaty deletion.
type TreatyDeletedDTO struct {
	ID                 string `json:"id"`
	AllocationsRemoved int64  `json:"allocations_removed"`
}

// AllocationDTO represents an allocation. TreatyID is absent for the
// retained record.
type AllocationDTO struct {
	ID             string  `json:"id"`
	PolicyID       string  `json:"policy_id"`
	TreatyID       *string `json:"treaty_id"`
	CededAmount    string  `json:"ceded_amount"`
	RetainedAmount string  `json:"retained_amount"`
	Percentage     string  `json:"percentage"`
	CreatedAt      string  `json:"created_at"`
}

func toAllocationDTO(a ledger.Allocation) AllocationDTO {
	return AllocationDTO{
		ID:             string(a.ID),
		PolicyID:       string(a.PolicyID),
		TreatyID:       idPtr(a.TreatyID),
		CededAmount:    money(a.CededAmount),
		RetainedAmount: money(a.RetainedAmount),
		Percentage:     a.Percentage.String(),
		CreatedAt:      timestamp(a.CreatedAt),
	}
}

func toAllocationDTOs(in []ledger.Allocation) []AllocationDTO {
	out := make([]AllocationDTO, len(in))
	for i, a := range in {
		out[i] = toAllocationDTO(a)
	}
	return out
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntryDTO represents an audit entry.
type AuditEntryDTO struct {
	ID               string  `json:"id"`
	Action           string  `json:"action"`
	PolicyID         *string `json:"policy_id,omitempty"`
	ClaimID          *string `json:"claim_id,omitempty"`
	TreatyID         *string `json:"treaty_id,omitempty"`
	SubjectUserID    *string `json:"subject_user_id,omitempty"`
	PerformedBy      string  `json:"performed_by"`
	PerformedByEmail string  `json:"performed_by_email"`
	Details          string  `json:"details"`
	CreatedAt        string  `json:"created_at"`
}

func toAuditDTOs(in []ledger.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(in))
	for i, e := range in {
		out[i] = AuditEntryDTO{
			ID:               string(e.ID),
			Action:           string(e.Action),
			PolicyID:         idPtr(e.PolicyID),
			ClaimID:          idPtr(e.ClaimID),
			TreatyID:         idPtr(e.TreatyID),
			SubjectUserID:    idPtr(e.SubjectUserID),
			PerformedBy:      string(e.PerformedBy),
			PerformedByEmail: e.PerformedByEmail,
			Details:          e.Details,
			CreatedAt:        timestamp(e.CreatedAt),
		}
	}
	return out
}

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a directory user.
type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: timestamp(u.CreatedAt),
		UpdatedAt: timestamp(u.UpdatedAt),
	}
}

// CreateUserRequest is the request to add a user.
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UpdateRoleRequest changes a user's role.
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioResultDTO counts what a scenario load created.
type ScenarioResultDTO struct {
	ScenarioID string   `json:"scenario_id"`
	Users      int      `json:"users"`
	Treaties   int      `json:"treaties"`
	Policies   int      `json:"policies"`
	Claims     int      `json:"claims"`
	PolicyIDs  []string `json:"policy_ids"`
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
