/*
Package factory converts JSON book definitions into service inputs.

PURPOSE:
  A "book" is a small portfolio: treaties, policies with the lifecycle
  steps to run on them, claims and users. The factory parses and checks
  the JSON and produces the typed inputs the services accept. It never
  writes anything; api/scenarios.go replays a parsed book through the
  services so every record gets its normal audit trail.

JSON SCHEMA:
  {
    "id": "quota-share-demo",
    "name": "Quota share demo",
    "description": "Two treaties, one approved policy",
    "users": [
      {"name": "Uma Underwriter", "email": "uma@example.com", "role": "UNDERWRITER"}
    ],
    "treaties": [
      {"treaty_name": "T1", "reinsurer_name": "Re A", "share_percentage": "60", "retention_limit": "50000"}
    ],
    "policies": [
      {
        "policy_number": "POL-1",
        "insured_name": "Acme Corp",
        "coverage_amount": "100000",
        "premium": "1200",
        "retention_limit": "20000",
        "effective_from": "2025-01-01",
        "effective_until": "2025-12-31",
        "lifecycle": "ACTIVE"
      }
    ],
    "claims": [
      {"claim_number": "CLM-1", "policy_number": "POL-1", "claim_amount": "2500", "lifecycle": "SETTLED"}
    ]
  }

  Amounts may be JSON strings or numbers. "lifecycle" is the status the
  record should reach: DRAFT (default), PENDING_APPROVAL or ACTIVE for
  policies; SUBMITTED (default), UNDER_REVIEW, APPROVED, REJECTED or
  SETTLED for claims.

SEE ALSO:
  - api/scenarios.go: Built-in books and the replay
  - underwriting/policy.go, reinsurance/treaty.go: Input validation
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cession-engine/directory"
	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/reinsurance"
	"github.com/warp/cession-engine/underwriting"
)

const dateLayout = "2006-01-02"

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BookJSON is the JSON representation of a book.
type BookJSON struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Users       []UserJSON   `json:"users,omitempty"`
	Treaties    []TreatyJSON `json:"treaties,omitempty"`
	Policies    []PolicyJSON `json:"policies,omitempty"`
	Claims      []ClaimJSON  `json:"claims,omitempty"`
}

// UserJSON represents a directory user.
type UserJSON struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TreatyJSON represents a treaty.
type TreatyJSON struct {
	TreatyName      string          `json:"treaty_name"`
	ReinsurerName   string          `json:"reinsurer_name"`
	SharePercentage decimal.Decimal `json:"share_percentage"`
	RetentionLimit  decimal.Decimal `json:"retention_limit"`
	Status          string          `json:"status,omitempty"` // ACTIVE (default) or EXPIRED
}

// PolicyJSON represents a policy and the status it should reach.
type PolicyJSON struct {
	PolicyNumber   string          `json:"policy_number"`
	InsuredName    string          `json:"insured_name"`
	CoverageAmount decimal.Decimal `json:"coverage_amount"`
	Premium        decimal.Decimal `json:"premium"`
	RetentionLimit decimal.Decimal `json:"retention_limit"`
	EffectiveFrom  string          `json:"effective_from,omitempty"`
	EffectiveUntil string          `json:"effective_until,omitempty"`
	Lifecycle      string          `json:"lifecycle,omitempty"`
}

// ClaimJSON represents a claim and the status it should reach.
type ClaimJSON struct {
	ClaimNumber  string          `json:"claim_number"`
	PolicyNumber string          `json:"policy_number"`
	ClaimAmount  decimal.Decimal `json:"claim_amount"`
	Lifecycle    string          `json:"lifecycle,omitempty"`
}

// =============================================================================
// PARSED BOOK
// =============================================================================

// Book is a parsed, validated book.
type Book struct {
	ID          string
	Name        string
	Description string
	Users       []directory.CreateUserInput
	Treaties    []reinsurance.CreateTreatyInput
	Policies    []PolicyPlan
	Claims      []ClaimPlan
}

// PolicyPlan is a policy to create and the status to drive it to.
type PolicyPlan struct {
	Input  underwriting.CreatePolicyInput
	Target ledger.PolicyStatus
}

// ClaimPlan is a claim to file and the status to drive it to. The policy
// is named by number because its ID only exists after replay.
type ClaimPlan struct {
	PolicyNumber string
	Input        underwriting.CreateClaimInput
	Target       ledger.ClaimStatus
}

// Steps returns the statuses a policy passes through after DRAFT to reach
// its target.
func (p PolicyPlan) Steps() []ledger.PolicyStatus {
	switch p.Target {
	case ledger.PolicyPendingApproval:
		return []ledger.PolicyStatus{ledger.PolicyPendingApproval}
	case ledger.PolicyActive:
		return []ledger.PolicyStatus{ledger.PolicyPendingApproval, ledger.PolicyActive}
	default:
		return nil
	}
}

// Steps returns the statuses a claim passes through after SUBMITTED to
// reach its target.
func (c ClaimPlan) Steps() []ledger.ClaimStatus {
	switch c.Target {
	case ledger.ClaimUnderReview:
		return []ledger.ClaimStatus{ledger.ClaimUnderReview}
	case ledger.ClaimApproved:
		return []ledger.ClaimStatus{ledger.ClaimUnderReview, ledger.ClaimApproved}
	case ledger.ClaimRejected:
		return []ledger.ClaimStatus{ledger.ClaimUnderReview, ledger.ClaimRejected}
	case ledger.ClaimSettled:
		return []ledger.ClaimStatus{ledger.ClaimUnderReview, ledger.ClaimApproved, ledger.ClaimSettled}
	default:
		return nil
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// BookFactory parses books.
type BookFactory struct{}

// NewBookFactory creates a factory.
func NewBookFactory() *BookFactory {
	return &BookFactory{}
}

// ParseBook parses a JSON book. Every input is validated up front so a bad
// book fails before anything is replayed.
func (f *BookFactory) ParseBook(jsonStr string) (*Book, error) {
	var bj BookJSON
	if err := json.Unmarshal([]byte(jsonStr), &bj); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.FromJSON(bj)
}

// FromJSON converts a decoded book.
func (f *BookFactory) FromJSON(bj BookJSON) (*Book, error) {
	if bj.ID == "" {
		return nil, fmt.Errorf("book id is required")
	}
	if bj.Name == "" {
		bj.Name = bj.ID
	}

	book := &Book{ID: bj.ID, Name: bj.Name, Description: bj.Description}

	for i, uj := range bj.Users {
		in := directory.CreateUserInput{Name: uj.Name, Email: uj.Email, Role: ledger.Role(strings.ToUpper(uj.Role))}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		book.Users = append(book.Users, in)
	}

	for i, tj := range bj.Treaties {
		in, err := f.treaty(tj)
		if err != nil {
			return nil, fmt.Errorf("treaties[%d]: %w", i, err)
		}
		book.Treaties = append(book.Treaties, in)
	}

	numbers := make(map[string]bool, len(bj.Policies))
	for i, pj := range bj.Policies {
		plan, err := f.policy(pj)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		if numbers[plan.Input.PolicyNumber] {
			return nil, fmt.Errorf("policies[%d]: duplicate policy number %s", i, plan.Input.PolicyNumber)
		}
		numbers[plan.Input.PolicyNumber] = true
		book.Policies = append(book.Policies, plan)
	}

	for i, cj := range bj.Claims {
		plan, err := f.claim(cj)
		if err != nil {
			return nil, fmt.Errorf("claims[%d]: %w", i, err)
		}
		if !numbers[plan.PolicyNumber] {
			return nil, fmt.Errorf("claims[%d]: unknown policy %s", i, plan.PolicyNumber)
		}
		book.Claims = append(book.Claims, plan)
	}

	return book, nil
}

func (f *BookFactory) treaty(tj TreatyJSON) (reinsurance.CreateTreatyInput, error) {
	status := ledger.TreatyActive
	if tj.Status != "" {
		status = ledger.TreatyStatus(strings.ToUpper(tj.Status))
	}
	in := reinsurance.CreateTreatyInput{
		TreatyName:      tj.TreatyName,
		ReinsurerName:   tj.ReinsurerName,
		SharePercentage: tj.SharePercentage,
		RetentionLimit:  tj.RetentionLimit,
		Status:          status,
	}
	return in, in.Validate()
}

func (f *BookFactory) policy(pj PolicyJSON) (PolicyPlan, error) {
	from, err := parseDate("effective_from", pj.EffectiveFrom)
	if err != nil {
		return PolicyPlan{}, err
	}
	until, err := parseDate("effective_until", pj.EffectiveUntil)
	if err != nil {
		return PolicyPlan{}, err
	}

	target := ledger.PolicyDraft
	if pj.Lifecycle != "" {
		target = ledger.PolicyStatus(strings.ToUpper(pj.Lifecycle))
		if !target.Valid() {
			return PolicyPlan{}, &ledger.ValidationError{Field: "lifecycle", Reason: "unknown policy status " + pj.Lifecycle}
		}
	}

	in := underwriting.CreatePolicyInput{
		PolicyNumber:   pj.PolicyNumber,
		InsuredName:    pj.InsuredName,
		CoverageAmount: pj.CoverageAmount,
		Premium:        pj.Premium,
		RetentionLimit: pj.RetentionLimit,
		EffectiveFrom:  from,
		EffectiveUntil: until,
	}
	if err := in.Validate(); err != nil {
		return PolicyPlan{}, err
	}
	return PolicyPlan{Input: in, Target: target}, nil
}

func (f *BookFactory) claim(cj ClaimJSON) (ClaimPlan, error) {
	target := ledger.ClaimSubmitted
	if cj.Lifecycle != "" {
		target = ledger.ClaimStatus(strings.ToUpper(cj.Lifecycle))
		if !target.Valid() {
			return ClaimPlan{}, &ledger.ValidationError{Field: "lifecycle", Reason: "unknown claim status " + cj.Lifecycle}
		}
	}

	// PolicyID is filled in at replay; a placeholder keeps Validate honest
	// about the remaining fields.
	in := underwriting.CreateClaimInput{ClaimNumber: cj.ClaimNumber, PolicyID: "pending", ClaimAmount: cj.ClaimAmount}
	if err := in.Validate(); err != nil {
		return ClaimPlan{}, err
	}
	in.PolicyID = ""
	return ClaimPlan{PolicyNumber: cj.PolicyNumber, Input: in, Target: target}, nil
}

func parseDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, &ledger.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return &t, nil
}
