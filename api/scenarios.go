/*
scenarios.go - Demo books for testing and demonstrations

PURPOSE:
  Provides pre-built books that populate the ledger with realistic data.
  Each book is JSON parsed by factory.BookFactory and replayed through the
  normal services as the calling admin, so every record carries its usual
  audit trail and allocation.

AVAILABLE SCENARIOS:
  quota-share:     The two-treaty example: 100000 coverage, 20000 retention,
                   T1 60% capped at 50000, T2 40% capped at 10000
  capped-book:     Several policies against small treaty caps, one expired treaty
  fully-retained:  Retention equal to coverage, nothing is ceded
  claims-workflow: Adjuster and manager users, claims in every state

HOW SCENARIOS WORK:
 1. Parse the book (nothing is written if it is invalid)
 2. Refuse if any of its policy numbers already exists
 3. Create users (existing emails are skipped)
 4. Create treaties
 5. Create policies and drive them to their target status
 6. File claims and drive them to their target status

  Approval allocates across ALL active treaties in the registry, so
  results match the descriptions only on an empty ledger.

NOTE:
  Each step is its own transaction. A failure part-way leaves the
  earlier records in place; they are ordinary, audited records.

SEE ALSO:
  - factory/book.go: Book JSON schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/cession-engine/factory"
	"github.com/warp/cession-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarioBooks = []string{quotaShareBook, cappedBook, fullyRetainedBook, claimsWorkflowBook}

const quotaShareBook = `{
  "id": "quota-share",
  "name": "Quota Share",
  "description": "100000 coverage with 20000 retention split 48000 / 10000 / 42000 across two capped treaties",
  "treaties": [
    {"treaty_name": "T1 Quota Share", "reinsurer_name": "Atlas Re", "share_percentage": "60", "retention_limit": "50000"},
    {"treaty_name": "T2 Surplus", "reinsurer_name": "Borealis Re", "share_percentage": "40", "retention_limit": "10000"}
  ],
  "policies": [
    {"policy_number": "DEMO-QS-001", "insured_name": "Acme Manufacturing", "coverage_amount": "100000",
     "premium": "2400", "retention_limit": "20000", "effective_from": "2025-01-01", "effective_until": "2025-12-31",
     "lifecycle": "ACTIVE"}
  ],
  "claims": [
    {"claim_number": "DEMO-QS-CLM-001", "policy_number": "DEMO-QS-001", "claim_amount": "12500", "lifecycle": "SETTLED"}
  ]
}`

const cappedBook = `{
  "id": "capped-book",
  "name": "Capped Book",
  "description": "Three policies against small treaty caps; the expired treaty never receives a cession",
  "treaties": [
    {"treaty_name": "Cat XL", "reinsurer_name": "Cedar Re", "share_percentage": "50", "retention_limit": "5000"},
    {"treaty_name": "Property QS", "reinsurer_name": "Delta Re", "share_percentage": "30", "retention_limit": "25000"},
    {"treaty_name": "Legacy QS", "reinsurer_name": "Echo Re", "share_percentage": "20", "retention_limit": "100000", "status": "EXPIRED"}
  ],
  "policies": [
    {"policy_number": "DEMO-CB-001", "insured_name": "Harbor Logistics", "coverage_amount": "250000",
     "premium": "5100", "retention_limit": "50000", "lifecycle": "ACTIVE"},
    {"policy_number": "DEMO-CB-002", "insured_name": "Pine Street Bakery", "coverage_amount": "15000.50",
     "premium": "310.25", "retention_limit": "2500", "lifecycle": "ACTIVE"},
    {"policy_number": "DEMO-CB-003", "insured_name": "Summit Clinics", "coverage_amount": "80000",
     "premium": "1900", "retention_limit": "10000", "lifecycle": "PENDING_APPROVAL"}
  ]
}`

const fullyRetainedBook = `{
  "id": "fully-retained",
  "name": "Fully Retained",
  "description": "Retention equals coverage, so the whole policy stays with the insurer",
  "policies": [
    {"policy_number": "DEMO-FR-001", "insured_name": "Orchard Farms", "coverage_amount": "30000",
     "premium": "450", "retention_limit": "30000", "lifecycle": "ACTIVE"}
  ]
}`

const claimsWorkflowBook = `{
  "id": "claims-workflow",
  "name": "Claims Workflow",
  "description": "Demo users for every role and claims parked in each claim status",
  "users": [
    {"name": "Uma Underwriter", "email": "uma.underwriter@example.com", "role": "UNDERWRITER"},
    {"name": "Cal Adjuster", "email": "cal.adjuster@example.com", "role": "CLAIMS_ADJUSTER"},
    {"name": "Rhea Manager", "email": "rhea.manager@example.com", "role": "REINSURANCE_MANAGER"}
  ],
  "policies": [
    {"policy_number": "DEMO-CW-001", "insured_name": "Riverside Hotels", "coverage_amount": "60000",
     "premium": "1300", "retention_limit": "60000", "lifecycle": "ACTIVE"},
    {"policy_number": "DEMO-CW-002", "insured_name": "Northwind Traders", "coverage_amount": "40000",
     "premium": "800", "retention_limit": "5000"}
  ],
  "claims": [
    {"claim_number": "DEMO-CW-CLM-001", "policy_number": "DEMO-CW-001", "claim_amount": "1200"},
    {"claim_number": "DEMO-CW-CLM-002", "policy_number": "DEMO-CW-001", "claim_amount": "3400", "lifecycle": "UNDER_REVIEW"},
    {"claim_number": "DEMO-CW-CLM-003", "policy_number": "DEMO-CW-001", "claim_amount": "5600", "lifecycle": "APPROVED"},
    {"claim_number": "DEMO-CW-CLM-004", "policy_number": "DEMO-CW-001", "claim_amount": "21000.00", "lifecycle": "REJECTED"},
    {"claim_number": "DEMO-CW-CLM-005", "policy_number": "DEMO-CW-001", "claim_amount": "900", "lifecycle": "SETTLED"}
  ]
}`

// Scenarios parses the built-in books.
func (h *Handler) Scenarios() ([]*factory.Book, error) {
	books := make([]*factory.Book, 0, len(scenarioBooks))
	for _, js := range scenarioBooks {
		book, err := h.Books.ParseBook(js)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	books, err := h.Scenarios()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ScenarioDTO, len(books))
	for i, b := range books {
		dtos[i] = ScenarioDTO{ID: b.ID, Name: b.Name, Description: b.Description}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario replays one built-in book. ADMIN only.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	by := PrincipalFrom(r.Context())
	if err := by.Authorize("load scenario", ledger.RoleAdmin); err != nil {
		h.fail(w, r, err)
		return
	}

	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	books, err := h.Scenarios()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var book *factory.Book
	for _, b := range books {
		if b.ID == req.ScenarioID {
			book = b
		}
	}
	if book == nil {
		h.fail(w, r, &ledger.NotFoundError{Entity: "scenario", ID: req.ScenarioID})
		return
	}

	result, err := h.LoadBook(r.Context(), book, by)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("scenario loaded", zap.String("scenario", book.ID), zap.String("actor", string(by.ID)))
	writeJSON(w, http.StatusOK, result)
}

// LoadBook replays a parsed book through the services.
func (h *Handler) LoadBook(ctx context.Context, book *factory.Book, by ledger.Principal) (*ScenarioResultDTO, error) {
	existing, err := h.Policies.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, p := range existing {
		taken[p.PolicyNumber] = true
	}
	for _, plan := range book.Policies {
		if taken[plan.Input.PolicyNumber] {
			return nil, &ledger.ValidationError{
				Field:  "scenario_id",
				Reason: fmt.Sprintf("%s already loaded (policy %s exists)", book.ID, plan.Input.PolicyNumber),
			}
		}
	}

	result := &ScenarioResultDTO{ScenarioID: book.ID, PolicyIDs: []string{}}

	for _, in := range book.Users {
		if _, err := h.Users.GetByEmail(ctx, in.Email); err == nil {
			continue
		} else if !ledger.IsNotFound(err) {
			return nil, err
		}
		if _, err := h.Users.Create(ctx, in, by); err != nil {
			return nil, err
		}
		result.Users++
	}

	for _, in := range book.Treaties {
		if _, err := h.Treaties.Create(ctx, in, by); err != nil {
			return nil, err
		}
		result.Treaties++
	}

	policyIDs := make(map[string]ledger.PolicyID, len(book.Policies))
	for _, plan := range book.Policies {
		policy, err := h.Policies.Create(ctx, plan.Input, by)
		if err != nil {
			return nil, err
		}
		for _, status := range plan.Steps() {
			switch status {
			case ledger.PolicyPendingApproval:
				_, err = h.Policies.Submit(ctx, policy.ID, by)
			case ledger.PolicyActive:
				_, err = h.Policies.Approve(ctx, policy.ID, by)
			}
			if err != nil {
				return nil, err
			}
		}
		policyIDs[policy.PolicyNumber] = policy.ID
		result.PolicyIDs = append(result.PolicyIDs, string(policy.ID))
		result.Policies++
	}

	for _, plan := range book.Claims {
		in := plan.Input
		in.PolicyID = policyIDs[plan.PolicyNumber]
		claim, err := h.Claims.Create(ctx, in, by)
		if err != nil {
			return nil, err
		}
		for _, status := range plan.Steps() {
			switch status {
			case ledger.ClaimUnderReview:
				_, err = h.Claims.Review(ctx, claim.ID, by)
			case ledger.ClaimApproved:
				_, err = h.Claims.Approve(ctx, claim.ID, by)
			case ledger.ClaimRejected:
				_, err = h.Claims.Reject(ctx, claim.ID, by)
			case ledger.ClaimSettled:
				_, err = h.Claims.Settle(ctx, claim.ID, by)
			}
			if err != nil {
				return nil, err
			}
		}
		result.Claims++
	}

	return result, nil
}
