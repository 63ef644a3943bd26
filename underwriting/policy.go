/*
Package underwriting implements the policy and claim lifecycles.

PURPOSE:
  Policies and claims only change status through the state machines in
  this package. Each transition checks the principal's role, validates the
  current status, performs the change and appends its audit entry in one
  unit of work.

POLICY LIFECYCLE:
  DRAFT ──submit──▶ PENDING_APPROVAL ──approve──▶ ACTIVE
  There is no rejection or cancellation path and no way back.

APPROVAL:
  Approve is the one transition with side effects beyond the policy row:
    1. PENDING_APPROVAL → ACTIVE (conditional update)
    2. split exposure across ACTIVE treaties (reinsurance.Plan)
    3. persist allocations + ALLOCATION_CREATED entries (reinsurance.Apply)
    4. append POLICY_APPROVED
  A failure at any step rolls all of them back. Of several concurrent
  approvals of the same policy exactly one succeeds; the others see
  InvalidStateError with actual status ACTIVE.

CLAIM LIFECYCLE (claim.go):
  SUBMITTED → UNDER_REVIEW → APPROVED → SETTLED
                           ↘ REJECTED

SEE ALSO:
  - reinsurance/allocation.go: The allocation algorithm
  - ledger/unit.go: Transactions and deadlines
  - ledger/audit.go: Audit recorder
*/
package underwriting

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/reinsurance"
)

// =============================================================================
// INPUT
// =============================================================================

// CreatePolicyInput is the data needed to draft a policy.
type CreatePolicyInput struct {
	PolicyNumber   string
	InsuredName    string
	CoverageAmount decimal.Decimal
	Premium        decimal.Decimal
	RetentionLimit decimal.Decimal
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
}

// Validate checks the input without touching storage. Uniqueness of the
// policy number is checked by the store.
func (in CreatePolicyInput) Validate() error {
	if strings.TrimSpace(in.PolicyNumber) == "" {
		return &ledger.ValidationError{Field: "policyNumber", Reason: "is required"}
	}
	if strings.TrimSpace(in.InsuredName) == "" {
		return &ledger.ValidationError{Field: "insuredName", Reason: "is required"}
	}
	if !in.CoverageAmount.IsPositive() {
		return &ledger.ValidationError{Field: "coverageAmount", Reason: "must be greater than 0"}
	}
	if in.Premium.IsNegative() {
		return &ledger.ValidationError{Field: "premium", Reason: "must not be negative"}
	}
	if in.RetentionLimit.IsNegative() {
		return &ledger.ValidationError{Field: "retentionLimit", Reason: "must not be negative"}
	}
	for field, v := range map[string]decimal.Decimal{
		"coverageAmount": in.CoverageAmount,
		"premium":        in.Premium,
		"retentionLimit": in.RetentionLimit,
	} {
		if !ledger.IsWholeCents(v) {
			return &ledger.ValidationError{Field: field, Reason: "must not have more than 2 decimal places"}
		}
	}
	if in.EffectiveFrom != nil && in.EffectiveUntil != nil && in.EffectiveUntil.Before(*in.EffectiveFrom) {
		return &ledger.ValidationError{Field: "effectiveUntil", Reason: "must not be before effectiveFrom"}
	}
	return nil
}

// ApprovalResult is what Approve produced.
type ApprovalResult struct {
	Policy      ledger.Policy
	Plan        reinsurance.AllocationPlan
	Allocations []ledger.Allocation
}

// =============================================================================
// POLICY SERVICE
// =============================================================================

// Policies drives the policy state machine.
type Policies struct {
	uow      ledger.UnitOfWork
	recorder *ledger.AuditRecorder
	log      *zap.Logger
	now      func() time.Time
}

// NewPolicies creates the policy service. A nil logger disables logging.
func NewPolicies(uow ledger.UnitOfWork, recorder *ledger.AuditRecorder, log *zap.Logger) *Policies {
	if log == nil {
		log = zap.NewNop()
	}
	return &Policies{uow: uow, recorder: recorder, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Create drafts a policy and records POLICY_CREATED.
func (s *Policies) Create(ctx context.Context, in CreatePolicyInput, by ledger.Principal) (*ledger.Policy, error) {
	if err := by.Authorize("create policy", ledger.RoleUnderwriter); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	policy := ledger.Policy{
		ID:             ledger.NewPolicyID(),
		PolicyNumber:   strings.TrimSpace(in.PolicyNumber),
		InsuredName:    strings.TrimSpace(in.InsuredName),
		CoverageAmount: in.CoverageAmount,
		Premium:        in.Premium,
		RetentionLimit: in.RetentionLimit,
		Status:         ledger.PolicyDraft,
		EffectiveFrom:  in.EffectiveFrom,
		EffectiveUntil: in.EffectiveUntil,
		CreatedBy:      by.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.uow.Do(ctx, "create policy", func(ctx context.Context, st ledger.Store) error {
		if err := st.InsertPolicy(ctx, policy); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return &ledger.ValidationError{Field: "policyNumber", Reason: "already exists: " + policy.PolicyNumber}
			}
			return err
		}
		_, err := s.recorder.In(st).Record(ctx, ledger.AuditPolicyCreated, by, ledger.PolicyRef(policy.ID),
			"policy %s for %s, coverage %s, retention %s", policy.PolicyNumber, policy.InsuredName,
			policy.CoverageAmount.StringFixed(2), policy.RetentionLimit.StringFixed(2))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("policy created",
		zap.String("policy_id", string(policy.ID)),
		zap.String("policy_number", policy.PolicyNumber),
		zap.String("actor", string(by.ID)))
	return &policy, nil
}

// Submit moves a DRAFT policy to PENDING_APPROVAL.
func (s *Policies) Submit(ctx context.Context, id ledger.PolicyID, by ledger.Principal) (*ledger.Policy, error) {
	if err := by.Authorize("submit policy", ledger.RoleUnderwriter); err != nil {
		return nil, err
	}

	var policy ledger.Policy
	err := s.uow.Do(ctx, "submit policy", func(ctx context.Context, st ledger.Store) error {
		p, err := s.transition(ctx, st, id, "submit", ledger.PolicyDraft, ledger.PolicyPendingApproval)
		if err != nil {
			return err
		}
		policy = *p
		_, err = s.recorder.In(st).Record(ctx, ledger.AuditPolicySubmitted, by, ledger.PolicyRef(id),
			"status %s -> %s", ledger.PolicyDraft, ledger.PolicyPendingApproval)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("policy submitted", zap.String("policy_id", string(id)), zap.String("actor", string(by.ID)))
	return &policy, nil
}

// Approve activates a PENDING_APPROVAL policy and allocates its exposure.
func (s *Policies) Approve(ctx context.Context, id ledger.PolicyID, by ledger.Principal) (*ApprovalResult, error) {
	if err := by.Authorize("approve policy", ledger.RoleAdmin); err != nil {
		return nil, err
	}

	var result ApprovalResult
	err := s.uow.Do(ctx, "approve policy", func(ctx context.Context, st ledger.Store) error {
		p, err := s.transition(ctx, st, id, "approve", ledger.PolicyPendingApproval, ledger.PolicyActive)
		if err != nil {
			return err
		}

		active := ledger.TreatyActive
		treaties, err := st.ListTreaties(ctx, ledger.TreatyFilter{Status: &active})
		if err != nil {
			return err
		}

		plan := reinsurance.Plan(*p, treaties)
		allocations, err := reinsurance.Apply(ctx, st, s.recorder, plan, by, p.UpdatedAt)
		if err != nil {
			return err
		}

		_, err = s.recorder.In(st).Record(ctx, ledger.AuditPolicyApproved, by, ledger.PolicyRef(id),
			"status %s -> %s; ceded %s across %d treaty(ies), retained %s",
			ledger.PolicyPendingApproval, ledger.PolicyActive,
			plan.CededTotal().StringFixed(2), len(plan.Cessions), plan.Retained.StringFixed(2))
		if err != nil {
			return err
		}

		result = ApprovalResult{Policy: *p, Plan: plan, Allocations: allocations}
		return nil
	})
	if err != nil {
		s.log.Warn("policy approval failed",
			zap.String("policy_id", string(id)),
			zap.String("actor", string(by.ID)),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("policy approved",
		zap.String("policy_id", string(id)),
		zap.String("ceded", result.Plan.CededTotal().StringFixed(2)),
		zap.String("retained", result.Plan.Retained.StringFixed(2)),
		zap.String("actor", string(by.ID)))
	return &result, nil
}

// transition applies from → to and returns the updated policy. When the
// conditional update loses, the policy is re-read to report its real status.
func (s *Policies) transition(ctx context.Context, st ledger.Store, id ledger.PolicyID, op string, from, to ledger.PolicyStatus) (*ledger.Policy, error) {
	p, err := st.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &ledger.NotFoundError{Entity: "policy", ID: string(id)}
	}
	if p.Status != from {
		return nil, policyStateError(id, op, from, p.Status)
	}

	now := s.now()
	ok, err := st.TransitionPolicy(ctx, id, from, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := st.GetPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		actual := ledger.PolicyStatus("MISSING")
		if current != nil {
			actual = current.Status
		}
		return nil, policyStateError(id, op, from, actual)
	}

	p.Status = to
	p.UpdatedAt = now
	return p, nil
}

func policyStateError(id ledger.PolicyID, op string, expected, actual ledger.PolicyStatus) error {
	return &ledger.InvalidStateError{
		Entity:    "policy",
		ID:        string(id),
		Operation: op,
		Expected:  []string{string(expected)},
		Actual:    string(actual),
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one policy.
func (s *Policies) Get(ctx context.Context, id ledger.PolicyID) (*ledger.Policy, error) {
	var policy *ledger.Policy
	err := s.uow.Read(ctx, "get policy", func(ctx context.Context, st ledger.Store) error {
		var err error
		policy, err = st.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		if policy == nil {
			return &ledger.NotFoundError{Entity: "policy", ID: string(id)}
		}
		return nil
	})
	return policy, err
}

// List returns policies in creation order, optionally filtered by status.
func (s *Policies) List(ctx context.Context, status *ledger.PolicyStatus) ([]ledger.Policy, error) {
	var out []ledger.Policy
	err := s.uow.Read(ctx, "list policies", func(ctx context.Context, st ledger.Store) error {
		var err error
		out, err = st.ListPolicies(ctx, ledger.PolicyFilter{Status: status})
		return err
	})
	return out, err
}

// AuditTrail returns every audit entry that references the policy,
// including claim and allocation entries.
func (s *Policies) AuditTrail(ctx context.Context, id ledger.PolicyID) ([]ledger.AuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var out []ledger.AuditEntry
	err := s.uow.Read(ctx, "policy audit trail", func(ctx context.Context, st ledger.Store) error {
		var err error
		out, err = s.recorder.In(st).Query(ctx, ledger.AuditFilter{PolicyID: &id})
		return err
	})
	return out, err
}

// Reconcile checks the policy's persisted allocations against its coverage.
func (s *Policies) Reconcile(ctx context.Context, id ledger.PolicyID) (*reinsurance.Reconciliation, error) {
	var rec reinsurance.Reconciliation
	err := s.uow.Read(ctx, "reconcile policy", func(ctx context.Context, st ledger.Store) error {
		p, err := st.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return &ledger.NotFoundError{Entity: "policy", ID: string(id)}
		}
		allocations, err := st.ListAllocations(ctx, ledger.AllocationFilter{PolicyID: &id})
		if err != nil {
			return err
		}
		rec = reinsurance.Reconcile(*p, allocations)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
