package underwriting

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/cession-engine/ledger"
)

// CreateClaimInput is the data needed to file a claim.
type CreateClaimInput struct {
	ClaimNumber string
	PolicyID    ledger.PolicyID
	ClaimAmount decimal.Decimal
}

func (in CreateClaimInput) Validate() error {
	if strings.TrimSpace(in.ClaimNumber) == "" {
		return &ledger.ValidationError{Field: "claimNumber", Reason: "is required"}
	}
	if in.PolicyID == "" {
		return &ledger.ValidationError{Field: "policyId", Reason: "is required"}
	}
	if !in.ClaimAmount.IsPositive() {
		return &ledger.ValidationError{Field: "claimAmount", Reason: "must be greater than 0"}
	}
	if !ledger.IsWholeCents(in.ClaimAmount) {
		return &ledger.ValidationError{Field: "claimAmount", Reason: "must not have more than 2 decimal places"}
	}
	return nil
}

// claimStep describes one edge of the claim state machine.
type claimStep struct {
	op     string
	from   ledger.ClaimStatus
	to     ledger.ClaimStatus
	action ledger.AuditAction
	review bool
}

var (
	stepReview  = claimStep{op: "review", from: ledger.ClaimSubmitted, to: ledger.ClaimUnderReview, action: ledger.AuditClaimReviewed, review: true}
	stepApprove = claimStep{op: "approve", from: ledger.ClaimUnderReview, to: ledger.ClaimApproved, action: ledger.AuditClaimApproved}
	stepReject  = claimStep{op: "reject", from: ledger.ClaimUnderReview, to: ledger.ClaimRejected, action: ledger.AuditClaimRejected}
	stepSettle  = claimStep{op: "settle", from: ledger.ClaimApproved, to: ledger.ClaimSettled, action: ledger.AuditClaimSettled}
)

// =============================================================================
// CLAIM SERVICE
// =============================================================================

// Claims drives the claim state machine.
type Claims struct {
	uow      ledger.UnitOfWork
	recorder *ledger.AuditRecorder
	log      *zap.Logger
	now      func() time.Time
}

// NewClaims creates the claim service. A nil logger disables logging.
func NewClaims(uow ledger.UnitOfWork, recorder *ledger.AuditRecorder, log *zap.Logger) *Claims {
	if log == nil {
		log = zap.NewNop()
	}
	return &Claims{uow: uow, recorder: recorder, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Create files a claim against an ACTIVE policy. The amount is checked
// against the policy's coverage before anything is written.
func (s *Claims) Create(ctx context.Context, in CreateClaimInput, by ledger.Principal) (*ledger.Claim, error) {
	if err := by.Authorize("create claim", ledger.RoleClaimsAdjuster); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var claim ledger.Claim
	err := s.uow.Do(ctx, "create claim", func(ctx context.Context, st ledger.Store) error {
		policy, err := st.GetPolicy(ctx, in.PolicyID)
		if err != nil {
			return err
		}
		if policy == nil {
			return &ledger.NotFoundError{Entity: "policy", ID: string(in.PolicyID)}
		}
		if policy.Status != ledger.PolicyActive {
			return &ledger.InvalidStateError{
				Entity:    "policy",
				ID:        string(policy.ID),
				Operation: "file claim against",
				Expected:  []string{string(ledger.PolicyActive)},
				Actual:    string(policy.Status),
			}
		}
		if in.ClaimAmount.GreaterThan(policy.CoverageAmount) {
			return &ledger.ValidationError{
				Field:  "claimAmount",
				Reason: "exceeds policy coverage of " + policy.CoverageAmount.StringFixed(2),
			}
		}

		now := s.now()
		claim = ledger.Claim{
			ID:          ledger.NewClaimID(),
			ClaimNumber: strings.TrimSpace(in.ClaimNumber),
			PolicyID:    policy.ID,
			ClaimAmount: in.ClaimAmount,
			Status:      ledger.ClaimSubmitted,
			CreatedBy:   by.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.InsertClaim(ctx, claim); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return &ledger.ValidationError{Field: "claimNumber", Reason: "already exists: " + claim.ClaimNumber}
			}
			return err
		}
		_, err = s.recorder.In(st).Record(ctx, ledger.AuditClaimCreated, by, ledger.ClaimRef(policy.ID, claim.ID),
			"claim %s for %s", claim.ClaimNumber, claim.ClaimAmount.StringFixed(2))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("claim created",
		zap.String("claim_id", string(claim.ID)),
		zap.String("policy_id", string(claim.PolicyID)),
		zap.String("actor", string(by.ID)))
	return &claim, nil
}

// Review moves a SUBMITTED claim to UNDER_REVIEW and records the reviewer.
func (s *Claims) Review(ctx context.Context, id ledger.ClaimID, by ledger.Principal) (*ledger.Claim, error) {
	return s.step(ctx, id, by, stepReview)
}

// Approve moves an UNDER_REVIEW claim to APPROVED.
func (s *Claims) Approve(ctx context.Context, id ledger.ClaimID, by ledger.Principal) (*ledger.Claim, error) {
	return s.step(ctx, id, by, stepApprove)
}

// Reject moves an UNDER_REVIEW claim to REJECTED.
func (s *Claims) Reject(ctx context.Context, id ledger.ClaimID, by ledger.Principal) (*ledger.Claim, error) {
	return s.step(ctx, id, by, stepReject)
}

// Settle moves an APPROVED claim to SETTLED.
func (s *Claims) Settle(ctx context.Context, id ledger.ClaimID, by ledger.Principal) (*ledger.Claim, error) {
	return s.step(ctx, id, by, stepSettle)
}

func (s *Claims) step(ctx context.Context, id ledger.ClaimID, by ledger.Principal, step claimStep) (*ledger.Claim, error) {
	if err := by.Authorize(step.op+" claim", ledger.RoleClaimsAdjuster); err != nil {
		return nil, err
	}

	var claim ledger.Claim
	err := s.uow.Do(ctx, step.op+" claim", func(ctx context.Context, st ledger.Store) error {
		c, err := st.GetClaim(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return &ledger.NotFoundError{Entity: "claim", ID: string(id)}
		}
		if c.Status != step.from {
			return claimStateError(id, step, c.Status)
		}

		var reviewer *ledger.UserID
		if step.review {
			reviewer = &by.ID
		}
		now := s.now()
		ok, err := st.TransitionClaim(ctx, id, step.from, step.to, reviewer, now)
		if err != nil {
			return err
		}
		if !ok {
			current, err := st.GetClaim(ctx, id)
			if err != nil {
				return err
			}
			actual := ledger.ClaimStatus("MISSING")
			if current != nil {
				actual = current.Status
			}
			return claimStateError(id, step, actual)
		}

		c.Status = step.to
		c.UpdatedAt = now
		if reviewer != nil {
			c.ReviewedBy = reviewer
		}
		claim = *c

		_, err = s.recorder.In(st).Record(ctx, step.action, by, ledger.ClaimRef(c.PolicyID, id),
			"status %s -> %s", step.from, step.to)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("claim "+step.op,
		zap.String("claim_id", string(id)),
		zap.String("status", string(step.to)),
		zap.String("actor", string(by.ID)))
	return &claim, nil
}

func claimStateError(id ledger.ClaimID, step claimStep, actual ledger.ClaimStatus) error {
	return &ledger.InvalidStateError{
		Entity:    "claim",
		ID:        string(id),
		Operation: step.op,
		Expected:  []string{string(step.from)},
		Actual:    string(actual),
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one claim.
func (s *Claims) Get(ctx context.Context, id ledger.ClaimID) (*ledger.Claim, error) {
	var claim *ledger.Claim
	err := s.uow.Read(ctx, "get claim", func(ctx context.Context, st ledger.Store) error {
		var err error
		claim, err = st.GetClaim(ctx, id)
		if err != nil {
			return err
		}
		if claim == nil {
			return &ledger.NotFoundError{Entity: "claim", ID: string(id)}
		}
		return nil
	})
	return claim, err
}

// List returns claims in creation order.
func (s *Claims) List(ctx context.Context, filter ledger.ClaimFilter) ([]ledger.Claim, error) {
	var out []ledger.Claim
	err := s.uow.Read(ctx, "list claims", func(ctx context.Context, st ledger.Store) error {
		var err error
		out, err = st.ListClaims(ctx, filter)
		return err
	})
	return out, err
}
