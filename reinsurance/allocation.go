/*
Package reinsurance splits policy exposure across treaties.

PURPOSE:
  When a policy becomes ACTIVE, the part of its coverage above the
  insurer's retention is ceded to the ACTIVE treaties in proportion to
  their share percentages, each capped by the treaty's retention limit.
  Whatever is not ceded is retained by the insurer. The resulting
  allocation records sum exactly to the policy's coverage.

ALGORITHM:
  cededBase   = max(0, coverage - retention)
  totalShare  = Σ share over ACTIVE treaties (ascending by TreatyID)
  desired_t   = cededBase × share_t / totalShare     (0 when totalShare = 0)
  actual_t    = round2(min(desired_t, cap_t))        (skip when 0)
  retained    = round2(coverage - Σ actual_t)

  Rounding is half away from zero. Because coverage is whole cents and
  every actual_t is whole cents, retained is exact and
  Σ actual_t + retained == coverage holds to the cent.

EXAMPLE:
  coverage 100000, retention 20000 → cededBase 80000
  T1 share 60 cap 50000 → desired 48000 → 48000
  T2 share 40 cap 10000 → desired 32000 → 10000
  retained = 100000 - 58000 = 42000

PLAN / APPLY:
  Plan() is pure: same policy and treaty set, same plan. Apply() persists a
  plan through the unit of work's Store view, writing one
  ALLOCATION_CREATED audit entry per ceded allocation.

SEE ALSO:
  - treaty.go: Treaty registry (create, cascade delete)
  - reconcile.go: Checks persisted allocations against coverage
  - underwriting/policy.go: Calls Plan/Apply inside policy approval
*/
package reinsurance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cession-engine/ledger"
)

// =============================================================================
// PLAN
// =============================================================================

// Cession is the amount ceded to one treaty.
type Cession struct {
	TreatyID   ledger.TreatyID
	TreatyName string
	Share      decimal.Decimal
	Desired    decimal.Decimal
	Amount     decimal.Decimal
	Capped     bool
}

// AllocationPlan is the outcome of splitting one policy.
type AllocationPlan struct {
	PolicyID  ledger.PolicyID
	Coverage  decimal.Decimal
	CededBase decimal.Decimal
	Cessions  []Cession
	Retained  decimal.Decimal
}

// CededTotal is the sum of all cessions.
func (p AllocationPlan) CededTotal() decimal.Decimal {
	total := decimal.Zero
	for _, c := range p.Cessions {
		total = total.Add(c.Amount)
	}
	return total
}

// Plan computes the split of policy across treaties. Treaties that are not
// ACTIVE are ignored; the rest are considered in ascending ID order.
func Plan(policy ledger.Policy, treaties []ledger.Treaty) AllocationPlan {
	plan := AllocationPlan{
		PolicyID:  policy.ID,
		Coverage:  policy.CoverageAmount,
		CededBase: decimal.Max(decimal.Zero, policy.CoverageAmount.Sub(policy.RetentionLimit)),
	}

	active := make([]ledger.Treaty, 0, len(treaties))
	for _, t := range treaties {
		if t.Status == ledger.TreatyActive {
			active = append(active, t)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	totalShare := decimal.Zero
	for _, t := range active {
		totalShare = totalShare.Add(t.SharePercentage)
	}

	ceded := decimal.Zero
	if plan.CededBase.IsPositive() && totalShare.IsPositive() {
		for _, t := range active {
			desired := plan.CededBase.Mul(t.SharePercentage).Div(totalShare)
			amount := decimal.Min(desired, t.RetentionLimit)
			capped := t.RetentionLimit.LessThan(desired)
			amount = ledger.Round2(amount)
			// Rounding up across many treaties must not cede past the base.
			if remaining := plan.CededBase.Sub(ceded); amount.GreaterThan(remaining) {
				amount = remaining
			}
			if amount.IsZero() {
				continue
			}
			plan.Cessions = append(plan.Cessions, Cession{
				TreatyID:   t.ID,
				TreatyName: t.TreatyName,
				Share:      t.SharePercentage,
				Desired:    desired,
				Amount:     amount,
				Capped:     capped,
			})
			ceded = ceded.Add(amount)
		}
	}

	plan.Retained = ledger.Round2(policy.CoverageAmount.Sub(ceded))
	return plan
}

// Allocations converts the plan to records: one per cession, then the
// retained record.
func (p AllocationPlan) Allocations(at time.Time) []ledger.Allocation {
	out := make([]ledger.Allocation, 0, len(p.Cessions)+1)
	for _, c := range p.Cessions {
		treatyID := c.TreatyID
		out = append(out, ledger.Allocation{
			ID:             ledger.NewAllocationID(),
			PolicyID:       p.PolicyID,
			TreatyID:       &treatyID,
			CededAmount:    c.Amount,
			RetainedAmount: decimal.Zero,
			Percentage:     c.Share,
			CreatedAt:      at,
		})
	}
	out = append(out, ledger.Allocation{
		ID:             ledger.NewAllocationID(),
		PolicyID:       p.PolicyID,
		CededAmount:    decimal.Zero,
		RetainedAmount: p.Retained,
		Percentage:     decimal.Zero,
		CreatedAt:      at,
	})
	return out
}

// =============================================================================
// APPLY
// =============================================================================

// Apply persists plan through store, auditing each ceded allocation. It
// must run inside the caller's unit of work.
func Apply(ctx context.Context, store ledger.Store, recorder *ledger.AuditRecorder, plan AllocationPlan, by ledger.Principal, at time.Time) ([]ledger.Allocation, error) {
	if plan.Retained.IsNegative() {
		return nil, fmt.Errorf("plan for policy %s cedes more than coverage", plan.PolicyID)
	}
	allocations := plan.Allocations(at)
	audit := recorder.In(store)

	for i, a := range allocations {
		if err := store.InsertAllocation(ctx, a); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return nil, &ledger.InvalidStateError{
					Entity:    "policy",
					ID:        string(plan.PolicyID),
					Operation: "allocate",
					Expected:  []string{"unallocated"},
					Actual:    "allocated",
				}
			}
			return nil, &ledger.StorageError{Op: "insert allocation", Err: err}
		}
		if a.IsRetained() {
			continue
		}
		c := plan.Cessions[i]
		if _, err := audit.Record(ctx, ledger.AuditAllocationCreated, by,
			ledger.AllocationRef(plan.PolicyID, c.TreatyID),
			"ceded %s to treaty %s (share %s%%)", c.Amount.StringFixed(2), c.TreatyName, c.Share.String()); err != nil {
			return nil, err
		}
	}
	return allocations, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Allocations serves read access to persisted allocations.
type Allocations struct {
	uow ledger.UnitOfWork
}

func NewAllocations(uow ledger.UnitOfWork) *Allocations {
	return &Allocations{uow: uow}
}

// List returns allocations, optionally for one policy.
func (a *Allocations) List(ctx context.Context, policyID *ledger.PolicyID) ([]ledger.Allocation, error) {
	var out []ledger.Allocation
	err := a.uow.Read(ctx, "list allocations", func(ctx context.Context, s ledger.Store) error {
		if policyID != nil {
			p, err := s.GetPolicy(ctx, *policyID)
			if err != nil {
				return err
			}
			if p == nil {
				return &ledger.NotFoundError{Entity: "policy", ID: string(*policyID)}
			}
		}
		var err error
		out, err = s.ListAllocations(ctx, ledger.AllocationFilter{PolicyID: policyID})
		return err
	})
	return out, err
}
