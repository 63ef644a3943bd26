package reinsurance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cession-engine/ledger"
)

// Reconciliation compares a policy's persisted allocations to its coverage.
type Reconciliation struct {
	PolicyID   ledger.PolicyID
	Coverage   decimal.Decimal
	Ceded      decimal.Decimal
	Retained   decimal.Decimal
	Difference decimal.Decimal
	Records    int
}

// Balanced reports whether ceded + retained equals coverage exactly.
func (r Reconciliation) Balanced() bool {
	return r.Difference.IsZero()
}

// Reconcile sums the allocations belonging to policy. Allocations for other
// policies are ignored.
func Reconcile(policy ledger.Policy, allocations []ledger.Allocation) Reconciliation {
	r := Reconciliation{
		PolicyID: policy.ID,
		Coverage: policy.CoverageAmount,
		Ceded:    decimal.Zero,
		Retained: decimal.Zero,
	}
	for _, a := range allocations {
		if a.PolicyID != policy.ID {
			continue
		}
		r.Ceded = r.Ceded.Add(a.CededAmount)
		r.Retained = r.Retained.Add(a.RetainedAmount)
		r.Records++
	}
	r.Difference = r.Coverage.Sub(r.Ceded).Sub(r.Retained)
	return r
}

// Report converts the result into a stored reconciliation report.
func (r Reconciliation) Report(at time.Time) ledger.ReconciliationReport {
	status := ledger.ReconciliationBalanced
	if !r.Balanced() {
		status = ledger.ReconciliationMismatch
	}
	return ledger.ReconciliationReport{
		PolicyID:       r.PolicyID,
		CoverageAmount: r.Coverage,
		CededTotal:     r.Ceded,
		RetainedTotal:  r.Retained,
		Difference:     r.Difference,
		Status:         status,
		CheckedAt:      at,
	}
}

// Reports stores the results of reconciliation sweeps, one per policy.
type Reports struct {
	uow ledger.UnitOfWork
}

func NewReports(uow ledger.UnitOfWork) *Reports {
	return &Reports{uow: uow}
}

// Save replaces the stored report for the report's policy.
func (r *Reports) Save(ctx context.Context, report ledger.ReconciliationReport) error {
	return r.uow.Do(ctx, "save reconciliation report", func(ctx context.Context, s ledger.Store) error {
		return s.SaveReconciliationReport(ctx, report)
	})
}

// List returns stored reports ordered by policy, optionally by status.
func (r *Reports) List(ctx context.Context, status *ledger.ReconciliationStatus) ([]ledger.ReconciliationReport, error) {
	var out []ledger.ReconciliationReport
	err := r.uow.Read(ctx, "list reconciliation reports", func(ctx context.Context, s ledger.Store) error {
		var err error
		out, err = s.ListReconciliationReports(ctx, status)
		return err
	})
	return out, err
}
