/*
scheduler.go - Automated allocation reconciliation

PURPOSE:
  Periodically re-checks that every ACTIVE policy's allocations still sum
  to its coverage and stores the latest result per policy. A treaty
  deletion removes ceded allocations without re-allocating, so MISMATCH
  reports are expected afterwards; the sweep makes them visible.

DESIGN:
  - One background goroutine driven by a ticker; runs once on start
  - Each policy is checked as a task on an ants pool
  - Results are upserted as ReconciliationReports (BALANCED, MISMATCH, FAILED)
  - Mismatches are logged at WARN

USAGE:
  scheduler, err := NewReconciliationScheduler(h.Policies, h.Reports, 8, log)
  scheduler.Start()
  defer scheduler.Stop()

SEE ALSO:
  - reinsurance/reconcile.go: Reconcile and Reports
  - handlers.go: RunReconciliation (manual trigger)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/reinsurance"
	"github.com/warp/cession-engine/underwriting"
)

// SweepSummary counts the outcome of one sweep.
type SweepSummary struct {
	Checked    int `json:"checked"`
	Balanced   int `json:"balanced"`
	Mismatched int `json:"mismatched"`
	Failed     int `json:"failed"`
}

// ReconciliationScheduler runs reconciliation sweeps.
type ReconciliationScheduler struct {
	Policies      *underwriting.Policies
	Reports       *reinsurance.Reports
	CheckInterval time.Duration
	Enabled       bool

	log  *zap.Logger
	pool *ants.Pool
	now  func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	sweep  sync.Mutex
}

// NewReconciliationScheduler creates a scheduler with a pool of poolSize workers.
func NewReconciliationScheduler(policies *underwriting.Policies, reports *reinsurance.Reports, poolSize int, log *zap.Logger) (*ReconciliationScheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := ants.NewPool(poolSize,
		ants.WithPanicHandler(func(p any) {
			log.Error("reconciliation task panic recovered", zap.Any("panic", p), zap.Stack("stack"))
		}),
		ants.WithNonblocking(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &ReconciliationScheduler{
		Policies:      policies,
		Reports:       reports,
		CheckInterval: time.Hour,
		Enabled:       true,
		log:           log,
		pool:          pool,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start begins periodic sweeps.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("reconciliation scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run()

	rs.log.Info("reconciliation scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop ends periodic sweeps, waits for the running one and releases the pool.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("reconciliation scheduler stopped")
	}
	rs.pool.Release()
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	rs.sweepAndLog(ctx)
	for {
		select {
		case <-rs.ticker.C:
			rs.sweepAndLog(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) sweepAndLog(ctx context.Context) {
	summary, err := rs.RunNow(ctx)
	if err != nil {
		rs.log.Error("reconciliation sweep failed", zap.Error(err))
		return
	}
	rs.log.Info("reconciliation sweep completed",
		zap.Int("checked", summary.Checked),
		zap.Int("balanced", summary.Balanced),
		zap.Int("mismatched", summary.Mismatched),
		zap.Int("failed", summary.Failed))
}

// RunNow checks every ACTIVE policy and stores one report per policy.
// Sweeps never overlap.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (SweepSummary, error) {
	rs.sweep.Lock()
	defer rs.sweep.Unlock()

	active := ledger.PolicyActive
	policies, err := rs.Policies.List(ctx, &active)
	if err != nil {
		return SweepSummary{}, err
	}

	var (
		summary SweepSummary
		mu      sync.Mutex
		wg      sync.WaitGroup
	)
	record := func(status ledger.ReconciliationStatus) {
		mu.Lock()
		defer mu.Unlock()
		summary.Checked++
		switch status {
		case ledger.ReconciliationBalanced:
			summary.Balanced++
		case ledger.ReconciliationMismatch:
			summary.Mismatched++
		default:
			summary.Failed++
		}
	}

	for _, p := range policies {
		if ctx.Err() != nil {
			break
		}
		policy := p
		wg.Add(1)
		err := rs.pool.Submit(func() {
			defer wg.Done()
			record(rs.check(ctx, policy))
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return summary, &ledger.StorageError{Op: "submit reconciliation task", Err: err}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return summary, ledger.AsStorageError("reconciliation sweep", err)
	}
	return summary, nil
}

// check reconciles one policy and stores the result.
func (rs *ReconciliationScheduler) check(ctx context.Context, policy ledger.Policy) ledger.ReconciliationStatus {
	now := rs.now()
	var report ledger.ReconciliationReport

	rec, err := rs.Policies.Reconcile(ctx, policy.ID)
	if err != nil {
		report = ledger.ReconciliationReport{
			PolicyID:       policy.ID,
			CoverageAmount: policy.CoverageAmount,
			Status:         ledger.ReconciliationFailed,
			Error:          err.Error(),
			CheckedAt:      now,
		}
		rs.log.Error("reconciliation failed", zap.String("policy_id", string(policy.ID)), zap.Error(err))
	} else {
		report = rec.Report(now)
		if report.Status == ledger.ReconciliationMismatch {
			rs.log.Warn("allocation mismatch",
				zap.String("policy_id", string(policy.ID)),
				zap.String("coverage", report.CoverageAmount.StringFixed(2)),
				zap.String("ceded", report.CededTotal.StringFixed(2)),
				zap.String("retained", report.RetainedTotal.StringFixed(2)),
				zap.String("difference", report.Difference.StringFixed(2)))
		}
	}

	if err := rs.Reports.Save(ctx, report); err != nil {
		rs.log.Error("save reconciliation report", zap.String("policy_id", string(policy.ID)), zap.Error(err))
		return ledger.ReconciliationFailed
	}
	return report.Status
}
