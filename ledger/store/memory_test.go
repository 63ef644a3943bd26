package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cession-engine/ledger"
)

func seedPolicy(t *testing.T, m *Memory, number string) ledger.Policy {
	t.Helper()
	now := time.Now().UTC()
	p := ledger.Policy{
		ID:             ledger.NewPolicyID(),
		PolicyNumber:   number,
		InsuredName:    "Acme",
		CoverageAmount: decimal.NewFromInt(100000),
		RetentionLimit: decimal.NewFromInt(20000),
		Status:         ledger.PolicyPendingApproval,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, m.InsertPolicy(context.Background(), p))
	return p
}

func seedTreaty(t *testing.T, m *Memory) ledger.Treaty {
	t.Helper()
	tr := ledger.Treaty{
		ID:              ledger.NewTreatyID(),
		TreatyName:      "T",
		ReinsurerName:   "R",
		SharePercentage: decimal.NewFromInt(50),
		RetentionLimit:  decimal.NewFromInt(1000),
		Status:          ledger.TreatyActive,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, m.InsertTreaty(context.Background(), tr))
	return tr
}

func TestMemory_DuplicatePolicyNumber(t *testing.T) {
	m := NewMemory()
	seedPolicy(t, m, "POL-1")

	err := m.InsertPolicy(context.Background(), ledger.Policy{ID: ledger.NewPolicyID(), PolicyNumber: "POL-1"})

	assert.ErrorIs(t, err, ledger.ErrDuplicate)
}

func TestMemory_TransitionIsConditional(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedPolicy(t, m, "POL-1")

	ok, err := m.TransitionPolicy(ctx, p.ID, ledger.PolicyPendingApproval, ledger.PolicyActive, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// The second caller loses
	ok, err = m.TransitionPolicy(ctx, p.ID, ledger.PolicyPendingApproval, ledger.PolicyActive, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	// Missing rows report false, not an error
	ok, err = m.TransitionPolicy(ctx, "pol-missing", ledger.PolicyDraft, ledger.PolicyPendingApproval, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_AllocationUniquePerPolicyAndTreaty(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedPolicy(t, m, "POL-1")
	tr := seedTreaty(t, m)

	ceded := ledger.Allocation{ID: ledger.NewAllocationID(), PolicyID: p.ID, TreatyID: &tr.ID, CededAmount: decimal.NewFromInt(1000)}
	retained := ledger.Allocation{ID: ledger.NewAllocationID(), PolicyID: p.ID, RetainedAmount: decimal.NewFromInt(99000)}
	require.NoError(t, m.InsertAllocation(ctx, ceded))
	require.NoError(t, m.InsertAllocation(ctx, retained))

	again := ceded
	again.ID = ledger.NewAllocationID()
	assert.ErrorIs(t, m.InsertAllocation(ctx, again), ledger.ErrDuplicate)

	secondRetained := retained
	secondRetained.ID = ledger.NewAllocationID()
	assert.ErrorIs(t, m.InsertAllocation(ctx, secondRetained), ledger.ErrDuplicate)
}

func TestMemory_TreatyDeleteRequiresCascade(t *testing.T) {
	// GIVEN: A treaty with one allocation
	m := NewMemory()
	ctx := context.Background()
	p := seedPolicy(t, m, "POL-1")
	tr := seedTreaty(t, m)
	require.NoError(t, m.InsertAllocation(ctx, ledger.Allocation{ID: ledger.NewAllocationID(), PolicyID: p.ID, TreatyID: &tr.ID}))

	// WHEN: The treaty is deleted before its allocations
	_, err := m.DeleteTreaty(ctx, tr.ID)

	// THEN: The foreign key refuses
	require.Error(t, err)

	// AND: After the cascade the delete succeeds
	removed, err := m.DeleteAllocationsByTreaty(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	ok, err := m.DeleteTreaty(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_WithTxRollsBackEveryTable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedPolicy(t, m, "POL-1")

	err := m.WithTx(ctx, func(s ledger.Store) error {
		if _, err := s.TransitionPolicy(ctx, p.ID, ledger.PolicyPendingApproval, ledger.PolicyActive, time.Now()); err != nil {
			return err
		}
		if err := s.InsertAllocation(ctx, ledger.Allocation{ID: ledger.NewAllocationID(), PolicyID: p.ID}); err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, ledger.AuditEntry{ID: ledger.NewAuditID(), Action: ledger.AuditPolicyApproved}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := m.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyPendingApproval, got.Status)
	allocations, _ := m.ListAllocations(ctx, ledger.AllocationFilter{})
	assert.Empty(t, allocations)
	entries, _ := m.QueryAudit(ctx, ledger.AuditFilter{})
	assert.Empty(t, entries)
}

func TestMemory_WithTxRefusesCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.WithTx(ctx, func(ledger.Store) error { called = true; return nil })

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemory_ReportsReplacePerPolicy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveReconciliationReport(ctx, ledger.ReconciliationReport{PolicyID: "pol-1", Status: ledger.ReconciliationBalanced}))
	require.NoError(t, m.SaveReconciliationReport(ctx, ledger.ReconciliationReport{PolicyID: "pol-1", Status: ledger.ReconciliationMismatch}))

	reports, err := m.ListReconciliationReports(ctx, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, ledger.ReconciliationMismatch, reports[0].Status)
}
