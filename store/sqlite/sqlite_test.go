package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/reinsurance"
	"github.com/warp/cession-engine/underwriting"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPolicy(number string) ledger.Policy {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return ledger.Policy{
		ID:             ledger.NewPolicyID(),
		PolicyNumber:   number,
		InsuredName:    "Acme Manufacturing",
		CoverageAmount: decimal.RequireFromString("100000.00"),
		Premium:        decimal.RequireFromString("2400.50"),
		RetentionLimit: decimal.RequireFromString("20000.00"),
		Status:         ledger.PolicyPendingApproval,
		CreatedBy:      "usr-uw",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func testTreaty(name string) ledger.Treaty {
	return ledger.Treaty{
		ID:              ledger.NewTreatyID(),
		TreatyName:      name,
		ReinsurerName:   "Atlas Re",
		SharePercentage: decimal.RequireFromString("60"),
		RetentionLimit:  decimal.RequireFromString("50000"),
		Status:          ledger.TreatyActive,
		CreatedAt:       time.Now().UTC(),
	}
}

func allocation(policy ledger.PolicyID, treaty *ledger.TreatyID, ceded string) ledger.Allocation {
	return ledger.Allocation{
		ID:             ledger.NewAllocationID(),
		PolicyID:       policy,
		TreatyID:       treaty,
		CededAmount:    decimal.RequireFromString(ceded),
		RetainedAmount: decimal.Zero,
		Percentage:     decimal.RequireFromString("60"),
		CreatedAt:      time.Now().UTC(),
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func TestPolicyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := testPolicy("POL-001")

	require.NoError(t, s.InsertPolicy(ctx, p))

	got, err := s.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "POL-001", got.PolicyNumber)
	assert.True(t, p.CoverageAmount.Equal(got.CoverageAmount))
	assert.Equal(t, "2400.50", got.Premium.StringFixed(2))
	assert.Equal(t, ledger.PolicyPendingApproval, got.Status)
	assert.Nil(t, got.EffectiveFrom)

	missing, err := s.GetPolicy(ctx, "pol-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDuplicatePolicyNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertPolicy(ctx, testPolicy("POL-001")))

	err := s.InsertPolicy(ctx, testPolicy("POL-001"))

	assert.ErrorIs(t, err, ledger.ErrDuplicate)
}

func TestTransitionPolicyIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := testPolicy("POL-001")
	require.NoError(t, s.InsertPolicy(ctx, p))

	ok, err := s.TransitionPolicy(ctx, p.ID, ledger.PolicyPendingApproval, ledger.PolicyActive, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionPolicy(ctx, p.ID, ledger.PolicyPendingApproval, ledger.PolicyActive, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second transition from the old state must not apply")
}

// =============================================================================
// ALLOCATIONS AND TREATIES
// =============================================================================

func TestAllocationUniquePerPolicyAndTreaty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := testPolicy("POL-001")
	tr := testTreaty("T1")
	require.NoError(t, s.InsertPolicy(ctx, p))
	require.NoError(t, s.InsertTreaty(ctx, tr))

	require.NoError(t, s.InsertAllocation(ctx, allocation(p.ID, &tr.ID, "48000")))
	require.NoError(t, s.InsertAllocation(ctx, allocation(p.ID, nil, "0")))

	assert.ErrorIs(t, s.InsertAllocation(ctx, allocation(p.ID, &tr.ID, "1")), ledger.ErrDuplicate)
	// NULL treaty ids collide too: one retained record per policy
	assert.ErrorIs(t, s.InsertAllocation(ctx, allocation(p.ID, nil, "0")), ledger.ErrDuplicate)
}

func TestAllocationsAreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := testPolicy("POL-001")
	require.NoError(t, s.InsertPolicy(ctx, p))
	require.NoError(t, s.InsertAllocation(ctx, allocation(p.ID, nil, "0")))

	_, err := s.db.Exec(`UPDATE allocations SET ceded_amount = '1' WHERE policy_id = ?`, p.ID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocations are immutable")
}

func TestDeleteTreatyRequiresCascade(t *testing.T) {
	// GIVEN: A treaty referenced by one cession
	s := newTestStore(t)
	ctx := context.Background()
	p := testPolicy("POL-001")
	tr := testTreaty("T1")
	require.NoError(t, s.InsertPolicy(ctx, p))
	require.NoError(t, s.InsertTreaty(ctx, tr))
	require.NoError(t, s.InsertAllocation(ctx, allocation(p.ID, &tr.ID, "48000")))

	// WHEN: The treaty is deleted directly
	_, err := s.DeleteTreaty(ctx, tr.ID)

	// THEN: The foreign key refuses it
	require.Error(t, err)

	// AND: Removing the cessions first lets it through
	n, err := s.DeleteAllocationsByTreaty(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ok, err := s.DeleteTreaty(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetTreaty(ctx, tr.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAuditEntriesCannotBeUpdatedOrDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	entry := ledger.AuditEntry{
		ID:               ledger.NewAuditID(),
		Action:           ledger.AuditPolicyCreated,
		PerformedBy:      "usr-uw",
		PerformedByEmail: "uw@example.com",
		Details:          "created",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.AppendAudit(ctx, entry))

	_, err := s.db.Exec(`UPDATE audit_entries SET details = 'rewritten' WHERE id = ?`, entry.ID)
	require.Error(t, err)
	_, err = s.db.Exec(`DELETE FROM audit_entries WHERE id = ?`, entry.ID)
	require.Error(t, err)

	entries, err := s.QueryAudit(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "created", entries[0].Details)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertPolicy(ctx, testPolicy("POL-001")); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	policies, err := s.ListPolicies(ctx, ledger.PolicyFilter{})
	require.NoError(t, err)
	assert.Empty(t, policies)
}

// =============================================================================
// USERS AND REPORTS
// =============================================================================

func TestUserEmailIsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	u := ledger.User{ID: ledger.NewUserID(), Name: "Ada", Email: "ada@example.com", Role: ledger.RoleAdmin, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InsertUser(ctx, u))

	dup := u
	dup.ID = ledger.NewUserID()
	dup.Email = "ADA@example.com"
	assert.ErrorIs(t, s.InsertUser(ctx, dup), ledger.ErrDuplicate)

	got, err := s.GetUserByEmail(ctx, "Ada@Example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
}

func TestReconciliationReportIsReplacedPerPolicy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	report := ledger.ReconciliationReport{
		PolicyID:       "pol-1",
		CoverageAmount: decimal.NewFromInt(100000),
		CededTotal:     decimal.NewFromInt(58000),
		RetainedTotal:  decimal.NewFromInt(42000),
		Difference:     decimal.Zero,
		Status:         ledger.ReconciliationBalanced,
		CheckedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.SaveReconciliationReport(ctx, report))

	report.CededTotal = decimal.NewFromInt(10000)
	report.Difference = decimal.NewFromInt(48000)
	report.Status = ledger.ReconciliationMismatch
	require.NoError(t, s.SaveReconciliationReport(ctx, report))

	reports, err := s.ListReconciliationReports(ctx, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, ledger.ReconciliationMismatch, reports[0].Status)
	assert.Equal(t, "48000.00", reports[0].Difference.StringFixed(2))
}

// =============================================================================
// SERVICES OVER SQLITE
// =============================================================================

func TestApprovalAndTreatyDeleteOverSQLite(t *testing.T) {
	// GIVEN: Services wired to a sqlite store with T1 60%/50000 and T2 40%/10000
	s := newTestStore(t)
	ctx := context.Background()
	uow := ledger.NewUnitOfWork(s, time.Second)
	recorder := ledger.NewAuditRecorder(s)
	policies := underwriting.NewPolicies(uow, recorder, nil)
	treaties := reinsurance.NewTreaties(uow, recorder, nil)

	manager := ledger.Principal{ID: "usr-mgr", Email: "mgr@example.com", Role: ledger.RoleReinsuranceManager}
	underwriter := ledger.Principal{ID: "usr-uw", Email: "uw@example.com", Role: ledger.RoleUnderwriter}

	t1, err := treaties.Create(ctx, reinsurance.CreateTreatyInput{
		TreatyName: "T1", ReinsurerName: "Atlas Re",
		SharePercentage: decimal.NewFromInt(60), RetentionLimit: decimal.NewFromInt(50000),
	}, manager)
	require.NoError(t, err)
	_, err = treaties.Create(ctx, reinsurance.CreateTreatyInput{
		TreatyName: "T2", ReinsurerName: "Borealis Re",
		SharePercentage: decimal.NewFromInt(40), RetentionLimit: decimal.NewFromInt(10000),
	}, manager)
	require.NoError(t, err)

	// WHEN: A 100000 policy with 20000 retention is approved
	p, err := policies.Create(ctx, underwriting.CreatePolicyInput{
		PolicyNumber:   "POL-001",
		InsuredName:    "Acme Manufacturing",
		CoverageAmount: decimal.NewFromInt(100000),
		Premium:        decimal.NewFromInt(2400),
		RetentionLimit: decimal.NewFromInt(20000),
	}, underwriter)
	require.NoError(t, err)
	_, err = policies.Submit(ctx, p.ID, underwriter)
	require.NoError(t, err)
	_, err = policies.Approve(ctx, p.ID, ledger.SystemPrincipal)
	require.NoError(t, err)

	// THEN: The stored split balances
	rec, err := policies.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, rec.Balanced())
	assert.Equal(t, "42000.00", rec.Retained.StringFixed(2))

	// AND: Deleting T1 cascades its cession and leaves the policy short
	removed, err := treaties.Delete(ctx, t1.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	rec, err = policies.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, rec.Balanced())
	assert.Equal(t, "48000.00", rec.Difference.StringFixed(2))

	deleted := ledger.AuditTreatyDeleted
	entries, err := s.QueryAudit(ctx, ledger.AuditFilter{Actions: []ledger.AuditAction{deleted}})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
