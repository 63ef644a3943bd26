package underwriting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/ledger/store"
	"github.com/warp/cession-engine/reinsurance"
	"github.com/warp/cession-engine/underwriting"
)

var (
	underwriter = ledger.Principal{ID: "usr-uw", Email: "uw@example.com", Role: ledger.RoleUnderwriter}
	adjuster    = ledger.Principal{ID: "usr-adj", Email: "adj@example.com", Role: ledger.RoleClaimsAdjuster}
	manager     = ledger.Principal{ID: "usr-mgr", Email: "mgr@example.com", Role: ledger.RoleReinsuranceManager}
	admin       = ledger.Principal{ID: "usr-admin", Email: "admin@example.com", Role: ledger.RoleAdmin}
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type env struct {
	mem      *store.Memory
	recorder *ledger.AuditRecorder
	policies *underwriting.Policies
	claims   *underwriting.Claims
	treaties *reinsurance.Treaties
}

func newEnv(st ledger.TxStore, mem *store.Memory, timeout time.Duration) env {
	uow := ledger.NewUnitOfWork(st, timeout)
	recorder := ledger.NewAuditRecorder(st)
	return env{
		mem:      mem,
		recorder: recorder,
		policies: underwriting.NewPolicies(uow, recorder, nil),
		claims:   underwriting.NewClaims(uow, recorder, nil),
		treaties: reinsurance.NewTreaties(uow, recorder, nil),
	}
}

func newMemoryEnv() env {
	mem := store.NewMemory()
	return newEnv(mem, mem, time.Second)
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (e env) twoTreaties(t *testing.T) {
	t.Helper()
	for _, in := range []reinsurance.CreateTreatyInput{
		{TreatyName: "T1", ReinsurerName: "Atlas Re", SharePercentage: money("60"), RetentionLimit: money("50000")},
		{TreatyName: "T2", ReinsurerName: "Borealis Re", SharePercentage: money("40"), RetentionLimit: money("10000")},
	} {
		_, err := e.treaties.Create(context.Background(), in, manager)
		require.NoError(t, err)
	}
}

func (e env) pendingPolicy(t *testing.T, number, coverage, retention string) *ledger.Policy {
	t.Helper()
	ctx := context.Background()
	p, err := e.policies.Create(ctx, underwriting.CreatePolicyInput{
		PolicyNumber:   number,
		InsuredName:    "Acme Manufacturing",
		CoverageAmount: money(coverage),
		Premium:        money("2400"),
		RetentionLimit: money(retention),
	}, underwriter)
	require.NoError(t, err)
	p, err = e.policies.Submit(ctx, p.ID, underwriter)
	require.NoError(t, err)
	return p
}

func actions(entries []ledger.AuditEntry) []ledger.AuditAction {
	out := make([]ledger.AuditAction, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestPolicyLifecycle_TwoTreatyExample(t *testing.T) {
	// GIVEN: T1 60%/50000 and T2 40%/10000
	e := newMemoryEnv()
	ctx := context.Background()
	e.twoTreaties(t)

	// WHEN: A 100000 policy with 20000 retention is created, submitted, approved
	p := e.pendingPolicy(t, "POL-001", "100000", "20000")
	assert.Equal(t, ledger.PolicyPendingApproval, p.Status)
	result, err := e.policies.Approve(ctx, p.ID, admin)
	require.NoError(t, err)

	// THEN: ACTIVE with 48000 / 10000 ceded and 42000 retained
	assert.Equal(t, ledger.PolicyActive, result.Policy.Status)
	require.Len(t, result.Allocations, 3)
	assert.Equal(t, "48000.00", result.Allocations[0].CededAmount.StringFixed(2))
	assert.Equal(t, "10000.00", result.Allocations[1].CededAmount.StringFixed(2))
	assert.Equal(t, "42000.00", result.Allocations[2].RetainedAmount.StringFixed(2))

	stored, err := e.policies.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyActive, stored.Status)

	rec, err := e.policies.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, rec.Balanced())

	// AND: The trail has exactly one entry per transition and cession
	trail, err := e.policies.AuditTrail(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []ledger.AuditAction{
		ledger.AuditPolicyCreated,
		ledger.AuditPolicySubmitted,
		ledger.AuditAllocationCreated,
		ledger.AuditAllocationCreated,
		ledger.AuditPolicyApproved,
	}, actions(trail))
	assert.Equal(t, admin.ID, trail[4].PerformedBy)
}

func TestPolicyCreate_Validation(t *testing.T) {
	e := newMemoryEnv()
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, -1, 0)

	tests := []struct {
		name string
		in   underwriting.CreatePolicyInput
	}{
		{"empty number", underwriting.CreatePolicyInput{InsuredName: "X", CoverageAmount: money("1")}},
		{"zero coverage", underwriting.CreatePolicyInput{PolicyNumber: "P", InsuredName: "X"}},
		{"negative premium", underwriting.CreatePolicyInput{PolicyNumber: "P", InsuredName: "X", CoverageAmount: money("1"), Premium: money("-1")}},
		{"negative retention", underwriting.CreatePolicyInput{PolicyNumber: "P", InsuredName: "X", CoverageAmount: money("1"), RetentionLimit: money("-1")}},
		{"sub-cent coverage", underwriting.CreatePolicyInput{PolicyNumber: "P", InsuredName: "X", CoverageAmount: money("1.005")}},
		{"until before from", underwriting.CreatePolicyInput{PolicyNumber: "P", InsuredName: "X", CoverageAmount: money("1"), EffectiveFrom: &from, EffectiveUntil: &until}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.policies.Create(context.Background(), tt.in, underwriter)
			assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
		})
	}

	all, err := e.policies.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPolicyCreate_DuplicateNumberWritesNothing(t *testing.T) {
	e := newMemoryEnv()
	ctx := context.Background()
	e.pendingPolicy(t, "POL-DUP", "1000", "0")

	_, err := e.policies.Create(ctx, underwriting.CreatePolicyInput{
		PolicyNumber: "POL-DUP", InsuredName: "Other", CoverageAmount: money("5"),
	}, underwriter)

	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "policyNumber", ve.Field)
	created, err := e.recorder.Query(ctx, ledger.AuditFilter{Actions: []ledger.AuditAction{ledger.AuditPolicyCreated}})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestPolicyTransitions_WrongState(t *testing.T) {
	e := newMemoryEnv()
	ctx := context.Background()
	p := e.pendingPolicy(t, "POL-1", "1000", "0")

	// Submitting twice
	_, err := e.policies.Submit(ctx, p.ID, underwriter)
	var se *ledger.InvalidStateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"DRAFT"}, se.Expected)
	assert.Equal(t, "PENDING_APPROVAL", se.Actual)

	// Approving a missing policy
	_, err = e.policies.Approve(ctx, "pol-missing", admin)
	assert.True(t, ledger.IsNotFound(err))
}

func TestPolicyApprove_RoleGate(t *testing.T) {
	e := newMemoryEnv()
	p := e.pendingPolicy(t, "POL-1", "1000", "0")

	for _, by := range []ledger.Principal{underwriter, adjuster, manager} {
		_, err := e.policies.Approve(context.Background(), p.ID, by)
		assert.Equal(t, ledger.KindForbidden, ledger.KindOf(err), "role %s", by.Role)
	}

	stored, err := e.policies.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyPendingApproval, stored.Status)
}

// =============================================================================
// CONCURRENCY & ATOMICITY
// =============================================================================

func TestPolicyApprove_ConcurrentExactlyOneWins(t *testing.T) {
	// GIVEN: A pending policy and two treaties
	e := newMemoryEnv()
	ctx := context.Background()
	e.twoTreaties(t)
	p := e.pendingPolicy(t, "POL-RACE", "100000", "20000")

	// WHEN: Ten admins approve at once
	const n = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		states int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.policies.Approve(ctx, p.ID, admin)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			var se *ledger.InvalidStateError
			if errors.As(err, &se) && se.Actual == string(ledger.PolicyActive) {
				states++
			}
		}()
	}
	wg.Wait()

	// THEN: One success, nine conflicts, one allocation set
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, states)
	allocations, err := e.mem.ListAllocations(ctx, ledger.AllocationFilter{PolicyID: &p.ID})
	require.NoError(t, err)
	assert.Len(t, allocations, 3)
	approved, err := e.recorder.Query(ctx, ledger.AuditFilter{PolicyID: &p.ID, Actions: []ledger.AuditAction{ledger.AuditPolicyApproved}})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

// faultyStore fails AppendAudit for one action inside transactions.
type faultyStore struct {
	ledger.TxStore
	failOn ledger.AuditAction
}

func (f faultyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxStore.WithTx(ctx, func(s ledger.Store) error {
		return fn(faultyView{Store: s, failOn: f.failOn})
	})
}

type faultyView struct {
	ledger.Store
	failOn ledger.AuditAction
}

func (v faultyView) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	if e.Action == v.failOn {
		return errors.New("disk full")
	}
	return v.Store.AppendAudit(ctx, e)
}

func TestPolicyApprove_AuditFailureRollsBackEverything(t *testing.T) {
	// GIVEN: A store that cannot write POLICY_APPROVED
	mem := store.NewMemory()
	setup := newEnv(mem, mem, time.Second)
	setup.twoTreaties(t)
	p := setup.pendingPolicy(t, "POL-RB", "100000", "20000")
	e := newEnv(faultyStore{TxStore: mem, failOn: ledger.AuditPolicyApproved}, mem, time.Second)
	ctx := context.Background()

	// WHEN: Approval runs
	_, err := e.policies.Approve(ctx, p.ID, admin)

	// THEN: Storage error, and no trace of the approval anywhere
	assert.Equal(t, ledger.KindStorage, ledger.KindOf(err))

	stored, err := e.policies.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyPendingApproval, stored.Status)

	allocations, err := mem.ListAllocations(ctx, ledger.AllocationFilter{PolicyID: &p.ID})
	require.NoError(t, err)
	assert.Empty(t, allocations)

	trail, err := e.policies.AuditTrail(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []ledger.AuditAction{ledger.AuditPolicyCreated, ledger.AuditPolicySubmitted}, actions(trail))

	// AND: Once storage recovers the approval succeeds
	_, err = setup.policies.Approve(ctx, p.ID, admin)
	require.NoError(t, err)
}

// slowStore blocks policy transitions until the context expires.
type slowStore struct {
	ledger.TxStore
}

func (s slowStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.TxStore.WithTx(ctx, func(st ledger.Store) error {
		return fn(slowView{Store: st})
	})
}

type slowView struct {
	ledger.Store
}

func (v slowView) TransitionPolicy(ctx context.Context, id ledger.PolicyID, from, to ledger.PolicyStatus, at time.Time) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestPolicySubmit_TimeoutIsStorageError(t *testing.T) {
	mem := store.NewMemory()
	setup := newEnv(mem, mem, time.Second)
	ctx := context.Background()
	p, err := setup.policies.Create(ctx, underwriting.CreatePolicyInput{
		PolicyNumber: "POL-SLOW", InsuredName: "X", CoverageAmount: money("100"),
	}, underwriter)
	require.NoError(t, err)

	e := newEnv(slowStore{TxStore: mem}, mem, 20*time.Millisecond)
	_, err = e.policies.Submit(ctx, p.ID, underwriter)

	assert.True(t, ledger.IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	stored, err := setup.policies.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyDraft, stored.Status)
}
