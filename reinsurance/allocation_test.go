package reinsurance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cession-engine/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func policy(coverage, retention string) ledger.Policy {
	return ledger.Policy{ID: "pol-1", CoverageAmount: d(coverage), RetentionLimit: d(retention), Status: ledger.PolicyActive}
}

func treaty(id, share, limit string) ledger.Treaty {
	return ledger.Treaty{
		ID:              ledger.TreatyID(id),
		TreatyName:      id,
		SharePercentage: d(share),
		RetentionLimit:  d(limit),
		Status:          ledger.TreatyActive,
	}
}

// assertBalanced checks that cessions plus retained equal coverage exactly.
func assertBalanced(t *testing.T, plan AllocationPlan) {
	t.Helper()
	total := plan.CededTotal().Add(plan.Retained)
	assert.True(t, total.Equal(plan.Coverage), "ceded %s + retained %s != coverage %s",
		plan.CededTotal(), plan.Retained, plan.Coverage)
	for _, c := range plan.Cessions {
		assert.True(t, ledger.IsWholeCents(c.Amount), "cession %s not whole cents", c.Amount)
	}
}

func TestPlan_TwoTreatyExample(t *testing.T) {
	// GIVEN: coverage 100000, retention 20000, T1 60%/50000, T2 40%/10000
	p := policy("100000", "20000")
	treaties := []ledger.Treaty{treaty("trt-2", "40", "10000"), treaty("trt-1", "60", "50000")}

	// WHEN
	plan := Plan(p, treaties)

	// THEN: 48000 + 10000 ceded, 42000 retained; T2 is capped
	require.Len(t, plan.Cessions, 2)
	assert.Equal(t, ledger.TreatyID("trt-1"), plan.Cessions[0].TreatyID)
	assert.Equal(t, "48000.00", plan.Cessions[0].Amount.StringFixed(2))
	assert.False(t, plan.Cessions[0].Capped)
	assert.Equal(t, "10000.00", plan.Cessions[1].Amount.StringFixed(2))
	assert.True(t, plan.Cessions[1].Capped)
	assert.Equal(t, "42000.00", plan.Retained.StringFixed(2))
	assertBalanced(t, plan)
}

func TestPlan_NoTreaties(t *testing.T) {
	plan := Plan(policy("100000", "20000"), nil)

	assert.Empty(t, plan.Cessions)
	assert.Equal(t, "100000.00", plan.Retained.StringFixed(2))
	assertBalanced(t, plan)
}

func TestPlan_RetentionCoversEverything(t *testing.T) {
	// Retention above coverage gives a zero ceded base, never negative
	plan := Plan(policy("30000", "45000"), []ledger.Treaty{treaty("trt-1", "50", "100000")})

	assert.True(t, plan.CededBase.IsZero())
	assert.Empty(t, plan.Cessions)
	assert.Equal(t, "30000.00", plan.Retained.StringFixed(2))
}

func TestPlan_ZeroShareTreatiesCedeNothing(t *testing.T) {
	plan := Plan(policy("1000", "0"), []ledger.Treaty{treaty("trt-1", "0", "1000"), treaty("trt-2", "0", "1000")})

	assert.Empty(t, plan.Cessions)
	assert.Equal(t, "1000.00", plan.Retained.StringFixed(2))
}

func TestPlan_ZeroShareTreatyIsSkipped(t *testing.T) {
	plan := Plan(policy("1000", "0"), []ledger.Treaty{treaty("trt-1", "0", "1000"), treaty("trt-2", "25", "1000")})

	require.Len(t, plan.Cessions, 1)
	assert.Equal(t, ledger.TreatyID("trt-2"), plan.Cessions[0].TreatyID)
	// The only positive share takes the whole base
	assert.Equal(t, "1000.00", plan.Cessions[0].Amount.StringFixed(2))
	assertBalanced(t, plan)
}

func TestPlan_ZeroCapTreatyIsSkipped(t *testing.T) {
	plan := Plan(policy("1000", "0"), []ledger.Treaty{treaty("trt-1", "50", "0"), treaty("trt-2", "50", "1000")})

	require.Len(t, plan.Cessions, 1)
	assert.Equal(t, "500.00", plan.Cessions[0].Amount.StringFixed(2))
	assert.Equal(t, "500.00", plan.Retained.StringFixed(2))
}

func TestPlan_ExpiredTreatiesIgnored(t *testing.T) {
	expired := treaty("trt-0", "90", "1000000")
	expired.Status = ledger.TreatyExpired

	plan := Plan(policy("10000", "0"), []ledger.Treaty{expired, treaty("trt-1", "10", "1000000")})

	require.Len(t, plan.Cessions, 1)
	assert.Equal(t, ledger.TreatyID("trt-1"), plan.Cessions[0].TreatyID)
	assert.Equal(t, "10000.00", plan.Cessions[0].Amount.StringFixed(2))
}

func TestPlan_RoundingThirds(t *testing.T) {
	// GIVEN: A base of 100.00 split three ways
	treaties := []ledger.Treaty{
		treaty("trt-1", "1", "1000"),
		treaty("trt-2", "1", "1000"),
		treaty("trt-3", "1", "1000"),
	}

	plan := Plan(policy("100", "0"), treaties)

	// THEN: Each gets 33.33 and the leftover cent is retained
	require.Len(t, plan.Cessions, 3)
	for _, c := range plan.Cessions {
		assert.Equal(t, "33.33", c.Amount.StringFixed(2))
	}
	assert.Equal(t, "0.01", plan.Retained.StringFixed(2))
	assertBalanced(t, plan)
}

func TestPlan_RoundingUpNeverExceedsBase(t *testing.T) {
	// Two thirds of 0.02 round to 0.01 each; a third share would push past
	// the base without the remaining-base clamp.
	treaties := []ledger.Treaty{
		treaty("trt-1", "1", "1000"),
		treaty("trt-2", "1", "1000"),
		treaty("trt-3", "1", "1000"),
	}

	plan := Plan(policy("0.02", "0"), treaties)

	assert.False(t, plan.Retained.IsNegative())
	assert.True(t, plan.CededTotal().LessThanOrEqual(plan.CededBase))
	assertBalanced(t, plan)
}

func TestPlan_IsDeterministic(t *testing.T) {
	treaties := []ledger.Treaty{treaty("trt-b", "33.333", "5000.55"), treaty("trt-a", "66.667", "7000")}
	p := policy("12345.67", "1000.01")

	first := Plan(p, treaties)
	second := Plan(p, []ledger.Treaty{treaties[1], treaties[0]})

	assert.Equal(t, first, second)
	assertBalanced(t, first)
}

func TestAllocations_RetainedRecordLast(t *testing.T) {
	plan := Plan(policy("100000", "20000"), []ledger.Treaty{treaty("trt-1", "60", "50000"), treaty("trt-2", "40", "10000")})
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	records := plan.Allocations(at)

	require.Len(t, records, 3)
	assert.False(t, records[0].IsRetained())
	assert.False(t, records[1].IsRetained())
	assert.True(t, records[2].IsRetained())
	assert.Equal(t, "42000.00", records[2].RetainedAmount.StringFixed(2))
	for _, r := range records {
		assert.Equal(t, ledger.PolicyID("pol-1"), r.PolicyID)
		assert.Equal(t, at, r.CreatedAt)
	}
}
