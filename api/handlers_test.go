/*
handlers_test.go - HTTP tests for the API

Tests for:
- Policy lifecycle and the two-treaty allocation example end to end
- Status mapping of error kinds (401, 403, 404, 409, 400)
- Audit entries rejecting PUT/DELETE
- Treaty deletion cascading to allocations, and the sweep seeing the gap
- Claim lifecycle transitions
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cession-engine/directory"
	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/ledger/store"
)

// =============================================================================
// HARNESS
// =============================================================================

var testTokens = TokenConfig{
	SigningKey: []byte("test-signing-key-test-signing-key!"),
	Issuer:     "cession-engine-test",
	ExpiresIn:  time.Hour,
}

type testAPI struct {
	t       *testing.T
	handler *Handler
	server  *httptest.Server
	tokens  map[ledger.Role]string
	users   map[ledger.Role]ledger.User
}

// newTestAPI serves the full router over an in-memory store with one user
// per role.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	h := NewHandler(store.NewMemory(), 5*time.Second, nil)

	scheduler, err := NewReconciliationScheduler(h.Policies, h.Reports, 4, nil)
	require.NoError(t, err)
	t.Cleanup(scheduler.Stop)
	h.Scheduler = scheduler

	a := &testAPI{
		t:       t,
		handler: h,
		tokens:  map[ledger.Role]string{},
		users:   map[ledger.Role]ledger.User{},
	}
	for _, role := range ledger.Roles {
		u, err := h.Users.Create(context.Background(), directory.CreateUserInput{
			Name:  string(role),
			Email: string(role) + "@example.com",
			Role:  role,
		}, ledger.SystemPrincipal)
		require.NoError(t, err)
		token, _, err := GenerateToken(testTokens, *u)
		require.NoError(t, err)
		a.tokens[role] = token
		a.users[role] = *u
	}

	auth := &Authenticator{Tokens: testTokens, Users: h.Users, Log: h.log}
	a.server = httptest.NewServer(NewRouter(h, auth, RouterOptions{AllowedOrigins: []string{"*"}}))
	t.Cleanup(a.server.Close)
	return a
}

// call sends a request as role (empty role sends no token) and decodes the
// JSON response into out when out is non-nil.
func (a *testAPI) call(role ledger.Role, method, path string, body any, out any) int {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[role])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) createTreaty(name, share, cap string) TreatyDTO {
	a.t.Helper()
	var treaty TreatyDTO
	status := a.call(ledger.RoleReinsuranceManager, http.MethodPost, "/api/treaties", CreateTreatyRequest{
		TreatyName:      name,
		ReinsurerName:   name + " Re",
		SharePercentage: share,
		RetentionLimit:  cap,
	}, &treaty)
	require.Equal(a.t, http.StatusCreated, status)
	return treaty
}

func (a *testAPI) createPolicy(number, coverage, retention string) PolicyDTO {
	a.t.Helper()
	var policy PolicyDTO
	status := a.call(ledger.RoleUnderwriter, http.MethodPost, "/api/policies", CreatePolicyRequest{
		PolicyNumber:   number,
		InsuredName:    "Acme Manufacturing",
		CoverageAmount: coverage,
		Premium:        "2400",
		RetentionLimit: retention,
		EffectiveFrom:  "2025-01-01",
		EffectiveUntil: "2025-12-31",
	}, &policy)
	require.Equal(a.t, http.StatusCreated, status)
	return policy
}

// activatePolicy creates, submits and approves a policy.
func (a *testAPI) activatePolicy(number, coverage, retention string) ApprovalDTO {
	a.t.Helper()
	policy := a.createPolicy(number, coverage, retention)
	require.Equal(a.t, http.StatusOK, a.call(ledger.RoleUnderwriter, http.MethodPut, "/api/policies/"+policy.ID+"/submit", nil, nil))
	var approval ApprovalDTO
	require.Equal(a.t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodPut, "/api/policies/"+policy.ID+"/approve", nil, &approval))
	return approval
}

// =============================================================================
// POLICY LIFECYCLE
// =============================================================================

func TestPolicyApproval_TwoTreatyExample(t *testing.T) {
	// GIVEN: T1 60% capped at 50000 and T2 40% capped at 10000
	a := newTestAPI(t)
	t1 := a.createTreaty("T1", "60", "50000")
	t2 := a.createTreaty("T2", "40", "10000")

	// WHEN: A 100000 policy with 20000 retention is approved
	approval := a.activatePolicy("POL-001", "100000", "20000")

	// THEN: 48000 and 10000 are ceded, 42000 retained
	assert.Equal(t, "ACTIVE", approval.Policy.Status)
	assert.Equal(t, "58000.00", approval.CededTotal)
	assert.Equal(t, "42000.00", approval.Retained)
	require.Len(t, approval.Allocations, 3)

	ceded := map[string]string{}
	for _, alloc := range approval.Allocations {
		if alloc.TreatyID == nil {
			assert.Equal(t, "42000.00", alloc.RetainedAmount)
			assert.Equal(t, "0.00", alloc.CededAmount)
			continue
		}
		ceded[*alloc.TreatyID] = alloc.CededAmount
	}
	assert.Equal(t, "48000.00", ceded[t1.ID])
	assert.Equal(t, "10000.00", ceded[t2.ID])

	// AND: Reconciliation is balanced
	var rec ReconciliationDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/policies/"+approval.Policy.ID+"/reconciliation", nil, &rec))
	assert.True(t, rec.Balanced)
	assert.Equal(t, "0.00", rec.Difference)
	assert.Equal(t, 3, rec.Records)
}

func TestPolicyApproval_WritesAuditTrail(t *testing.T) {
	// GIVEN: One treaty
	a := newTestAPI(t)
	a.createTreaty("T1", "100", "1000000")

	// WHEN: A policy goes through its lifecycle
	approval := a.activatePolicy("POL-AUD", "50000", "10000")

	// THEN: The trail shows create, submit, approve and one cession, in order
	var trail []AuditEntryDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleClaimsAdjuster, http.MethodGet, "/api/policies/"+approval.Policy.ID+"/audit", nil, &trail))
	actions := make([]string, len(trail))
	for i, e := range trail {
		actions[i] = e.Action
	}
	assert.Equal(t, []string{"POLICY_CREATED", "POLICY_SUBMITTED", "ALLOCATION_CREATED", "POLICY_APPROVED"}, actions)
	assert.Equal(t, string(a.users[ledger.RoleAdmin].ID), trail[len(trail)-1].PerformedBy)
}

func TestPolicyApproval_RequiresPendingApproval(t *testing.T) {
	// GIVEN: A DRAFT policy
	a := newTestAPI(t)
	policy := a.createPolicy("POL-DRAFT", "10000", "1000")

	// WHEN: It is approved without being submitted
	var resp ErrorResponse
	status := a.call(ledger.RoleAdmin, http.MethodPut, "/api/policies/"+policy.ID+"/approve", nil, &resp)

	// THEN: 409 with INVALID_STATE, and no allocations exist
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_STATE", resp.Code)

	var allocations []AllocationDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/allocations/policy/"+policy.ID, nil, &allocations))
	assert.Empty(t, allocations)
}

func TestPolicyApproval_SecondApprovalConflicts(t *testing.T) {
	// GIVEN: An ACTIVE policy
	a := newTestAPI(t)
	approval := a.activatePolicy("POL-TWICE", "10000", "1000")

	// WHEN: It is approved again
	status := a.call(ledger.RoleAdmin, http.MethodPut, "/api/policies/"+approval.Policy.ID+"/approve", nil, nil)

	// THEN: 409, and still exactly one retained record
	assert.Equal(t, http.StatusConflict, status)
	var allocations []AllocationDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/allocations?policy_id="+approval.Policy.ID, nil, &allocations))
	assert.Len(t, allocations, 1)
}

func TestCreatePolicy_Validation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name string
		req  CreatePolicyRequest
	}{
		{"zero coverage", CreatePolicyRequest{PolicyNumber: "P1", InsuredName: "X", CoverageAmount: "0", Premium: "1", RetentionLimit: "0"}},
		{"fractional cents", CreatePolicyRequest{PolicyNumber: "P2", InsuredName: "X", CoverageAmount: "100.001", Premium: "1", RetentionLimit: "0"}},
		{"missing number", CreatePolicyRequest{InsuredName: "X", CoverageAmount: "100", Premium: "1", RetentionLimit: "0"}},
		{"bad date", CreatePolicyRequest{PolicyNumber: "P3", InsuredName: "X", CoverageAmount: "100", Premium: "1", RetentionLimit: "0", EffectiveFrom: "01/02/2025"}},
		{"until before from", CreatePolicyRequest{PolicyNumber: "P4", InsuredName: "X", CoverageAmount: "100", Premium: "1", RetentionLimit: "0", EffectiveFrom: "2025-06-01", EffectiveUntil: "2025-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			status := a.call(ledger.RoleUnderwriter, http.MethodPost, "/api/policies", tt.req, &resp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "VALIDATION", resp.Code)
		})
	}
}

func TestCreatePolicy_DuplicateNumber(t *testing.T) {
	a := newTestAPI(t)
	a.createPolicy("POL-DUP", "1000", "0")

	var resp ErrorResponse
	status := a.call(ledger.RoleUnderwriter, http.MethodPost, "/api/policies", CreatePolicyRequest{
		PolicyNumber: "POL-DUP", InsuredName: "Other", CoverageAmount: "2000", Premium: "0", RetentionLimit: "0",
	}, &resp)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", resp.Code)
}

// =============================================================================
// AUTHENTICATION & AUTHORIZATION
// =============================================================================

func TestAuth_MissingToken(t *testing.T) {
	a := newTestAPI(t)

	var resp ErrorResponse
	status := a.call("", http.MethodGet, "/api/policies", nil, &resp)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", resp.Code)
}

func TestAuth_TokenForDeletedUser(t *testing.T) {
	// GIVEN: A token issued to a user who is then deleted
	a := newTestAPI(t)
	u, err := a.handler.Users.Create(context.Background(), directory.CreateUserInput{
		Name: "Temp", Email: "temp@example.com", Role: ledger.RoleUnderwriter,
	}, ledger.SystemPrincipal)
	require.NoError(t, err)
	token, _, err := GenerateToken(testTokens, *u)
	require.NoError(t, err)
	require.NoError(t, a.handler.Users.Delete(context.Background(), u.ID, ledger.SystemPrincipal))

	// WHEN: The token is used
	req, _ := http.NewRequest(http.MethodGet, a.server.URL+"/api/policies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// THEN: 401
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_TokenSignedWithOtherKey(t *testing.T) {
	a := newTestAPI(t)
	forged, _, err := GenerateToken(TokenConfig{
		SigningKey: []byte("another-key-another-key-another!!"),
		Issuer:     testTokens.Issuer,
		ExpiresIn:  time.Hour,
	}, a.users[ledger.RoleAdmin])
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, a.server.URL+"/api/policies", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_RoleGates(t *testing.T) {
	a := newTestAPI(t)
	policy := a.createPolicy("POL-GATE", "1000", "0")

	tests := []struct {
		name   string
		role   ledger.Role
		method string
		path   string
		body   any
		want   int
	}{
		{"adjuster cannot create policy", ledger.RoleClaimsAdjuster, http.MethodPost, "/api/policies",
			CreatePolicyRequest{PolicyNumber: "X", InsuredName: "X", CoverageAmount: "1", Premium: "0", RetentionLimit: "0"}, http.StatusForbidden},
		{"underwriter cannot approve", ledger.RoleUnderwriter, http.MethodPut, "/api/policies/" + policy.ID + "/approve", nil, http.StatusForbidden},
		{"underwriter cannot create treaty", ledger.RoleUnderwriter, http.MethodPost, "/api/treaties",
			CreateTreatyRequest{TreatyName: "X", ReinsurerName: "X", SharePercentage: "10", RetentionLimit: "10"}, http.StatusForbidden},
		{"manager cannot list users", ledger.RoleReinsuranceManager, http.MethodGet, "/api/admin/users", nil, http.StatusForbidden},
		{"adjuster cannot run sweep", ledger.RoleClaimsAdjuster, http.MethodPost, "/api/reconciliation/run", nil, http.StatusForbidden},
		{"anyone can read policies", ledger.RoleClaimsAdjuster, http.MethodGet, "/api/policies", nil, http.StatusOK},
		{"admin passes underwriter gate", ledger.RoleAdmin, http.MethodPut, "/api/policies/" + policy.ID + "/submit", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.call(tt.role, tt.method, tt.path, tt.body, nil))
		})
	}
}

func TestNotFound(t *testing.T) {
	a := newTestAPI(t)

	var resp ErrorResponse
	status := a.call(ledger.RoleAdmin, http.MethodGet, "/api/policies/pol-missing", nil, &resp)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", resp.Code)
	assert.Equal(t, http.StatusNotFound, a.call(ledger.RoleAdmin, http.MethodGet, "/api/allocations/policy/pol-missing", nil, nil))
	assert.Equal(t, http.StatusNotFound, a.call(ledger.RoleAdmin, http.MethodDelete, "/api/treaties/trt-missing", nil, nil))
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAudit_EntriesCannotBeChangedOrRemoved(t *testing.T) {
	// GIVEN: An audit entry
	a := newTestAPI(t)
	policy := a.createPolicy("POL-IMM", "1000", "0")
	var entries []AuditEntryDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/audit?policy_id="+policy.ID, nil, &entries))
	require.Len(t, entries, 1)
	id := entries[0].ID

	// WHEN/THEN: Even ADMIN gets 403 IMMUTABILITY_VIOLATION for PUT and DELETE
	var resp ErrorResponse
	assert.Equal(t, http.StatusForbidden, a.call(ledger.RoleAdmin, http.MethodPut, "/api/audit/"+id, map[string]string{"details": "x"}, &resp))
	assert.Equal(t, "IMMUTABILITY_VIOLATION", resp.Code)
	resp = ErrorResponse{}
	assert.Equal(t, http.StatusForbidden, a.call(ledger.RoleAdmin, http.MethodDelete, "/api/audit/"+id, nil, &resp))
	assert.Equal(t, "IMMUTABILITY_VIOLATION", resp.Code)

	// AND: The entry is unchanged
	var after []AuditEntryDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/audit?policy_id="+policy.ID, nil, &after))
	assert.Equal(t, entries, after)
}

func TestAudit_FilterByAction(t *testing.T) {
	a := newTestAPI(t)
	a.createTreaty("T1", "50", "100")
	a.createPolicy("POL-F", "1000", "0")

	var entries []AuditEntryDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/audit?action=TREATY_CREATED", nil, &entries))

	require.Len(t, entries, 1)
	assert.Equal(t, "TREATY_CREATED", entries[0].Action)
	assert.Equal(t, string(a.users[ledger.RoleReinsuranceManager].ID), entries[0].PerformedBy)
}

// =============================================================================
// TREATY DELETION
// =============================================================================

func TestDeleteTreaty_CascadesAndSweepReportsMismatch(t *testing.T) {
	// GIVEN: The two-treaty example, approved
	a := newTestAPI(t)
	t1 := a.createTreaty("T1", "60", "50000")
	a.createTreaty("T2", "40", "10000")
	approval := a.activatePolicy("POL-DEL", "100000", "20000")

	// WHEN: T1 is deleted
	var deleted TreatyDeletedDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleReinsuranceManager, http.MethodDelete, "/api/treaties/"+t1.ID, nil, &deleted))

	// THEN: Its one allocation is gone with it
	assert.Equal(t, int64(1), deleted.AllocationsRemoved)
	assert.Equal(t, http.StatusNotFound, a.call(ledger.RoleAdmin, http.MethodGet, "/api/treaties/"+t1.ID, nil, nil))

	var allocations []AllocationDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/allocations/policy/"+approval.Policy.ID, nil, &allocations))
	assert.Len(t, allocations, 2)
	for _, alloc := range allocations {
		if alloc.TreatyID != nil {
			assert.NotEqual(t, t1.ID, *alloc.TreatyID)
		}
	}

	// AND: A TREATY_DELETED entry references the treaty
	var entries []AuditEntryDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/audit?treaty_id="+t1.ID+"&action=TREATY_DELETED", nil, &entries))
	require.Len(t, entries, 1)

	// AND: The sweep finds the 48000 gap
	var summary SweepSummary
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodPost, "/api/reconciliation/run", nil, &summary))
	assert.Equal(t, SweepSummary{Checked: 1, Mismatched: 1}, summary)

	var reports []ReconciliationReportDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/reconciliation/reports?status=MISMATCH", nil, &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, approval.Policy.ID, reports[0].PolicyID)
	assert.Equal(t, "48000.00", reports[0].Difference)
}

// =============================================================================
// CLAIMS
// =============================================================================

func TestClaimLifecycle(t *testing.T) {
	// GIVEN: An ACTIVE policy
	a := newTestAPI(t)
	approval := a.activatePolicy("POL-CLM", "50000", "50000")

	// WHEN: A claim is filed and walked to SETTLED
	var claim ClaimDTO
	require.Equal(t, http.StatusCreated, a.call(ledger.RoleClaimsAdjuster, http.MethodPost, "/api/claims", CreateClaimRequest{
		ClaimNumber: "CLM-001",
		PolicyID:    approval.Policy.ID,
		ClaimAmount: "1250.50",
	}, &claim))
	assert.Equal(t, "SUBMITTED", claim.Status)
	assert.Equal(t, "1250.50", claim.ClaimAmount)

	// Settling before approval is a state conflict
	assert.Equal(t, http.StatusConflict, a.call(ledger.RoleClaimsAdjuster, http.MethodPut, "/api/claims/"+claim.ID+"/settle", nil, nil))

	for _, step := range []struct{ path, status string }{
		{"review", "UNDER_REVIEW"},
		{"approve", "APPROVED"},
		{"settle", "SETTLED"},
	} {
		require.Equal(t, http.StatusOK, a.call(ledger.RoleClaimsAdjuster, http.MethodPut, "/api/claims/"+claim.ID+"/"+step.path, nil, &claim))
		assert.Equal(t, step.status, claim.Status)
	}

	// THEN: The reviewer is recorded
	require.NotNil(t, claim.ReviewedBy)
	assert.Equal(t, string(a.users[ledger.RoleClaimsAdjuster].ID), *claim.ReviewedBy)
}

func TestClaim_RejectsInactivePolicyAndUnknownStep(t *testing.T) {
	a := newTestAPI(t)
	policy := a.createPolicy("POL-CLM-DRAFT", "50000", "0")

	status := a.call(ledger.RoleClaimsAdjuster, http.MethodPost, "/api/claims", CreateClaimRequest{
		ClaimNumber: "CLM-X", PolicyID: policy.ID, ClaimAmount: "100",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	assert.Equal(t, http.StatusNotFound, a.call(ledger.RoleClaimsAdjuster, http.MethodPut, "/api/claims/clm-any/reopen", nil, nil))
}

func TestClaim_UnderwriterForbidden(t *testing.T) {
	a := newTestAPI(t)
	approval := a.activatePolicy("POL-CLM-U", "50000", "0")

	status := a.call(ledger.RoleUnderwriter, http.MethodPost, "/api/claims", CreateClaimRequest{
		ClaimNumber: "CLM-U", PolicyID: approval.Policy.ID, ClaimAmount: "100",
	}, nil)

	assert.Equal(t, http.StatusForbidden, status)
}

// =============================================================================
// DIRECTORY & MISC
// =============================================================================

func TestDirectory_RoleUpdate(t *testing.T) {
	a := newTestAPI(t)

	var user UserDTO
	require.Equal(t, http.StatusCreated, a.call(ledger.RoleAdmin, http.MethodPost, "/api/admin/users", CreateUserRequest{
		Name: "New Hire", Email: "new.hire@example.com", Role: "underwriter",
	}, &user))
	assert.Equal(t, "UNDERWRITER", user.Role)

	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodPut, "/api/admin/users/"+user.ID+"/role", UpdateRoleRequest{Role: "CLAIMS_ADJUSTER"}, &user))
	assert.Equal(t, "CLAIMS_ADJUSTER", user.Role)

	var entries []AuditEntryDTO
	require.Equal(t, http.StatusOK, a.call(ledger.RoleAdmin, http.MethodGet, "/api/audit?action=ROLE_UPDATED", nil, &entries))
	require.Len(t, entries, 1)

	assert.Equal(t, http.StatusNoContent, a.call(ledger.RoleAdmin, http.MethodDelete, "/api/admin/users/"+user.ID, nil, nil))
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	a := newTestAPI(t)

	var resp ErrorResponse
	status := a.call(ledger.RoleUnderwriter, http.MethodPost, "/api/policies", map[string]string{"policy_no": "X"}, &resp)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", resp.Code)
}

func TestHealthz_NoAuth(t *testing.T) {
	a := newTestAPI(t)
	assert.Equal(t, http.StatusOK, a.call("", http.MethodGet, "/healthz", nil, nil))
}
