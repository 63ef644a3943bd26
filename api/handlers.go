/*
handlers.go - HTTP API handlers for the cession engine

PURPOSE:
  Exposes the lifecycle services via REST API. Handles HTTP request and
  response, JSON conversion, and delegates everything else to the
  services, which own validation, role gates and transactions.

ENDPOINTS:
  Policies:
    POST   /api/policies                     Create policy (DRAFT)
    GET    /api/policies[?status=]           List policies
    GET    /api/policies/{id}                Get policy
    PUT    /api/policies/{id}/submit         DRAFT -> PENDING_APPROVAL
    PUT    /api/policies/{id}/approve        PENDING_APPROVAL -> ACTIVE + allocation
    GET    /api/policies/{id}/audit          Audit trail of the policy
    GET    /api/policies/{id}/reconciliation Live allocation check

  Claims:
    POST   /api/claims                       File claim
    GET    /api/claims[?policy_id=&status=]  List claims
    GET    /api/claims/{id}                  Get claim
    PUT    /api/claims/{id}/{step}           review | approve | reject | settle

  Treaties & allocations:
    POST   /api/treaties                     Register treaty
    GET    /api/treaties[?status=]           List treaties
    GET    /api/treaties/{id}                Get treaty
    DELETE /api/treaties/{id}                Delete treaty and its allocations
    GET    /api/allocations[?policy_id=]     List allocations
    GET    /api/allocations/policy/{id}      Allocations of one policy

  Audit:
    GET    /api/audit                        Query entries
    PUT    /api/audit/{id}                   Always 403 IMMUTABILITY_VIOLATION
    DELETE /api/audit/{id}                   Always 403 IMMUTABILITY_VIOLATION

  Admin:
    /api/admin/users...                      User directory (ADMIN)
    /api/reconciliation/...                  Stored sweep results, manual run
    /api/scenarios/...                       Demo books

ERROR HANDLING:
  Every service error carries a ledger.Kind which fixes the status code
  (see errors.go). Handlers never pick a status for a domain error.

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Principal resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/cession-engine/directory"
	"github.com/warp/cession-engine/factory"
	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/reinsurance"
	"github.com/warp/cession-engine/underwriting"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Policies    *underwriting.Policies
	Claims      *underwriting.Claims
	Treaties    *reinsurance.Treaties
	Allocations *reinsurance.Allocations
	Reports     *reinsurance.Reports
	Audit       *ledger.AuditRecorder
	Users       *directory.Users
	Books       *factory.BookFactory

	// Scheduler backs POST /api/reconciliation/run. Optional.
	Scheduler *ReconciliationScheduler

	log *zap.Logger
}

// NewHandler wires the services over one transactional store.
func NewHandler(store ledger.TxStore, timeout time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	uow := ledger.NewUnitOfWork(store, timeout)
	recorder := ledger.NewAuditRecorder(store)
	return &Handler{
		Policies:    underwriting.NewPolicies(uow, recorder, log.Named("policies")),
		Claims:      underwriting.NewClaims(uow, recorder, log.Named("claims")),
		Treaties:    reinsurance.NewTreaties(uow, recorder, log.Named("treaties")),
		Allocations: reinsurance.NewAllocations(uow),
		Reports:     reinsurance.NewReports(uow),
		Audit:       recorder,
		Users:       directory.NewUsers(uow, recorder, log.Named("directory")),
		Books:       factory.NewBookFactory(),
		log:         log,
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// CreatePolicy creates a DRAFT policy.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	policy, err := h.Policies.Create(r.Context(), in, PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*policy))
}

func (req CreatePolicyRequest) toInput() (underwriting.CreatePolicyInput, error) {
	in := underwriting.CreatePolicyInput{PolicyNumber: req.PolicyNumber, InsuredName: req.InsuredName}
	var err error
	if in.CoverageAmount, err = ledger.ParseMoney("coverage_amount", req.CoverageAmount); err != nil {
		return in, err
	}
	if in.Premium, err = ledger.ParseMoney("premium", req.Premium); err != nil {
		return in, err
	}
	if in.RetentionLimit, err = ledger.ParseMoney("retention_limit", req.RetentionLimit); err != nil {
		return in, err
	}
	if in.EffectiveFrom, err = parseDate("effective_from", req.EffectiveFrom); err != nil {
		return in, err
	}
	if in.EffectiveUntil, err = parseDate("effective_until", req.EffectiveUntil); err != nil {
		return in, err
	}
	return in, nil
}

// ListPolicies lists policies, optionally by status.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	var status *ledger.PolicyStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := ledger.PolicyStatus(s)
		if !st.Valid() {
			h.fail(w, r, &ledger.ValidationError{Field: "status", Reason: "unknown policy status " + s})
			return
		}
		status = &st
	}

	policies, err := h.Policies.List(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPolicy returns one policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.Policies.Get(r.Context(), ledger.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*policy))
}

// SubmitPolicy moves a DRAFT policy to PENDING_APPROVAL.
func (h *Handler) SubmitPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.Policies.Submit(r.Context(), ledger.PolicyID(chi.URLParam(r, "id")), PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*policy))
}

// ApprovePolicy activates a policy and allocates it across treaties.
func (h *Handler) ApprovePolicy(w http.ResponseWriter, r *http.Request) {
	result, err := h.Policies.Approve(r.Context(), ledger.PolicyID(chi.URLParam(r, "id")), PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalDTO{
		Policy:      toPolicyDTO(result.Policy),
		Allocations: toAllocationDTOs(result.Allocations),
		CededTotal:  money(result.Plan.CededTotal()),
		Retained:    money(result.Plan.Retained),
	})
}

// GetPolicyAudit returns the audit trail of a policy.
func (h *Handler) GetPolicyAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Policies.AuditTrail(r.Context(), ledger.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// GetPolicyReconciliation checks the policy's allocations against coverage.
func (h *Handler) GetPolicyReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Policies.Reconcile(r.Context(), ledger.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*rec))
}

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

// CreateClaim files a claim against an ACTIVE policy.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	var req CreateClaimRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := ledger.ParseMoney("claim_amount", req.ClaimAmount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	claim, err := h.Claims.Create(r.Context(), underwriting.CreateClaimInput{
		ClaimNumber: req.ClaimNumber,
		PolicyID:    ledger.PolicyID(req.PolicyID),
		ClaimAmount: amount,
	}, PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(*claim))
}

// ListClaims lists claims, optionally by policy and status.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	var filter ledger.ClaimFilter
	q := r.URL.Query()
	if p := q.Get("policy_id"); p != "" {
		id := ledger.PolicyID(p)
		filter.PolicyID = &id
	}
	if s := q.Get("status"); s != "" {
		st := ledger.ClaimStatus(s)
		if !st.Valid() {
			h.fail(w, r, &ledger.ValidationError{Field: "status", Reason: "unknown claim status " + s})
			return
		}
		filter.Status = &st
	}

	claims, err := h.Claims.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ClaimDTO, len(claims))
	for i, c := range claims {
		dtos[i] = toClaimDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClaim returns one claim.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := h.Claims.Get(r.Context(), ledger.ClaimID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(*claim))
}

// AdvanceClaim runs one claim transition named by the {step} URL parameter.
func (h *Handler) AdvanceClaim(w http.ResponseWriter, r *http.Request) {
	var step func(context.Context, ledger.ClaimID, ledger.Principal) (*ledger.Claim, error)
	switch chi.URLParam(r, "step") {
	case "review":
		step = h.Claims.Review
	case "approve":
		step = h.Claims.Approve
	case "reject":
		step = h.Claims.Reject
	case "settle":
		step = h.Claims.Settle
	default:
		writeError(w, http.StatusNotFound, ledger.KindNotFound, "unknown claim step "+chi.URLParam(r, "step"))
		return
	}

	claim, err := step(r.Context(), ledger.ClaimID(chi.URLParam(r, "id")), PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(*claim))
}

// =============================================================================
// TREATY & ALLOCATION HANDLERS
// =============================================================================

// CreateTreaty registers a treaty.
func (h *Handler) CreateTreaty(w http.ResponseWriter, r *http.Request) {
	var req CreateTreatyRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	share, err := decimal.NewFromString(req.SharePercentage)
	if err != nil {
		h.fail(w, r, &ledger.ValidationError{Field: "share_percentage", Reason: "is not a number"})
		return
	}
	retention, err := ledger.ParseMoney("retention_limit", req.RetentionLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	treaty, err := h.Treaties.Create(r.Context(), reinsurance.CreateTreatyInput{
		TreatyName:      req.TreatyName,
		ReinsurerName:   req.ReinsurerName,
		SharePercentage: share,
		RetentionLimit:  retention,
		Status:          ledger.TreatyStatus(req.Status),
	}, PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTreatyDTO(*treaty))
}

// ListTreaties lists treaties, optionally by status.
func (h *Handler) ListTreaties(w http.ResponseWriter, r *http.Request) {
	var status *ledger.TreatyStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := ledger.TreatyStatus(s)
		if !st.Valid() {
			h.fail(w, r, &ledger.ValidationError{Field: "status", Reason: "must be ACTIVE or EXPIRED"})
			return
		}
		status = &st
	}

	treaties, err := h.Treaties.List(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]TreatyDTO, len(treaties))
	for i, t := range treaties {
		dtos[i] = toTreatyDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTreaty returns one treaty.
func (h *Handler) GetTreaty(w http.ResponseWriter, r *http.Request) {
	treaty, err := h.Treaties.Get(r.Context(), ledger.TreatyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTreatyDTO(*treaty))
}

// DeleteTreaty removes a treaty together with its allocations.
func (h *Handler) DeleteTreaty(w http.ResponseWriter, r *http.Request) {
	id := ledger.TreatyID(chi.URLParam(r, "id"))
	removed, err := h.Treaties.Delete(r.Context(), id, PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TreatyDeletedDTO{ID: string(id), AllocationsRemoved: removed})
}

// ListAllocations lists allocations, optionally for one policy.
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	var policyID *ledger.PolicyID
	if p := r.URL.Query().Get("policy_id"); p != "" {
		id := ledger.PolicyID(p)
		policyID = &id
	}
	h.writeAllocations(w, r, policyID)
}

// GetPolicyAllocations lists the allocations of one policy.
func (h *Handler) GetPolicyAllocations(w http.ResponseWriter, r *http.Request) {
	id := ledger.PolicyID(chi.URLParam(r, "policyId"))
	h.writeAllocations(w, r, &id)
}

func (h *Handler) writeAllocations(w http.ResponseWriter, r *http.Request, policyID *ledger.PolicyID) {
	allocations, err := h.Allocations.List(r.Context(), policyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(allocations))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit lists audit entries matching the query parameters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	var filter ledger.AuditFilter
	q := r.URL.Query()
	if v := q.Get("policy_id"); v != "" {
		id := ledger.PolicyID(v)
		filter.PolicyID = &id
	}
	if v := q.Get("claim_id"); v != "" {
		id := ledger.ClaimID(v)
		filter.ClaimID = &id
	}
	if v := q.Get("treaty_id"); v != "" {
		id := ledger.TreatyID(v)
		filter.TreatyID = &id
	}
	if v := q.Get("performed_by"); v != "" {
		id := ledger.UserID(v)
		filter.PerformedBy = &id
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, ledger.AuditAction(a))
	}

	entries, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// UpdateAudit always fails; audit entries cannot be changed.
func (h *Handler) UpdateAudit(w http.ResponseWriter, r *http.Request) {
	err := h.Audit.Update(r.Context(), ledger.AuditID(chi.URLParam(r, "id")), PrincipalFrom(r.Context()), nil)
	h.log.Warn("audit update rejected",
		zap.String("entry_id", chi.URLParam(r, "id")),
		zap.String("actor", string(PrincipalFrom(r.Context()).ID)))
	h.fail(w, r, err)
}

// DeleteAudit always fails; audit entries cannot be removed.
func (h *Handler) DeleteAudit(w http.ResponseWriter, r *http.Request) {
	err := h.Audit.Delete(r.Context(), ledger.AuditID(chi.URLParam(r, "id")), PrincipalFrom(r.Context()))
	h.log.Warn("audit delete rejected",
		zap.String("entry_id", chi.URLParam(r, "id")),
		zap.String("actor", string(PrincipalFrom(r.Context()).ID)))
	h.fail(w, r, err)
}

// =============================================================================
// USER DIRECTORY HANDLERS
// =============================================================================

// ListUsers lists the directory. ADMIN only.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if err := PrincipalFrom(r.Context()).Authorize("list users", ledger.RoleAdmin); err != nil {
		h.fail(w, r, err)
		return
	}
	users, err := h.Users.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser adds a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := ledger.ParseRole(req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.Users.Create(r.Context(), directory.CreateUserInput{Name: req.Name, Email: req.Email, Role: role},
		PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

// UpdateUserRole changes a user's role.
func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := ledger.ParseRole(req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.Users.UpdateRole(r.Context(), ledger.UserID(chi.URLParam(r, "id")), role, PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// DeleteUser removes a user.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.Delete(r.Context(), ledger.UserID(chi.URLParam(r, "id")), PrincipalFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ListReconciliationReports returns the latest sweep result per policy.
func (h *Handler) ListReconciliationReports(w http.ResponseWriter, r *http.Request) {
	var status *ledger.ReconciliationStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := ledger.ReconciliationStatus(s)
		status = &st
	}
	reports, err := h.Reports.List(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ReconciliationReportDTO, len(reports))
	for i, rep := range reports {
		dtos[i] = toReportDTO(rep)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunReconciliation sweeps every ACTIVE policy now. ADMIN only.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	if err := PrincipalFrom(r.Context()).Authorize("run reconciliation", ledger.RoleAdmin); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, ledger.KindStorage, "reconciliation scheduler not configured")
		return
	}
	summary, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, &ledger.ValidationError{Field: field, Reason: "must be a YYYY-MM-DD date"}
	}
	return &t, nil
}
