// Package store provides an in-memory ledger.TxStore for tests and dev.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/cession-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore. Reads take the read lock; writes and
// whole transactions take the write lock, so readers never observe a
// transaction half applied.
type Memory struct {
	mu sync.RWMutex
	st *state
}

var _ ledger.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

type state struct {
	policies    map[ledger.PolicyID]ledger.Policy
	policyOrder []ledger.PolicyID
	claims      map[ledger.ClaimID]ledger.Claim
	claimOrder  []ledger.ClaimID
	treaties    map[ledger.TreatyID]ledger.Treaty
	allocations []ledger.Allocation
	audit       []ledger.AuditEntry
	users       map[ledger.UserID]ledger.User
	userOrder   []ledger.UserID
	reports     map[ledger.PolicyID]ledger.ReconciliationReport
}

func newState() *state {
	return &state{
		policies: make(map[ledger.PolicyID]ledger.Policy),
		claims:   make(map[ledger.ClaimID]ledger.Claim),
		treaties: make(map[ledger.TreatyID]ledger.Treaty),
		users:    make(map[ledger.UserID]ledger.User),
		reports:  make(map[ledger.PolicyID]ledger.ReconciliationReport),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	for k, v := range s.treaties {
		c.treaties[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.reports {
		c.reports[k] = v
	}
	c.policyOrder = append([]ledger.PolicyID{}, s.policyOrder...)
	c.claimOrder = append([]ledger.ClaimID{}, s.claimOrder...)
	c.userOrder = append([]ledger.UserID{}, s.userOrder...)
	c.allocations = append([]ledger.Allocation{}, s.allocations...)
	c.audit = append([]ledger.AuditEntry{}, s.audit...)
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// locked runs fn against the live state under the write lock.
func (m *Memory) locked(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{st: m.st})
}

// rlocked runs fn against the live state under the read lock.
func (m *Memory) rlocked(fn func(v *view) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{st: m.st})
}

// =============================================================================
// LOCKING WRAPPERS (ledger.Store on *Memory)
// =============================================================================

func (m *Memory) InsertPolicy(ctx context.Context, p ledger.Policy) error {
	return m.locked(func(v *view) error { return v.InsertPolicy(ctx, p) })
}

func (m *Memory) GetPolicy(ctx context.Context, id ledger.PolicyID) (p *ledger.Policy, err error) {
	err = m.rlocked(func(v *view) error { p, err = v.GetPolicy(ctx, id); return err })
	return p, err
}

func (m *Memory) ListPolicies(ctx context.Context, f ledger.PolicyFilter) (ps []ledger.Policy, err error) {
	err = m.rlocked(func(v *view) error { ps, err = v.ListPolicies(ctx, f); return err })
	return ps, err
}

func (m *Memory) TransitionPolicy(ctx context.Context, id ledger.PolicyID, from, to ledger.PolicyStatus, at time.Time) (ok bool, err error) {
	err = m.locked(func(v *view) error { ok, err = v.TransitionPolicy(ctx, id, from, to, at); return err })
	return ok, err
}

func (m *Memory) InsertClaim(ctx context.Context, c ledger.Claim) error {
	return m.locked(func(v *view) error { return v.InsertClaim(ctx, c) })
}

func (m *Memory) GetClaim(ctx context.Context, id ledger.ClaimID) (c *ledger.Claim, err error) {
	err = m.rlocked(func(v *view) error { c, err = v.GetClaim(ctx, id); return err })
	return c, err
}

func (m *Memory) ListClaims(ctx context.Context, f ledger.ClaimFilter) (cs []ledger.Claim, err error) {
	err = m.rlocked(func(v *view) error { cs, err = v.ListClaims(ctx, f); return err })
	return cs, err
}

func (m *Memory) TransitionClaim(ctx context.Context, id ledger.ClaimID, from, to ledger.ClaimStatus, reviewer *ledger.UserID, at time.Time) (ok bool, err error) {
	err = m.locked(func(v *view) error { ok, err = v.TransitionClaim(ctx, id, from, to, reviewer, at); return err })
	return ok, err
}

func (m *Memory) InsertTreaty(ctx context.Context, t ledger.Treaty) error {
	return m.locked(func(v *view) error { return v.InsertTreaty(ctx, t) })
}

func (m *Memory) GetTreaty(ctx context.Context, id ledger.TreatyID) (t *ledger.Treaty, err error) {
	err = m.rlocked(func(v *view) error { t, err = v.GetTreaty(ctx, id); return err })
	return t, err
}

func (m *Memory) ListTreaties(ctx context.Context, f ledger.TreatyFilter) (ts []ledger.Treaty, err error) {
	err = m.rlocked(func(v *view) error { ts, err = v.ListTreaties(ctx, f); return err })
	return ts, err
}

func (m *Memory) DeleteTreaty(ctx context.Context, id ledger.TreatyID) (ok bool, err error) {
	err = m.locked(func(v *view) error { ok, err = v.DeleteTreaty(ctx, id); return err })
	return ok, err
}

func (m *Memory) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	return m.locked(func(v *view) error { return v.InsertAllocation(ctx, a) })
}

func (m *Memory) ListAllocations(ctx context.Context, f ledger.AllocationFilter) (as []ledger.Allocation, err error) {
	err = m.rlocked(func(v *view) error { as, err = v.ListAllocations(ctx, f); return err })
	return as, err
}

func (m *Memory) DeleteAllocationsByTreaty(ctx context.Context, id ledger.TreatyID) (n int64, err error) {
	err = m.locked(func(v *view) error { n, err = v.DeleteAllocationsByTreaty(ctx, id); return err })
	return n, err
}

func (m *Memory) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	return m.locked(func(v *view) error { return v.AppendAudit(ctx, e) })
}

func (m *Memory) QueryAudit(ctx context.Context, f ledger.AuditFilter) (es []ledger.AuditEntry, err error) {
	err = m.rlocked(func(v *view) error { es, err = v.QueryAudit(ctx, f); return err })
	return es, err
}

func (m *Memory) InsertUser(ctx context.Context, u ledger.User) error {
	return m.locked(func(v *view) error { return v.InsertUser(ctx, u) })
}

func (m *Memory) GetUser(ctx context.Context, id ledger.UserID) (u *ledger.User, err error) {
	err = m.rlocked(func(v *view) error { u, err = v.GetUser(ctx, id); return err })
	return u, err
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (u *ledger.User, err error) {
	err = m.rlocked(func(v *view) error { u, err = v.GetUserByEmail(ctx, email); return err })
	return u, err
}

func (m *Memory) ListUsers(ctx context.Context) (us []ledger.User, err error) {
	err = m.rlocked(func(v *view) error { us, err = v.ListUsers(ctx); return err })
	return us, err
}

func (m *Memory) UpdateUserRole(ctx context.Context, id ledger.UserID, role ledger.Role, at time.Time) (ok bool, err error) {
	err = m.locked(func(v *view) error { ok, err = v.UpdateUserRole(ctx, id, role, at); return err })
	return ok, err
}

func (m *Memory) DeleteUser(ctx context.Context, id ledger.UserID) (ok bool, err error) {
	err = m.locked(func(v *view) error { ok, err = v.DeleteUser(ctx, id); return err })
	return ok, err
}

func (m *Memory) SaveReconciliationReport(ctx context.Context, r ledger.ReconciliationReport) error {
	return m.locked(func(v *view) error { return v.SaveReconciliationReport(ctx, r) })
}

func (m *Memory) ListReconciliationReports(ctx context.Context, status *ledger.ReconciliationStatus) (rs []ledger.ReconciliationReport, err error) {
	err = m.rlocked(func(v *view) error { rs, err = v.ListReconciliationReports(ctx, status); return err })
	return rs, err
}

// =============================================================================
// VIEW - Unlocked implementation shared by Memory and WithTx
// =============================================================================

type view struct {
	st *state
}

func duplicate(constraint string) error {
	return fmt.Errorf("%s: %w", constraint, ledger.ErrDuplicate)
}

func (v *view) InsertPolicy(_ context.Context, p ledger.Policy) error {
	if _, ok := v.st.policies[p.ID]; ok {
		return duplicate("policies.id")
	}
	for _, existing := range v.st.policies {
		if existing.PolicyNumber == p.PolicyNumber {
			return duplicate("policies.policy_number")
		}
	}
	v.st.policies[p.ID] = p
	v.st.policyOrder = append(v.st.policyOrder, p.ID)
	return nil
}

func (v *view) GetPolicy(_ context.Context, id ledger.PolicyID) (*ledger.Policy, error) {
	p, ok := v.st.policies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (v *view) ListPolicies(_ context.Context, f ledger.PolicyFilter) ([]ledger.Policy, error) {
	var out []ledger.Policy
	for _, id := range v.st.policyOrder {
		p := v.st.policies[id]
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (v *view) TransitionPolicy(_ context.Context, id ledger.PolicyID, from, to ledger.PolicyStatus, at time.Time) (bool, error) {
	p, ok := v.st.policies[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	v.st.policies[id] = p
	return true, nil
}

func (v *view) InsertClaim(_ context.Context, c ledger.Claim) error {
	if _, ok := v.st.claims[c.ID]; ok {
		return duplicate("claims.id")
	}
	if _, ok := v.st.policies[c.PolicyID]; !ok {
		return fmt.Errorf("claims.policy_id %s: foreign key violation", c.PolicyID)
	}
	for _, existing := range v.st.claims {
		if existing.ClaimNumber == c.ClaimNumber {
			return duplicate("claims.claim_number")
		}
	}
	v.st.claims[c.ID] = c
	v.st.claimOrder = append(v.st.claimOrder, c.ID)
	return nil
}

func (v *view) GetClaim(_ context.Context, id ledger.ClaimID) (*ledger.Claim, error) {
	c, ok := v.st.claims[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (v *view) ListClaims(_ context.Context, f ledger.ClaimFilter) ([]ledger.Claim, error) {
	var out []ledger.Claim
	for _, id := range v.st.claimOrder {
		c := v.st.claims[id]
		if f.PolicyID != nil && c.PolicyID != *f.PolicyID {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (v *view) TransitionClaim(_ context.Context, id ledger.ClaimID, from, to ledger.ClaimStatus, reviewer *ledger.UserID, at time.Time) (bool, error) {
	c, ok := v.st.claims[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = at
	if reviewer != nil {
		r := *reviewer
		c.ReviewedBy = &r
	}
	v.st.claims[id] = c
	return true, nil
}

func (v *view) InsertTreaty(_ context.Context, t ledger.Treaty) error {
	if _, ok := v.st.treaties[t.ID]; ok {
		return duplicate("treaties.id")
	}
	v.st.treaties[t.ID] = t
	return nil
}

func (v *view) GetTreaty(_ context.Context, id ledger.TreatyID) (*ledger.Treaty, error) {
	t, ok := v.st.treaties[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (v *view) ListTreaties(_ context.Context, f ledger.TreatyFilter) ([]ledger.Treaty, error) {
	var out []ledger.Treaty
	for _, t := range v.st.treaties {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) DeleteTreaty(_ context.Context, id ledger.TreatyID) (bool, error) {
	if _, ok := v.st.treaties[id]; !ok {
		return false, nil
	}
	for _, a := range v.st.allocations {
		if a.TreatyID != nil && *a.TreatyID == id {
			return false, fmt.Errorf("allocations.treaty_id %s: foreign key violation", id)
		}
	}
	delete(v.st.treaties, id)
	return true, nil
}

func (v *view) InsertAllocation(_ context.Context, a ledger.Allocation) error {
	if _, ok := v.st.policies[a.PolicyID]; !ok {
		return fmt.Errorf("allocations.policy_id %s: foreign key violation", a.PolicyID)
	}
	if a.TreatyID != nil {
		if _, ok := v.st.treaties[*a.TreatyID]; !ok {
			return fmt.Errorf("allocations.treaty_id %s: foreign key violation", *a.TreatyID)
		}
	}
	for _, existing := range v.st.allocations {
		if existing.ID == a.ID {
			return duplicate("allocations.id")
		}
		if existing.PolicyID == a.PolicyID && sameTreaty(existing.TreatyID, a.TreatyID) {
			return duplicate("allocations.policy_treaty")
		}
	}
	v.st.allocations = append(v.st.allocations, a)
	return nil
}

func sameTreaty(a, b *ledger.TreatyID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (v *view) ListAllocations(_ context.Context, f ledger.AllocationFilter) ([]ledger.Allocation, error) {
	var out []ledger.Allocation
	for _, a := range v.st.allocations {
		if f.PolicyID != nil && a.PolicyID != *f.PolicyID {
			continue
		}
		if f.TreatyID != nil && !sameTreaty(a.TreatyID, f.TreatyID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (v *view) DeleteAllocationsByTreaty(_ context.Context, id ledger.TreatyID) (int64, error) {
	kept := v.st.allocations[:0:0]
	var removed int64
	for _, a := range v.st.allocations {
		if a.TreatyID != nil && *a.TreatyID == id {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	v.st.allocations = kept
	return removed, nil
}

func (v *view) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	for _, existing := range v.st.audit {
		if existing.ID == e.ID {
			return duplicate("audit_entries.id")
		}
	}
	v.st.audit = append(v.st.audit, e)
	return nil
}

func (v *view) QueryAudit(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var out []ledger.AuditEntry
	for _, e := range v.st.audit {
		if matchesAudit(e, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

func matchesAudit(e ledger.AuditEntry, f ledger.AuditFilter) bool {
	if f.PolicyID != nil && (e.PolicyID == nil || *e.PolicyID != *f.PolicyID) {
		return false
	}
	if f.ClaimID != nil && (e.ClaimID == nil || *e.ClaimID != *f.ClaimID) {
		return false
	}
	if f.TreatyID != nil && (e.TreatyID == nil || *e.TreatyID != *f.TreatyID) {
		return false
	}
	if f.PerformedBy != nil && e.PerformedBy != *f.PerformedBy {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if e.Action == a {
				return true
			}
		}
		return false
	}
	return true
}

func (v *view) InsertUser(_ context.Context, u ledger.User) error {
	if _, ok := v.st.users[u.ID]; ok {
		return duplicate("users.id")
	}
	for _, existing := range v.st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return duplicate("users.email")
		}
	}
	v.st.users[u.ID] = u
	v.st.userOrder = append(v.st.userOrder, u.ID)
	return nil
}

func (v *view) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	u, ok := v.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (v *view) GetUserByEmail(_ context.Context, email string) (*ledger.User, error) {
	for _, u := range v.st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (v *view) ListUsers(_ context.Context) ([]ledger.User, error) {
	var out []ledger.User
	for _, id := range v.st.userOrder {
		if u, ok := v.st.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (v *view) UpdateUserRole(_ context.Context, id ledger.UserID, role ledger.Role, at time.Time) (bool, error) {
	u, ok := v.st.users[id]
	if !ok {
		return false, nil
	}
	u.Role = role
	u.UpdatedAt = at
	v.st.users[id] = u
	return true, nil
}

func (v *view) DeleteUser(_ context.Context, id ledger.UserID) (bool, error) {
	if _, ok := v.st.users[id]; !ok {
		return false, nil
	}
	delete(v.st.users, id)
	return true, nil
}

func (v *view) SaveReconciliationReport(_ context.Context, r ledger.ReconciliationReport) error {
	v.st.reports[r.PolicyID] = r
	return nil
}

func (v *view) ListReconciliationReports(_ context.Context, status *ledger.ReconciliationStatus) ([]ledger.ReconciliationReport, error) {
	var out []ledger.ReconciliationReport
	for _, r := range v.st.reports {
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out, nil
}
