/*
audit.go - Append-only audit recorder

PURPOSE:
  Every state change in the system leaves an AuditEntry: who did what,
  to which policy, claim, treaty or user, and when. The recorder is the
  only writer of audit entries.

APPEND-ONLY CONTRACT:
  - Append(): the only write
  - Update(), Delete(): always ImmutabilityViolation, for every role,
    without reading or touching storage
  Storage backends enforce the same rule independently (SQL triggers), so
  an entry survives even a caller that bypasses the recorder.

TRANSACTIONS:
  Lifecycle operations call Append with the Store view of their unit of
  work (recorder.In(tx)), so the entry commits or rolls back together with
  the change it describes.

SEE ALSO:
  - store.go: AuditStore interface
  - underwriting/policy.go: Records POLICY_* entries
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// AuditRecorder appends audit entries and rejects any attempt to change them.
type AuditRecorder struct {
	store AuditStore
	now   func() time.Time
}

// NewAuditRecorder creates a recorder writing to store.
func NewAuditRecorder(store AuditStore) *AuditRecorder {
	return &AuditRecorder{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source, for deterministic tests.
func (r *AuditRecorder) WithClock(now func() time.Time) *AuditRecorder {
	return &AuditRecorder{store: r.store, now: now}
}

// In returns a recorder writing through store, typically a transaction view.
func (r *AuditRecorder) In(store AuditStore) *AuditRecorder {
	return &AuditRecorder{store: store, now: r.now}
}

// Append assigns ID and CreatedAt and persists the entry.
func (r *AuditRecorder) Append(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = NewAuditID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		return AuditEntry{}, &StorageError{Op: "append audit " + string(entry.Action), Err: err}
	}
	return entry, nil
}

// Record builds an entry performed by principal and appends it.
func (r *AuditRecorder) Record(ctx context.Context, action AuditAction, by Principal, refs AuditRefs, format string, args ...any) (AuditEntry, error) {
	return r.Append(ctx, AuditEntry{
		Action:           action,
		PolicyID:         refs.PolicyID,
		ClaimID:          refs.ClaimID,
		TreatyID:         refs.TreatyID,
		SubjectUserID:    refs.UserID,
		PerformedBy:      by.ID,
		PerformedByEmail: by.Email,
		Details:          fmt.Sprintf(format, args...),
	})
}

// Update always fails: audit entries are immutable.
func (r *AuditRecorder) Update(_ context.Context, id AuditID, by Principal, _ func(*AuditEntry)) error {
	return &ImmutabilityViolation{EntryID: id, Operation: "updated", Actor: by.ID, Role: by.Role}
}

// Delete always fails: audit entries are immutable.
func (r *AuditRecorder) Delete(_ context.Context, id AuditID, by Principal) error {
	return &ImmutabilityViolation{EntryID: id, Operation: "deleted", Actor: by.ID, Role: by.Role}
}

// Query returns entries matching filter in creation order.
func (r *AuditRecorder) Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	entries, err := r.store.QueryAudit(ctx, filter)
	if err != nil {
		return nil, &StorageError{Op: "query audit", Err: err}
	}
	return entries, nil
}

// AuditRefs names the entities an entry is about. All fields are optional.
type AuditRefs struct {
	PolicyID *PolicyID
	ClaimID  *ClaimID
	TreatyID *TreatyID
	UserID   *UserID
}

func PolicyRef(id PolicyID) AuditRefs { return AuditRefs{PolicyID: &id} }
func TreatyRef(id TreatyID) AuditRefs { return AuditRefs{TreatyID: &id} }
func UserRef(id UserID) AuditRefs     { return AuditRefs{UserID: &id} }

func ClaimRef(policyID PolicyID, claimID ClaimID) AuditRefs {
	return AuditRefs{PolicyID: &policyID, ClaimID: &claimID}
}

func AllocationRef(policyID PolicyID, treatyID TreatyID) AuditRefs {
	return AuditRefs{PolicyID: &policyID, TreatyID: &treatyID}
}
