package ledger

import (
	"github.com/google/uuid"
)

// newID returns prefix + a time-ordered UUIDv7, so IDs created later sort
// after IDs created earlier.
func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + id.String()
}

func NewPolicyID() PolicyID         { return PolicyID(newID("pol-")) }
func NewClaimID() ClaimID           { return ClaimID(newID("clm-")) }
func NewTreatyID() TreatyID         { return TreatyID(newID("trt-")) }
func NewAllocationID() AllocationID { return AllocationID(newID("alc-")) }
func NewAuditID() AuditID           { return AuditID(newID("aud-")) }
func NewUserID() UserID             { return UserID(newID("usr-")) }
