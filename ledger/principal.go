package ledger

import "strings"

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleUnderwriter        Role = "UNDERWRITER"
	RoleClaimsAdjuster     Role = "CLAIMS_ADJUSTER"
	RoleReinsuranceManager Role = "REINSURANCE_MANAGER"
	RoleAdmin              Role = "ADMIN"
)

// Roles lists every role in display order.
var Roles = []Role{RoleUnderwriter, RoleClaimsAdjuster, RoleReinsuranceManager, RoleAdmin}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts any casing, e.g. "claims_adjuster".
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &ValidationError{Field: "role", Reason: "unknown role " + s}
	}
	return r, nil
}

// =============================================================================
// PRINCIPAL
// =============================================================================

// Principal is the authenticated actor of an operation. It is passed
// explicitly to every command; nothing reads it from ambient state.
type Principal struct {
	ID    UserID
	Email string
	Name  string
	Role  Role
}

// SystemPrincipal performs bootstrap work that no user requested.
var SystemPrincipal = Principal{ID: "system", Email: "system@localhost", Name: "system", Role: RoleAdmin}

// FromUser builds the principal for a directory user.
func FromUser(u User) Principal {
	return Principal{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Authorize returns a ForbiddenError unless the principal holds one of the
// allowed roles. ADMIN passes every gate.
func (p Principal) Authorize(operation string, allowed ...Role) error {
	if p.ID == "" {
		return &ForbiddenError{Operation: operation, Allowed: allowed}
	}
	if p.Role == RoleAdmin {
		return nil
	}
	for _, r := range allowed {
		if p.Role == r {
			return nil
		}
	}
	return &ForbiddenError{Operation: operation, Role: p.Role, Allowed: allowed}
}
