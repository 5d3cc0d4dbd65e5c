package models

import "strings"

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Actor is the identity attached to a call by the upstream identity provider.
// It is trusted as-is.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.UserID) != ""
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ParseRole maps a header value to a Role, defaulting to buyer.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSeller:
		return RoleSeller
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleBuyer
	}
}
