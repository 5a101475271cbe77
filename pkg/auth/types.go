package auth

import "time"

// User represents a person with a MemberHQ account
type User struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Role represents tenant-level roles
type Role string

const (
	RoleAdmin  Role = "admin"  // Full access to the tenant, including billing
	RoleStaff  Role = "staff"  // Can manage members and events
	RoleMember Role = "member" // Regular member, read-only access
)

// ValidRole reports whether the string names a known role
func ValidRole(r string) bool {
	switch Role(r) {
	case RoleAdmin, RoleStaff, RoleMember:
		return true
	}
	return false
}

// APIToken represents an API token
type APIToken struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	TokenHash    string     `json:"-"` // Never expose hash
	TokenPrefix  string     `json:"token_prefix"`
	Name         string     `json:"name"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    *int64     `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// Valid reports whether the token is usable at the given time
func (t *APIToken) Valid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	return true
}

// AuthContext holds authenticated caller information for a request.
// TenantID and Role are resolved from the tenant membership of the
// user, scoped to the tenant the request addresses.
type AuthContext struct {
	User     *User
	Token    *APIToken
	TenantID string
	Role     Role
}

// IsAdmin reports whether the caller holds the admin role in the
// request's tenant
func (ac *AuthContext) IsAdmin() bool {
	return ac.Role == RoleAdmin
}

// HasRole reports whether the caller holds at least the given role.
// Roles are ordered admin > staff > member.
func (ac *AuthContext) HasRole(role Role) bool {
	rank := func(r Role) int {
		switch r {
		case RoleAdmin:
			return 3
		case RoleStaff:
			return 2
		case RoleMember:
			return 1
		}
		return 0
	}
	return rank(ac.Role) >= rank(role)
}
