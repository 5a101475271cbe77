package tenants

import (
	"errors"
	"time"

	"github.com/memberhq/memberhq/pkg/auth"
)

// ErrNotFound is returned when a tenant or membership does not exist
var ErrNotFound = errors.New("tenant not found")

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// Tenant represents a customer organization (a club, gym, or
// association running on MemberHQ)
type Tenant struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Slug      string       `json:"slug"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Membership links a user to a tenant with a role
type Membership struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    int64     `json:"user_id"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service defines tenant operations
type Service interface {
	CreateTenant(tenant *Tenant) error
	GetTenant(id string) (*Tenant, error)
	GetTenantBySlug(slug string) (*Tenant, error)
	ListTenantsForUser(userID int64) ([]*Tenant, error)

	AddMember(tenantID string, userID int64, role auth.Role) error
	GetMembership(tenantID string, userID int64) (*Membership, error)
	ListMembers(tenantID string) ([]*Membership, error)
	UpdateMemberRole(tenantID string, userID int64, role auth.Role) error
	RemoveMember(tenantID string, userID int64) error
}
