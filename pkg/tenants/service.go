package tenants

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/memberhq/memberhq/pkg/auth"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateTenant creates a new tenant
func (s *PostgresService) CreateTenant(tenant *Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.Slug == "" {
		tenant.Slug = generateSlug(tenant.Name)
	}
	if tenant.Status == "" {
		tenant.Status = TenantStatusActive
	}

	query := `
		INSERT INTO tenants (id, name, slug, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(query, tenant.ID, tenant.Name, tenant.Slug, tenant.Status).
		Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

// GetTenant retrieves a tenant by ID
func (s *PostgresService) GetTenant(id string) (*Tenant, error) {
	query := `
		SELECT id, name, slug, status, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	tenant := &Tenant{}
	err := s.db.QueryRow(query, id).Scan(
		&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Status,
		&tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}

// GetTenantBySlug retrieves a tenant by slug
func (s *PostgresService) GetTenantBySlug(slug string) (*Tenant, error) {
	query := `
		SELECT id, name, slug, status, created_at, updated_at
		FROM tenants
		WHERE slug = $1
	`
	tenant := &Tenant{}
	err := s.db.QueryRow(query, slug).Scan(
		&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Status,
		&tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}

// ListTenantsForUser lists active tenants the user is a member of
func (s *PostgresService) ListTenantsForUser(userID int64) ([]*Tenant, error) {
	query := `
		SELECT DISTINCT t.id, t.name, t.slug, t.status, t.created_at, t.updated_at
		FROM tenants t
		JOIN tenant_members tm ON t.id = tm.tenant_id
		WHERE tm.user_id = $1 AND t.status = 'active'
		ORDER BY t.created_at DESC
	`
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var result []*Tenant
	for rows.Next() {
		tenant := &Tenant{}
		if err := rows.Scan(
			&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Status,
			&tenant.CreatedAt, &tenant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		result = append(result, tenant)
	}

	return result, rows.Err()
}

// AddMember adds a user to a tenant with a role
func (s *PostgresService) AddMember(tenantID string, userID int64, role auth.Role) error {
	query := `
		INSERT INTO tenant_members (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()
	`
	if _, err := s.db.Exec(query, tenantID, userID, role); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// GetMembership retrieves a user's membership in a tenant
func (s *PostgresService) GetMembership(tenantID string, userID int64) (*Membership, error) {
	query := `
		SELECT id, tenant_id, user_id, role, created_at, updated_at
		FROM tenant_members
		WHERE tenant_id = $1 AND user_id = $2
	`
	m := &Membership{}
	err := s.db.QueryRow(query, tenantID, userID).Scan(
		&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return m, nil
}

// ListMembers lists all memberships in a tenant
func (s *PostgresService) ListMembers(tenantID string) ([]*Membership, error) {
	query := `
		SELECT id, tenant_id, user_id, role, created_at, updated_at
		FROM tenant_members
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// UpdateMemberRole changes a member's role
func (s *PostgresService) UpdateMemberRole(tenantID string, userID int64, role auth.Role) error {
	query := `
		UPDATE tenant_members SET role = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND user_id = $3
	`
	result, err := s.db.Exec(query, role, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RemoveMember removes a user from a tenant
func (s *PostgresService) RemoveMember(tenantID string, userID int64) error {
	query := `DELETE FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`
	result, err := s.db.Exec(query, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// generateSlug derives a URL-safe slug from a tenant name
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
