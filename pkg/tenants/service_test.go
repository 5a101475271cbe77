package tenants

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberhq/memberhq/pkg/auth"
)

func tenantColumns() []string {
	return []string{"id", "name", "slug", "status", "created_at", "updated_at"}
}

func TestCreateTenantGeneratesIDAndSlug(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO tenants").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	svc := NewPostgresService(db)
	tenant := &Tenant{Name: "Rowing Club Amsterdam"}
	require.NoError(t, svc.CreateTenant(tenant))

	assert.NotEmpty(t, tenant.ID)
	assert.Equal(t, "rowing-club-amsterdam", tenant.Slug)
	assert.Equal(t, TenantStatusActive, tenant.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, name, slug").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(tenantColumns()).
			AddRow("t1", "Rowing Club", "rowing-club", "active", now, now))

	svc := NewPostgresService(db)
	tenant, err := svc.GetTenant("t1")

	require.NoError(t, err)
	assert.Equal(t, "Rowing Club", tenant.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, name, slug").
		WithArgs("t_missing").
		WillReturnRows(sqlmock.NewRows(tenantColumns()))

	svc := NewPostgresService(db)
	_, err = svc.GetTenant("t_missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMembership(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, tenant_id, user_id, role").
		WithArgs("t1", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "user_id", "role", "created_at", "updated_at"}).
			AddRow(int64(1), "t1", int64(3), "admin", now, now))

	svc := NewPostgresService(db)
	m, err := svc.GetMembership("t1", 3)

	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, m.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMemberRoleNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE tenant_members SET role").
		WithArgs(auth.RoleStaff, "t1", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	svc := NewPostgresService(db)
	err = svc.UpdateMemberRole("t1", 9, auth.RoleStaff)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateSlug(t *testing.T) {
	assert.Equal(t, "my-club", generateSlug("My Club"))
	assert.Equal(t, "caf-75", generateSlug("Café 75"))
	assert.Equal(t, "a-b-c", generateSlug("A b C"))
}
