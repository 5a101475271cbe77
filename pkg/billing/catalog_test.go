package billing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `plans:
  - id: starter
    name: Starter
    price_id: price_starter
    amount_cents: 2900
    currency: usd
    interval: month
    max_members: 100
  - id: club
    name: Club
    price_id: price_club
    amount_cents: 9900
    currency: usd
    interval: month
    max_members: 1000
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPlanCatalogLoad(t *testing.T) {
	path := writeCatalog(t, testCatalogYAML)

	catalog, err := NewPlanCatalog(path, testLogger())
	require.NoError(t, err)
	defer catalog.Close()

	plans := catalog.Plans()
	require.Len(t, plans, 2)
	assert.Equal(t, "starter", plans[0].ID)
	assert.Equal(t, int64(2900), plans[0].AmountCents)

	plan, ok := catalog.PlanByPriceID("price_club")
	require.True(t, ok)
	assert.Equal(t, "Club", plan.Name)

	_, ok = catalog.PlanByPriceID("price_missing")
	assert.False(t, ok)
}

func TestPlanCatalogRejectsInvalidEntries(t *testing.T) {
	path := writeCatalog(t, "plans:\n  - name: NoID\n")

	_, err := NewPlanCatalog(path, testLogger())
	assert.Error(t, err)
}

func TestPlanCatalogRejectsMissingFile(t *testing.T) {
	_, err := NewPlanCatalog(filepath.Join(t.TempDir(), "absent.yaml"), testLogger())
	assert.Error(t, err)
}

func TestPlanCatalogReload(t *testing.T) {
	path := writeCatalog(t, testCatalogYAML)

	catalog, err := NewPlanCatalog(path, testLogger())
	require.NoError(t, err)
	defer catalog.Close()

	require.NoError(t, os.WriteFile(path, []byte(`plans:
  - id: starter
    name: Starter
    price_id: price_starter
    amount_cents: 3900
`), 0o644))
	// Exercise the reload path directly; the watcher goroutine calls
	// the same method on file events
	require.NoError(t, catalog.load())

	plans := catalog.Plans()
	require.Len(t, plans, 1)
	assert.Equal(t, int64(3900), plans[0].AmountCents)
}

func TestPlanCatalogKeepsServingOnBadReload(t *testing.T) {
	path := writeCatalog(t, testCatalogYAML)

	catalog, err := NewPlanCatalog(path, testLogger())
	require.NoError(t, err)
	defer catalog.Close()

	require.NoError(t, os.WriteFile(path, []byte("plans: ["), 0o644))
	assert.Error(t, catalog.load())

	// Previous catalog still served
	assert.Len(t, catalog.Plans(), 2)
}
