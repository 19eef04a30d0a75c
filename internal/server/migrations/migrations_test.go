package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Ordered(t *testing.T) {
	names, err := fs.Glob(Migrations, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for i, name := range names {
		body, err := fs.ReadFile(Migrations, name)
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", name)
		assert.Contains(t, string(body), "-- +goose Down", name)
		if i > 0 {
			assert.Less(t, names[i-1], name)
		}
	}
}

// Actions may reference templates the catalog does not know; the worker
// rejects those as UNPROCESSABLE instead of the insert failing.
func TestMigrations_ActionsCarryNoCatalogForeignKeys(t *testing.T) {
	body, err := fs.ReadFile(Migrations, "00005_action_claims.sql")
	require.NoError(t, err)

	up := strings.SplitN(string(body), "-- +goose Down", 2)[0]
	assert.Contains(t, up, "DROP CONSTRAINT IF EXISTS actions_mission_id_fkey")
	assert.Contains(t, up, "DROP CONSTRAINT IF EXISTS actions_template_id_fkey")
	assert.Contains(t, up, "ADD COLUMN claimed_at")
}
