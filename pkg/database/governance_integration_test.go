//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-gateway/pkg/database"
	"github.com/ekaya-inc/ekaya-gateway/pkg/testhelpers"
)

// asReadonly runs fn in a transaction under the read-only role with the
// given session settings, then rolls back.
func asReadonly(t *testing.T, db *sql.DB, orgID string, globalAdmin bool, fn func(tx *sql.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, "SET LOCAL ROLE bi_readonly")
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "SELECT set_config('app.org_id', $1, true)", orgID)
	require.NoError(t, err)
	admin := "false"
	if globalAdmin {
		admin = "true"
	}
	_, err = tx.ExecContext(ctx, "SELECT set_config('app.is_global_admin', $1, true)", admin)
	require.NoError(t, err)
	return fn(tx)
}

func countEvents(tx *sql.Tx, orgs ...string) (int, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM bi_v_events WHERE organization_id::text = ANY($1)`, orgs).Scan(&n)
	return n, err
}

func TestRunMigrations_Idempotent(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	require.NoError(t, database.RunMigrations(testDB.SQL, zaptest.NewLogger(t)))
}

func TestSecuredViews_OrganizationScoping(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	orgA := testDB.SeedOrganization(t, "Harbor FC", "harbor-fc-scoping")
	orgB := testDB.SeedOrganization(t, "Ridge United", "ridge-united-scoping")
	for _, org := range []string{orgA, orgA, orgB} {
		_, err := testDB.DB.Exec(ctx,
			`INSERT INTO events (organization_id, name, type) VALUES ($1, 'Spring Cup', 'tournament')`, org)
		require.NoError(t, err)
	}

	t.Run("member sees own organization", func(t *testing.T) {
		err := asReadonly(t, testDB.SQL, orgA, false, func(tx *sql.Tx) error {
			n, err := countEvents(tx, orgA, orgB)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("no organization sees nothing", func(t *testing.T) {
		err := asReadonly(t, testDB.SQL, "", false, func(tx *sql.Tx) error {
			n, err := countEvents(tx, orgA, orgB)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("global admin sees all", func(t *testing.T) {
		err := asReadonly(t, testDB.SQL, "", true, func(tx *sql.Tx) error {
			n, err := countEvents(tx, orgA, orgB)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestBaseTables_NotReadableByRole(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)

	err := asReadonly(t, testDB.SQL, "", true, func(tx *sql.Tx) error {
		_, err := tx.Exec("SELECT 1 FROM events LIMIT 1")
		return err
	})
	require.Error(t, err)

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr), "expected a Postgres error, got %v", err)
	assert.Equal(t, "42501", pgErr.Code)
}

func TestSecuredViews_SecurityBarrier(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)

	rows, err := testDB.DB.Query(context.Background(),
		`SELECT relname FROM pg_class
		 WHERE relname LIKE 'bi_v_%' AND relkind = 'v'
		   AND NOT ('security_barrier=true' = ANY(COALESCE(reloptions, '{}')))`)
	require.NoError(t, err)
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		missing = append(missing, name)
	}
	require.NoError(t, rows.Err())
	assert.Empty(t, missing, "views without security_barrier")
}
