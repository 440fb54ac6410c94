package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func tableColumns(t *testing.T, db *sql.DB, table string) map[string]bool {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	require.NoError(t, err)
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid, notnull, pk int
		var name, typ string
		var dflt sql.NullString
		require.NoError(t, rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk))
		columns[name] = true
	}
	require.NoError(t, rows.Err())
	return columns
}

func TestRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))

	applied, err := GetApplied(ctx, db)
	require.NoError(t, err)
	require.Len(t, applied, 3)
	require.Equal(t, "001_profiles", applied[0].ID)
	require.False(t, applied[0].AppliedAt.IsZero())

	pending, err := Pending(ctx, db)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRun_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))
	require.NoError(t, Run(ctx, db))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+versionTable).Scan(&count))

	applied, err := GetApplied(ctx, db)
	require.NoError(t, err)
	require.Len(t, applied, count)
}

func TestPending_FreshDatabase(t *testing.T) {
	pending, err := Pending(context.Background(), testDB(t))
	require.NoError(t, err)
	require.Equal(t, []string{"001_profiles", "002_schedules", "003_firings"}, pending)
}

func TestSchema(t *testing.T) {
	db := testDB(t)
	require.NoError(t, Run(context.Background(), db))

	expected := map[string][]string{
		"profiles": {
			"id", "user_id", "title", "description", "defined_terms", "frequency",
			"date_str", "cron_expression", "timezone", "version", "total_documents",
			"active_documents", "inactive_documents", "status", "created_at", "updated_at",
		},
		"documents": {"id", "profile_id", "content", "status", "created_at", "processed_at"},
		"schedules": {
			"id", "profile_id", "expression", "timezone", "args", "enabled", "next_run",
			"last_run", "last_status", "run_count", "version", "created_at", "updated_at",
		},
		"firings": {
			"id", "trigger_id", "scheduled_at", "started_at", "finished_at", "status",
			"error", "duration_ms",
		},
	}

	for table, cols := range expected {
		got := tableColumns(t, db, table)
		for _, col := range cols {
			require.True(t, got[col], "%s missing column %s", table, col)
		}
	}

	var indexes int
	require.NoError(t, db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name IN ('idx_schedules_next_run', 'idx_firings_trigger')
	`).Scan(&indexes))
	require.Equal(t, 2, indexes)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(stripComments(`
-- leading comment
CREATE TABLE a (x TEXT DEFAULT 'a;b');
-- between
INSERT INTO a VALUES ('it''s');
`))
	require.Equal(t, []string{
		"CREATE TABLE a (x TEXT DEFAULT 'a;b')",
		"INSERT INTO a VALUES ('it''s')",
	}, stmts)
}
