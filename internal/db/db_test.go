package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer sqlDB.Close()

	require.NoError(t, MigrateSQLite(ctx, sqlDB))
	// replaying is harmless
	require.NoError(t, MigrateSQLite(ctx, sqlDB))

	for _, table := range []string{"topics", "users", "slots", "appointments", "event_logs"} {
		var name string
		err := sqlDB.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	var fk int
	require.NoError(t, sqlDB.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestSQLiteSlotUniqueness(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer sqlDB.Close()
	require.NoError(t, MigrateSQLite(ctx, sqlDB))

	insert := `INSERT INTO slots (id, consultant_id, slot_date, start_time, end_time, available, created_at, updated_at)
		VALUES (?, ?, '2025-05-01', '09:00', '10:00', 1, 'x', 'x')`

	_, err = sqlDB.ExecContext(ctx, insert, "s1", "c1")
	require.NoError(t, err)
	_, err = sqlDB.ExecContext(ctx, insert, "s2", "c1")
	assert.ErrorContains(t, err, "UNIQUE constraint failed")

	// pool slots carry no consultant and may overlap
	_, err = sqlDB.ExecContext(ctx, insert, "s3", nil)
	require.NoError(t, err)
	_, err = sqlDB.ExecContext(ctx, insert, "s4", nil)
	require.NoError(t, err)
}
