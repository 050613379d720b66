package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screentime/migrations"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Initialize(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDatabaseIntegration tests the complete database lifecycle
func TestDatabaseIntegration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applied, err := db.RunMigrations(ctx, migrations.FS)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial_schema.sql"}, applied)

	tables := []string{"users", "families", "family_members", "children", "app_categorizations",
		"family_settings", "parent_activities", "conflicts"}
	for _, table := range tables {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s not found", table)
	}

	// A second run is a no-op.
	applied, err = db.RunMigrations(ctx, migrations.FS)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

// TestDatabaseTransactions tests transaction support
func TestDatabaseTransactions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.RunMigrations(ctx, migrations.FS)
	require.NoError(t, err)

	now := time.Now().UTC()
	insert := "INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"

	err = db.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, insert, "u1", "one@example.com", "One", now, now)
		return err
	})
	require.NoError(t, err)

	err = db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, insert, "u2", "two@example.com", "Two", now, now); err != nil {
			return err
		}
		// duplicate key aborts the whole transaction
		_, err := tx.ExecContext(ctx, insert, "u1", "dup@example.com", "Dup", now, now)
		return err
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpsertFamilySettingSQLite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.RunMigrations(ctx, migrations.FS)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, "INSERT INTO families (id, name, owner_user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		"fam", "Fam", "alice", now, now)
	require.NoError(t, err)

	for _, v := range []string{"60", "90"} {
		_, err := db.ExecContext(ctx, db.Dialect.UpsertFamilySettingQuery(), "fam", "dailyLimit", v, now, "alice")
		require.NoError(t, err)
	}

	var value string
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT setting_value FROM family_settings WHERE family_id = ? AND setting_key = ?", "fam", "dailyLimit").Scan(&value))
	assert.Equal(t, "90", value)
}

// TestConcurrentAccess tests concurrent database access
func TestConcurrentAccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.RunMigrations(ctx, migrations.FS)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, "INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		"concurrent", "concurrent@example.com", "Concurrent", now, now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var name string
			err := db.QueryRowContext(ctx, "SELECT name FROM users WHERE email = ?", "concurrent@example.com").Scan(&name)
			assert.NoError(t, err)
			assert.Equal(t, "Concurrent", name)
		}()
	}
	wg.Wait()
}
