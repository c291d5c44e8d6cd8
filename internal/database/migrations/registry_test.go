package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_ReturnsExpectedCount(t *testing.T) {
	migrations := AllMigrations()
	assert.Len(t, migrations, 1)
	assert.Equal(t, "001", migrations[0].Version)
}

func TestMigrator_Up_CreatesCoreTables(t *testing.T) {
	db := setupTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())

	require.NoError(t, m.Up(context.Background()))

	migrator := db.Migrator()
	for _, table := range []string{"streams", "segments", "detection_events", "backup_settings"} {
		assert.True(t, migrator.HasTable(table), "expected table %s to exist", table)
	}
}

func TestMigrator_Up_IsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())

	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Up(context.Background()))
}

func TestMigrator_Status_ReportsAppliedMigrations(t *testing.T) {
	db := setupTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	require.NoError(t, m.Up(context.Background()))

	statuses, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Applied)
}
