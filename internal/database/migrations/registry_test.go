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
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newMigrator(t *testing.T) (*Migrator, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	return m, db
}

func TestAllMigrations_VersionsAreUniqueAndOrdered(t *testing.T) {
	migrations := AllMigrations()
	require.Len(t, migrations, 2)

	seen := make(map[string]bool)
	for i, m := range migrations {
		assert.False(t, seen[m.Version], "duplicate version %s", m.Version)
		seen[m.Version] = true
		assert.NotNil(t, m.Up)
		assert.NotNil(t, m.Down)
		if i > 0 {
			assert.Less(t, migrations[i-1].Version, m.Version)
		}
	}
}

func TestMigrator_Up(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))
	assert.True(t, db.Migrator().HasTable("schema_migrations"))
	assert.True(t, db.Migrator().HasTable("compression_records"))
	assert.True(t, db.Migrator().HasTable("compression_segments"))

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, m.Up(ctx))
		var count int64
		require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})
}

func TestMigrator_Status(t *testing.T) {
	m, _ := newMigrator(t)
	ctx := context.Background()

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	require.NoError(t, m.Up(ctx))
	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_Down(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable("compression_segments"))
	assert.True(t, db.Migrator().HasTable("compression_records"))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable("compression_records"))

	t.Run("nothing_left", func(t *testing.T) {
		assert.NoError(t, m.Down(ctx))
	})

	t.Run("reapply", func(t *testing.T) {
		require.NoError(t, m.Up(ctx))
		assert.True(t, db.Migrator().HasTable("compression_segments"))
	})
}

func TestMigrator_RegisterAllSorts(t *testing.T) {
	m := NewMigrator(setupTestDB(t), nil)
	m.RegisterAll([]Migration{{Version: "003"}, {Version: "001"}, {Version: "002"}})
	versions := make([]string, len(m.migrations))
	for i, mig := range m.migrations {
		versions[i] = mig.Version
	}
	assert.Equal(t, []string{"001", "002", "003"}, versions)
}
