package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/squeezr/internal/models"
)

func setupHistoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.CompressionRecord{}, &models.CompressionSegment{}))
	return db
}

func newRecord(fingerprint string, status models.CompressionStatus, created time.Time) *models.CompressionRecord {
	rec := &models.CompressionRecord{
		SourcePath:   "/media/in/clip.mp4",
		Fingerprint:  fingerprint,
		Mode:         "single",
		OriginalSize: 10_000,
		TargetSize:   5_000,
		ResultSize:   4_800,
		Ratio:        0.96,
		Parameter:    "q72",
		Status:       status,
	}
	rec.CreatedAt = created
	return rec
}

func TestHistoryRepo_Create(t *testing.T) {
	repo := NewHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()

	rec := newRecord("fp-1", models.CompressionStatusMet, time.Now())
	rec.Mode = "segmented"
	rec.Parts = 2
	rec.Segments = []models.CompressionSegment{
		{PartIndex: 1, StartSeconds: 30, EndSeconds: 60, Size: 2_400, OutputRef: "clip.part002.mp4"},
		{PartIndex: 0, StartSeconds: 0, EndSeconds: 30, Size: 2_400, OutputRef: "clip.part001.mp4", BoundaryKind: "bitrate_change"},
	}

	require.NoError(t, repo.Create(ctx, rec))
	assert.False(t, rec.ID.IsZero())

	found, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "segmented", found.Mode)
	require.Len(t, found.Segments, 2)
	assert.Equal(t, 0, found.Segments[0].PartIndex)
	assert.Equal(t, "clip.part001.mp4", found.Segments[0].OutputRef)
	assert.Equal(t, rec.ID, found.Segments[1].RecordID)

	t.Run("invalid_record_is_rejected", func(t *testing.T) {
		err := repo.Create(ctx, &models.CompressionRecord{Fingerprint: "fp", TargetSize: 1, Status: models.CompressionStatusMet})
		assert.ErrorIs(t, err, models.ErrSourcePathRequired)
	})

	t.Run("missing_id", func(t *testing.T) {
		found, err := repo.GetByID(ctx, models.NewULID())
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestHistoryRepo_ListRecent(t *testing.T) {
	repo := NewHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, fp := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, newRecord(fp, models.CompressionStatusMet, base.Add(time.Duration(i)*time.Minute))))
	}

	recs, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].Fingerprint)
	assert.Equal(t, "b", recs[1].Fingerprint)

	recs, err = repo.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestHistoryRepo_FindByFingerprint(t *testing.T) {
	repo := NewHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, newRecord("fp", models.CompressionStatusFailed, base)))
	require.NoError(t, repo.Create(ctx, newRecord("fp", models.CompressionStatusUnmet, base.Add(time.Minute))))

	rec, err := repo.FindByFingerprint(ctx, "fp")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.CompressionStatusUnmet, rec.Status)

	rec, err = repo.FindByFingerprint(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHistoryRepo_HasSucceeded(t *testing.T) {
	repo := NewHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRecord("failed-only", models.CompressionStatusFailed, time.Now())))
	require.NoError(t, repo.Create(ctx, newRecord("copied", models.CompressionStatusCopied, time.Now())))

	tests := []struct {
		fingerprint string
		want        bool
	}{
		{"failed-only", false},
		{"copied", true},
		{"unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.fingerprint, func(t *testing.T) {
			ok, err := repo.HasSucceeded(ctx, tt.fingerprint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestHistoryRepo_DeleteOlderThan(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewHistoryRepository(db)
	ctx := context.Background()
	now := time.Now()

	old := newRecord("old", models.CompressionStatusMet, now.Add(-48*time.Hour))
	old.Segments = []models.CompressionSegment{{PartIndex: 0, Size: 1, OutputRef: "x"}}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, newRecord("new", models.CompressionStatusMet, now)))

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recs, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].Fingerprint)

	var segments int64
	require.NoError(t, db.Model(&models.CompressionSegment{}).Count(&segments).Error)
	assert.Zero(t, segments)
}
