package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/squeezr/internal/models"
)

// DefaultListLimit caps ListRecent when no limit is given.
const DefaultListLimit = 20

// historyRepo implements HistoryRepository using GORM.
type historyRepo struct {
	db *gorm.DB
}

// NewHistoryRepository creates a HistoryRepository.
func NewHistoryRepository(db *gorm.DB) *historyRepo {
	return &historyRepo{db: db}
}

// Create inserts the record and its segments in one transaction.
func (r *historyRepo) Create(ctx context.Context, record *models.CompressionRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
	if err != nil {
		return fmt.Errorf("creating compression record: %w", err)
	}
	return nil
}

// GetByID retrieves a record with its segments.
func (r *historyRepo) GetByID(ctx context.Context, id models.ULID) (*models.CompressionRecord, error) {
	var rec models.CompressionRecord
	err := r.db.WithContext(ctx).
		Preload("Segments", orderSegments).
		Where("id = ?", id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting compression record: %w", err)
	}
	return &rec, nil
}

// ListRecent returns up to limit records, newest first.
func (r *historyRepo) ListRecent(ctx context.Context, limit int) ([]*models.CompressionRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var recs []*models.CompressionRecord
	err := r.db.WithContext(ctx).
		Preload("Segments", orderSegments).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing compression records: %w", err)
	}
	return recs, nil
}

// FindByFingerprint returns the newest record for fingerprint.
func (r *historyRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*models.CompressionRecord, error) {
	var rec models.CompressionRecord
	err := r.db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		Order("created_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding compression record: %w", err)
	}
	return &rec, nil
}

// HasSucceeded reports whether any run for fingerprint produced output.
func (r *historyRepo) HasSucceeded(ctx context.Context, fingerprint string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CompressionRecord{}).
		Where("fingerprint = ? AND status <> ?", fingerprint, models.CompressionStatusFailed).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking compression history: %w", err)
	}
	return count > 0, nil
}

// DeleteOlderThan removes old records and their segments.
func (r *historyRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.CompressionRecord{}).Select("id").Where("created_at < ?", cutoff)
		if err := tx.Where("record_id IN (?)", old).Delete(&models.CompressionSegment{}).Error; err != nil {
			return err
		}
		res := tx.Where("created_at < ?", cutoff).Delete(&models.CompressionRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("pruning compression records: %w", err)
	}
	return deleted, nil
}

func orderSegments(db *gorm.DB) *gorm.DB {
	return db.Order("part_index ASC")
}
