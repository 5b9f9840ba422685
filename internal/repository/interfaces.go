// Package repository defines data access for the squeezr history store.
// Callers depend on the interfaces so tests can swap in fakes.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/squeezr/internal/models"
)

// HistoryRepository persists compression records.
type HistoryRepository interface {
	// Create stores a record together with its segments.
	Create(ctx context.Context, record *models.CompressionRecord) error
	// GetByID retrieves a record with segments, or nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.CompressionRecord, error)
	// ListRecent returns the newest records first.
	ListRecent(ctx context.Context, limit int) ([]*models.CompressionRecord, error)
	// FindByFingerprint returns the newest record for a fingerprint, or nil.
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.CompressionRecord, error)
	// HasSucceeded reports whether a fingerprint already produced output.
	HasSucceeded(ctx context.Context, fingerprint string) (bool, error)
	// DeleteOlderThan removes records created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
