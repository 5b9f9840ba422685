package models

import (
	"strings"

	"gorm.io/gorm"
)

// CompressionStatus is the outcome of one compression run.
type CompressionStatus string

const (
	// CompressionStatusMet means every output fits under the ceiling.
	CompressionStatusMet CompressionStatus = "met"
	// CompressionStatusUnmet means an output was produced but is over the
	// ceiling, because the encoder floor was reached.
	CompressionStatusUnmet CompressionStatus = "unmet"
	// CompressionStatusCopied means the source already fit and was copied.
	CompressionStatusCopied CompressionStatus = "copied"
	// CompressionStatusFailed means no output was produced.
	CompressionStatusFailed CompressionStatus = "failed"
)

// CompressionRecord is the history entry for one compression run.
type CompressionRecord struct {
	BaseModel

	SourcePath   string            `gorm:"not null" json:"source_path"`
	Fingerprint  string            `gorm:"index;not null" json:"fingerprint"`
	Kind         string            `gorm:"size:16" json:"kind,omitempty"`
	Mode         string            `gorm:"size:16;not null" json:"mode"`
	Format       string            `gorm:"size:32" json:"format,omitempty"`
	OriginalSize int64             `json:"original_size"`
	TargetSize   int64             `gorm:"not null" json:"target_size"`
	ResultSize   int64             `json:"result_size"`
	Ratio        float64           `json:"ratio"`
	Parameter    string            `gorm:"size:32" json:"parameter,omitempty"`
	Encoder      string            `gorm:"size:64" json:"encoder,omitempty"`
	Iterations   int               `json:"iterations"`
	Parts        int               `json:"parts"`
	Status       CompressionStatus `gorm:"size:16;index;not null" json:"status"`
	Stage        string            `gorm:"size:16" json:"stage,omitempty"`
	Error        string            `json:"error,omitempty"`
	DurationMs   int64             `json:"duration_ms"`

	Segments []CompressionSegment `gorm:"foreignKey:RecordID" json:"segments,omitempty"`
}

// TableName returns the table name.
func (CompressionRecord) TableName() string {
	return "compression_records"
}

// Validate checks required fields.
func (r *CompressionRecord) Validate() error {
	if strings.TrimSpace(r.SourcePath) == "" {
		return ErrSourcePathRequired
	}
	if r.Fingerprint == "" {
		return ErrFingerprintRequired
	}
	if r.TargetSize <= 0 {
		return ErrValidation{Field: "target_size", Message: "must be positive"}
	}
	switch r.Status {
	case CompressionStatusMet, CompressionStatusUnmet, CompressionStatusCopied, CompressionStatusFailed:
	default:
		return ErrValidation{Field: "status", Message: "unknown status " + string(r.Status)}
	}
	return nil
}

// BeforeCreate assigns an ID and validates the record.
func (r *CompressionRecord) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return r.Validate()
}

// Succeeded reports whether the run produced output.
func (r *CompressionRecord) Succeeded() bool {
	return r.Status != CompressionStatusFailed
}

// CompressionSegment is one output part of a segmented run.
type CompressionSegment struct {
	ID           uint    `gorm:"primarykey" json:"-"`
	RecordID     ULID    `gorm:"type:varchar(26);index;not null" json:"-"`
	PartIndex    int     `gorm:"not null" json:"index"`
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
	Size         int64   `json:"size"`
	OutputRef    string  `json:"output_ref"`
	Parameter    string  `gorm:"size:32" json:"parameter,omitempty"`
	BoundaryKind string  `gorm:"size:32" json:"boundary_kind,omitempty"`
}

// TableName returns the table name.
func (CompressionSegment) TableName() string {
	return "compression_segments"
}
