package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/squeezr/internal/models"
)

// AllMigrations returns every migration in version order.
//   - 001: compression_records
//   - 002: compression_segments, one row per segmented output part
func AllMigrations() []Migration {
	return []Migration{
		migration001CompressionRecords(),
		migration002CompressionSegments(),
	}
}

func migration001CompressionRecords() Migration {
	return Migration{
		Version:     "001",
		Description: "Create compression_records table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.CompressionRecord{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.CompressionRecord{})
		},
	}
}

func migration002CompressionSegments() Migration {
	return Migration{
		Version:     "002",
		Description: "Create compression_segments table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.CompressionSegment{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.CompressionSegment{})
		},
	}
}
