package models

import (
	"errors"
	"fmt"
)

// ErrValidation reports a bad field on a model.
type ErrValidation struct {
	Field   string
	Message string
}

func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrSourcePathRequired indicates a record without a source file.
	ErrSourcePathRequired = errors.New("source path is required")

	// ErrFingerprintRequired indicates a record without a fingerprint.
	ErrFingerprintRequired = errors.New("fingerprint is required")
)
