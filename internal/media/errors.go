package media

import (
	"errors"
	"fmt"
)

// Pipeline stages reported on fatal errors.
const (
	StageProbe  = "probe"
	StageSearch = "search"
	StageEncode = "encode"
	StagePlan   = "plan"
	StageOutput = "output"
)

// ErrUnsupported is returned when no encoder handles an asset kind.
var ErrUnsupported = errors.New("unsupported media kind")

// ProbeError means an asset could not be read or is not a recognized container.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probing %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// EncodeError means one encoder configuration failed.
type EncodeError struct {
	Codec string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoder %s: %v", e.Codec, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// StageError tags a fatal error with the pipeline stage it came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// WrapStage returns nil for a nil error, otherwise a *StageError.
// An error already carrying a stage is returned unchanged.
func WrapStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
