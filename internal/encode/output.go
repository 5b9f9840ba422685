package encode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Output is a file produced by one encode attempt. It is owned by the attempt
// until either Release (discard) or Persist (keep) is called.
type Output struct {
	Path   string       `json:"path"`
	Size   int64        `json:"size"`
	Params ParameterSet `json:"params"`

	once sync.Once
}

// NewOutput stats path and wraps it as an Output.
func NewOutput(path string, params ParameterSet) (*Output, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}
	return &Output{Path: path, Size: info.Size(), Params: params}, nil
}

// Release removes the file. Safe to call more than once and on nil.
func (o *Output) Release() error {
	if o == nil {
		return nil
	}
	var err error
	o.once.Do(func() {
		if rmErr := os.Remove(o.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
	})
	return err
}

// Persist moves the output to dst, falling back to copy+remove across
// filesystems. The Output points at dst afterwards.
func (o *Output) Persist(dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.Rename(o.Path, dst); err == nil {
		o.Path = dst
		return nil
	}
	if err := CopyFile(o.Path, dst); err != nil {
		return err
	}
	_ = os.Remove(o.Path)
	o.Path = dst
	return nil
}

// CopyFile copies src to dst byte for byte.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copying: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("closing destination: %w", err)
	}
	return nil
}

// AttemptPrefix starts the name of every scratch file a Workspace hands out.
const AttemptPrefix = "attempt-"

// Workspace hands out unique scratch paths for encode attempts.
type Workspace struct {
	dir string
}

// NewWorkspace creates dir if needed.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &Workspace{dir: abs}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// TempPath returns a fresh, not-yet-created path with the given extension.
func (w *Workspace) TempPath(ext string) string {
	return filepath.Join(w.dir, AttemptPrefix+uuid.NewString()+ext)
}
