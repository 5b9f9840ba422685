package compressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/media"
	"github.com/jmylchreest/squeezr/internal/models"
	"github.com/jmylchreest/squeezr/internal/repository"
)

type fakeProber struct {
	assets map[string]media.MediaAsset
	err    error
	calls  int
}

func (p *fakeProber) Probe(_ context.Context, path string) (*media.MediaAsset, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	a, ok := p.assets[path]
	if !ok {
		return nil, &media.ProbeError{Path: path, Err: os.ErrNotExist}
	}
	return &a, nil
}

type sizeFunc func(params encode.ParameterSet, tr *encode.TimeRange) int64

// fakeEncoder writes files of a computed size into a workspace.
type fakeEncoder struct {
	t    *testing.T
	ws   *encode.Workspace
	size sizeFunc
	fail func(params encode.ParameterSet, tr *encode.TimeRange) bool

	mu     sync.Mutex
	calls  map[string]int
	ranges []encode.TimeRange
}

func newFakeEncoder(t *testing.T, size sizeFunc) *fakeEncoder {
	t.Helper()
	ws, err := encode.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return &fakeEncoder{t: t, ws: ws, size: size, calls: map[string]int{}}
}

func (e *fakeEncoder) Encode(_ context.Context, _ string, tr *encode.TimeRange, params encode.ParameterSet) (*encode.Output, error) {
	e.mu.Lock()
	e.calls[params.Codec]++
	if tr != nil {
		e.ranges = append(e.ranges, *tr)
	}
	e.mu.Unlock()

	if e.fail != nil && e.fail(params, tr) {
		return nil, &media.EncodeError{Codec: params.Codec, Err: errors.New("encoder crashed")}
	}
	path := e.ws.TempPath(params.Extension())
	if err := os.WriteFile(path, make([]byte, e.size(params, tr)), 0600); err != nil {
		return nil, &media.EncodeError{Codec: params.Codec, Err: err}
	}
	return encode.NewOutput(path, params)
}

func (e *fakeEncoder) callCount(codec string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[codec]
}

func (e *fakeEncoder) totalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

func (e *fakeEncoder) leftovers() []os.DirEntry {
	entries, err := os.ReadDir(e.ws.Dir())
	require.NoError(e.t, err)
	return entries
}

type fakeChains struct {
	chain []encode.ParameterSet
	err   error
}

func (c *fakeChains) Build(_ *media.MediaAsset, rc encode.RateControl) ([]encode.ParameterSet, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]encode.ParameterSet, len(c.chain))
	for i, p := range c.chain {
		p.RateControl = rc
		out[i] = p
	}
	return out, nil
}

func softwareChain() *fakeChains {
	return &fakeChains{chain: []encode.ParameterSet{{Name: "software", Codec: "libx264", Format: "mp4"}}}
}

// fakeHistory keeps created records in memory. Methods other than Create
// are not used by the compressor.
type fakeHistory struct {
	repository.HistoryRepository

	mu      sync.Mutex
	records []*models.CompressionRecord
}

func (h *fakeHistory) Create(_ context.Context, rec *models.CompressionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

type fakeDiagnostics struct {
	lines []string
}

func (d *fakeDiagnostics) Diagnostics(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(strings.Join(d.lines, "\n"))), nil
}

func diagLine(seconds float64, kbps int, res string) string {
	h := int(seconds) / 3600
	m := int(seconds) % 3600 / 60
	s := seconds - float64(h*3600+m*60)
	return fmt.Sprintf("frame=  100 fps=25 time=%02d:%02d:%05.2f bitrate: %d kbits/s %s", h, m, s, kbps, res)
}

func writeSource(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := dir + "/" + name
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func videoAsset(path string, size int64, duration float64) media.MediaAsset {
	return media.MediaAsset{
		Path:       path,
		Kind:       media.KindVideo,
		Format:     "mp4",
		ByteSize:   size,
		Duration:   duration,
		VideoCodec: "h264",
		ModTime:    time.Unix(1_700_000_000, 0),
	}
}
