package compressor

import (
	"time"

	"github.com/jmylchreest/squeezr/internal/media"
	"github.com/jmylchreest/squeezr/internal/models"
)

// Result is the payload returned for one compression. Exactly one of Single
// and Segmented is set.
type Result struct {
	Mode      media.Mode        `json:"mode"`
	Asset     *media.MediaAsset `json:"asset"`
	Single    *SingleResult     `json:"single,omitempty"`
	Segmented *SegmentedResult  `json:"segmented,omitempty"`
	Elapsed   time.Duration     `json:"elapsed_ns"`
}

// SingleResult describes a whole-asset output.
type SingleResult struct {
	// Parameter is "source" for copy-through, otherwise a label like "q72"
	// or "1450k".
	Parameter     string  `json:"parameter"`
	OriginalSize  int64   `json:"original_size"`
	ResultSize    int64   `json:"result_size"`
	RatioAchieved float64 `json:"ratio_achieved"`
	OutputRef     string  `json:"output_ref"`
	Iterations    int     `json:"iterations"`
	Met           bool    `json:"met"`
	Encoder       string  `json:"encoder,omitempty"`
}

// SegmentedResult describes the parts of a segmented compression, in
// planned order.
type SegmentedResult struct {
	TotalParts int             `json:"total_parts"`
	Met        bool            `json:"met"`
	Segments   []SegmentResult `json:"segments"`
}

// SegmentResult is one encoded part.
type SegmentResult struct {
	Index     int                       `json:"index"`
	Start     float64                   `json:"start"`
	End       float64                   `json:"end"`
	Size      int64                     `json:"size"`
	OutputRef string                    `json:"output_ref"`
	Boundary  *media.QualityChangeEvent `json:"boundary_event,omitempty"`
	Parameter string                    `json:"parameter"`
	Met       bool                      `json:"met"`
	Encoder   string                    `json:"encoder,omitempty"`
}

// Status summarizes the result for history and metrics.
func (r *Result) Status() models.CompressionStatus {
	switch {
	case r == nil:
		return models.CompressionStatusFailed
	case r.copied():
		return models.CompressionStatusCopied
	case r.Single != nil && r.Single.Met, r.Segmented != nil && r.Segmented.Met:
		return models.CompressionStatusMet
	default:
		return models.CompressionStatusUnmet
	}
}

func (r *Result) copied() bool {
	if r.Single != nil {
		return r.Single.Parameter == ParameterSource
	}
	return r.Segmented != nil && r.Segmented.TotalParts == 1 &&
		r.Segmented.Segments[0].Parameter == ParameterSource
}

// OutputRefs lists every output path in order.
func (r *Result) OutputRefs() []string {
	switch {
	case r.Single != nil:
		return []string{r.Single.OutputRef}
	case r.Segmented != nil:
		refs := make([]string, len(r.Segmented.Segments))
		for i, s := range r.Segmented.Segments {
			refs[i] = s.OutputRef
		}
		return refs
	}
	return nil
}
