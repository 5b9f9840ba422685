// Package segment divides an asset timeline into contiguous parts.
package segment

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jmylchreest/squeezr/internal/media"
)

// epsilon is the shortest span treated as a real segment, in seconds.
const epsilon = 1e-6

// ErrNoDuration is returned when the asset has no usable timeline.
var ErrNoDuration = errors.New("duration must be positive")

// PartsFor returns ceil(totalSize/targetSize), at least 1.
func PartsFor(totalSize, targetSize int64) int {
	if targetSize <= 0 || totalSize <= targetSize {
		return 1
	}
	return int((totalSize + targetSize - 1) / targetSize)
}

// PlanUniform splits duration into ceil(totalSize/targetSize) equal parts.
func PlanUniform(totalSize, targetSize int64, duration float64) ([]media.Segment, error) {
	if duration <= 0 {
		return nil, ErrNoDuration
	}
	if targetSize <= 0 {
		return nil, fmt.Errorf("target size must be positive, got %d", targetSize)
	}
	return planParts(PartsFor(totalSize, targetSize), duration), nil
}

func planParts(parts int, duration float64) []media.Segment {
	step := duration / float64(parts)
	points := make([]float64, 0, parts+1)
	for i := 0; i < parts; i++ {
		points = append(points, float64(i)*step)
	}
	points = append(points, duration)
	return fromPoints(points, nil)
}

// PlanAtBoundaries cuts at every event timestamp inside (0, duration).
// With no usable events it falls back to fallbackParts uniform parts.
func PlanAtBoundaries(events []media.QualityChangeEvent, duration float64, fallbackParts int) ([]media.Segment, error) {
	if duration <= 0 {
		return nil, ErrNoDuration
	}

	points := []float64{0, duration}
	byStart := make(map[float64]*media.QualityChangeEvent, len(events))
	for i := range events {
		ts := events[i].Timestamp
		if ts <= epsilon || ts >= duration-epsilon {
			continue
		}
		points = append(points, ts)
		if _, ok := byStart[ts]; !ok {
			byStart[ts] = &events[i]
		}
	}

	if len(points) == 2 {
		return planParts(max(fallbackParts, 1), duration), nil
	}

	sort.Float64s(points)
	return fromPoints(dedupe(points), byStart), nil
}

func dedupe(points []float64) []float64 {
	out := points[:1]
	for _, p := range points[1:] {
		if p-out[len(out)-1] > epsilon {
			out = append(out, p)
		}
	}
	return out
}

// fromPoints builds segments from ascending split points whose first element
// is 0 and last is the duration. A zero-length tail merges into its
// predecessor.
func fromPoints(points []float64, byStart map[float64]*media.QualityChangeEvent) []media.Segment {
	last := points[len(points)-1]
	segs := make([]media.Segment, 0, len(points)-1)
	for i := 0; i < len(points)-1; i++ {
		start := points[i]
		end := math.Min(points[i+1], last)
		if end-start <= epsilon {
			if n := len(segs); n > 0 {
				segs[n-1].End = end
				segs[n-1].Duration = end - segs[n-1].Start
			}
			continue
		}
		seg := media.Segment{
			Index:    len(segs),
			Start:    start,
			End:      end,
			Duration: end - start,
		}
		if ev, ok := byStart[start]; ok {
			seg.Boundary = ev
		}
		segs = append(segs, seg)
	}
	return segs
}

// Check verifies segments are ordered, contiguous, positive and cover
// [0, duration).
func Check(segs []media.Segment, duration float64) error {
	if len(segs) == 0 {
		return errors.New("no segments")
	}
	if math.Abs(segs[0].Start) > epsilon {
		return fmt.Errorf("first segment starts at %.6f", segs[0].Start)
	}
	for i, s := range segs {
		if s.Index != i {
			return fmt.Errorf("segment %d has index %d", i, s.Index)
		}
		if s.End-s.Start <= 0 {
			return fmt.Errorf("segment %d has non-positive duration", i)
		}
		if i > 0 && math.Abs(segs[i-1].End-s.Start) > epsilon {
			return fmt.Errorf("gap or overlap between segments %d and %d", i-1, i)
		}
	}
	if end := segs[len(segs)-1].End; math.Abs(end-duration) > epsilon {
		return fmt.Errorf("last segment ends at %.6f, want %.6f", end, duration)
	}
	return nil
}

// Subdivide splits every segment longer than maxDuration into equal pieces
// no longer than maxDuration. The first piece keeps the original boundary
// event. Indexes are renumbered.
func Subdivide(segs []media.Segment, maxDuration float64) []media.Segment {
	if maxDuration <= epsilon {
		return segs
	}
	out := make([]media.Segment, 0, len(segs))
	for _, s := range segs {
		pieces := int(math.Ceil(s.Duration/maxDuration - epsilon))
		if pieces <= 1 {
			s.Index = len(out)
			out = append(out, s)
			continue
		}
		step := s.Duration / float64(pieces)
		for p := 0; p < pieces; p++ {
			start := s.Start + float64(p)*step
			end := s.Start + float64(p+1)*step
			if p == pieces-1 {
				end = s.End
			}
			piece := media.Segment{Index: len(out), Start: start, End: end, Duration: end - start}
			if p == 0 {
				piece.Boundary = s.Boundary
			}
			out = append(out, piece)
		}
	}
	return out
}
