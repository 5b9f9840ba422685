package compressor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmylchreest/squeezr/internal/media"
	"github.com/jmylchreest/squeezr/internal/models"
)

// finish reports a run to the observer and the history store. asset is nil
// when probing failed; such runs have no fingerprint and are not recorded.
func (s *Service) finish(ctx context.Context, logger *slog.Logger, req media.CompressionRequest, mode media.Mode, asset *media.MediaAsset, res *Result, runErr error, elapsed time.Duration) {
	status := res.Status()
	if s.observer != nil {
		s.observer.ObserveCompression(mode, string(status), elapsed)
	}
	if s.history == nil || asset == nil {
		return
	}

	rec := newRecord(req, mode, asset, res, runErr, elapsed)
	if err := s.history.Create(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to record compression history", slog.String("error", err.Error()))
	}
}

func newRecord(req media.CompressionRequest, mode media.Mode, asset *media.MediaAsset, res *Result, runErr error, elapsed time.Duration) *models.CompressionRecord {
	rec := &models.CompressionRecord{
		SourcePath:   asset.Path,
		Fingerprint:  asset.Fingerprint(),
		Kind:         string(asset.Kind),
		Mode:         string(mode),
		Format:       asset.Format,
		OriginalSize: asset.ByteSize,
		TargetSize:   req.TargetSize,
		Status:       res.Status(),
		DurationMs:   elapsed.Milliseconds(),
	}

	if runErr != nil {
		rec.Status = models.CompressionStatusFailed
		rec.Error = runErr.Error()
		var se *media.StageError
		if errors.As(runErr, &se) {
			rec.Stage = se.Stage
		}
		return rec
	}

	switch {
	case res.Single != nil:
		r := res.Single
		rec.ResultSize = r.ResultSize
		rec.Ratio = r.RatioAchieved
		rec.Parameter = r.Parameter
		rec.Encoder = r.Encoder
		rec.Iterations = r.Iterations
		rec.Parts = 1
	case res.Segmented != nil:
		rec.Parts = res.Segmented.TotalParts
		var largest int64
		for _, seg := range res.Segmented.Segments {
			rec.ResultSize += seg.Size
			largest = max(largest, seg.Size)
			part := models.CompressionSegment{
				PartIndex:    seg.Index,
				StartSeconds: seg.Start,
				EndSeconds:   seg.End,
				Size:         seg.Size,
				OutputRef:    seg.OutputRef,
				Parameter:    seg.Parameter,
			}
			if seg.Boundary != nil {
				part.BoundaryKind = string(seg.Boundary.Kind)
			}
			rec.Segments = append(rec.Segments, part)
		}
		// Each part has its own ceiling; the worst part decides the ratio.
		rec.Ratio = float64(largest) / float64(req.TargetSize)
	}
	return rec
}
