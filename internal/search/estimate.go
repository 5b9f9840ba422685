package search

import "math"

// Estimator defaults.
const (
	DefaultSafetyMargin   = 0.92
	DefaultMinBitrateBits = 100_000
)

// BitrateEstimate is a closed-form starting bitrate for time-based media.
type BitrateEstimate struct {
	BitsPerSecond int64
	// Clamped is set when the floor was hit. The ceiling is then unlikely to
	// be met exactly and callers should not retry expecting success.
	Clamped bool
}

// Kbps returns the estimate in kbit/s, rounded down.
func (e BitrateEstimate) Kbps() int64 {
	return e.BitsPerSecond / 1000
}

// EstimateBitrate splits a byte budget across the duration after reserving
// audio and container overhead:
//
//	videoBudget = target*8*margin - audioBits*duration
//	bitrate     = floor(videoBudget / duration)
func EstimateBitrate(targetBytes int64, durationSeconds float64, audioBits int64, margin float64, floorBits int64) BitrateEstimate {
	if margin <= 0 || margin > 1 {
		margin = DefaultSafetyMargin
	}
	if floorBits <= 0 {
		floorBits = DefaultMinBitrateBits
	}
	if durationSeconds <= 0 || targetBytes <= 0 {
		return BitrateEstimate{BitsPerSecond: floorBits, Clamped: true}
	}

	budget := float64(targetBytes)*8*margin - float64(audioBits)*durationSeconds
	bitrate := int64(math.Floor(budget / durationSeconds))
	if bitrate < floorBits {
		return BitrateEstimate{BitsPerSecond: floorBits, Clamped: true}
	}
	return BitrateEstimate{BitsPerSecond: bitrate}
}

// ratioQuality maps an output/input size ratio (per-mille) to the quality
// index that typically lands near it. Ordered by descending ratio.
var ratioQuality = []struct {
	perMille int
	quality  int
}{
	{900, 95},
	{750, 88},
	{600, 80},
	{450, 70},
	{300, 58},
	{200, 45},
	{100, 30},
	{50, 20},
}

// QualityForRatio turns a desired output/input ratio into a quality-index
// guess for quality-driven encoders.
func QualityForRatio(ratio float64) int64 {
	if ratio <= 0 {
		return DefaultQualityFloor
	}
	pm := int(ratio * 1000)
	for _, rq := range ratioQuality {
		if pm >= rq.perMille {
			return int64(rq.quality)
		}
	}
	return DefaultQualityFloor
}

// QualityForBitrate maps an estimated bitrate back to a quality-index guess,
// relative to the source bitrate.
func QualityForBitrate(estimateBits, sourceBits int64) int64 {
	if sourceBits <= 0 {
		return 0
	}
	return QualityForRatio(float64(estimateBits) / float64(sourceBits))
}
