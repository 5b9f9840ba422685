package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
)

// HWAccelType is an ffmpeg hardware acceleration method.
type HWAccelType string

const (
	HWAccelNone         HWAccelType = "none"
	HWAccelCUDA         HWAccelType = "cuda"
	HWAccelQSV          HWAccelType = "qsv"
	HWAccelVAAPI        HWAccelType = "vaapi"
	HWAccelVideoToolbox HWAccelType = "videotoolbox"
)

// DefaultHWAccelPriority is the order hardware encoders are preferred in.
var DefaultHWAccelPriority = []HWAccelType{
	HWAccelCUDA,
	HWAccelQSV,
	HWAccelVideoToolbox,
	HWAccelVAAPI,
}

var hwEncoderSuffix = map[HWAccelType]string{
	HWAccelCUDA:         "_nvenc",
	HWAccelQSV:          "_qsv",
	HWAccelVAAPI:        "_vaapi",
	HWAccelVideoToolbox: "_videotoolbox",
}

// HardwareEncoder returns the encoder name for a codec family on an
// accelerator, e.g. ("h264", cuda) -> "h264_nvenc".
func HardwareEncoder(family string, accel HWAccelType) (string, bool) {
	suffix, ok := hwEncoderSuffix[accel]
	if !ok {
		return "", false
	}
	return family + suffix, true
}

// AccelForEncoder maps an encoder name back to its accelerator.
func AccelForEncoder(encoder string) HWAccelType {
	for accel, suffix := range hwEncoderSuffix {
		if len(encoder) > len(suffix) && encoder[len(encoder)-len(suffix):] == suffix {
			return accel
		}
	}
	return HWAccelNone
}

// Quality index bounds used by the search; CRF-style scales are mapped
// linearly onto them.
const (
	qualityMin = 10
	qualityMax = 100
	crfBest    = 18
	crfWorst   = 51
)

// QualityToCRF maps a quality index in [10,100] to a CRF/QP value in
// [51,18]; higher quality means a lower CRF.
func QualityToCRF(q int) int {
	q = max(qualityMin, min(q, qualityMax))
	span := float64(crfWorst - crfBest)
	return int(math.Round(crfWorst - float64(q-qualityMin)*span/float64(qualityMax-qualityMin)))
}

// qualityArgs returns the rate control arguments for a quality-driven
// encode on the given encoder.
func qualityArgs(encoder string, q int) []string {
	crf := strconv.Itoa(QualityToCRF(q))
	switch AccelForEncoder(encoder) {
	case HWAccelCUDA:
		return []string{"-rc", "vbr", "-cq", crf, "-b:v", "0"}
	case HWAccelQSV:
		return []string{"-global_quality", crf}
	case HWAccelVAAPI:
		return []string{"-rc_mode", "CQP", "-qp", crf}
	case HWAccelVideoToolbox:
		// VideoToolbox takes 1..100 directly.
		return []string{"-q:v", strconv.Itoa(max(1, min(q, 100)))}
	}
	switch encoder {
	case "libvpx-vp9", "libvpx":
		return []string{"-crf", fmt.Sprint(max(4, min(QualityToCRF(q)+12, 63))), "-b:v", "0"}
	case "libmp3lame":
		// -q:a runs 0 (best) to 9.
		return []string{"-q:a", strconv.Itoa(9 - (max(qualityMin, min(q, qualityMax))-qualityMin)*9/90)}
	default:
		return []string{"-crf", crf}
	}
}

// hwDeviceArgs returns global arguments that initialise the device an
// accelerated encoder needs.
func hwDeviceArgs(accel HWAccelType, device string) []string {
	switch accel {
	case HWAccelVAAPI:
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		return []string{"-vaapi_device", device}
	case HWAccelQSV:
		return []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"}
	default:
		return nil
	}
}

// hwUploadFilter is the filter chain that moves frames onto the device.
func hwUploadFilter(accel HWAccelType) string {
	switch accel {
	case HWAccelVAAPI:
		return "format=nv12,hwupload"
	case HWAccelQSV:
		return "format=nv12,hwupload=extra_hw_frames=64"
	default:
		return ""
	}
}
