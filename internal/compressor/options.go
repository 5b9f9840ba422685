package compressor

import (
	"github.com/jmylchreest/squeezr/internal/config"
	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/search"
)

// Options tune a Service.
type Options struct {
	// RateControl drives video searches. Audio is always bitrate driven and
	// images always quality driven.
	RateControl   encode.RateControl
	MaxIterations int
	AcceptRatio   float64
	GuessWindow   int64

	QualityDomain search.Domain
	BitrateDomain search.Domain // kbps
	AudioDomain   search.Domain // kbps
	// FormatDomains overrides the domain for a container format.
	FormatDomains map[string]search.Domain

	SafetyMargin     float64
	MinBitrateKbps   int64
	AudioBitrateKbps int64

	// MaxConcurrent caps segment encodes; 0 derives it from the CPU count.
	MaxConcurrent int
	StreamCopy    bool
	Subdivide     bool
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		RateControl:      encode.RateQuality,
		MaxIterations:    search.DefaultMaxIterations,
		AcceptRatio:      search.DefaultAcceptRatio,
		GuessWindow:      search.DefaultGuessWindow,
		QualityDomain:    search.QualityDomain,
		BitrateDomain:    search.Domain{Floor: 100, Ceiling: 50_000},
		AudioDomain:      search.Domain{Floor: 32, Ceiling: 320},
		SafetyMargin:     search.DefaultSafetyMargin,
		MinBitrateKbps:   search.DefaultMinBitrateBits / 1000,
		AudioBitrateKbps: 128,
	}
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		RateControl:      encode.RateControl(cfg.Search.RateControl),
		MaxIterations:    cfg.Search.MaxIterations,
		AcceptRatio:      cfg.Search.AcceptRatio,
		GuessWindow:      cfg.Search.GuessWindow,
		QualityDomain:    domainOf(cfg.Search.Quality),
		BitrateDomain:    domainOf(cfg.Search.Bitrate),
		AudioDomain:      domainOf(cfg.Search.Audio),
		SafetyMargin:     cfg.Estimate.SafetyMargin,
		MinBitrateKbps:   cfg.Estimate.MinBitrateKbps,
		AudioBitrateKbps: cfg.Estimate.AudioBitrateKbps,
		MaxConcurrent:    cfg.Scheduler.MaxConcurrent,
		StreamCopy:       cfg.Segment.StreamCopy,
		Subdivide:        cfg.Segment.Subdivide,
	}
	if len(cfg.Search.Formats) > 0 {
		opts.FormatDomains = make(map[string]search.Domain, len(cfg.Search.Formats))
		for format, d := range cfg.Search.Formats {
			opts.FormatDomains[format] = domainOf(d)
		}
	}
	return opts
}

func domainOf(d config.DomainConfig) search.Domain {
	return search.Domain{Floor: d.Floor, Ceiling: d.Ceiling}
}
