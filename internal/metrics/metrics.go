// Package metrics records squeezr activity in a Prometheus registry and
// exports it in the node_exporter textfile format.
//
// All metrics are prefixed with "squeezr_". Each Metrics value owns its own
// registry so several can coexist in one process (tests, watch + compress).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/ffmpeg"
	"github.com/jmylchreest/squeezr/internal/media"
	"github.com/jmylchreest/squeezr/internal/scheduler"
	"github.com/jmylchreest/squeezr/internal/search"
)

// Metrics holds every squeezr collector.
type Metrics struct {
	registry *prometheus.Registry

	EncodeAttempts      *prometheus.CounterVec
	EncodePeakRSS       *prometheus.GaugeVec
	EncodeCPUSeconds    *prometheus.CounterVec
	SearchIterations    prometheus.Histogram
	SearchOutcomes      *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	BoundaryEvents      prometheus.Counter
	Compressions        *prometheus.CounterVec
	CompressionDuration *prometheus.HistogramVec
	WatchRuns           prometheus.Counter
	WatchFiles          *prometheus.CounterVec
	WatchLastRun        prometheus.Gauge
}

// New creates a Metrics backed by a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EncodeAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "squeezr_encode_attempts_total",
			Help: "Encoder invocations by codec and result",
		}, []string{"codec", "result"}),
		EncodePeakRSS: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "squeezr_encode_peak_rss_bytes",
			Help: "Peak resident memory of the last encoder process per codec",
		}, []string{"codec"}),
		EncodeCPUSeconds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "squeezr_encode_cpu_seconds_total",
			Help: "CPU time consumed by encoder processes",
		}, []string{"codec"}),
		SearchIterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "squeezr_search_iterations",
			Help:    "Encoder invocations spent per size search",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		}),
		SearchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "squeezr_search_outcomes_total",
			Help: "Size searches by outcome (met, early_exit, unmet)",
		}, []string{"outcome"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "squeezr_cache_lookups_total",
			Help: "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		BoundaryEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "squeezr_boundary_events_total",
			Help: "Quality-change events detected in diagnostic streams",
		}),
		Compressions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "squeezr_compressions_total",
			Help: "Compression runs by mode and status",
		}, []string{"mode", "status"}),
		CompressionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "squeezr_compression_duration_seconds",
			Help:    "Wall time of compression runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"mode"}),
		WatchRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "squeezr_watch_runs_total",
			Help: "Watch directory scans",
		}),
		WatchFiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "squeezr_watch_files_total",
			Help: "Files handled by watch scans by result (compressed, skipped, failed)",
		}, []string{"result"}),
		WatchLastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "squeezr_watch_last_run_timestamp_seconds",
			Help: "Unix time of the last completed watch scan",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes every metric to path atomically. An empty path is a
// no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// AttemptHook returns a scheduler hook counting encoder invocations.
func (m *Metrics) AttemptHook() scheduler.AttemptHook {
	return func(_ scheduler.Job, params encode.ParameterSet, err error) {
		m.EncodeAttempts.WithLabelValues(params.Codec, resultLabel(err)).Inc()
	}
}

// ObserveCacheLookup matches cache.LookupFunc.
func (m *Metrics) ObserveCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveUsage matches ffmpeg.UsageObserver.
func (m *Metrics) ObserveUsage(codec string, u ffmpeg.Usage) {
	if u.Samples == 0 {
		return
	}
	m.EncodePeakRSS.WithLabelValues(codec).Set(float64(u.PeakRSS))
	m.EncodeCPUSeconds.WithLabelValues(codec).Add(u.CPUTime.Seconds())
}

// ObserveSearch records one finished size search.
func (m *Metrics) ObserveSearch(res *search.Result) {
	m.SearchIterations.Observe(float64(res.Iterations))
	switch {
	case res.EarlyExit:
		m.SearchOutcomes.WithLabelValues("early_exit").Inc()
	case res.Met:
		m.SearchOutcomes.WithLabelValues("met").Inc()
	default:
		m.SearchOutcomes.WithLabelValues("unmet").Inc()
	}
}

// ObserveBoundaryEvents counts detected quality changes.
func (m *Metrics) ObserveBoundaryEvents(n int) {
	m.BoundaryEvents.Add(float64(n))
}

// ObserveCompression records one finished compression run.
func (m *Metrics) ObserveCompression(mode media.Mode, status string, elapsed time.Duration) {
	m.Compressions.WithLabelValues(string(mode), status).Inc()
	m.CompressionDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}

// ObserveWatchRun records one watch scan.
func (m *Metrics) ObserveWatchRun(compressed, skipped, failed int, at time.Time) {
	m.WatchRuns.Inc()
	m.WatchFiles.WithLabelValues("compressed").Add(float64(compressed))
	m.WatchFiles.WithLabelValues("skipped").Add(float64(skipped))
	m.WatchFiles.WithLabelValues("failed").Add(float64(failed))
	m.WatchLastRun.Set(float64(at.Unix()))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
