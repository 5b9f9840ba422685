package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage summarises the resources one ffmpeg process consumed.
type Usage struct {
	PID      int           `json:"pid"`
	PeakRSS  uint64        `json:"peak_rss_bytes"`
	CPUTime  time.Duration `json:"cpu_time"`
	Samples  int           `json:"samples"`
	WallTime time.Duration `json:"wall_time"`
}

// UsageObserver receives the final usage of each encode process.
type UsageObserver func(codec string, u Usage)

// ProcessMonitor samples a running process until stopped.
type ProcessMonitor struct {
	pid      int
	interval time.Duration
	started  time.Time

	mu    sync.Mutex
	usage Usage

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessMonitor creates a monitor for pid sampling every interval.
func NewProcessMonitor(pid int, interval time.Duration) *ProcessMonitor {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ProcessMonitor{
		pid:      pid,
		interval: interval,
		usage:    Usage{PID: pid},
	}
}

// Start begins sampling in the background.
func (m *ProcessMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = time.Now()

	go func() {
		defer close(m.done)
		proc, err := process.NewProcessWithContext(ctx, int32(m.pid))
		if err != nil {
			return
		}
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			m.sample(ctx, proc)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *ProcessMonitor) sample(ctx context.Context, proc *process.Process) {
	mem, memErr := proc.MemoryInfoWithContext(ctx)
	times, cpuErr := proc.TimesWithContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if memErr == nil && mem != nil && mem.RSS > m.usage.PeakRSS {
		m.usage.PeakRSS = mem.RSS
	}
	if cpuErr == nil && times != nil {
		m.usage.CPUTime = time.Duration((times.User + times.System) * float64(time.Second))
	}
	if memErr == nil || cpuErr == nil {
		m.usage.Samples++
	}
}

// Stop ends sampling and returns the collected usage. Safe to call on a
// monitor that was never started.
func (m *ProcessMonitor) Stop() Usage {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started.IsZero() {
		m.usage.WallTime = time.Since(m.started)
	}
	return m.usage
}

// usageHook adapts an observer into a Command.OnStart hook.
func usageHook(codec string, interval time.Duration, observer UsageObserver) func(pid int) func() {
	if observer == nil {
		return nil
	}
	return func(pid int) func() {
		m := NewProcessMonitor(pid, interval)
		m.Start()
		return func() { observer(codec, m.Stop()) }
	}
}
