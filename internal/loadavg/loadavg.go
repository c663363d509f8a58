// internal/loadavg/loadavg.go

// Package loadavg supplies the external load signal the plan requester uses
// for backend tier selection: a 0-100 sample polled periodically and averaged
// over a short rolling window.
package loadavg

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sampler produces one 0-100 load sample.
type Sampler func() (float64, error)

// ProcSampler reads the 1-minute load average from /proc/loadavg and
// normalizes it against the CPU count into a 0-100 figure, clamped.
func ProcSampler() (float64, error) {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("failed to read /proc/loadavg: %w", err)
	}

	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected /proc/loadavg contents: %q", string(raw))
	}

	oneMinute, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse load average %q: %w", fields[0], err)
	}

	pct := oneMinute / float64(runtime.NumCPU()) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct, nil
}

// Monitor polls a Sampler on a fixed interval and keeps a rolling window of
// recent samples. The exposed Average is what the planner consumes.
type Monitor struct {
	logger   *zap.Logger
	sample   Sampler
	interval time.Duration

	mu      sync.Mutex
	window  []float64
	maxSize int
}

// NewMonitor creates a monitor keeping windowSize samples taken every
// interval. A nil sampler defaults to ProcSampler.
func NewMonitor(logger *zap.Logger, sample Sampler, interval time.Duration, windowSize int) *Monitor {
	if sample == nil {
		sample = ProcSampler
	}
	if windowSize <= 0 {
		windowSize = 6
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		logger:   logger.Named("loadavg"),
		sample:   sample,
		interval: interval,
		maxSize:  windowSize,
	}
}

// Run polls until the context is cancelled. It takes one sample immediately
// so Average is meaningful before the first full interval elapses.
func (m *Monitor) Run(ctx context.Context) error {
	m.observe()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.observe()
		}
	}
}

func (m *Monitor) observe() {
	pct, err := m.sample()
	if err != nil {
		m.logger.Warn("Load sample failed", zap.Error(err))
		return
	}
	m.Record(pct)
}

// Record appends one sample to the rolling window, evicting the oldest when
// the window is full. Exposed for callers that feed samples themselves.
func (m *Monitor) Record(pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, pct)
	if len(m.window) > m.maxSize {
		m.window = m.window[len(m.window)-m.maxSize:]
	}
}

// Average returns the rolling-window mean, or zero when no samples exist.
func (m *Monitor) Average() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.window {
		sum += v
	}
	return sum / float64(len(m.window))
}
