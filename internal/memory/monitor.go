package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"pikoshi-gallery/internal/metrics"
)

// Config configures a Monitor.
type Config struct {
	// Limit is the heap budget in bytes. Zero uses the runtime soft limit;
	// with neither, the monitor never pauses.
	Limit int64

	// PauseAt is the usage fraction at which uploads stop compressing.
	PauseAt float64
	// ResumeAt is the usage fraction below which they continue.
	ResumeAt float64

	Interval time.Duration
}

// DefaultConfig returns the thresholds the agent runs with.
func DefaultConfig() Config {
	return Config{
		PauseAt:  0.85,
		ResumeAt: 0.70,
		Interval: 2 * time.Second,
	}
}

// Monitor samples heap usage and holds back upload compression while it is
// above PauseAt. Each compression decodes a full image, so a burst of large
// files is where the agent runs out of memory first.
type Monitor struct {
	cfg   Config
	limit int64
	alloc func() uint64

	mu      sync.RWMutex
	current uint64
	paused  bool
	resume  chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a Monitor. It does nothing until Start.
func NewMonitor(cfg Config) *Monitor {
	limit := cfg.Limit
	if limit <= 0 {
		if soft := debug.SetMemoryLimit(-1); soft > 0 && soft < 1<<62 {
			limit = soft
		}
	}
	if limit <= 0 {
		log.Warn("No memory limit configured, upload backpressure disabled")
	}

	return &Monitor{
		cfg:    cfg,
		limit:  limit,
		alloc:  heapAlloc,
		resume: make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Enabled reports whether a limit is known.
func (m *Monitor) Enabled() bool {
	return m.limit > 0
}

// Start samples usage every Interval until Stop.
func (m *Monitor) Start() {
	if !m.Enabled() {
		return
	}
	go func() {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and releases any waiters.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) check() {
	alloc := m.alloc()
	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = alloc

	switch {
	case !m.paused && usage >= m.cfg.PauseAt:
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryPausesTotal.Inc()
		log.Warn("Memory at %.0f%% of limit, pausing upload compression", usage*100)
		go runtime.GC()
	case m.paused && usage < m.cfg.ResumeAt:
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resume)
		m.resume = make(chan struct{})
		log.Info("Memory at %.0f%% of limit, resuming upload compression", usage*100)
	}
}

// Wait blocks while compression is paused. It returns ctx's error if ctx
// ends first, and nil once the monitor is stopped.
func (m *Monitor) Wait(ctx context.Context) error {
	m.mu.RLock()
	if !m.paused {
		m.mu.RUnlock()
		return nil
	}
	resume := m.resume
	m.mu.RUnlock()

	log.Debug("Upload compression waiting for memory")
	select {
	case <-resume:
		return nil
	case <-m.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paused reports whether compression is currently held back.
func (m *Monitor) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Usage returns the last sampled heap usage as a fraction of the limit.
func (m *Monitor) Usage() float64 {
	if !m.Enabled() {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(m.current) / float64(m.limit)
}
