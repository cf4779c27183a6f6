package memory

import (
	"context"
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// restoreLimit puts the runtime soft limit back after a test changes it.
func restoreLimit(t *testing.T) {
	t.Helper()
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })
}

func TestConfigureLimitUnset(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	restoreLimit(t)

	result := ConfigureLimit(0, DefaultRatio)
	assert.False(t, result.Configured)
	assert.Equal(t, "none", result.Source)
}

func TestConfigureLimitFromMemoryLimit(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	restoreLimit(t)

	result := ConfigureLimit(1000*1024*1024, 0.5)
	assert.True(t, result.Configured)
	assert.Equal(t, "MEMORY_LIMIT", result.Source)
	assert.Equal(t, int64(500*1024*1024), result.GoMemLimit)
	assert.Equal(t, int64(500*1024*1024), debug.SetMemoryLimit(-1))
}

func TestConfigureLimitBadRatio(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	restoreLimit(t)

	for _, ratio := range []float64{0, -0.5, 1.5} {
		result := ConfigureLimit(1000, ratio)
		assert.Equal(t, DefaultRatio, result.Ratio, "ratio %v", ratio)
		assert.Equal(t, int64(800), result.GoMemLimit)
	}
}

func TestConfigureLimitGOMEMLIMITWins(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "256MiB")
	restoreLimit(t)
	debug.SetMemoryLimit(256 * 1024 * 1024)

	result := ConfigureLimit(1024*1024*1024, 0.9)
	assert.Equal(t, "GOMEMLIMIT", result.Source)
	assert.Equal(t, int64(256*1024*1024), result.GoMemLimit)
	assert.Zero(t, result.Limit)
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:                "0 B",
		1023:             "1023 B",
		1024:             "1.0 KiB",
		1536:             "1.5 KiB",
		20 * 1024 * 1024: "20.0 MiB",
		3 << 40:          "3.0 TiB",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatBytes(in), "input %d", in)
	}
}

func newTestMonitor(limit int64, alloc *uint64) *Monitor {
	cfg := DefaultConfig()
	cfg.Limit = limit
	m := NewMonitor(cfg)
	m.alloc = func() uint64 { return *alloc }
	return m
}

func TestMonitorPausesAndResumes(t *testing.T) {
	alloc := uint64(50)
	m := newTestMonitor(100, &alloc)
	defer m.Stop()

	m.check()
	assert.False(t, m.Paused())
	assert.InDelta(t, 0.5, m.Usage(), 0.001)

	alloc = 90
	m.check()
	require.True(t, m.Paused())

	// Between the thresholds it stays paused.
	alloc = 75
	m.check()
	assert.True(t, m.Paused())

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	alloc = 10
	m.check()
	assert.False(t, m.Paused())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after resume")
	}
}

func TestMonitorWaitNotPaused(t *testing.T) {
	alloc := uint64(1)
	m := newTestMonitor(100, &alloc)
	defer m.Stop()

	assert.NoError(t, m.Wait(context.Background()))
}

func TestMonitorWaitContextCanceled(t *testing.T) {
	alloc := uint64(99)
	m := newTestMonitor(100, &alloc)
	defer m.Stop()
	m.check()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.Canceled)
}

func TestMonitorStopReleasesWaiters(t *testing.T) {
	alloc := uint64(99)
	m := newTestMonitor(100, &alloc)
	m.check()

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()
	m.Stop()
	m.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}

func TestMonitorDisabledWithoutLimit(t *testing.T) {
	restoreLimit(t)
	debug.SetMemoryLimit(1<<63 - 1)

	m := NewMonitor(DefaultConfig())
	defer m.Stop()

	assert.False(t, m.Enabled())
	assert.Zero(t, m.Usage())
	m.Start()
	assert.NoError(t, m.Wait(context.Background()))
}
