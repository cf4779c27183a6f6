package workers

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	t.Setenv(EnvOverride, "")
	SetOverride(0)

	procs := runtime.GOMAXPROCS(0)

	tests := []struct {
		name       string
		multiplier float64
		limit      int
		expected   int
	}{
		{"cpu no limit", 1.0, 0, procs},
		{"io no limit", 2.0, 0, procs * 2},
		{"limit of one", 2.0, 1, 1},
		{"tiny multiplier", 0.0001, 0, 1},
		{"limit above available", 1.0, procs + 10, procs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Count(tt.multiplier, tt.limit))
		})
	}
}

func TestCountWithEnvOverride(t *testing.T) {
	SetOverride(0)

	tests := []struct {
		name     string
		envValue string
		limit    int
		expected int
	}{
		{"valid override", "3", 0, 3},
		{"override capped by limit", "16", 4, 4},
		{"zero ignored", "0", 0, runtime.GOMAXPROCS(0)},
		{"negative ignored", "-2", 0, runtime.GOMAXPROCS(0)},
		{"garbage ignored", "lots", 0, runtime.GOMAXPROCS(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvOverride, tt.envValue)
			assert.Equal(t, tt.expected, Count(1.0, tt.limit))
		})
	}
}

func TestSetOverrideWinsOverEnv(t *testing.T) {
	t.Setenv(EnvOverride, "6")
	SetOverride(2)
	t.Cleanup(func() { SetOverride(0) })

	assert.Equal(t, 2, ForCPU(0))
	assert.Equal(t, 2, ForIO(8))
	assert.Equal(t, 1, ForIO(1))

	SetOverride(-5)
	assert.Equal(t, 6, ForCPU(0))
}

func TestForCPUAndIO(t *testing.T) {
	t.Setenv(EnvOverride, "")
	SetOverride(0)

	cpu := ForCPU(0)
	io := ForIO(0)
	assert.GreaterOrEqual(t, cpu, 1)
	assert.Equal(t, cpu*2, io)
	assert.LessOrEqual(t, ForCPU(2), 2)
}
