package audio

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		gain    float64
		want    float64
	}{
		{"empty", nil, 4, 0},
		{"silence", make([]float32, 256), 4, 0},
		{"full scale", []float32{1, -1, 1, -1}, 4, 1},
		{"clipping", []float32{2, -2}, 1, 1},
		{"quiet", []float32{0.1, -0.1, 0.1, -0.1}, 4, 0.4},
		{"unity gain", []float32{0.5, -0.5}, 1, 0.5},
		{"nan", []float32{float32(math.NaN()), 0}, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeLevel(tt.samples, tt.gain)
			assert.InDelta(t, tt.want, got, 1e-6)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestMeterOptions_Defaults(t *testing.T) {
	opts := MeterOptions{}.withDefaults()
	assert.Equal(t, 16*time.Millisecond, opts.Interval)
	assert.Equal(t, 256, opts.Window)
	assert.Equal(t, 4.0, opts.Gain)

	custom := MeterOptions{Interval: 50 * time.Millisecond, Window: 512, Gain: 2}.withDefaults()
	assert.Equal(t, 50*time.Millisecond, custom.Interval)
	assert.Equal(t, 512, custom.Window)
	assert.Equal(t, 2.0, custom.Gain)
}

func TestLevelMeter_ReportsRoundedElapsed(t *testing.T) {
	var mu sync.Mutex
	var elapsed []time.Duration
	var levels []float64

	tap := &fakeTap{samples: make([]float32, 1024)}
	interval := 2 * time.Millisecond
	m := NewLevelMeter(tap, MeterOptions{Interval: interval}, func(level float64, e time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, level)
		elapsed = append(elapsed, e)
	})

	m.Start(time.Now())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(elapsed) >= 3
	}, time.Second, time.Millisecond)
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i, e := range elapsed {
		assert.Zero(t, e%interval, "elapsed %v not a multiple of interval", e)
		assert.Zero(t, levels[i])
	}
}

func TestLevelMeter_StopWaitsForLoop(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	m := NewLevelMeter(&fakeTap{samples: []float32{1}}, MeterOptions{Interval: time.Millisecond}, func(float64, time.Duration) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	// Stop before Start is a no-op.
	m.Stop()

	m.Start(time.Now())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	}, time.Second, time.Millisecond)

	m.Stop()
	mu.Lock()
	after := calls
	mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, calls)
	mu.Unlock()

	// Second Stop is a no-op.
	m.Stop()
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00", FormatClock(0))
	assert.Equal(t, "00:09", FormatClock(9*time.Second+900*time.Millisecond))
	assert.Equal(t, "01:05", FormatClock(65*time.Second))
	assert.Equal(t, "61:01", FormatClock(61*time.Minute+time.Second))
	assert.Equal(t, "00:00", FormatClock(-time.Second))
}
