package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	DefaultMeterInterval = 16 * time.Millisecond
	DefaultMeterWindow   = 256
	DefaultMeterGain     = 4.0
)

// LevelFunc receives one level in [0,1] per meter cycle along with the
// elapsed recording time rounded to the meter interval.
type LevelFunc func(level float64, elapsed time.Duration)

// MeterOptions configures a LevelMeter. Zero values fall back to defaults.
type MeterOptions struct {
	Interval time.Duration
	Window   int
	Gain     float64
}

func (o MeterOptions) withDefaults() MeterOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultMeterInterval
	}
	if o.Window <= 0 {
		o.Window = DefaultMeterWindow
	}
	if o.Gain <= 0 {
		o.Gain = DefaultMeterGain
	}
	return o
}

// ComputeLevel returns the RMS of samples scaled by gain and clamped to [0,1].
// An empty window or a NaN result yields 0.
func ComputeLevel(samples []float32, gain float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	level := math.Sqrt(sum/float64(len(samples))) * gain
	switch {
	case math.IsNaN(level) || level <= 0:
		return 0
	case level >= 1:
		return 1
	}
	return level
}

// LevelMeter samples a SignalTap on a fixed ticker and reports levels.
type LevelMeter struct {
	tap     SignalTap
	opts    MeterOptions
	onLevel LevelFunc
	now     func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewLevelMeter creates a meter over tap. onLevel may be nil.
func NewLevelMeter(tap SignalTap, opts MeterOptions, onLevel LevelFunc) *LevelMeter {
	return &LevelMeter{
		tap:     tap,
		opts:    opts.withDefaults(),
		onLevel: onLevel,
		now:     time.Now,
	}
}

// Interval returns the effective refresh interval.
func (m *LevelMeter) Interval() time.Duration {
	return m.opts.Interval
}

// Start begins the refresh loop. Elapsed time is measured from startedAt.
func (m *LevelMeter) Start(startedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	go m.loop(startedAt, m.stop, m.done)
	slog.Debug("Level meter started", "interval", m.opts.Interval, "window", m.opts.Window, "gain", m.opts.Gain)
}

// Stop cancels the loop and blocks until it has exited. After Stop returns
// no further LevelFunc calls are made.
func (m *LevelMeter) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
	slog.Debug("Level meter stopped")
}

func (m *LevelMeter) loop(startedAt time.Time, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	window := make([]float32, m.opts.Window)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		// A tick and a stop can be ready together; stop wins.
		select {
		case <-stop:
			return
		default:
		}

		n := m.tap.Window(window)
		level := ComputeLevel(window[:n], m.opts.Gain)
		elapsed := m.now().Sub(startedAt).Round(m.opts.Interval)
		if elapsed < 0 {
			elapsed = 0
		}
		if m.onLevel != nil {
			m.onLevel(level, elapsed)
		}
	}
}

// FormatClock renders d as mm:ss.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
