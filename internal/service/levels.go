package service

import (
	"sync"
	"time"

	"github.com/audiolibrelab/wavcapture/internal/audio"
	"github.com/audiolibrelab/wavcapture/internal/metrics"
)

// levelBufferSize bounds how many readings a slow subscriber may lag behind
const levelBufferSize = 8

// LevelUpdate is one meter reading delivered to subscribers
type LevelUpdate struct {
	Level     float64 `json:"level"`
	Elapsed   string  `json:"elapsed"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

// LevelHub fans meter readings out to any number of subscribers. Publishing
// never blocks: readings are dropped for subscribers whose buffer is full.
type LevelHub struct {
	mu      sync.Mutex
	subs    map[uint64]chan LevelUpdate
	nextID  uint64
	metrics *metrics.Metrics
}

// NewLevelHub creates an empty hub
func NewLevelHub(m *metrics.Metrics) *LevelHub {
	return &LevelHub{
		subs:    make(map[uint64]chan LevelUpdate),
		metrics: m,
	}
}

// Subscribe registers a new subscriber. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *LevelHub) Subscribe() (<-chan LevelUpdate, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan LevelUpdate, levelBufferSize)
	h.subs[id] = ch
	h.updateGauge()
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
			h.updateGauge()
		})
	}
}

// Publish delivers a reading to every subscriber. Its signature matches
// audio.LevelFunc so it can be handed to a session directly.
func (h *LevelHub) Publish(level float64, elapsed time.Duration) {
	update := LevelUpdate{
		Level:     level,
		Elapsed:   audio.FormatClock(elapsed),
		ElapsedMs: elapsed.Milliseconds(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- update:
		default:
			if h.metrics != nil {
				h.metrics.RecordLevelDropped()
			}
		}
	}
}

// Count returns the number of live subscribers
func (h *LevelHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *LevelHub) updateGauge() {
	if h.metrics != nil {
		h.metrics.SetLevelSubscribers(len(h.subs))
	}
}
