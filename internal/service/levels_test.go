package service

import (
	"testing"
	"time"

	"github.com/audiolibrelab/wavcapture/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelHub_PublishToSubscribers(t *testing.T) {
	hub := NewLevelHub(nil)
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubA()
	defer unsubB()

	hub.Publish(0.5, 65*time.Second+16*time.Millisecond)

	for _, ch := range []<-chan LevelUpdate{a, b} {
		select {
		case u := <-ch:
			assert.Equal(t, 0.5, u.Level)
			assert.Equal(t, "01:05", u.Elapsed)
			assert.Equal(t, int64(65016), u.ElapsedMs)
		default:
			t.Fatal("expected a level update")
		}
	}
}

func TestLevelHub_DropsForSlowSubscriber(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	hub := NewLevelHub(m)
	ch, unsub := hub.Subscribe()
	defer unsub()

	for i := 0; i < levelBufferSize+3; i++ {
		hub.Publish(float64(i)/100, 0)
	}

	assert.Len(t, ch, levelBufferSize)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LevelsDropped))

	first := <-ch
	assert.Equal(t, 0.0, first.Level)
}

func TestLevelHub_Unsubscribe(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	hub := NewLevelHub(m)

	ch, unsub := hub.Subscribe()
	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LevelSubscribers))

	unsub()
	unsub()
	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LevelSubscribers))

	_, open := <-ch
	require.False(t, open)

	// Publishing with no subscribers must not block or panic.
	hub.Publish(1, time.Second)
}
