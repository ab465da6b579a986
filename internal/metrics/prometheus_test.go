package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordingLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStart()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsStarted))

	m.RecordStop(3.5, 2048)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecordingActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsCompleted))

	m.RecordStart()
	m.RecordStop(0.2, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsEmpty))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsCompleted))

	m.RecordStart()
	m.RecordCancel()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsCancelled))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecordingActive))
}

func TestMetrics_Normalization(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordNormalization("transcode", 0.05, 4096)
	m.RecordNormalization("transcode", 0.01, 1024)
	m.RecordNormalization("passthrough", 0, 512)
	m.RecordNormalizationFailure("unsupported")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Normalizations.WithLabelValues("transcode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Normalizations.WithLabelValues("passthrough")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NormalizationFailures.WithLabelValues("unsupported")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordHTTPRequest("GET", "/api/status", "200", 0.001)
	m.RecordHTTPError("POST", "/api/convert", "client_error")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// A second instance on its own registry must not panic on duplicate registration.
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}
