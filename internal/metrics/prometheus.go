package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture service
type Metrics struct {
	// Recording metrics
	RecordingsStarted   prometheus.Counter
	RecordingsCompleted prometheus.Counter
	RecordingsCancelled prometheus.Counter
	RecordingsEmpty     prometheus.Counter
	DeviceErrors        prometheus.Counter
	RecordingActive     prometheus.Gauge
	RecordingDuration   prometheus.Histogram
	CaptureSize         prometheus.Histogram

	// Normalization metrics
	Normalizations        *prometheus.CounterVec
	NormalizationFailures *prometheus.CounterVec
	NormalizeDuration     prometheus.Histogram
	WAVSize               prometheus.Histogram

	// Level streaming metrics
	LevelSubscribers prometheus.Gauge
	LevelsDropped    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavcapture_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavcapture_recordings_completed_total",
			Help: "Total number of recordings stopped and normalized",
		}),
		RecordingsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavcapture_recordings_cancelled_total",
			Help: "Total number of recordings discarded by reset",
		}),
		RecordingsEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavcapture_recordings_empty_total",
			Help: "Total number of recordings that captured no audio",
		}),
		DeviceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavcapture_device_errors_total",
			Help: "Total number of failed device acquisitions",
		}),
		RecordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wavcapture_recording_active",
			Help: "1 while a recording is in progress",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavcapture_recording_duration_seconds",
			Help:    "Duration of completed recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		CaptureSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavcapture_capture_size_bytes",
			Help:    "Size of raw captured blobs",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),

		Normalizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavcapture_normalizations_total",
			Help: "Total number of normalized artifacts by path",
		}, []string{"path"}),
		NormalizationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavcapture_normalization_failures_total",
			Help: "Total number of failed normalizations by reason",
		}, []string{"reason"}),
		NormalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavcapture_normalize_duration_seconds",
			Help:    "Time spent normalizing artifacts",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		WAVSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavcapture_wav_size_bytes",
			Help:    "Size of produced WAV files",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),

		LevelSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wavcapture_level_subscribers",
			Help: "Current number of live level subscribers",
		}),
		LevelsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavcapture_levels_dropped_total",
			Help: "Total number of level samples dropped for slow subscribers",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavcapture_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wavcapture_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavcapture_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordStart records a started recording
func (m *Metrics) RecordStart() {
	m.RecordingsStarted.Inc()
	m.RecordingActive.Set(1)
}

// RecordDeviceError records a failed device acquisition
func (m *Metrics) RecordDeviceError() {
	m.DeviceErrors.Inc()
}

// RecordStop records a finished recording with its duration and raw size
func (m *Metrics) RecordStop(durationSeconds float64, sizeBytes int) {
	m.RecordingActive.Set(0)
	if sizeBytes == 0 {
		m.RecordingsEmpty.Inc()
		return
	}
	m.RecordingsCompleted.Inc()
	m.RecordingDuration.Observe(durationSeconds)
	m.CaptureSize.Observe(float64(sizeBytes))
}

// RecordCancel records a discarded recording
func (m *Metrics) RecordCancel() {
	m.RecordingActive.Set(0)
	m.RecordingsCancelled.Inc()
}

// RecordNormalization records a successful normalization
func (m *Metrics) RecordNormalization(path string, durationSeconds float64, wavBytes int) {
	m.Normalizations.WithLabelValues(path).Inc()
	m.NormalizeDuration.Observe(durationSeconds)
	m.WAVSize.Observe(float64(wavBytes))
}

// RecordNormalizationFailure records a failed normalization
func (m *Metrics) RecordNormalizationFailure(reason string) {
	m.NormalizationFailures.WithLabelValues(reason).Inc()
}

// SetLevelSubscribers sets the current number of level subscribers
func (m *Metrics) SetLevelSubscribers(count int) {
	m.LevelSubscribers.Set(float64(count))
}

// RecordLevelDropped increments the dropped level counter
func (m *Metrics) RecordLevelDropped() {
	m.LevelsDropped.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
