package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/wavcapture/internal/audio"
	"github.com/audiolibrelab/wavcapture/internal/config"
	"github.com/audiolibrelab/wavcapture/internal/metrics"
	"github.com/audiolibrelab/wavcapture/internal/play"
	"github.com/prometheus/client_golang/prometheus"
)

// Service represents the core capture service interface
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, deviceID string) error
	StopRecording(ctx context.Context, name string) (*Result, error)
	CancelRecording()
	GetStatus() Status

	// File input
	Convert(ctx context.Context, name string, data []byte) (*Result, error)

	// Playback operations
	Play(ctx context.Context, name string) error

	// Device operations
	ListDevices() ([]audio.Device, error)

	// Live level stream
	Levels() *LevelHub

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config
	GetLastError() string
}

// Status describes the current recording state
type Status struct {
	State     audio.State `json:"state"`
	Profile   string      `json:"profile"`
	Backend   string      `json:"backend"`
	Device    string      `json:"device"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	Elapsed   string      `json:"elapsed"`
	ElapsedMs int64       `json:"elapsed_ms"`
	LastError string      `json:"last_error,omitempty"`
}

// Dependencies lets callers replace the collaborators New would build from
// the configuration. Nil fields get their defaults.
type Dependencies struct {
	Backend audio.AudioBackend
	Decoder audio.Decoder
	Metrics *metrics.Metrics
	Player  *play.Player
}

// CaptureService is the main service implementation
type CaptureService struct {
	configFile string
	deps       Dependencies
	metrics    *metrics.Metrics
	levels     *LevelHub
	now        func() time.Time

	// mu guards the configuration-derived collaborators and the device of
	// the current recording
	mu         sync.RWMutex
	cfg        *config.Config
	backend    audio.AudioBackend
	session    *audio.Session
	normalizer *audio.Normalizer
	player     *play.Player
	device     string

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a capture service for cfg
func New(cfg *config.Config, configFile string, deps Dependencies) (*CaptureService, error) {
	m := deps.Metrics
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}

	s := &CaptureService{
		configFile: configFile,
		deps:       deps,
		metrics:    m,
		levels:     NewLevelHub(m),
		now:        time.Now,
	}
	if err := s.apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// apply builds the backend, session and normalizer for cfg. Callers hold
// s.mu or have exclusive access.
func (s *CaptureService) apply(cfg *config.Config) error {
	backend := s.deps.Backend
	if backend == nil {
		var err error
		backend, err = audio.NewBackend(cfg.BackendName())
		if err != nil {
			return fmt.Errorf("failed to create audio backend: %w", err)
		}
	}

	decoder := s.deps.Decoder
	if decoder == nil {
		set := audio.DefaultDecoders()
		if cfg.Audio.FFmpegPath != "" {
			set.Fallback = &audio.FFmpegDecoder{FFmpegPath: cfg.Audio.FFmpegPath, FFprobePath: "ffprobe"}
		}
		decoder = set
	}

	player := s.deps.Player
	if player == nil {
		player = play.New(cfg)
	}

	source := backend.NewSource(audio.CaptureOptions{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Codec:      cfg.Audio.Codec,
		FFmpegPath: cfg.Audio.FFmpegPath,
	})

	s.cfg = cfg
	s.backend = backend
	s.player = player
	s.normalizer = audio.NewNormalizer(decoder, cfg.Output.FallbackName)
	s.session = audio.NewSession(source, audio.SessionOptions{
		Meter: audio.MeterOptions{
			Interval: time.Duration(cfg.Meter.IntervalMs) * time.Millisecond,
			Window:   cfg.Meter.Window,
			Gain:     cfg.Meter.Gain,
		},
		OnLevel: s.levels.Publish,
	})

	slog.Debug("Service configured",
		"profile", cfg.Profile,
		"backend", backend.GetType(),
		"device", cfg.DeviceSource(),
		"codec", cfg.Audio.Codec)
	return nil
}

// StartRecording acquires deviceID (or the configured device when empty)
// and starts capturing. It is a no-op while a recording is active.
func (s *CaptureService) StartRecording(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	session := s.session
	if state := session.State(); state != audio.StateIdle {
		s.mu.Unlock()
		slog.Debug("StartRecording ignored", "state", state)
		return nil
	}
	if deviceID == "" {
		deviceID = s.cfg.DeviceSource()
	}
	s.device = deviceID
	s.mu.Unlock()

	s.clearLastError()
	slog.Debug("Service.StartRecording called", "device", deviceID)

	if err := session.Start(ctx, deviceID); err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			s.metrics.RecordDeviceError()
		}
		if !errors.Is(err, audio.ErrCaptureCancelled) {
			s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		}
		return err
	}
	s.metrics.RecordStart()
	return nil
}

// StopRecording ends the recording, normalizes the capture and writes the
// WAV file with its metadata sidecar. An empty name selects
// mic-recording-<unix-ms>. It returns audio.ErrEmptyCapture when nothing
// was recorded.
func (s *CaptureService) StopRecording(ctx context.Context, name string) (*Result, error) {
	s.mu.RLock()
	session, normalizer, cfg, device := s.session, s.normalizer, s.cfg, s.device
	s.mu.RUnlock()

	wasRecording := session.State() == audio.StateRecording
	capture, err := session.Stop()
	if err != nil {
		if capture.Empty() {
			s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
			return nil, err
		}
		slog.Warn("Capture stream did not finish cleanly, keeping captured audio", "error", err)
	}
	if wasRecording {
		s.metrics.RecordStop(capture.Duration.Seconds(), len(capture.Data))
	}
	if capture.Empty() {
		return nil, audio.ErrEmptyCapture
	}

	if name == "" {
		name = fmt.Sprintf("mic-recording-%d", s.now().UnixMilli())
	}
	artifact := audio.Artifact{
		Name:        name + audio.Extension(capture.ContentType),
		ContentType: capture.ContentType,
		Data:        capture.Data,
	}

	file, err := s.normalize(ctx, normalizer, artifact)
	if err != nil {
		return nil, err
	}

	var raw *audio.RawCapture
	if cfg.Output.KeepRaw {
		raw = &capture
	}
	req := newUploadRequest(cfg.Transcription, device, InputSourceMicrophone)
	result, err := writeOutput(cfg.Output.Directory, file, req, raw)
	if err != nil {
		s.setLastError(err.Error())
		return nil, err
	}
	result.DurationMs = capture.Duration.Milliseconds()
	return result, nil
}

// CancelRecording discards the current recording, including one whose
// device is still being acquired.
func (s *CaptureService) CancelRecording() {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session.State() != audio.StateIdle {
		s.metrics.RecordCancel()
	}
	session.Reset()
}

// GetStatus returns the current recording status
func (s *CaptureService) GetStatus() Status {
	s.mu.RLock()
	session, cfg, backend, device := s.session, s.cfg, s.backend, s.device
	s.mu.RUnlock()

	status := Status{
		State:     session.State(),
		Profile:   cfg.Profile,
		Backend:   string(backend.GetType()),
		Device:    cfg.DeviceSource(),
		LastError: s.GetLastError(),
	}
	if status.State != audio.StateIdle {
		status.Device = device
	}
	if status.State == audio.StateRecording {
		startedAt := session.StartedAt()
		status.StartedAt = &startedAt
	}
	elapsed := session.Elapsed()
	status.Elapsed = audio.FormatClock(elapsed)
	status.ElapsedMs = elapsed.Milliseconds()
	return status
}

// Convert normalizes a user-supplied audio file and writes it to the output
// directory. Unsupported types fail with audio.ErrUnsupportedAudioFormat
// before any decoding.
func (s *CaptureService) Convert(ctx context.Context, name string, data []byte) (*Result, error) {
	s.mu.RLock()
	normalizer, cfg := s.normalizer, s.cfg
	s.mu.RUnlock()

	if len(data) == 0 {
		return nil, audio.ErrEmptyCapture
	}

	contentType := audio.DetectContentType(name, data)
	if err := audio.CheckFileType(contentType); err != nil {
		s.metrics.RecordNormalizationFailure("rejected")
		return nil, err
	}
	slog.Debug("Converting file", "name", name, "content_type", contentType, "size", len(data))

	file, err := s.normalize(ctx, normalizer, audio.Artifact{Name: name, ContentType: contentType, Data: data})
	if err != nil {
		return nil, err
	}

	req := newUploadRequest(cfg.Transcription, "", InputSourceFile)
	return writeOutput(cfg.Output.Directory, file, req, nil)
}

func (s *CaptureService) normalize(ctx context.Context, normalizer *audio.Normalizer, artifact audio.Artifact) (audio.NormalizedFile, error) {
	started := s.now()
	file, err := normalizer.Normalize(ctx, artifact)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, audio.ErrUnsupportedAudioFormat):
			reason = "unsupported"
		case errors.Is(err, audio.ErrEmptyCapture):
			reason = "empty"
		}
		s.metrics.RecordNormalizationFailure(reason)
		s.setLastError(fmt.Sprintf("Failed to normalize %s: %v", artifact.Name, err))
		return audio.NormalizedFile{}, err
	}
	s.metrics.RecordNormalization(file.Path, s.now().Sub(started).Seconds(), len(file.Data))
	return file, nil
}

// Play plays a WAV file by path or by name inside the output directory
func (s *CaptureService) Play(ctx context.Context, name string) error {
	s.mu.RLock()
	player := s.player
	s.mu.RUnlock()
	return player.Play(ctx, name)
}

// ListDevices returns the capture devices of the configured backend
func (s *CaptureService) ListDevices() ([]audio.Device, error) {
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()
	return backend.ListDevices()
}

// Levels returns the hub broadcasting live meter readings
func (s *CaptureService) Levels() *LevelHub {
	return s.levels
}

// LoadProfile switches to another configuration profile. It fails while a
// recording is active.
func (s *CaptureService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state := s.session.State(); state != audio.StateIdle {
		return fmt.Errorf("cannot switch profile while session is %s", state)
	}
	if err := s.apply(newCfg); err != nil {
		return err
	}
	slog.Info("Profile loaded", "profile", newCfg.Profile)
	return nil
}

// GetConfig returns the current configuration
func (s *CaptureService) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *CaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *CaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *CaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
