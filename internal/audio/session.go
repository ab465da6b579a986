package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SessionOptions configures a Session
type SessionOptions struct {
	Meter MeterOptions

	// OnLevel receives meter levels while recording. It runs on the meter
	// goroutine and must not call back into the Session.
	OnLevel LevelFunc
}

// Session captures audio from one device at a time while feeding a level
// meter. It is reusable: every Stop or Reset returns it to StateIdle.
type Session struct {
	source InputSource
	opts   SessionOptions
	now    func() time.Time

	mu        sync.Mutex
	state     State
	gen       uint64
	stream    InputStream
	tap       SignalTap
	meter     *LevelMeter
	startedAt time.Time

	chunkMu  sync.Mutex
	chunkGen uint64
	chunks   [][]byte
}

// NewSession creates an idle session capturing from source
func NewSession(source InputSource, opts SessionOptions) *Session {
	return &Session{
		source: source,
		opts:   opts,
		now:    time.Now,
		state:  StateIdle,
	}
}

// Start acquires the device and begins recording. It is a no-op while the
// session is already armed or recording.
func (s *Session) Start(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		slog.Debug("Start ignored, session already active", "state", state)
		return nil
	}
	s.gen++
	gen := s.gen
	s.state = StateArmed
	s.mu.Unlock()

	slog.Debug("Acquiring input device", "device", deviceID)
	stream, err := s.source.Open(ctx, deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		// Reset ran while the device was being acquired.
		if stream != nil {
			if cerr := stream.Close(); cerr != nil {
				slog.Debug("Failed to close abandoned stream", "error", cerr)
			}
		}
		slog.Debug("Device acquisition abandoned", "device", deviceID)
		return ErrCaptureCancelled
	}

	if err != nil {
		s.teardown()
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCaptureCancelled, err)
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	s.stream = stream

	tap, err := stream.Tap()
	if err != nil {
		s.teardown()
		return fmt.Errorf("failed to open signal tap: %w", err)
	}
	s.tap = tap

	s.chunkMu.Lock()
	s.chunkGen = gen
	s.chunks = nil
	s.chunkMu.Unlock()

	if err := stream.Start(func(chunk []byte) { s.appendChunk(gen, chunk) }); err != nil {
		s.teardown()
		return fmt.Errorf("failed to start capture stream: %w", err)
	}

	s.startedAt = s.now()
	s.meter = NewLevelMeter(tap, s.opts.Meter, s.opts.OnLevel)
	s.meter.Start(s.startedAt)
	s.state = StateRecording

	slog.Info("Recording started", "device", deviceID, "content_type", stream.ContentType())
	return nil
}

// Stop ends the recording and returns everything captured. Without an
// active recording it returns an empty RawCapture and no error.
func (s *Session) Stop() (RawCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return RawCapture{}, nil
	}
	s.state = StateStopped

	s.meter.Stop()
	s.meter = nil

	finishErr := s.stream.Finish()

	s.chunkMu.Lock()
	data := bytes.Join(s.chunks, nil)
	s.chunks = nil
	s.chunkGen = 0
	s.chunkMu.Unlock()

	capture := RawCapture{
		Data:        data,
		ContentType: s.stream.ContentType(),
		StartedAt:   s.startedAt,
		Duration:    s.now().Sub(s.startedAt),
	}
	s.teardown()

	slog.Info("Recording stopped", "bytes", len(capture.Data), "duration", capture.Duration)

	if finishErr != nil {
		return capture, fmt.Errorf("failed to finish capture stream: %w", finishErr)
	}
	return capture, nil
}

// Reset discards any buffered audio and releases all resources. Safe from
// any state, including while Start is still acquiring the device.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.gen++
	s.teardown()
	if prev != StateIdle {
		slog.Info("Recording reset", "previous_state", prev)
	}
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when the current recording began, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Elapsed returns the running time of the current recording.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return 0
	}
	return s.now().Sub(s.startedAt)
}

func (s *Session) appendChunk(gen uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()
	if gen != s.chunkGen {
		return
	}
	s.chunks = append(s.chunks, bytes.Clone(chunk))
}

// teardown releases the meter, tap and stream and returns to StateIdle.
// Callers hold s.mu.
func (s *Session) teardown() {
	if s.meter != nil {
		s.meter.Stop()
		s.meter = nil
	}
	if s.tap != nil {
		if err := s.tap.Close(); err != nil {
			slog.Debug("Failed to close signal tap", "error", err)
		}
		s.tap = nil
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			slog.Debug("Failed to close capture stream", "error", err)
		}
		s.stream = nil
	}

	s.chunkMu.Lock()
	s.chunks = nil
	s.chunkGen = 0
	s.chunkMu.Unlock()

	s.startedAt = time.Time{}
	s.state = StateIdle
}
