package audio

import (
	"context"
	"time"
)

// State represents the current state of a recording session
type State string

const (
	StateIdle      State = "IDLE"
	StateArmed     State = "ARMED"
	StateRecording State = "RECORDING"
	StateStopped   State = "STOPPED"
)

// Device describes a capture device reported by a backend
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// InputSource opens capture streams on a device. An empty device ID selects
// the system default.
type InputSource interface {
	Open(ctx context.Context, deviceID string) (InputStream, error)
}

// InputStream is a live capture producing encoded chunks.
type InputStream interface {
	// Start begins chunk delivery. Chunks are passed to onChunk in arrival order.
	Start(onChunk func([]byte)) error

	// Finish stops capture and flushes any remaining chunks before returning.
	Finish() error

	// Tap returns a read-only view of the live signal for metering.
	Tap() (SignalTap, error)

	// ContentType describes the encoded chunk format, e.g. "audio/webm".
	ContentType() string

	// Close releases the device. Safe to call more than once.
	Close() error
}

// SignalTap exposes the most recent samples of a live stream.
type SignalTap interface {
	// Window copies up to len(dst) of the newest samples into dst and
	// returns how many were written.
	Window(dst []float32) int
	Close() error
}

// RawCapture is the compressed blob returned when a session stops.
type RawCapture struct {
	Data        []byte
	ContentType string
	StartedAt   time.Time
	Duration    time.Duration
}

// Empty reports whether the capture holds no audio bytes.
func (c RawCapture) Empty() bool {
	return len(c.Data) == 0
}
