package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeAuto      BackendType = "auto"
)

// CaptureOptions describes the stream a backend should open
type CaptureOptions struct {
	SampleRate int
	Channels   int
	Codec      string
	FFmpegPath string
}

// AudioBackend defines the interface for audio backend implementations
type AudioBackend interface {
	// Create an input source for capture sessions
	NewSource(opts CaptureOptions) InputSource

	// List available capture devices
	ListDevices() ([]Device, error)

	// Validate if a device is available
	ValidateDevice(id string) error

	// Get the backend type
	GetType() BackendType
}

var backendFactories = map[BackendType]func() AudioBackend{
	BackendTypePipeWire: func() AudioBackend { return &PipeWireBackend{pipewire: NewPipeWire()} },
}

// registerBackend makes an optional backend available, typically from an
// init function behind a build tag.
func registerBackend(t BackendType, factory func() AudioBackend) {
	backendFactories[t] = factory
}

// NewBackend returns the backend selected by name ("pipewire", "portaudio"
// or "auto"; empty means auto).
func NewBackend(name string) (AudioBackend, error) {
	backendType, err := determineBackend(name)
	if err != nil {
		return nil, err
	}
	factory, ok := backendFactories[backendType]
	if !ok {
		slog.Warn("Audio backend not compiled in, falling back to PipeWire", "backend", backendType)
		factory = backendFactories[BackendTypePipeWire]
	}
	return factory(), nil
}

// determineBackend determines which backend to use based on configuration
func determineBackend(name string) (BackendType, error) {
	switch BackendType(strings.ToLower(strings.TrimSpace(name))) {
	case BackendTypePipeWire:
		return BackendTypePipeWire, nil
	case BackendTypePortAudio:
		return BackendTypePortAudio, nil
	case BackendTypeAuto, "":
		if _, err := exec.LookPath("pactl"); err == nil {
			return BackendTypePipeWire, nil
		}
		if _, ok := backendFactories[BackendTypePortAudio]; ok {
			return BackendTypePortAudio, nil
		}
		return BackendTypePipeWire, nil
	}
	return "", fmt.Errorf("unknown audio backend: %s", name)
}

// GetAvailableBackends returns list of backends compiled into this binary
func GetAvailableBackends() []BackendType {
	backends := make([]BackendType, 0, len(backendFactories))
	for t := range backendFactories {
		backends = append(backends, t)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}

// PipeWireBackend implements the AudioBackend interface for PipeWire
type PipeWireBackend struct {
	pipewire *PipeWire
}

// NewSource creates an ffmpeg-based capture source
func (p *PipeWireBackend) NewSource(opts CaptureOptions) InputSource {
	src := NewPipeWireSource(opts)
	src.pipewire = p.pipewire
	return src
}

// ListDevices returns available PipeWire sources
func (p *PipeWireBackend) ListDevices() ([]Device, error) {
	return p.pipewire.ListDevices()
}

// ValidateDevice validates a PipeWire source
func (p *PipeWireBackend) ValidateDevice(id string) error {
	return p.pipewire.ValidateDevice(id)
}

// GetType returns the backend type
func (p *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}
