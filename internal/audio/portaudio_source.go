//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const portAudioFramesPerBuffer = 1024

func init() {
	registerBackend(BackendTypePortAudio, func() AudioBackend { return &PortAudioBackend{} })
}

// PortAudioBackend captures through the native PortAudio library
type PortAudioBackend struct{}

// NewSource creates a PortAudio capture source
func (b *PortAudioBackend) NewSource(opts CaptureOptions) InputSource {
	src := &PortAudioSource{SampleRate: opts.SampleRate, Channels: opts.Channels}
	if src.SampleRate <= 0 {
		src.SampleRate = defaultCaptureRate
	}
	if src.Channels <= 0 {
		src.Channels = defaultCaptureChannels
	}
	return src
}

// ListDevices returns input-capable PortAudio devices
func (b *PortAudioBackend) ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list PortAudio devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var devices []Device
	for _, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		devices = append(devices, Device{
			ID:      info.Name,
			Name:    fmt.Sprintf("%s (%s)", info.Name, info.HostApi.Name),
			Default: def != nil && def.Name == info.Name,
		})
	}
	return devices, nil
}

// ValidateDevice validates a PortAudio device name
func (b *PortAudioBackend) ValidateDevice(id string) error {
	if id == "" || id == "default" {
		return nil
	}
	devices, err := b.ListDevices()
	if err != nil {
		return err
	}
	return validateDeviceInList(id, devices)
}

// GetType returns the backend type
func (b *PortAudioBackend) GetType() BackendType {
	return BackendTypePortAudio
}

// PortAudioSource opens raw s16le PCM capture streams
type PortAudioSource struct {
	SampleRate int
	Channels   int
}

// Open implements InputSource
func (p *PortAudioSource) Open(ctx context.Context, deviceID string) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %w", ErrDeviceUnavailable, err)
	}

	info, err := findPortAudioDevice(deviceID)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = p.Channels
	params.SampleRate = float64(p.SampleRate)
	params.FramesPerBuffer = portAudioFramesPerBuffer

	s := &portAudioStream{
		channels:    p.Channels,
		contentType: fmt.Sprintf("audio/pcm;rate=%d;channels=%d;format=s16le", p.SampleRate, p.Channels),
		tap:         newRingTap(p.SampleRate),
		relay:       &chunkRelay{},
	}

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open PortAudio stream: %w", ErrDeviceUnavailable, err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to start PortAudio stream: %w", ErrDeviceUnavailable, err)
	}

	slog.Info("PortAudio capture started", "device", info.Name, "rate", p.SampleRate, "channels", p.Channels)
	return s, nil
}

func findPortAudioDevice(id string) (*portaudio.DeviceInfo, error) {
	if id == "" || id == "default" {
		return portaudio.DefaultInputDevice()
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Name == id && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", id)
}

// portAudioStream implements InputStream over a PortAudio callback stream
type portAudioStream struct {
	stream      *portaudio.Stream
	channels    int
	contentType string
	tap         *ringTap
	relay       *chunkRelay

	mu       sync.Mutex
	finished bool
	closed   bool
}

// process runs on the PortAudio callback thread
func (s *portAudioStream) process(in []float32) {
	chunk := make([]byte, len(in)*2)
	mono := make([]float32, len(in)/s.channels)
	for i, v := range in {
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(quantize(v)))
		mono[i/s.channels] += v / float32(s.channels)
	}
	s.tap.Write(mono)
	s.relay.push(chunk)
}

// Start implements InputStream
func (s *portAudioStream) Start(onChunk func([]byte)) error {
	s.relay.attach(onChunk)
	return nil
}

// Tap implements InputStream
func (s *portAudioStream) Tap() (SignalTap, error) {
	return s.tap, nil
}

// ContentType implements InputStream
func (s *portAudioStream) ContentType() string {
	return s.contentType
}

// Finish implements InputStream. Stop drains pending buffers before returning.
func (s *portAudioStream) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed {
		return nil
	}
	s.finished = true
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop PortAudio stream: %w", err)
	}
	return nil
}

// Close implements InputStream
func (s *portAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.relay.detach()
	if !s.finished {
		s.stream.Abort()
	}
	err := s.stream.Close()
	s.tap.Close()
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("failed to close PortAudio stream: %w", err)
	}
	return nil
}
