package service

import (
	"context"
	"sync"

	"github.com/audiolibrelab/wavcapture/internal/audio"
)

type fakeTap struct{}

func (fakeTap) Window(dst []float32) int { return 0 }
func (fakeTap) Close() error             { return nil }

type fakeStream struct {
	contentType string
	chunks      [][]byte
	finishErr   error

	mu     sync.Mutex
	closed int
}

func (s *fakeStream) Start(onChunk func([]byte)) error {
	for _, c := range s.chunks {
		onChunk(c)
	}
	return nil
}

func (s *fakeStream) Finish() error                 { return s.finishErr }
func (s *fakeStream) Tap() (audio.SignalTap, error) { return fakeTap{}, nil }
func (s *fakeStream) ContentType() string           { return s.contentType }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeBackend struct {
	stream  *fakeStream
	openErr error
	devices []audio.Device

	mu      sync.Mutex
	opened  []string
	options audio.CaptureOptions
}

func (b *fakeBackend) NewSource(opts audio.CaptureOptions) audio.InputSource {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.options = opts
	return b
}

func (b *fakeBackend) Open(ctx context.Context, deviceID string) (audio.InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, deviceID)
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.stream, nil
}

func (b *fakeBackend) ListDevices() ([]audio.Device, error) { return b.devices, nil }
func (b *fakeBackend) ValidateDevice(id string) error       { return nil }
func (b *fakeBackend) GetType() audio.BackendType           { return "fake" }

func (b *fakeBackend) openedDevices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

// fakeDecoder returns a short stereo buffer for anything it is given
type fakeDecoder struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (d *fakeDecoder) Decode(ctx context.Context, data []byte, contentType string) (*audio.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.types = append(d.types, contentType)
	if d.err != nil {
		return nil, d.err
	}
	return &audio.Buffer{
		SampleRate: 16000,
		Channels: [][]float32{
			{0, 0.5, -0.5},
			{0.25, -0.25, 1},
		},
	}, nil
}
