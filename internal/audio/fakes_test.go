package audio

import (
	"context"
	"sync"
)

type fakeTap struct {
	mu      sync.Mutex
	samples []float32
	closed  int
}

func (t *fakeTap) Window(dst []float32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.samples
	if len(src) > len(dst) {
		src = src[len(src)-len(dst):]
	}
	return copy(dst, src)
}

func (t *fakeTap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTap) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeStream struct {
	mu          sync.Mutex
	contentType string
	tap         *fakeTap
	onChunk     func([]byte)
	pending     [][]byte
	tapErr      error
	startErr    error
	started     int
	finished    int
	closed      int
}

func (s *fakeStream) Start(onChunk func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	if s.startErr != nil {
		return s.startErr
	}
	s.onChunk = onChunk
	return nil
}

func (s *fakeStream) emit(chunk []byte) {
	s.mu.Lock()
	cb := s.onChunk
	s.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}

func (s *fakeStream) Finish() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.finished++
	s.mu.Unlock()
	for _, chunk := range pending {
		s.emit(chunk)
	}
	return nil
}

func (s *fakeStream) Tap() (SignalTap, error) {
	if s.tapErr != nil {
		return nil, s.tapErr
	}
	return s.tap, nil
}

func (s *fakeStream) ContentType() string { return s.contentType }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSource struct {
	mu      sync.Mutex
	err      error
	tapErr   error
	startErr error
	block    chan struct{}
	samples []float32
	pending [][]byte
	opens   int
	streams []*fakeStream
}

func (f *fakeSource) Open(ctx context.Context, deviceID string) (InputStream, error) {
	f.mu.Lock()
	f.opens++
	block, err := f.block, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	st := &fakeStream{
		contentType: "audio/webm;codecs=opus",
		tap:         &fakeTap{samples: f.samples},
		pending:     f.pending,
		tapErr:      f.tapErr,
		startErr:    f.startErr,
	}
	f.streams = append(f.streams, st)
	return st, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeSource) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type fakeDecoder struct {
	buf   *Buffer
	err   error
	calls int
	types []string
}

func (d *fakeDecoder) Decode(ctx context.Context, data []byte, contentType string) (*Buffer, error) {
	d.calls++
	d.types = append(d.types, contentType)
	if d.err != nil {
		return nil, d.err
	}
	return d.buf, nil
}
