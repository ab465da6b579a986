package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// ringTap keeps the most recent mono samples of a live stream.
type ringTap struct {
	mu     sync.Mutex
	buf    []float32
	pos    int
	filled bool
	closed bool
}

func newRingTap(size int) *ringTap {
	if size <= 0 {
		size = DefaultMeterWindow
	}
	return &ringTap{buf: make([]float32, size)}
}

func (t *ringTap) Write(samples []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, s := range samples {
		t.buf[t.pos] = s
		t.pos++
		if t.pos == len(t.buf) {
			t.pos = 0
			t.filled = true
		}
	}
}

// Window implements SignalTap
func (t *ringTap) Window(dst []float32) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	avail := t.pos
	if t.filled {
		avail = len(t.buf)
	}
	n := len(dst)
	if n > avail {
		n = avail
	}
	start := t.pos - n
	if start < 0 {
		start += len(t.buf)
	}
	for i := 0; i < n; i++ {
		dst[i] = t.buf[(start+i)%len(t.buf)]
	}
	return n
}

// Close implements SignalTap
func (t *ringTap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// f32Reader converts a little-endian float32 byte stream into samples,
// carrying partial samples across reads.
type f32Reader struct {
	carry []byte
}

func (r *f32Reader) decode(p []byte) []float32 {
	if len(r.carry) > 0 {
		p = append(r.carry, p...)
		r.carry = nil
	}
	n := len(p) / 4
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
	}
	if rest := p[n*4:]; len(rest) > 0 {
		r.carry = append([]byte(nil), rest...)
	}
	return out
}

// chunkRelay buffers chunks until a consumer attaches, then delivers every
// chunk in arrival order.
type chunkRelay struct {
	mu       sync.Mutex
	onChunk  func([]byte)
	pending  [][]byte
	detached bool
}

func (r *chunkRelay) push(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detached {
		return
	}
	if r.onChunk == nil {
		r.pending = append(r.pending, chunk)
		return
	}
	r.onChunk(chunk)
}

func (r *chunkRelay) attach(onChunk func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, chunk := range r.pending {
		onChunk(chunk)
	}
	r.pending = nil
	r.onChunk = onChunk
}

// detach drops the consumer; later pushes are discarded.
func (r *chunkRelay) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChunk = nil
	r.pending = nil
	r.detached = true
}
