package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingTap_Window(t *testing.T) {
	tap := newRingTap(4)
	dst := make([]float32, 8)

	assert.Equal(t, 0, tap.Window(dst))

	tap.Write([]float32{1, 2})
	n := tap.Window(dst)
	assert.Equal(t, []float32{1, 2}, dst[:n])

	tap.Write([]float32{3, 4, 5})
	n = tap.Window(dst)
	assert.Equal(t, []float32{2, 3, 4, 5}, dst[:n])

	small := make([]float32, 2)
	n = tap.Window(small)
	assert.Equal(t, []float32{4, 5}, small[:n])

	assert.NoError(t, tap.Close())
	tap.Write([]float32{9})
	n = tap.Window(small)
	assert.Equal(t, []float32{4, 5}, small[:n])
}

func TestF32Reader_CarriesPartialSamples(t *testing.T) {
	raw := make([]byte, 12)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-0.25))
	binary.LittleEndian.PutUint32(raw[8:], math.Float32bits(1))

	var r f32Reader
	first := r.decode(raw[:6])
	second := r.decode(raw[6:])

	assert.Equal(t, []float32{0.5}, first)
	assert.Equal(t, []float32{-0.25, 1}, second)
}

func TestChunkRelay_BuffersUntilAttached(t *testing.T) {
	var got []string
	relay := &chunkRelay{}

	relay.push([]byte("a"))
	relay.push([]byte("b"))
	relay.attach(func(b []byte) { got = append(got, string(b)) })
	relay.push([]byte("c"))
	relay.detach()
	relay.push([]byte("d"))

	assert.Equal(t, []string{"a", "b", "c"}, got)
}
