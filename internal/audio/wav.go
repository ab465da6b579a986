package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavHeaderSize    = 44
	wavBitsPerSample = 16
	wavFormatPCM     = 1
	maxWAVChannels   = math.MaxUint16
	// RIFF size field holds 36+dataSize in 32 bits.
	maxWAVDataSize = math.MaxUint32 - (wavHeaderSize - 8)
)

// Buffer holds decoded audio as one float32 plane per channel.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// WAVHeader mirrors the canonical 44-byte PCM header.
type WAVHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func newWAVHeader(channels, sampleRate int, dataSize uint32) WAVHeader {
	blockAlign := uint16(channels * wavBitsPerSample / 8)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: wavBitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV serializes buf as a 16-bit PCM RIFF/WAVE container.
func EncodeWAV(buf *Buffer) ([]byte, error) {
	if buf == nil || len(buf.Channels) == 0 {
		return nil, fmt.Errorf("encode wav: buffer has no channels")
	}
	if len(buf.Channels) > maxWAVChannels {
		return nil, fmt.Errorf("encode wav: %d channels exceeds limit of %d", len(buf.Channels), maxWAVChannels)
	}
	if buf.SampleRate <= 0 || int64(buf.SampleRate) > math.MaxUint32 {
		return nil, fmt.Errorf("encode wav: invalid sample rate %d", buf.SampleRate)
	}

	frames := len(buf.Channels[0])
	for i, plane := range buf.Channels {
		if len(plane) != frames {
			return nil, fmt.Errorf("encode wav: channel %d has %d frames, expected %d", i, len(plane), frames)
		}
	}

	channels := len(buf.Channels)
	dataSize := uint64(frames) * uint64(channels) * 2
	if dataSize > maxWAVDataSize {
		return nil, fmt.Errorf("encode wav: data size %d exceeds RIFF limit", dataSize)
	}
	if uint64(buf.SampleRate)*uint64(channels)*2 > math.MaxUint32 {
		return nil, fmt.Errorf("encode wav: byte rate overflows for %d channels at %d Hz", channels, buf.SampleRate)
	}

	out := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	header := newWAVHeader(channels, buf.SampleRate, uint32(dataSize))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("encode wav: write header: %w", err)
	}

	data := make([]byte, dataSize)
	off := 0
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(data[off:], uint16(quantize(buf.Channels[ch][frame])))
			off += 2
		}
	}
	out.Write(data)

	return out.Bytes(), nil
}

// quantize maps a float sample to int16 with asymmetric scaling:
// negatives by 32768, the rest by 32767, truncating toward zero.
func quantize(v float32) int16 {
	f := float64(v)
	if math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if f < 0 {
		return int16(f * 32768)
	}
	return int16(f * 32767)
}

// DecodePCM16 maps an int16 sample to the centre of its quantization
// bucket, so that quantize(DecodePCM16(s)) == s for every s.
func DecodePCM16(s int16) float32 {
	switch {
	case s > 0:
		return float32((float64(s) + 0.5) / 32767)
	case s < 0:
		return float32((float64(s) - 0.5) / 32768)
	default:
		return 0
	}
}

// ParseWAVHeader reads the canonical header from the start of data.
func ParseWAVHeader(data []byte) (WAVHeader, error) {
	var h WAVHeader
	if len(data) < wavHeaderSize {
		return h, fmt.Errorf("parse wav header: %d bytes is shorter than header", len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("parse wav header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return h, fmt.Errorf("parse wav header: not a RIFF/WAVE container")
	}
	return h, nil
}
