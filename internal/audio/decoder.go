package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"os"
	"os/exec"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Decoder turns an encoded artifact into PCM planes at its native rate.
type Decoder interface {
	Decode(ctx context.Context, data []byte, contentType string) (*Buffer, error)
}

// DecoderSet dispatches to a decoder by media type, using Fallback for
// anything not registered.
type DecoderSet struct {
	ByType   map[string]Decoder
	Fallback Decoder
}

// DefaultDecoders decodes WAV and PCM natively, MP3 with go-mp3 and every
// other container through ffmpeg.
func DefaultDecoders() *DecoderSet {
	ff := NewFFmpegDecoder()
	return &DecoderSet{
		ByType: map[string]Decoder{
			"audio/wav":   WAVDecoder{},
			"audio/x-wav": WAVDecoder{},
			"audio/wave":  WAVDecoder{},
			"audio/mpeg":  MP3Decoder{},
			"audio/pcm":   PCMDecoder{},
		},
		Fallback: ff,
	}
}

// Decode implements Decoder
func (d *DecoderSet) Decode(ctx context.Context, data []byte, contentType string) (*Buffer, error) {
	dec, ok := d.ByType[MediaType(contentType)]
	if !ok {
		dec = d.Fallback
	}
	if dec == nil {
		return nil, fmt.Errorf("%w: no decoder for %q", ErrUnsupportedAudioFormat, contentType)
	}
	return dec.Decode(ctx, data, contentType)
}

// WAVDecoder decodes integer PCM WAV files with go-audio/wav.
type WAVDecoder struct{}

// Decode implements Decoder
func (WAVDecoder) Decode(ctx context.Context, data []byte, contentType string) (*Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav container", ErrUnsupportedAudioFormat)
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: wav audio format %d", ErrUnsupportedAudioFormat, d.WavAudioFormat)
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAudioFormat, err)
	}
	return planesFromInts(pcm, int(d.BitDepth))
}

func planesFromInts(pcm *goaudio.IntBuffer, bitDepth int) (*Buffer, error) {
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 || pcm.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing wav format", ErrUnsupportedAudioFormat)
	}

	var scale func(int) float32
	switch bitDepth {
	case 8:
		scale = func(v int) float32 { return float32(v-128) / 128 }
	case 16:
		scale = func(v int) float32 { return DecodePCM16(int16(v)) }
	case 24:
		scale = func(v int) float32 { return float32(float64(v) / (1 << 23)) }
	case 32:
		scale = func(v int) float32 { return float32(float64(v) / (1 << 31)) }
	default:
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedAudioFormat, bitDepth)
	}

	channels := pcm.Format.NumChannels
	frames := len(pcm.Data) / channels
	buf := &Buffer{SampleRate: pcm.Format.SampleRate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames*channels; i++ {
		buf.Channels[i%channels][i/channels] = scale(pcm.Data[i])
	}
	return buf, nil
}

// MP3Decoder decodes MPEG-1/2 layer III with go-mp3. Output is always stereo.
type MP3Decoder struct{}

// Decode implements Decoder
func (MP3Decoder) Decode(ctx context.Context, data []byte, contentType string) (*Buffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAudioFormat, err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAudioFormat, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return planesFromS16LE(pcm, d.SampleRate(), 2), nil
}

// PCMDecoder decodes raw interleaved little-endian PCM described by content
// type parameters, e.g. "audio/pcm;rate=48000;channels=2;format=s16le".
// Supported formats are s16le (default) and f32le.
type PCMDecoder struct{}

// Decode implements Decoder
func (PCMDecoder) Decode(ctx context.Context, data []byte, contentType string) (*Buffer, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAudioFormat, err)
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("%w: pcm content type needs a positive rate", ErrUnsupportedAudioFormat)
	}
	channels := 1
	if v, ok := params["channels"]; ok {
		channels, err = strconv.Atoi(v)
		if err != nil || channels <= 0 {
			return nil, fmt.Errorf("%w: invalid pcm channel count %q", ErrUnsupportedAudioFormat, v)
		}
	}

	switch strings.ToLower(params["format"]) {
	case "", "s16le":
		return planesFromS16LE(data, rate, channels), nil
	case "f32le":
		return planesFromF32LE(data, rate, channels), nil
	default:
		return nil, fmt.Errorf("%w: pcm format %q", ErrUnsupportedAudioFormat, params["format"])
	}
}

func planesFromS16LE(pcm []byte, rate, channels int) *Buffer {
	frames := len(pcm) / (2 * channels)
	buf := &Buffer{SampleRate: rate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * 2
			buf.Channels[ch][f] = DecodePCM16(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
	}
	return buf
}

func planesFromF32LE(pcm []byte, rate, channels int) *Buffer {
	frames := len(pcm) / (4 * channels)
	buf := &Buffer{SampleRate: rate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * 4
			buf.Channels[ch][f] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[off:]))
		}
	}
	return buf
}

// FFmpegDecoder decodes any container ffmpeg understands (webm, ogg, flac,
// mp4 ...) by probing the first audio stream and converting it to f32le.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegDecoder returns a decoder using ffmpeg and ffprobe from PATH.
func NewFFmpegDecoder() *FFmpegDecoder {
	return &FFmpegDecoder{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

type probeOutput struct {
	Streams []struct {
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Decode implements Decoder
func (f *FFmpegDecoder) Decode(ctx context.Context, data []byte, contentType string) (*Buffer, error) {
	tmp, err := os.CreateTemp("", "wavcapture-decode-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	rate, channels, err := f.probe(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", tmp.Name(),
		"-map", "0:a:0",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(rate),
		"-f", "f32le", "-c:a", "pcm_f32le",
		"pipe:1",
	)
	slog.Debug("Running FFmpeg for decoding", "command", strings.Join(cmd.Args, " "), "content_type", contentType)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffmpeg decode failed: %w (output: %s)", ErrUnsupportedAudioFormat, err, strings.TrimSpace(stderr.String()))
	}

	return planesFromF32LE(stdout.Bytes(), rate, channels), nil
}

func (f *FFmpegDecoder) probe(ctx context.Context, path string) (int, int, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate,channels",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}
		return 0, 0, fmt.Errorf("%w: ffprobe failed: %w (output: %s)", ErrUnsupportedAudioFormat, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (int, int, error) {
	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return 0, 0, fmt.Errorf("%w: unreadable ffprobe output: %w", ErrUnsupportedAudioFormat, err)
	}
	if len(probed.Streams) == 0 {
		return 0, 0, fmt.Errorf("%w: no audio stream", ErrUnsupportedAudioFormat)
	}
	stream := probed.Streams[0]
	rate, err := strconv.Atoi(stream.SampleRate)
	if err != nil || rate <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid sample rate %q", ErrUnsupportedAudioFormat, stream.SampleRate)
	}
	if stream.Channels <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid channel count %d", ErrUnsupportedAudioFormat, stream.Channels)
	}
	return rate, stream.Channels, nil
}
