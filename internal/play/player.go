package play

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/wavcapture/internal/audio"
	"github.com/audiolibrelab/wavcapture/internal/config"
	"github.com/hajimehoshi/oto"
)

// bufferDuration is the amount of audio oto buffers ahead of the device
const bufferDuration = 100 * time.Millisecond

// writeChunkFrames bounds each write so cancellation is noticed promptly
const writeChunkFrames = 4096

type output interface {
	io.Writer
	Close() error
}

// Player plays WAV files from the output directory or any path
type Player struct {
	directory string
	newOutput func(sampleRate, channels int) (output, error)
	external  func(path string) error
}

// New creates a player resolving names against cfg's output directory
func New(cfg *config.Config) *Player {
	return &Player{
		directory: cfg.Output.Directory,
		newOutput: newOtoOutput,
		external:  playExternal,
	}
}

// Resolve finds a WAV file by path, or by name inside the output directory.
// The .wav extension may be omitted.
func (p *Player) Resolve(name string) (string, error) {
	candidates := []string{name}
	if !strings.EqualFold(filepath.Ext(name), ".wav") {
		candidates = append(candidates, name+".wav")
	}
	if !filepath.IsAbs(name) && p.directory != "" {
		local := candidates
		for _, c := range local {
			candidates = append(candidates, filepath.Join(p.directory, c))
		}
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("audio file not found: %s", name)
}

// Play plays a WAV file through the default output device. When no device
// can be opened it falls back to an external player.
func (p *Player) Play(ctx context.Context, name string) error {
	path, err := p.Resolve(name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	fmt.Printf("Playing: %s\n", path)
	err = p.PlayData(ctx, data)
	if err != nil && ctx.Err() == nil && p.external != nil {
		slog.Warn("Built-in playback failed, trying external player", "error", err)
		err = p.external(path)
	}
	if err != nil {
		return err
	}
	fmt.Println("Playback completed")
	return nil
}

// PlayData plays an in-memory WAV file
func (p *Player) PlayData(ctx context.Context, data []byte) error {
	buf, err := audio.WAVDecoder{}.Decode(ctx, data, audio.ContentTypeWAV)
	if err != nil {
		return err
	}
	canonical, err := audio.EncodeWAV(buf)
	if err != nil {
		return err
	}
	header, err := audio.ParseWAVHeader(canonical)
	if err != nil {
		return err
	}
	pcm := canonical[44:]

	out, err := p.newOutput(int(header.SampleRate), int(header.NumChannels))
	if err != nil {
		return fmt.Errorf("failed to open output device: %w", err)
	}
	defer out.Close()

	slog.Debug("Starting playback",
		"sample_rate", header.SampleRate,
		"channels", header.NumChannels,
		"duration", buf.Duration())

	step := writeChunkFrames * int(header.BlockAlign)
	for off := 0; off < len(pcm); off += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+step, len(pcm))
		if _, err := out.Write(pcm[off:end]); err != nil {
			return fmt.Errorf("playback write failed: %w", err)
		}
	}
	return nil
}

type otoOutput struct {
	ctx    *oto.Context
	player *oto.Player
	drain  time.Duration
}

func newOtoOutput(sampleRate, channels int) (output, error) {
	bufferSize := int(float64(sampleRate*channels*2) * bufferDuration.Seconds())
	ctx, err := oto.NewContext(sampleRate, channels, 2, bufferSize)
	if err != nil {
		return nil, err
	}
	return &otoOutput{ctx: ctx, player: ctx.NewPlayer(), drain: bufferDuration}, nil
}

func (o *otoOutput) Write(b []byte) (int, error) {
	return o.player.Write(b)
}

// Close lets the device drain its buffer before releasing it.
func (o *otoOutput) Close() error {
	time.Sleep(o.drain)
	perr := o.player.Close()
	cerr := o.ctx.Close()
	if perr != nil {
		return perr
	}
	return cerr
}

func playExternal(path string) error {
	player, err := findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	var cmd *exec.Cmd
	switch player {
	case "ffplay":
		cmd = exec.Command("ffplay", "-nodisp", "-autoexit", path)
	case "pw-play":
		cmd = exec.Command("pw-play", path)
	case "aplay":
		cmd = exec.Command("aplay", path)
	case "mpv":
		cmd = exec.Command("mpv", "--no-video", path)
	default:
		return fmt.Errorf("unsupported player: %s", player)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

func findAudioPlayer() (string, error) {
	// List of preferred audio players in order of preference
	players := []string{"ffplay", "pw-play", "aplay", "mpv"}

	for _, player := range players {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
