package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultCaptureRate     = 48000
	defaultCaptureChannels = 1
	defaultCaptureCodec    = "libopus"
	defaultOpenTimeout     = 5 * time.Second
	ffmpegStopTimeout      = 5 * time.Second
	captureChunkSize       = 4096
)

// codecContainer maps an ffmpeg encoder to its muxer and content type.
func codecContainer(codec string) (muxer, contentType string, err error) {
	switch codec {
	case "", "libopus", "opus":
		return "webm", "audio/webm;codecs=opus", nil
	case "libvorbis", "vorbis":
		return "ogg", "audio/ogg;codecs=vorbis", nil
	case "flac":
		return "flac", ContentTypeFLAC, nil
	}
	return "", "", fmt.Errorf("unsupported capture codec: %s", codec)
}

// PipeWireSource captures through ffmpeg's pulse input. ffmpeg writes the
// encoded stream to stdout and a mono f32le copy to fd 3 for metering.
type PipeWireSource struct {
	FFmpegPath  string
	SampleRate  int
	Channels    int
	Codec       string
	OpenTimeout time.Duration

	pipewire *PipeWire
}

// NewPipeWireSource creates a source with the given capture options
func NewPipeWireSource(opts CaptureOptions) *PipeWireSource {
	src := &PipeWireSource{
		FFmpegPath:  opts.FFmpegPath,
		SampleRate:  opts.SampleRate,
		Channels:    opts.Channels,
		Codec:       opts.Codec,
		OpenTimeout: defaultOpenTimeout,
		pipewire:    NewPipeWire(),
	}
	if src.FFmpegPath == "" {
		src.FFmpegPath = "ffmpeg"
	}
	if src.SampleRate <= 0 {
		src.SampleRate = defaultCaptureRate
	}
	if src.Channels <= 0 {
		src.Channels = defaultCaptureChannels
	}
	if src.Codec == "" {
		src.Codec = defaultCaptureCodec
	}
	return src
}

func (p *PipeWireSource) buildArgs(device, muxer string) []string {
	if device == "" {
		device = "default"
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "pulse",
		"-sample_rate", strconv.Itoa(p.SampleRate),
		"-channels", strconv.Itoa(p.Channels),
		"-i", device,
		"-map", "0:a", "-c:a", p.Codec, "-f", muxer, "pipe:1",
		"-map", "0:a", "-ac", "1", "-c:a", "pcm_f32le", "-f", "f32le", "pipe:3",
	}
}

// Open implements InputSource. It returns once the device delivers audio.
func (p *PipeWireSource) Open(ctx context.Context, deviceID string) (InputStream, error) {
	if p.pipewire != nil {
		if err := p.pipewire.ValidateDevice(deviceID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
	}

	muxer, contentType, err := codecContainer(p.Codec)
	if err != nil {
		return nil, err
	}

	args := p.buildArgs(deviceID, muxer)
	slog.Info("Starting PipeWire FFmpeg", "command", p.FFmpegPath+" "+strings.Join(args, " "))

	cmd := exec.Command(p.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	monitorR, monitorW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{monitorW}

	if err := cmd.Start(); err != nil {
		monitorR.Close()
		monitorW.Close()
		return nil, fmt.Errorf("%w: failed to start FFmpeg: %w", ErrDeviceUnavailable, err)
	}
	monitorW.Close()

	s := &ffmpegStream{
		cmd:         cmd,
		contentType: contentType,
		monitor:     monitorR,
		tap:         newRingTap(p.SampleRate),
		relay:       &chunkRelay{},
		ready:       make(chan struct{}),
		exited:      make(chan struct{}),
	}
	s.readers.Add(3)
	go s.readChunks(stdout)
	go s.readMonitor()
	go s.readOutput(stderr)
	go s.wait()

	timeout := p.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		slog.Debug("PipeWire capture delivering audio", "device", deviceID)
		return s, nil
	case <-s.exited:
		s.Close()
		return nil, fmt.Errorf("%w: FFmpeg exited before audio arrived: %s", ErrDeviceUnavailable, s.stderrOutput())
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case <-timer.C:
		s.Close()
		return nil, fmt.Errorf("%w: no audio from %q within %s", ErrDeviceUnavailable, deviceID, timeout)
	}
}

// ffmpegStream implements InputStream over a running ffmpeg capture
type ffmpegStream struct {
	cmd         *exec.Cmd
	contentType string
	monitor     *os.File
	tap         *ringTap
	relay       *chunkRelay

	readers   sync.WaitGroup
	readyOnce sync.Once
	ready     chan struct{}
	exited    chan struct{}
	waitErr   error

	stderrMu  sync.Mutex
	stderrBuf strings.Builder

	closeOnce sync.Once
}

// Start implements InputStream
func (s *ffmpegStream) Start(onChunk func([]byte)) error {
	s.relay.attach(onChunk)
	return nil
}

// Tap implements InputStream
func (s *ffmpegStream) Tap() (SignalTap, error) {
	return s.tap, nil
}

// ContentType implements InputStream
func (s *ffmpegStream) ContentType() string {
	return s.contentType
}

func (s *ffmpegStream) readChunks(pipe io.ReadCloser) {
	defer s.readers.Done()
	buf := make([]byte, captureChunkSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			s.relay.push(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("FFmpeg stdout read failed", "error", err)
			}
			return
		}
	}
}

func (s *ffmpegStream) readMonitor() {
	defer s.readers.Done()
	var dec f32Reader
	buf := make([]byte, captureChunkSize)
	for {
		n, err := s.monitor.Read(buf)
		if n > 0 {
			s.tap.Write(dec.decode(buf[:n]))
			s.readyOnce.Do(func() { close(s.ready) })
		}
		if err != nil {
			return
		}
	}
}

// readOutput reads ffmpeg's stderr and keeps it for error reports
func (s *ffmpegStream) readOutput(pipe io.ReadCloser) {
	defer s.readers.Done()
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		s.stderrMu.Lock()
		s.stderrBuf.WriteString(line + "\n")
		s.stderrMu.Unlock()
		slog.Debug("FFmpeg output", "stream", "stderr", "line", line)
	}
}

func (s *ffmpegStream) stderrOutput() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return strings.TrimSpace(s.stderrBuf.String())
}

// wait reaps the process once every pipe has been drained
func (s *ffmpegStream) wait() {
	s.readers.Wait()
	s.waitErr = s.cmd.Wait()
	close(s.exited)
}

// Finish implements InputStream. It interrupts ffmpeg so the muxer writes
// its trailer, then waits until stdout is drained.
func (s *ffmpegStream) Finish() error {
	select {
	case <-s.exited:
		return s.exitError()
	default:
	}

	if s.cmd.Process != nil {
		slog.Debug("Sending SIGINT to FFmpeg process")
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
			s.cmd.Process.Kill()
		}
	}

	timer := time.NewTimer(ffmpegStopTimeout)
	defer timer.Stop()

	select {
	case <-s.exited:
		return s.exitError()
	case <-timer.C:
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		s.cmd.Process.Kill()
		s.monitor.Close()
		<-s.exited
		return nil
	}
}

// exitError treats interrupt-driven exits as success
func (s *ffmpegStream) exitError() error {
	err := s.waitErr
	if err == nil {
		slog.Debug("FFmpeg exited successfully")
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Exit code 255 is ffmpeg's status after a handled interrupt
		if exitErr.ExitCode() == 255 {
			slog.Debug("FFmpeg exited normally after interrupt signal")
			return nil
		}
		if exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				slog.Debug("FFmpeg exited normally due to signal", "state", state)
				return nil
			}
		}
	}
	return fmt.Errorf("FFmpeg process failed: %w (output: %s)", err, s.stderrOutput())
}

// Close implements InputStream
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.relay.detach()
		select {
		case <-s.exited:
		default:
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			s.monitor.Close()
			<-s.exited
		}
		s.monitor.Close()
		s.tap.Close()
	})
	return nil
}
