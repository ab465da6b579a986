package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiolibrelab/wavcapture/internal/audio"
	"github.com/audiolibrelab/wavcapture/internal/config"
	"github.com/audiolibrelab/wavcapture/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, backend *fakeBackend, decoder audio.Decoder) (*CaptureService, *metrics.Metrics) {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	cfg.Device.Source = "alsa_input.builtin"
	cfg.Transcription.Language = "en"

	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc, err := New(cfg, "", Dependencies{Backend: backend, Decoder: decoder, Metrics: m})
	require.NoError(t, err)
	svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return svc, m
}

func readSidecar(t *testing.T, path string) UploadRequest {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var req UploadRequest
	require.NoError(t, json.Unmarshal(data, &req))
	return req
}

func TestCaptureService_RecordAndStop(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		contentType: "audio/webm;codecs=opus",
		chunks:      [][]byte{[]byte("webm-"), []byte("bytes")},
	}}
	decoder := &fakeDecoder{}
	svc, m := newTestService(t, backend, decoder)

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	assert.Equal(t, []string{"alsa_input.builtin"}, backend.openedDevices())
	assert.Equal(t, audio.StateRecording, svc.GetStatus().State)
	assert.Equal(t, 48000, backend.options.SampleRate)
	assert.Equal(t, "libopus", backend.options.Codec)

	result, err := svc.StopRecording(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "mic-recording-1700000000123.wav", result.Name)
	assert.Equal(t, audio.PathTranscode, result.Normalization)
	assert.Equal(t, audio.ContentTypeWAV, result.ContentType)
	assert.Equal(t, []string{"audio/webm;codecs=opus"}, decoder.types)
	assert.Empty(t, result.RawPath)

	wav, err := os.ReadFile(result.WAVPath)
	require.NoError(t, err)
	header, err := audio.ParseWAVHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), header.NumChannels)
	assert.Equal(t, uint32(16000), header.SampleRate)

	req := readSidecar(t, result.MetadataPath)
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, req.RequestID, result.Metadata.RequestID)
	assert.Equal(t, InputSourceMicrophone, req.Settings.InputSource)
	assert.Equal(t, "alsa_input.builtin", req.Settings.InputDevice)
	assert.Equal(t, "en", req.Settings.Language)
	assert.True(t, req.Settings.EnablePunctuation)

	assert.Equal(t, audio.StateIdle, svc.GetStatus().State)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Normalizations.WithLabelValues(audio.PathTranscode)))
}

func TestCaptureService_ExplicitDevice(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{contentType: "audio/webm", chunks: [][]byte{{1}}}}
	svc, _ := newTestService(t, backend, &fakeDecoder{})

	require.NoError(t, svc.StartRecording(context.Background(), "usb-mic"))
	assert.Equal(t, "usb-mic", svc.GetStatus().Device)

	result, err := svc.StopRecording(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "usb-mic", result.Metadata.Settings.InputDevice)
}

func TestCaptureService_StopWithName(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{contentType: "audio/webm", chunks: [][]byte{{1}}}}
	svc, _ := newTestService(t, backend, &fakeDecoder{})

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	result, err := svc.StopRecording(context.Background(), "Team standup 10/3")
	require.NoError(t, err)
	assert.Equal(t, "Team-standup-10-3.wav", result.Name)
}

func TestCaptureService_StopWithoutStart(t *testing.T) {
	svc, m := newTestService(t, &fakeBackend{}, &fakeDecoder{})

	_, err := svc.StopRecording(context.Background(), "")
	assert.ErrorIs(t, err, audio.ErrEmptyCapture)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecordingsEmpty))
}

func TestCaptureService_EmptyRecording(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{contentType: "audio/webm"}}
	svc, m := newTestService(t, backend, &fakeDecoder{})

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	_, err := svc.StopRecording(context.Background(), "")
	assert.ErrorIs(t, err, audio.ErrEmptyCapture)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsEmpty))

	entries, err := os.ReadDir(svc.GetConfig().Output.Directory)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCaptureService_DoubleStartOpensOnce(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{contentType: "audio/webm", chunks: [][]byte{{1}}}}
	svc, m := newTestService(t, backend, &fakeDecoder{})

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	require.NoError(t, svc.StartRecording(context.Background(), ""))

	assert.Len(t, backend.openedDevices(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsStarted))
	svc.CancelRecording()
}

func TestCaptureService_DeviceUnavailable(t *testing.T) {
	backend := &fakeBackend{openErr: errors.New("no such source")}
	svc, m := newTestService(t, backend, &fakeDecoder{})

	err := svc.StartRecording(context.Background(), "ghost")
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)

	status := svc.GetStatus()
	assert.Equal(t, audio.StateIdle, status.State)
	assert.Contains(t, status.LastError, "Failed to start recording")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeviceErrors))
}

func TestCaptureService_Cancel(t *testing.T) {
	stream := &fakeStream{contentType: "audio/webm", chunks: [][]byte{{1, 2, 3}}}
	svc, m := newTestService(t, &fakeBackend{stream: stream}, &fakeDecoder{})

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	svc.CancelRecording()

	assert.Equal(t, audio.StateIdle, svc.GetStatus().State)
	assert.Equal(t, 1, stream.closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsCancelled))

	_, err := svc.StopRecording(context.Background(), "")
	assert.ErrorIs(t, err, audio.ErrEmptyCapture)

	// Cancelling an idle service changes nothing.
	svc.CancelRecording()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsCancelled))
}

func TestCaptureService_KeepRaw(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{contentType: "audio/ogg", chunks: [][]byte{[]byte("OggS")}}}
	svc, _ := newTestService(t, backend, &fakeDecoder{})
	svc.GetConfig().Output.KeepRaw = true

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	result, err := svc.StopRecording(context.Background(), "")
	require.NoError(t, err)

	require.NotEmpty(t, result.RawPath)
	assert.Equal(t, "mic-recording-1700000000123.raw.ogg", filepath.Base(result.RawPath))
	raw, err := os.ReadFile(result.RawPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS"), raw)
}

func TestCaptureService_FinishErrorKeepsAudio(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		contentType: "audio/webm",
		chunks:      [][]byte{{9}},
		finishErr:   errors.New("ffmpeg exited with status 1"),
	}}
	svc, _ := newTestService(t, backend, &fakeDecoder{})

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	result, err := svc.StopRecording(context.Background(), "")
	require.NoError(t, err)
	assert.FileExists(t, result.WAVPath)
}

func TestCaptureService_NormalizeFailure(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{contentType: "audio/webm", chunks: [][]byte{{1}}}}
	decoder := &fakeDecoder{err: errors.New("corrupt stream")}
	svc, m := newTestService(t, backend, decoder)

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	_, err := svc.StopRecording(context.Background(), "")
	assert.ErrorIs(t, err, audio.ErrUnsupportedAudioFormat)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NormalizationFailures.WithLabelValues("unsupported")))
	assert.NotEmpty(t, svc.GetLastError())
}

func TestCaptureService_ConvertWAVPassesThrough(t *testing.T) {
	decoder := &fakeDecoder{}
	svc, _ := newTestService(t, &fakeBackend{}, decoder)

	wav, err := audio.EncodeWAV(&audio.Buffer{SampleRate: 8000, Channels: [][]float32{{0, 0.5}}})
	require.NoError(t, err)

	result, err := svc.Convert(context.Background(), "take.wav", wav)
	require.NoError(t, err)

	assert.Equal(t, "take.wav", result.Name)
	assert.Equal(t, audio.PathPassthrough, result.Normalization)
	assert.Empty(t, decoder.types)
	assert.Equal(t, "take.json", filepath.Base(result.MetadataPath))

	written, err := os.ReadFile(result.WAVPath)
	require.NoError(t, err)
	assert.Equal(t, wav, written)

	req := readSidecar(t, result.MetadataPath)
	assert.Equal(t, InputSourceFile, req.Settings.InputSource)
	assert.Empty(t, req.Settings.InputDevice)
}

func TestCaptureService_ConvertWAVAlwaysWritesWAVExtension(t *testing.T) {
	wav, err := audio.EncodeWAV(&audio.Buffer{SampleRate: 8000, Channels: [][]float32{{0.25, -0.25}}})
	require.NoError(t, err)

	tests := []struct {
		name     string
		wantWAV  string
		wantMeta string
	}{
		{"take.json", "take.wav", "take.json"},
		{"clip", "clip.wav", "clip.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, &fakeBackend{}, &fakeDecoder{})

			result, err := svc.Convert(context.Background(), tt.name, wav)
			require.NoError(t, err)

			assert.Equal(t, tt.wantWAV, result.Name)
			assert.Equal(t, tt.wantWAV, filepath.Base(result.WAVPath))
			assert.Equal(t, tt.wantMeta, filepath.Base(result.MetadataPath))

			written, err := os.ReadFile(result.WAVPath)
			require.NoError(t, err)
			assert.Equal(t, wav, written)
			readSidecar(t, result.MetadataPath)
		})
	}
}

func TestCaptureService_ConvertTranscodesMP3(t *testing.T) {
	decoder := &fakeDecoder{}
	svc, _ := newTestService(t, &fakeBackend{}, decoder)

	result, err := svc.Convert(context.Background(), "My Recording #1.mp3", []byte("ID3"))
	require.NoError(t, err)

	assert.Equal(t, "My-Recording-1.wav", result.Name)
	assert.Equal(t, []string{audio.ContentTypeMP3}, decoder.types)
	assert.FileExists(t, filepath.Join(svc.GetConfig().Output.Directory, "My-Recording-1.json"))
}

func TestCaptureService_ConvertRejectsUnsupported(t *testing.T) {
	decoder := &fakeDecoder{}
	svc, m := newTestService(t, &fakeBackend{}, decoder)

	_, err := svc.Convert(context.Background(), "notes.txt", []byte("hello world"))
	assert.ErrorIs(t, err, audio.ErrUnsupportedAudioFormat)
	assert.Empty(t, decoder.types)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NormalizationFailures.WithLabelValues("rejected")))

	_, err = svc.Convert(context.Background(), "capture.pcm", make([]byte, 64))
	assert.ErrorIs(t, err, audio.ErrUnsupportedAudioFormat)
	assert.Empty(t, decoder.types)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NormalizationFailures.WithLabelValues("rejected")))

	_, err = svc.Convert(context.Background(), "empty.wav", nil)
	assert.ErrorIs(t, err, audio.ErrEmptyCapture)
}

func TestCaptureService_ListDevices(t *testing.T) {
	devices := []audio.Device{{ID: "a", Name: "Mic A", Default: true}}
	svc, _ := newTestService(t, &fakeBackend{devices: devices}, &fakeDecoder{})

	got, err := svc.ListDevices()
	require.NoError(t, err)
	assert.Equal(t, devices, got)
}

func TestCaptureService_LoadProfile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "wavcapture.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
active_config: default
configs:
  default:
    audio:
      sample_rate: 48000
  interview:
    audio:
      sample_rate: 16000
`), 0644))

	cfg, err := config.LoadWithProfile(configFile, "")
	require.NoError(t, err)

	backend := &fakeBackend{stream: &fakeStream{contentType: "audio/webm", chunks: [][]byte{{1}}}}
	svc, err := New(cfg, configFile, Dependencies{Backend: backend, Decoder: &fakeDecoder{}})
	require.NoError(t, err)

	require.NoError(t, svc.LoadProfile("interview"))
	assert.Equal(t, "interview", svc.GetConfig().Profile)
	assert.Equal(t, 16000, backend.options.SampleRate)

	assert.Error(t, svc.LoadProfile("missing"))

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	assert.Error(t, svc.LoadProfile("default"))
	svc.CancelRecording()
}

func TestStatus_ElapsedFormatting(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{}, &fakeDecoder{})
	status := svc.GetStatus()
	assert.Equal(t, "00:00", status.Elapsed)
	assert.Nil(t, status.StartedAt)
	assert.Equal(t, "fake", status.Backend)
	assert.Equal(t, "alsa_input.builtin", status.Device)
}
