package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/wavcapture/internal/audio"
	"github.com/audiolibrelab/wavcapture/internal/config"
	"github.com/google/uuid"
)

// Input source tags carried in upload metadata
const (
	InputSourceMicrophone = "microphone"
	InputSourceFile       = "file"
)

// TranscriptionSettings is the settings object sent alongside the audio file
type TranscriptionSettings struct {
	Language          string   `json:"language,omitempty"`
	Model             string   `json:"model"`
	StreamingMode     string   `json:"streaming_mode"`
	InputDevice       string   `json:"input_device,omitempty"`
	InputSource       string   `json:"input_source"`
	EnablePunctuation bool     `json:"enable_punctuation"`
	EnableVAD         bool     `json:"enable_vad"`
	VADThreshold      *float64 `json:"vad_threshold,omitempty"`
	Diarization       bool     `json:"diarization"`
}

// UploadRequest is the metadata half of an upload: request id plus settings
type UploadRequest struct {
	RequestID string                `json:"request_id"`
	Settings  TranscriptionSettings `json:"settings"`
}

// Result describes a normalized file written to the output directory
type Result struct {
	Name          string        `json:"name"`
	ContentType   string        `json:"content_type"`
	Size          int           `json:"size"`
	SizeHuman     string        `json:"size_human"`
	Normalization string        `json:"normalization"`
	DurationMs    int64         `json:"duration_ms,omitempty"`
	WAVPath       string        `json:"wav_path"`
	MetadataPath  string        `json:"metadata_path"`
	RawPath       string        `json:"raw_path,omitempty"`
	Metadata      UploadRequest `json:"metadata"`
}

func newUploadRequest(tc config.TranscriptionConfig, device, source string) UploadRequest {
	return UploadRequest{
		RequestID: uuid.NewString(),
		Settings: TranscriptionSettings{
			Language:          tc.Language,
			Model:             tc.Model,
			StreamingMode:     tc.StreamingMode,
			InputDevice:       device,
			InputSource:       source,
			EnablePunctuation: derefBool(tc.EnablePunctuation),
			EnableVAD:         derefBool(tc.EnableVAD),
			VADThreshold:      tc.VADThreshold,
			Diarization:       derefBool(tc.Diarization),
		},
	}
}

func derefBool(v *bool) bool {
	return v != nil && *v
}

// writeOutput stores the WAV file and its metadata sidecar in dir. When raw
// is non-nil the unnormalized capture is stored next to them.
func writeOutput(dir string, file audio.NormalizedFile, req UploadRequest, raw *audio.RawCapture) (*Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// The audio file always carries .wav, whatever name a pass-through kept
	name := filepath.Base(file.Name)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	result := &Result{
		Name:          base + ".wav",
		ContentType:   file.ContentType,
		Size:          len(file.Data),
		SizeHuman:     formatBytes(int64(len(file.Data))),
		Normalization: file.Path,
		WAVPath:       filepath.Join(dir, base+".wav"),
		MetadataPath:  filepath.Join(dir, base+".json"),
		Metadata:      req,
	}

	if err := os.WriteFile(result.WAVPath, file.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write WAV file: %w", err)
	}

	sidecar, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(result.MetadataPath, sidecar, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	if raw != nil {
		result.RawPath = filepath.Join(dir, base+".raw"+audio.Extension(raw.ContentType))
		if err := os.WriteFile(result.RawPath, raw.Data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write raw capture: %w", err)
		}
	}

	slog.Info("Output written",
		"wav", result.WAVPath,
		"metadata", result.MetadataPath,
		"request_id", req.RequestID,
		"size", result.SizeHuman)
	return result, nil
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
