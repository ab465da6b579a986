package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// DefaultFallbackName is used when no usable name can be derived.
const DefaultFallbackName = "audio"

// Normalization paths reported on NormalizedFile.Path.
const (
	PathPassthrough = "passthrough"
	PathRewrap      = "rewrap"
	PathTranscode   = "transcode"
)

var (
	invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	repeatedHyphens  = regexp.MustCompile(`-+`)
)

// Artifact is an audio blob with an optional file identity.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// NormalizedFile is the WAV artifact handed to the upload boundary.
type NormalizedFile struct {
	Name        string
	ContentType string
	Data        []byte
	Path        string
}

// Normalizer guarantees that any accepted artifact becomes a WAV container.
type Normalizer struct {
	decoder      Decoder
	fallbackName string
}

// NewNormalizer creates a normalizer. An empty fallbackName selects "audio".
func NewNormalizer(decoder Decoder, fallbackName string) *Normalizer {
	if fallbackName == "" {
		fallbackName = DefaultFallbackName
	}
	return &Normalizer{decoder: decoder, fallbackName: fallbackName}
}

// Normalize returns a as a WAV file. WAV input that already has a name is
// returned unchanged, unnamed WAV input is re-wrapped under a derived name,
// and anything else is decoded and re-encoded.
func (n *Normalizer) Normalize(ctx context.Context, a Artifact) (NormalizedFile, error) {
	if len(a.Data) == 0 {
		return NormalizedFile{}, ErrEmptyCapture
	}

	if IsWAVContentType(a.ContentType) {
		if a.Name != "" {
			slog.Debug("WAV artifact passed through", "name", a.Name)
			return NormalizedFile{Name: a.Name, ContentType: a.ContentType, Data: a.Data, Path: PathPassthrough}, nil
		}
		name := FileName(StripExtension(a.Name, n.fallbackName), n.fallbackName)
		slog.Debug("WAV artifact re-wrapped", "name", name)
		return NormalizedFile{Name: name, ContentType: ContentTypeWAV, Data: a.Data, Path: PathRewrap}, nil
	}

	if n.decoder == nil {
		return NormalizedFile{}, fmt.Errorf("%w: no decoder configured for %q", ErrUnsupportedAudioFormat, a.ContentType)
	}

	buf, err := n.decoder.Decode(ctx, a.Data, a.ContentType)
	if err != nil {
		if errors.Is(err, ErrUnsupportedAudioFormat) || ctx.Err() != nil {
			return NormalizedFile{}, err
		}
		return NormalizedFile{}, fmt.Errorf("%w: %w", ErrUnsupportedAudioFormat, err)
	}

	data, err := EncodeWAV(buf)
	if err != nil {
		return NormalizedFile{}, fmt.Errorf("%w: %w", ErrUnsupportedAudioFormat, err)
	}

	name := FileName(StripExtension(a.Name, n.fallbackName), n.fallbackName)
	slog.Debug("Artifact transcoded to WAV",
		"name", name,
		"source_type", a.ContentType,
		"sample_rate", buf.SampleRate,
		"channels", len(buf.Channels),
		"duration", buf.Duration())

	return NormalizedFile{Name: name, ContentType: ContentTypeWAV, Data: data, Path: PathTranscode}, nil
}

// StripExtension removes the last extension from name. An empty name
// yields fallback.
func StripExtension(name, fallback string) string {
	if name == "" {
		return fallback
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}

// FileName sanitizes base into a WAV file name, using fallback when nothing
// usable remains.
func FileName(base, fallback string) string {
	sanitized := invalidNameChars.ReplaceAllString(base, "-")
	sanitized = repeatedHyphens.ReplaceAllString(sanitized, "-")
	if sanitized == "" {
		sanitized = fallback
	}
	return sanitized + ".wav"
}
