package audio

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Media types the pipeline understands.
const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeMP3  = "audio/mpeg"
	ContentTypeWebM = "audio/webm"
	ContentTypeOgg  = "audio/ogg"
	ContentTypeFLAC = "audio/flac"
	ContentTypePCM  = "audio/pcm"
)

var wavMediaTypes = map[string]bool{
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/wave":  true,
}

// AcceptedFileTypes lists the media types accepted as file input.
var AcceptedFileTypes = []string{
	"audio/wav",
	"audio/x-wav",
	"audio/wave",
	"audio/mpeg",
	"audio/webm",
	"audio/ogg",
}

var extensionTypes = map[string]string{
	".wav":  ContentTypeWAV,
	".wave": ContentTypeWAV,
	".mp3":  ContentTypeMP3,
	".webm": ContentTypeWebM,
	".weba": ContentTypeWebM,
	".ogg":  ContentTypeOgg,
	".oga":  ContentTypeOgg,
	".opus": ContentTypeOgg,
	".flac": ContentTypeFLAC,
	".pcm":  ContentTypePCM,
}

// MediaType returns the lower-cased media type of contentType without
// parameters. Unparseable values fall back to the text before ';'.
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsWAVContentType reports whether contentType names a WAV container.
func IsWAVContentType(contentType string) bool {
	return wavMediaTypes[MediaType(contentType)]
}

// IsAcceptedFileType reports whether contentType may be submitted as file input.
func IsAcceptedFileType(contentType string) bool {
	mt := MediaType(contentType)
	for _, accepted := range AcceptedFileTypes {
		if mt == accepted {
			return true
		}
	}
	return false
}

// DetectContentType picks a media type from the file extension, falling
// back to sniffing the first bytes of data.
func DetectContentType(name string, data []byte) string {
	if ct, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	sniffed := MediaType(http.DetectContentType(data))
	switch sniffed {
	case "audio/wave", "audio/x-wav":
		return ContentTypeWAV
	case "application/ogg":
		return ContentTypeOgg
	case "video/webm":
		return ContentTypeWebM
	}
	return sniffed
}

// CheckFileType returns ErrUnsupportedAudioFormat for types outside
// AcceptedFileTypes.
func CheckFileType(contentType string) error {
	if !IsAcceptedFileType(contentType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedAudioFormat, contentType)
	}
	return nil
}

var typeExtensions = map[string]string{
	ContentTypeWAV:  ".wav",
	"audio/x-wav":   ".wav",
	"audio/wave":    ".wav",
	ContentTypeMP3:  ".mp3",
	ContentTypeWebM: ".webm",
	ContentTypeOgg:  ".ogg",
	ContentTypeFLAC: ".flac",
	ContentTypePCM:  ".pcm",
}

// Extension returns the file extension conventionally used for
// contentType, or ".bin" when unknown.
func Extension(contentType string) string {
	if ext, ok := typeExtensions[MediaType(contentType)]; ok {
		return ext
	}
	return ".bin"
}
