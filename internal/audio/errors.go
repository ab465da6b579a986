package audio

import "errors"

// ErrDeviceUnavailable indicates the input device was denied or could not be found.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrUnsupportedAudioFormat indicates an artifact could not be decoded.
var ErrUnsupportedAudioFormat = errors.New("unsupported audio format")

// ErrEmptyCapture indicates a capture or artifact that holds no audio bytes.
// It is a signal rather than a failure: callers skip normalization and upload.
var ErrEmptyCapture = errors.New("empty capture")

// ErrCaptureCancelled is returned by Start when Reset abandoned the device
// acquisition it was waiting on.
var ErrCaptureCancelled = errors.New("capture cancelled")
