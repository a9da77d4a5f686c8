package domain

import "errors"

// Error taxonomy shared by the live session, its adapters and the text chat path.
// Callers classify failures with errors.Is; adapters wrap these with context.
var (
	// ErrPermissionDenied means the microphone could not be opened because access was refused.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable means no usable capture or playback device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrConfiguration covers a missing credential or a malformed session configuration.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrChannel means the remote session failed to open or dropped with an error.
	ErrChannel = errors.New("live channel error")

	// ErrMalformedAudio is matched by pcm.MalformedAudioError.
	ErrMalformedAudio = errors.New("malformed audio payload")

	// ErrTransport is returned by the non-realtime text path.
	ErrTransport = errors.New("chat transport error")

	// ErrSessionClosed is returned when a command reaches a voice session that has been shut down.
	ErrSessionClosed = errors.New("voice session closed")

	// ErrNotFound is returned by repositories for unknown keys.
	ErrNotFound = errors.New("not found")
)
