package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/companion/internal/pcm"
)

// Microphone grants access to the capture device
type Microphone interface {
	// Open requests access to the device. It fails with domain.ErrPermissionDenied
	// or domain.ErrDeviceUnavailable.
	Open(ctx context.Context, sampleRate int) (AudioInput, error)
}

// AudioInput is an open capture stream of mono samples in [-1, 1]
type AudioInput interface {
	// Read blocks until at least one sample is available.
	Read(samples []float32) (int, error)
	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Speaker grants access to the output device
type Speaker interface {
	Open(ctx context.Context, sampleRate int) (AudioOutput, error)
}

// AudioOutput is an output device with its own playback clock
type AudioOutput interface {
	// Now is the current position of the playback clock.
	Now() time.Duration
	// Start schedules buf to begin playing at clock position at. onEnded is
	// called once when the source has played to the end, never after Stop and
	// never from within Start.
	Start(buf *pcm.Buffer, at time.Duration, onEnded func()) (PlayingSource, error)
	// Reset drops audio already handed to the device.
	Reset() error
	Close() error
}

// PlayingSource is a scheduled or playing segment
type PlayingSource interface {
	// Stop halts the source. Stopping a finished source is not an error.
	Stop() error
}
