// Package capture chunks live microphone audio into fixed-size encoded frames.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/pcm"
)

// DefaultFrameSize is the number of samples per frame
const DefaultFrameSize = 4096

// Options configures a capture pipeline
type Options struct {
	// FrameSize is the number of samples per frame (default 4096).
	FrameSize int
	// OnLevel receives the loudness of every frame in [0, 1].
	OnLevel func(level float64)
	// OnFrame receives every frame encoded as 16-bit little-endian PCM, in capture order.
	OnFrame func(data []byte)
	// OnError is called once if the device fails while the pipeline is running.
	OnError func(err error)
}

// Handle is a running capture pipeline. Frames are delivered at the device's cadence
// until Stop is called; a stopped pipeline cannot be restarted.
type Handle struct {
	input  repositories.AudioInput
	logger *zap.Logger

	stopOnce sync.Once
	stopped  atomic.Bool
	done     chan struct{}
}

// Start begins reading frames from an already opened input
func Start(input repositories.AudioInput, opts Options, logger *zap.Logger) *Handle {
	if opts.FrameSize <= 0 {
		opts.FrameSize = DefaultFrameSize
	}
	h := &Handle{
		input:  input,
		logger: logger,
		done:   make(chan struct{}),
	}
	go h.run(opts)
	return h
}

// Stop releases the device. It is idempotent and safe on a nil handle.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		if err := h.input.Close(); err != nil {
			h.logger.Warn("Failed to close microphone", zap.Error(err))
		}
		h.logger.Info("Capture stopped")
	})
}

// Done is closed when the capture goroutine has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) run(opts Options) {
	defer close(h.done)

	frame := make([]float32, opts.FrameSize)
	var frames int
	for {
		if err := readFull(h.input, frame); err != nil {
			if h.stopped.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("microphone stream ended: %w", err)
			}
			h.logger.Error("Capture failed", zap.Int("frames", frames), zap.Error(err))
			if opts.OnError != nil {
				opts.OnError(err)
			}
			return
		}
		if h.stopped.Load() {
			return
		}
		frames++

		if opts.OnLevel != nil {
			opts.OnLevel(pcm.Loudness(frame))
		}
		if opts.OnFrame != nil {
			opts.OnFrame(pcm.Encode(frame))
		}
	}
}

func readFull(input repositories.AudioInput, frame []float32) error {
	filled := 0
	for filled < len(frame) {
		n, err := input.Read(frame[filled:])
		filled += n
		if err != nil {
			if filled == len(frame) {
				return nil
			}
			return err
		}
	}
	return nil
}
