// Package device captures and plays audio through ffmpeg and ffplay child processes.
package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/pcm"
)

// MicrophoneConfig configures the ffmpeg capture process
type MicrophoneConfig struct {
	// FFmpegPath defaults to "ffmpeg" on PATH.
	FFmpegPath string
	// InputFormat and InputDevice override the platform capture input,
	// e.g. "alsa" and "hw:0".
	InputFormat string
	InputDevice string
}

// Microphone implements repositories.Microphone by reading s16le mono from ffmpeg
type Microphone struct {
	config MicrophoneConfig
	logger *zap.Logger

	lookPath func(file string) (string, error)
	command  func(name string, args ...string) *exec.Cmd
}

// NewMicrophone creates a new ffmpeg microphone
func NewMicrophone(config MicrophoneConfig, logger *zap.Logger) *Microphone {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	return &Microphone{
		config:   config,
		logger:   logger,
		lookPath: exec.LookPath,
		command:  exec.Command,
	}
}

// captureArgs builds the ffmpeg arguments for the platform's default capture input
func captureArgs(goos string, config MicrophoneConfig, sampleRate int) ([]string, error) {
	format, device := config.InputFormat, config.InputDevice
	if format == "" {
		switch goos {
		case "darwin":
			format, device = "avfoundation", orDefault(device, ":0")
		case "linux":
			format, device = "pulse", orDefault(device, "default")
		default:
			return nil, fmt.Errorf("%w: microphone capture is not implemented for %s", domain.ErrDeviceUnavailable, goos)
		}
	}
	if device == "" {
		device = "default"
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", device,
		"-ac", "1", "-ar", strconv.Itoa(sampleRate),
		"-f", "s16le", "-",
	}, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Open starts ffmpeg and waits for the first captured byte, so that a refused
// or missing device fails here rather than on the first read
func (m *Microphone) Open(ctx context.Context, sampleRate int) (repositories.AudioInput, error) {
	if _, err := m.lookPath(m.config.FFmpegPath); err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", domain.ErrDeviceUnavailable, m.config.FFmpegPath, err)
	}
	args, err := captureArgs(runtime.GOOS, m.config, sampleRate)
	if err != nil {
		return nil, err
	}

	cmd := m.command(m.config.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: open ffmpeg stdout: %v", domain.ErrDeviceUnavailable, err)
	}
	stderr := &boundedBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", domain.ErrDeviceUnavailable, err)
	}

	in := &input{cmd: cmd, reader: bufio.NewReaderSize(stdout, 64*1024), sampleRate: sampleRate}

	first := make(chan error, 1)
	go func() {
		_, err := in.reader.Peek(1)
		first <- err
	}()

	select {
	case <-ctx.Done():
		_ = in.Close()
		return nil, ctx.Err()
	case err := <-first:
		if err != nil {
			_ = in.Close()
			return nil, classifyCaptureFailure(stderr.String(), err)
		}
	}

	m.logger.Info("Microphone opened",
		zap.String("ffmpeg", m.config.FFmpegPath),
		zap.Strings("args", args),
		zap.Int("sampleRate", sampleRate))
	return in, nil
}

var permissionMarkers = []string{"permission denied", "not authorized", "not permitted", "access denied"}

func classifyCaptureFailure(stderr string, err error) error {
	message := strings.TrimSpace(stderr)
	if message == "" {
		message = err.Error()
	}
	lower := strings.ToLower(message)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, message)
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrDeviceUnavailable, message)
}

// input is a running ffmpeg capture
type input struct {
	cmd        *exec.Cmd
	reader     *bufio.Reader
	sampleRate int
	raw        []byte

	closeOnce sync.Once
	closed    atomic.Bool
}

// Read blocks until at least one sample is available and converts it to float
func (in *input) Read(samples []float32) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	need := len(samples) * pcm.BytesPerSample
	if cap(in.raw) < need {
		in.raw = make([]byte, need)
	}
	raw := in.raw[:need]

	n, err := io.ReadAtLeast(in.reader, raw, pcm.BytesPerSample)
	if err == nil && n%pcm.BytesPerSample != 0 {
		_, err = io.ReadFull(in.reader, raw[n:n+1])
		n++
	}
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || in.closed.Load() {
			err = io.EOF
		}
		return 0, err
	}

	buf, err := pcm.Decode(raw[:n], in.sampleRate, 1)
	if err != nil {
		return 0, err
	}
	return copy(samples, buf.Channels[0]), nil
}

// Close kills ffmpeg; it is safe to call more than once
func (in *input) Close() error {
	in.closeOnce.Do(func() {
		in.closed.Store(true)
		if in.cmd.Process != nil {
			_ = in.cmd.Process.Kill()
			_ = in.cmd.Wait()
		}
	})
	return nil
}

// boundedBuffer keeps the first limit bytes written to it
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ repositories.Microphone = (*Microphone)(nil)
