package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/internal/pcm"
)

// helperCommand runs this test binary as a stand-in for ffmpeg or ffplay
func helperCommand(mode string) func(name string, args ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", mode)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
}

func found(file string) (string, error) { return file, nil }

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Args[len(os.Args)-1] {
	case "capture":
		_, _ = os.Stdout.Write(pcm.Encode([]float32{0.5, -0.5, 0.25, -0.25}))
		time.Sleep(time.Minute)
	case "denied":
		fmt.Fprintln(os.Stderr, "[pulse @ 0x1] Permission denied")
		os.Exit(1)
	case "missing":
		fmt.Fprintln(os.Stderr, "default: No such file or directory")
		os.Exit(1)
	case "hang":
		time.Sleep(time.Minute)
	}
	os.Exit(0)
}

func newTestMicrophone(t *testing.T, mode string) *Microphone {
	mic := NewMicrophone(MicrophoneConfig{InputFormat: "lavfi", InputDevice: "sine"}, zaptest.NewLogger(t))
	mic.lookPath = found
	mic.command = helperCommand(mode)
	return mic
}

func TestMicrophone_ReadsSamples(t *testing.T) {
	mic := newTestMicrophone(t, "capture")

	in, err := mic.Open(context.Background(), pcm.InputSampleRate)
	require.NoError(t, err)
	defer in.Close()

	var got []float32
	buf := make([]float32, 4)
	for len(got) < 4 {
		n, err := in.Read(buf[:4-len(got)])
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, []float32{0.5, -0.5, 0.25, -0.25}, got)

	require.NoError(t, in.Close())
	require.NoError(t, in.Close(), "close is idempotent")
	_, err = in.Read(buf)
	assert.Error(t, err)
}

func TestMicrophone_OpenFailures(t *testing.T) {
	tests := []struct {
		name string
		mode string
		want error
	}{
		{name: "permission refused", mode: "denied", want: domain.ErrPermissionDenied},
		{name: "no device", mode: "missing", want: domain.ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestMicrophone(t, tt.mode).Open(context.Background(), pcm.InputSampleRate)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestMicrophone_MissingBinary(t *testing.T) {
	mic := NewMicrophone(MicrophoneConfig{}, zaptest.NewLogger(t))
	mic.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	_, err := mic.Open(context.Background(), pcm.InputSampleRate)
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
}

func TestMicrophone_OpenCancelled(t *testing.T) {
	mic := newTestMicrophone(t, "hang")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := mic.Open(ctx, pcm.InputSampleRate)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCaptureArgs(t *testing.T) {
	args, err := captureArgs("linux", MicrophoneConfig{}, 16000)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", "default",
		"-ac", "1", "-ar", "16000",
		"-f", "s16le", "-",
	}, args)

	args, err = captureArgs("darwin", MicrophoneConfig{}, 16000)
	require.NoError(t, err)
	assert.Contains(t, args, "avfoundation")
	assert.Contains(t, args, ":0")

	args, err = captureArgs("windows", MicrophoneConfig{InputFormat: "dshow", InputDevice: "audio=Mic"}, 16000)
	require.NoError(t, err)
	assert.Contains(t, args, "audio=Mic")

	_, err = captureArgs("windows", MicrophoneConfig{}, 16000)
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
}

func TestClassifyCaptureFailure(t *testing.T) {
	assert.ErrorIs(t, classifyCaptureFailure("Error: Not authorized to use microphone", errors.New("EOF")), domain.ErrPermissionDenied)
	assert.ErrorIs(t, classifyCaptureFailure("", errors.New("EOF")), domain.ErrDeviceUnavailable)
}
