// Package pcm converts between float samples and 16-bit little-endian linear PCM.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"mime"
	"strconv"
	"time"

	"github.com/satriahrh/companion/domain"
)

const (
	// InputSampleRate is the capture rate sent to the remote agent.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of audio received from the remote agent.
	OutputSampleRate = 24000
	// BytesPerSample of 16-bit PCM.
	BytesPerSample = 2

	fullScale = 32768.0
)

// MalformedAudioError reports a payload whose length is not a whole number of frames
type MalformedAudioError struct {
	Length   int
	Channels int
}

func (e *MalformedAudioError) Error() string {
	return fmt.Sprintf("pcm payload of %d bytes is not a multiple of %d", e.Length, BytesPerSample*e.Channels)
}

// Is lets callers match the error with errors.Is(err, domain.ErrMalformedAudio)
func (e *MalformedAudioError) Is(target error) bool {
	return target == domain.ErrMalformedAudio
}

// Buffer is a decoded, ready-to-play audio segment
type Buffer struct {
	SampleRate int
	// Channels holds one slice of samples per channel, all of equal length.
	Channels [][]float32
}

// Frames returns the number of samples per channel
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playing time of the buffer
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Encode clamps each sample to [-1, 1] and writes it as a signed 16-bit little-endian integer
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(toInt16(s)))
	}
	return out
}

func toInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(math.Max(-1, math.Min(1, v)) * fullScale)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

// Decode reinterprets interleaved little-endian 16-bit samples as a playable buffer
func Decode(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	frameBytes := BytesPerSample * channels
	if len(data)%frameBytes != 0 {
		return nil, &MalformedAudioError{Length: len(data), Channels: channels}
	}

	frames := len(data) / frameBytes
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * BytesPerSample
			buf.Channels[ch][i] = float32(int16(binary.LittleEndian.Uint16(data[off:]))) / fullScale
		}
	}
	return buf, nil
}

// BytesToBase64 encodes a payload for JSON wire transport
func BytesToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64ToBytes decodes a payload received over JSON wire transport
func Base64ToBytes(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return data, nil
}

// Loudness returns the root-mean-square level of samples clamped to [0, 1]
func Loudness(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Min(1, math.Sqrt(sum/float64(len(samples))))
}

// MIMEType returns the wire mime type of mono PCM at rate
func MIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// RateFromMIME extracts the rate parameter of an audio/pcm mime type
func RateFromMIME(mimeType string, fallback int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}
