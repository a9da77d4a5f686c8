package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/pcm"
)

// DefaultTick is how much audio the output renders per clock step
const DefaultTick = 20 * time.Millisecond

// SpeakerConfig configures the ffplay output process
type SpeakerConfig struct {
	// FFplayPath defaults to "ffplay" on PATH.
	FFplayPath string
	Tick       time.Duration
}

// Speaker implements repositories.Speaker with a software clock that mixes
// scheduled sources and streams them to ffplay
type Speaker struct {
	config SpeakerConfig
	logger *zap.Logger

	lookPath func(file string) (string, error)
	command  func(name string, args ...string) *exec.Cmd
}

// NewSpeaker creates a new ffplay speaker
func NewSpeaker(config SpeakerConfig, logger *zap.Logger) *Speaker {
	if config.FFplayPath == "" {
		config.FFplayPath = "ffplay"
	}
	if config.Tick <= 0 {
		config.Tick = DefaultTick
	}
	return &Speaker{
		config:   config,
		logger:   logger,
		lookPath: exec.LookPath,
		command:  exec.Command,
	}
}

// Open starts ffplay and the output clock
func (s *Speaker) Open(ctx context.Context, sampleRate int) (repositories.AudioOutput, error) {
	if _, err := s.lookPath(s.config.FFplayPath); err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", domain.ErrDeviceUnavailable, s.config.FFplayPath, err)
	}

	sink := &ffplaySink{
		path:    s.config.FFplayPath,
		command: s.command,
		args: []string{
			"-hide_banner", "-loglevel", "error", "-nostats",
			"-nodisp",
			"-f", "s16le",
			"-ch_layout", "mono",
			"-ar", strconv.Itoa(sampleRate),
			"-i", "-",
		},
	}
	if err := sink.Restart(); err != nil {
		return nil, fmt.Errorf("%w: start ffplay: %v", domain.ErrDeviceUnavailable, err)
	}

	out := newOutput(sink, sampleRate, s.config.Tick, s.logger)
	go out.run()

	s.logger.Info("Speaker opened", zap.String("ffplay", s.config.FFplayPath), zap.Int("sampleRate", sampleRate))
	return out, nil
}

// sink receives rendered s16le audio
type sink interface {
	Write(p []byte) error
	// Restart drops whatever the sink has buffered.
	Restart() error
	Close() error
}

// ffplaySink feeds an ffplay process through its stdin
type ffplaySink struct {
	path    string
	args    []string
	command func(name string, args ...string) *exec.Cmd

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (f *ffplaySink) Write(p []byte) error {
	f.mu.Lock()
	stdin := f.stdin
	f.mu.Unlock()
	if stdin == nil {
		return errors.New("ffplay is not running")
	}
	_, err := stdin.Write(p)
	return err
}

func (f *ffplaySink) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()

	cmd := f.command(f.path, f.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	f.cmd = cmd
	f.stdin = stdin
	return nil
}

func (f *ffplaySink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}

func (f *ffplaySink) closeLocked() {
	if f.stdin != nil {
		_ = f.stdin.Close()
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
		_ = f.cmd.Wait()
	}
	f.cmd = nil
	f.stdin = nil
}

// output is a playback clock counted in rendered frames
type output struct {
	sink       sink
	sampleRate int
	tick       time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	position int64
	sources  map[uint64]*source
	nextID   uint64
	closed   bool

	stop      chan struct{}
	closeOnce sync.Once
}

func newOutput(sink sink, sampleRate int, tick time.Duration, logger *zap.Logger) *output {
	return &output{
		sink:       sink,
		sampleRate: sampleRate,
		tick:       tick,
		logger:     logger,
		sources:    make(map[uint64]*source),
		stop:       make(chan struct{}),
	}
}

func (o *output) run() {
	frames := int(int64(o.sampleRate) * int64(o.tick) / int64(time.Second))
	if frames <= 0 {
		frames = 1
	}
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.render(frames)
		}
	}
}

func (o *output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.toDuration(o.position)
}

func (o *output) Start(buf *pcm.Buffer, at time.Duration, onEnded func()) (repositories.PlayingSource, error) {
	if buf == nil || buf.SampleRate <= 0 {
		return nil, errors.New("audio buffer has no sample rate")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errors.New("audio output is closed")
	}

	start := o.toFrames(at)
	if start < o.position {
		start = o.position
	}
	src := &source{
		output:  o,
		id:      o.nextID,
		buf:     buf,
		start:   start,
		length:  (int64(buf.Frames())*int64(o.sampleRate) + int64(buf.SampleRate) - 1) / int64(buf.SampleRate),
		onEnded: onEnded,
	}
	o.nextID++
	o.sources[src.id] = src
	return src, nil
}

// render advances the clock by frames, mixing every source that overlaps the step
func (o *output) render(frames int) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	from := o.position
	to := from + int64(frames)
	mix := make([]float32, frames)
	var ended []*source
	for id, src := range o.sources {
		begin := max(src.start, from)
		end := min(src.start+src.length, to)
		for f := begin; f < end; f++ {
			mix[f-from] += src.sample(f-src.start, o.sampleRate)
		}
		if src.start+src.length <= to {
			delete(o.sources, id)
			ended = append(ended, src)
		}
	}
	o.position = to
	o.mu.Unlock()

	if err := o.sink.Write(pcm.Encode(mix)); err != nil {
		o.logger.Warn("Failed to write audio to speaker", zap.Error(err))
	}
	for _, src := range ended {
		if src.onEnded != nil && !src.stopped.Load() {
			src.onEnded()
		}
	}
}

func (o *output) Reset() error {
	return o.sink.Restart()
}

func (o *output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.sources = make(map[uint64]*source)
		o.mu.Unlock()

		close(o.stop)
		err = o.sink.Close()
	})
	return err
}

// toFrames rounds to the nearest frame so that durations truncated to whole
// nanoseconds still land on the frame they were computed from
func (o *output) toFrames(d time.Duration) int64 {
	return (int64(d)*int64(o.sampleRate) + int64(time.Second)/2) / int64(time.Second)
}

func (o *output) toDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(o.sampleRate))
}

// source is one scheduled buffer, measured in output frames
type source struct {
	output  *output
	id      uint64
	buf     *pcm.Buffer
	start   int64
	length  int64
	onEnded func()
	stopped atomic.Bool
}

// sample returns the mono sample at output frame i of the source
func (s *source) sample(i int64, outputRate int) float32 {
	idx := i * int64(s.buf.SampleRate) / int64(outputRate)
	if idx >= int64(s.buf.Frames()) {
		return 0
	}
	var sum float32
	for _, channel := range s.buf.Channels {
		sum += channel[idx]
	}
	return sum / float32(len(s.buf.Channels))
}

func (s *source) Stop() error {
	s.output.mu.Lock()
	defer s.output.mu.Unlock()
	s.stopped.Store(true)
	delete(s.output.sources, s.id)
	return nil
}

var _ repositories.Speaker = (*Speaker)(nil)
