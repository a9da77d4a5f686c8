// Package playback schedules inbound audio segments back to back on an output device.
package playback

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/pcm"
)

// Scheduler owns the playback cursor: the clock position at which the next
// segment starts. Segments never overlap and never start before the device clock.
type Scheduler struct {
	output repositories.AudioOutput
	logger *zap.Logger

	mu     sync.Mutex
	cursor time.Duration
	live   map[uint64]repositories.PlayingSource
	nextID uint64
}

// NewScheduler creates a scheduler for an opened output device
func NewScheduler(output repositories.AudioOutput, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		output: output,
		logger: logger,
		live:   make(map[uint64]repositories.PlayingSource),
	}
}

// Schedule decodes a mono PCM segment and queues it right after the previous one.
// A malformed segment is dropped and reported; playback of other segments continues.
func (s *Scheduler) Schedule(data []byte, sampleRate int) (time.Duration, error) {
	buf, err := pcm.Decode(data, sampleRate, 1)
	if err != nil {
		s.logger.Warn("Dropping malformed audio segment", zap.Int("bytes", len(data)), zap.Error(err))
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.cursor
	if now := s.output.Now(); now > start {
		start = now
	}

	id := s.nextID
	s.nextID++
	source, err := s.output.Start(buf, start, func() { s.ended(id) })
	if err != nil {
		return 0, fmt.Errorf("failed to start audio segment: %w", err)
	}

	s.live[id] = source
	s.cursor = start + buf.Duration()

	s.logger.Debug("Scheduled audio segment",
		zap.Duration("start", start),
		zap.Duration("duration", buf.Duration()),
		zap.Int("live", len(s.live)))
	return start, nil
}

// Interrupt stops every scheduled segment, drops audio already handed to the
// device and rewinds the cursor to zero. It is safe to call at any time,
// including with nothing scheduled.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := s.stopAll()
	if err := s.output.Reset(); err != nil {
		s.logger.Warn("Failed to reset audio output", zap.Error(err))
	}
	if stopped > 0 {
		s.logger.Info("Playback interrupted", zap.Int("stopped", stopped))
	}
}

// Stop stops every scheduled segment without resetting the device. It is used
// when the output is about to be closed anyway.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stopped := s.stopAll(); stopped > 0 {
		s.logger.Debug("Playback stopped", zap.Int("stopped", stopped))
	}
}

func (s *Scheduler) stopAll() int {
	for id, source := range s.live {
		if err := source.Stop(); err != nil {
			s.logger.Debug("Ignoring stop failure", zap.Uint64("segment", id), zap.Error(err))
		}
	}
	stopped := len(s.live)
	s.live = make(map[uint64]repositories.PlayingSource)
	s.cursor = 0
	return stopped
}

// Cursor returns the clock position where the next segment would start if the device clock lagged behind
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Live returns the number of segments scheduled or playing
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
}
