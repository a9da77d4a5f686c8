// Package channel wraps a live connection to the remote agent in a callback-driven session
// whose handle is usable before the remote side has confirmed it.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/repositories"
)

// Callbacks receive session lifecycle and inbound events. OnOpen and OnEvent are called
// sequentially from the read goroutine. OnClose and OnError are terminal and at most
// one of them fires; none fire after Close.
type Callbacks struct {
	OnOpen  func()
	OnEvent func(event repositories.LiveEvent)
	OnClose func()
	OnError func(err error)
}

type outbound struct {
	text   string
	audio  []byte
	isText bool
}

// Session is a pending or resolved live session
type Session struct {
	config    repositories.LiveConfig
	callbacks Callbacks
	logger    *zap.Logger
	cancel    context.CancelFunc

	mu     sync.Mutex
	conn   repositories.LiveConnection
	queue  []outbound
	closed bool

	wake chan struct{}
	done chan struct{}
}

// Open starts dialing in the background and returns immediately. Sends made before
// the session resolves are queued and replayed in order once it does.
func Open(ctx context.Context, dialer repositories.LiveDialer, config repositories.LiveConfig, callbacks Callbacks, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		config:    config,
		callbacks: callbacks,
		logger:    logger.With(zap.String("model", config.Model)),
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.run(ctx, dialer)
	return s
}

// SendAudioFrame queues one encoded PCM frame at the configured input rate
func (s *Session) SendAudioFrame(data []byte) error {
	return s.enqueue(outbound{audio: data})
}

// SendText queues a text turn
func (s *Session) SendText(text string) error {
	return s.enqueue(outbound{text: text, isText: true})
}

// Close ends the session. A session that has not resolved yet is closed as soon as it
// does. No callback fires after Close. Safe to call more than once.
func (s *Session) Close() error {
	conn, first := s.shutdown()
	if !first || conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close live connection: %w", err)
	}
	return nil
}

// Done is closed once the session's goroutines have stopped delivering callbacks
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) enqueue(msg outbound) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// shutdown marks the session closed and reports whether this call did it
func (s *Session) shutdown() (repositories.LiveConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	s.queue = nil
	s.cancel()
	return s.conn, true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) run(ctx context.Context, dialer repositories.LiveDialer) {
	defer close(s.done)

	conn, err := dialer.Dial(ctx, s.config)
	if err != nil {
		if s.isClosed() {
			s.logger.Debug("Dial abandoned after close", zap.Error(err))
			return
		}
		s.fail(fmt.Errorf("%w: open live session: %w", domain.ErrChannel, err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Info("Closing live session that resolved after close")
		if err := conn.Close(); err != nil {
			s.logger.Warn("Failed to close late live session", zap.Error(err))
		}
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("Live session opened")
	go s.writePump(ctx, conn)

	if s.callbacks.OnOpen != nil {
		s.callbacks.OnOpen()
	}
	s.readPump(conn)
}

// writePump forwards queued sends to the connection in order
func (s *Session) writePump(ctx context.Context, conn repositories.LiveConnection) {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, msg := range batch {
			if ctx.Err() != nil {
				return
			}
			var err error
			if msg.isText {
				err = conn.SendText(msg.text)
			} else {
				err = conn.SendAudio(msg.audio, s.config.InputSampleRate)
			}
			if err != nil {
				if s.isClosed() {
					return
				}
				s.fail(fmt.Errorf("%w: send: %w", domain.ErrChannel, err))
				return
			}
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}

// readPump delivers inbound events until the connection ends
func (s *Session) readPump(conn repositories.LiveConnection) {
	for {
		events, err := conn.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			if errors.Is(err, io.EOF) {
				s.remoteClosed()
			} else {
				s.fail(fmt.Errorf("%w: receive: %w", domain.ErrChannel, err))
			}
			return
		}

		for _, event := range events {
			if s.isClosed() {
				return
			}
			if s.callbacks.OnEvent != nil {
				s.callbacks.OnEvent(event)
			}
		}
	}
}

func (s *Session) remoteClosed() {
	conn, first := s.shutdown()
	if !first {
		return
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.logger.Info("Live session closed by remote")
	if s.callbacks.OnClose != nil {
		s.callbacks.OnClose()
	}
}

func (s *Session) fail(err error) {
	conn, first := s.shutdown()
	if !first {
		return
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.logger.Error("Live session failed", zap.Error(err))
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}
