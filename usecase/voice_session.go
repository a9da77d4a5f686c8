package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/capture"
	"github.com/satriahrh/companion/internal/channel"
	"github.com/satriahrh/companion/internal/pcm"
	"github.com/satriahrh/companion/internal/playback"
	"github.com/satriahrh/companion/internal/transcript"
)

const (
	DefaultProfileID      = "default"
	DefaultConversationID = "default"
	DefaultHistoryWindow  = 10

	actionQueueSize = 256
	writeQueueSize  = 64
	drainTimeout    = 5 * time.Second
)

// ErrEmptyText is returned by SendText for blank input
var ErrEmptyText = errors.New("text is empty")

// Observer receives the presentation outputs of a voice session. Methods are called
// from the session loop and must not block.
type Observer interface {
	OnState(state entities.ConnectionState, err error)
	OnMessages(messages []entities.Message)
	OnVolume(level float64)
}

// VoiceSessionDeps are the collaborators of a voice session. Dialer may be nil when no
// credential is configured; Connect then fails with domain.ErrConfiguration.
type VoiceSessionDeps struct {
	Dialer        repositories.LiveDialer
	Microphone    repositories.Microphone
	Speaker       repositories.Speaker
	Profiles      repositories.ProfileRepository
	Conversations repositories.ConversationRepository
	Chat          *ChatService
}

// VoiceSessionOptions tune a voice session
type VoiceSessionOptions struct {
	ProfileID      string
	ConversationID string
	LiveModel      string
	FrameSize      int
	HistoryWindow  int
	// TextViaLive routes SendText to the live channel while connected.
	TextViaLive bool
}

// activeSession holds the resources of one connect attempt
type activeSession struct {
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc

	input     repositories.AudioInput
	output    repositories.AudioOutput
	scheduler *playback.Scheduler
	channel   *channel.Session
	capture   *capture.Handle
}

// VoiceSession is the state machine of a live voice conversation. All state is owned
// by a single loop goroutine; device, channel and chat callbacks are posted to it.
type VoiceSession struct {
	deps   VoiceSessionDeps
	opts   VoiceSessionOptions
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	actions   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// finalized messages, appended to the repository in order by writeLoop
	writes     chan []entities.Message
	writerDone chan struct{}

	// owned by the loop goroutine
	state      entities.ConnectionState
	generation uint64
	active     *activeSession
	messages   []entities.Message
	transcript transcript.Accumulator

	mu        sync.RWMutex
	observers map[int]Observer
	nextObs   int
	snapState entities.ConnectionState
	snapErr   error
	snapMsgs  []entities.Message
	volume    float64
}

// NewVoiceSession creates a disconnected voice session and starts its loop
func NewVoiceSession(deps VoiceSessionDeps, opts VoiceSessionOptions, logger *zap.Logger) *VoiceSession {
	if opts.ProfileID == "" {
		opts.ProfileID = DefaultProfileID
	}
	if opts.ConversationID == "" {
		opts.ConversationID = DefaultConversationID
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = capture.DefaultFrameSize
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &VoiceSession{
		deps:       deps,
		opts:       opts,
		logger:     logger.With(zap.String("conversationID", opts.ConversationID)),
		ctx:        ctx,
		cancel:     cancel,
		actions:    make(chan func(), actionQueueSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		writes:     make(chan []entities.Message, writeQueueSize),
		writerDone: make(chan struct{}),
		state:      entities.StateDisconnected,
		snapState:  entities.StateDisconnected,
		observers:  make(map[int]Observer),
	}
	go s.run()
	go s.writeLoop()
	return s
}

func (s *VoiceSession) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.actions:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post queues fn on the session loop. It returns false once the session is closed.
func (s *VoiceSession) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.actions <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the session loop and waits for its result
func (s *VoiceSession) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !s.post(func() { result <- fn() }) {
		return domain.ErrSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return domain.ErrSessionClosed
	}
}

// Subscribe registers an observer and sends it the current outputs from the session
// loop, ahead of any later update. The returned function removes it.
func (s *VoiceSession) Subscribe(o Observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	s.mu.Unlock()

	initial := func() {
		s.mu.RLock()
		state, err, msgs, volume := s.snapState, s.snapErr, s.snapMsgs, s.volume
		s.mu.RUnlock()
		o.OnState(state, err)
		o.OnMessages(msgs)
		o.OnVolume(volume)
	}
	if !s.post(initial) {
		initial()
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *VoiceSession) observerList() []Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		list = append(list, o)
	}
	return list
}

// State returns the current connection state
func (s *VoiceSession) State() entities.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapState
}

// Err returns the error that put the session in the Error state, if any
func (s *VoiceSession) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapErr
}

// Messages returns a snapshot of the conversation
func (s *VoiceSession) Messages() []entities.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.Message(nil), s.snapMsgs...)
}

// Volume returns the loudness of the last captured frame
func (s *VoiceSession) Volume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// LoadHistory replaces the message list with the most recent persisted messages
func (s *VoiceSession) LoadHistory(ctx context.Context, limit int) error {
	if s.deps.Conversations == nil {
		return nil
	}
	messages, err := s.deps.Conversations.Recent(ctx, s.opts.ConversationID, limit)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	return s.call(ctx, func() error {
		s.messages = messages
		s.publishMessages()
		return nil
	})
}

// Connect starts a new live session. It returns once the session is Connecting;
// progress and failures are reported through the state. Calling Connect while
// Connecting or Connected does nothing.
func (s *VoiceSession) Connect(ctx context.Context) error {
	return s.call(ctx, func() error {
		if !s.state.CanConnect() {
			s.logger.Info("Connect ignored, session already active", zap.String("state", string(s.state)))
			return nil
		}

		s.teardown()
		s.generation++
		gen := s.generation
		s.setState(entities.StateConnecting, nil)

		if s.deps.Dialer == nil {
			err := fmt.Errorf("%w: live model credential is not set", domain.ErrConfiguration)
			s.fail(gen, err)
			return err
		}

		attemptCtx, cancel := context.WithCancel(s.ctx)
		s.active = &activeSession{generation: gen, ctx: attemptCtx, cancel: cancel}
		go s.acquire(attemptCtx, gen)
		return nil
	})
}

// Disconnect tears the live session down. It is idempotent and leaves the Error state untouched.
func (s *VoiceSession) Disconnect(ctx context.Context) error {
	return s.call(ctx, func() error {
		if !s.state.Active() {
			return nil
		}
		s.teardown()
		s.setState(entities.StateDisconnected, nil)
		s.logger.Info("Voice session disconnected")
		return nil
	})
}

// Close tears down any live session and stops the session loop
func (s *VoiceSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.call(context.Background(), func() error {
			s.teardown()
			if s.state.Active() {
				s.setState(entities.StateDisconnected, nil)
			}
			return nil
		})
		close(s.quit)
		<-s.done

		close(s.writes)
		select {
		case <-s.writerDone:
		case <-time.After(drainTimeout):
			s.logger.Warn("Gave up waiting for pending message writes")
		}
		s.cancel()
	})
	return nil
}

// current returns the active session if it belongs to generation gen
func (s *VoiceSession) current(gen uint64) *activeSession {
	if s.active == nil || s.active.generation != gen {
		return nil
	}
	return s.active
}

// acquire snapshots the profile and opens the devices off the loop
func (s *VoiceSession) acquire(ctx context.Context, gen uint64) {
	profile, err := s.loadProfile(ctx)
	if err != nil {
		s.post(func() { s.fail(gen, err) })
		return
	}

	input, err := s.deps.Microphone.Open(ctx, pcm.InputSampleRate)
	if err != nil {
		s.post(func() { s.fail(gen, fmt.Errorf("failed to acquire microphone: %w", err)) })
		return
	}

	output, err := s.deps.Speaker.Open(ctx, pcm.OutputSampleRate)
	if err != nil {
		_ = input.Close()
		s.post(func() { s.fail(gen, fmt.Errorf("failed to open speaker: %w", err)) })
		return
	}

	release := func() {
		_ = input.Close()
		_ = output.Close()
	}
	if !s.post(func() {
		if s.current(gen) == nil {
			release()
			return
		}
		s.openChannel(gen, profile, input, output)
	}) {
		release()
	}
}

func (s *VoiceSession) loadProfile(ctx context.Context) (entities.Profile, error) {
	profile := entities.DefaultProfile(s.opts.ProfileID)
	if s.deps.Profiles != nil {
		stored, err := s.deps.Profiles.Get(ctx, s.opts.ProfileID)
		switch {
		case err == nil:
			profile = *stored
		case errors.Is(err, domain.ErrNotFound):
		default:
			return entities.Profile{}, fmt.Errorf("%w: failed to load profile: %w", domain.ErrConfiguration, err)
		}
	}
	profile.Normalize()
	if err := profile.Validate(); err != nil {
		return entities.Profile{}, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return profile.Snapshot(), nil
}

func (s *VoiceSession) openChannel(gen uint64, profile entities.Profile, input repositories.AudioInput, output repositories.AudioOutput) {
	a := s.current(gen)
	a.input = input
	a.output = output
	a.scheduler = playback.NewScheduler(output, s.logger)

	config := repositories.LiveConfig{
		Model:               s.opts.LiveModel,
		SystemInstruction:   entities.SystemInstruction(profile),
		Voice:               string(profile.Voice),
		InputSampleRate:     pcm.InputSampleRate,
		OutputSampleRate:    pcm.OutputSampleRate,
		InputTranscription:  true,
		OutputTranscription: true,
	}

	a.channel = channel.Open(a.ctx, s.deps.Dialer, config, channel.Callbacks{
		OnOpen:  func() { s.post(func() { s.onOpen(gen) }) },
		OnEvent: func(event repositories.LiveEvent) { s.post(func() { s.onEvent(gen, event) }) },
		OnClose: func() { s.post(func() { s.onRemoteClose(gen) }) },
		OnError: func(err error) { s.post(func() { s.fail(gen, err) }) },
	}, s.logger)

	s.logger.Info("Opening live session",
		zap.String("name", profile.Name),
		zap.String("personality", string(profile.Personality)),
		zap.String("voice", string(profile.Voice)),
		zap.Int("memories", len(profile.Memories)))
}

func (s *VoiceSession) onOpen(gen uint64) {
	a := s.current(gen)
	if a == nil || s.state != entities.StateConnecting {
		return
	}
	s.setState(entities.StateConnected, nil)

	a.capture = capture.Start(a.input, capture.Options{
		FrameSize: s.opts.FrameSize,
		OnLevel: func(level float64) {
			s.post(func() {
				if s.current(gen) != nil {
					s.setVolume(level)
				}
			})
		},
		OnFrame: func(data []byte) {
			s.post(func() { s.onFrame(gen, data) })
		},
		OnError: func(err error) {
			s.post(func() { s.fail(gen, fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)) })
		},
	}, s.logger)

	s.logger.Info("Voice session connected")
}

func (s *VoiceSession) onFrame(gen uint64, data []byte) {
	a := s.current(gen)
	if a == nil || a.channel == nil {
		return
	}
	if err := a.channel.SendAudioFrame(data); err != nil {
		s.logger.Debug("Dropping audio frame", zap.Error(err))
	}
}

func (s *VoiceSession) onEvent(gen uint64, event repositories.LiveEvent) {
	a := s.current(gen)
	if a == nil || s.state != entities.StateConnected {
		return
	}

	switch e := event.(type) {
	case repositories.AgentTextEvent:
		s.transcript.AppendAgent(e.Text)
	case repositories.AgentTranscriptEvent:
		s.transcript.AppendAgent(e.Text)
	case repositories.UserTranscriptEvent:
		s.transcript.AppendUser(e.Text)
	case repositories.AgentAudioEvent:
		rate := e.SampleRate
		if rate <= 0 {
			rate = pcm.RateFromMIME(e.MIMEType, pcm.OutputSampleRate)
		}
		if _, err := a.scheduler.Schedule(e.Data, rate); err != nil && !errors.Is(err, domain.ErrMalformedAudio) {
			s.logger.Warn("Failed to schedule audio segment", zap.Error(err))
		}
	case repositories.InterruptedEvent:
		a.scheduler.Interrupt()
		s.transcript.Interrupted()
		s.logger.Info("Agent response interrupted")
	case repositories.TurnCompleteEvent:
		if finalized := s.transcript.TurnComplete(); len(finalized) > 0 {
			s.appendMessages(finalized...)
		}
	default:
		s.logger.Warn("Unknown live event", zap.String("type", repositories.EventType(event)))
	}
}

func (s *VoiceSession) onRemoteClose(gen uint64) {
	if s.current(gen) == nil {
		return
	}
	s.teardown()
	s.setState(entities.StateDisconnected, nil)
	s.logger.Info("Live session closed by remote")
}

// fail tears the attempt down and enters the Error state
func (s *VoiceSession) fail(gen uint64, err error) {
	if gen != s.generation || !s.state.Active() {
		s.logger.Debug("Ignoring error of stale session", zap.Error(err))
		return
	}
	s.teardown()
	s.setState(entities.StateError, err)
	s.logger.Error("Voice session failed", zap.Error(err))
}

// teardown releases everything the active attempt holds. Safe to call repeatedly.
func (s *VoiceSession) teardown() {
	a := s.active
	if a == nil {
		return
	}
	s.active = nil

	if a.capture != nil {
		a.capture.Stop()
	} else if a.input != nil {
		if err := a.input.Close(); err != nil {
			s.logger.Warn("Failed to release microphone", zap.Error(err))
		}
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.channel != nil {
		if err := a.channel.Close(); err != nil {
			s.logger.Warn("Failed to close live session", zap.Error(err))
		}
	}
	if a.output != nil {
		if err := a.output.Close(); err != nil {
			s.logger.Warn("Failed to release speaker", zap.Error(err))
		}
	}
	a.cancel()

	s.transcript.Reset()
	s.setVolume(0)
}

func (s *VoiceSession) setState(state entities.ConnectionState, err error) {
	s.state = state
	s.mu.Lock()
	s.snapState = state
	s.snapErr = err
	s.mu.Unlock()

	for _, o := range s.observerList() {
		o.OnState(state, err)
	}
}

func (s *VoiceSession) setVolume(level float64) {
	s.mu.Lock()
	changed := s.volume != level
	s.volume = level
	s.mu.Unlock()
	if !changed {
		return
	}

	for _, o := range s.observerList() {
		o.OnVolume(level)
	}
}

// appendMessages adds finalized messages to the conversation and persists them
func (s *VoiceSession) appendMessages(messages ...entities.Message) {
	s.messages = append(s.messages, messages...)
	s.publishMessages()
	s.persist(messages...)
}

// upsertMessage replaces the message with the same ID or appends it
func (s *VoiceSession) upsertMessage(message entities.Message) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == message.ID {
			s.messages[i] = message
			s.publishMessages()
			return
		}
	}
	s.messages = append(s.messages, message)
	s.publishMessages()
}

func (s *VoiceSession) publishMessages() {
	snapshot := append([]entities.Message(nil), s.messages...)
	s.mu.Lock()
	s.snapMsgs = snapshot
	s.mu.Unlock()

	for _, o := range s.observerList() {
		o.OnMessages(snapshot)
	}
}

// persist queues messages for the writer. It runs on the session loop and never
// blocks it; when the queue is full the messages are dropped and logged.
func (s *VoiceSession) persist(messages ...entities.Message) {
	if s.deps.Conversations == nil || len(messages) == 0 {
		return
	}
	select {
	case s.writes <- messages:
	default:
		s.logger.Warn("Dropping messages, persistence is falling behind", zap.Int("count", len(messages)))
	}
}

// writeLoop appends queued messages one batch at a time so the stored order matches
// the conversation order
func (s *VoiceSession) writeLoop() {
	defer close(s.writerDone)
	for messages := range s.writes {
		if err := s.deps.Conversations.Append(s.ctx, s.opts.ConversationID, messages...); err != nil {
			s.logger.Warn("Failed to persist messages", zap.Int("count", len(messages)), zap.Error(err))
		}
	}
}

// SendText adds the user's text to the conversation and answers it, through the live
// session when TextViaLive is set and connected, otherwise through the chat model.
// The reply streams into the message list; failures append a fallback message.
func (s *VoiceSession) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	return s.call(ctx, func() error {
		history := entities.LastMessages(s.messages, s.opts.HistoryWindow)
		s.appendMessages(entities.NewMessage(entities.RoleUser, text))

		if a := s.active; s.opts.TextViaLive && s.state == entities.StateConnected && a != nil && a.channel != nil {
			if err := a.channel.SendText(text); err != nil {
				s.logger.Warn("Failed to send text over live session", zap.Error(err))
			}
			return nil
		}

		go s.reply(history, text)
		return nil
	})
}

// reply streams a chat answer into a placeholder message
func (s *VoiceSession) reply(history []entities.Message, text string) {
	if s.deps.Chat == nil {
		s.logger.Warn("Text chat is not configured")
		return
	}
	profile, err := s.loadProfile(s.ctx)
	if err != nil {
		s.logger.Warn("Using default profile for chat", zap.Error(err))
		profile = entities.DefaultProfile(s.opts.ProfileID)
	}

	var placeholder *entities.Message
	full, err := s.deps.Chat.Reply(s.ctx, profile, history, text, func(sofar string) {
		if placeholder == nil {
			m := entities.NewMessage(entities.RoleAssistant, "")
			placeholder = &m
		}
		update := *placeholder
		update.Text = sofar
		s.post(func() { s.upsertMessage(update) })
	})

	switch {
	case errors.Is(err, domain.ErrConfiguration):
		s.logger.Warn("Text chat is not configured", zap.Error(err))
	case err != nil:
		s.logger.Error("Text chat failed", zap.Error(err))
		s.post(func() { s.appendMessages(entities.NewMessage(entities.RoleAssistant, FallbackReply)) })
	case placeholder != nil:
		final := *placeholder
		final.Text = full
		s.post(func() {
			s.upsertMessage(final)
			s.persist(final)
		})
	}
}
