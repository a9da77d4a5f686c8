package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/pcm"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// fakeLLM streams fixed chunks and then returns err
type fakeLLM struct {
	chunks []string
	err    error

	mu       sync.Mutex
	requests []repositories.ChatRequest
}

func (l *fakeLLM) StreamChat(ctx context.Context, request repositories.ChatRequest, onChunk func(string)) (string, error) {
	l.mu.Lock()
	l.requests = append(l.requests, request)
	l.mu.Unlock()

	var full string
	for _, c := range l.chunks {
		full += c
		onChunk(c)
	}
	if l.err != nil {
		return "", l.err
	}
	return full, nil
}

func (l *fakeLLM) requestList() []repositories.ChatRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]repositories.ChatRequest(nil), l.requests...)
}

// fakeInput delivers fed frames until closed
type fakeInput struct {
	frames chan []float32
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newFakeInput() *fakeInput {
	return &fakeInput{frames: make(chan []float32, 16), closed: make(chan struct{})}
}

func (f *fakeInput) Read(dst []float32) (int, error) {
	select {
	case frame := <-f.frames:
		return copy(dst, frame), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeInput) Close() error {
	f.closes.Add(1)
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeMicrophone struct {
	err error

	mu     sync.Mutex
	inputs []*fakeInput
}

func (m *fakeMicrophone) Open(ctx context.Context, sampleRate int) (repositories.AudioInput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	input := newFakeInput()
	m.inputs = append(m.inputs, input)
	return input, nil
}

func (m *fakeMicrophone) input(i int) *fakeInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.inputs) {
		return nil
	}
	return m.inputs[i]
}

func (m *fakeMicrophone) opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

type fakeSource struct {
	stopped atomic.Bool
}

func (s *fakeSource) Stop() error {
	s.stopped.Store(true)
	return nil
}

type fakeOutput struct {
	mu      sync.Mutex
	started []*pcm.Buffer
	sources []*fakeSource
	resets  int
	closes  int
}

func (o *fakeOutput) Now() time.Duration { return 0 }

func (o *fakeOutput) Start(buf *pcm.Buffer, at time.Duration, onEnded func()) (repositories.PlayingSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	source := &fakeSource{}
	o.started = append(o.started, buf)
	o.sources = append(o.sources, source)
	return source, nil
}

func (o *fakeOutput) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets++
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes++
	return nil
}

func (o *fakeOutput) counts() (started, resets, closes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.started), o.resets, o.closes
}

type fakeSpeaker struct {
	err error

	mu      sync.Mutex
	outputs []*fakeOutput
}

func (s *fakeSpeaker) Open(ctx context.Context, sampleRate int) (repositories.AudioOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	output := &fakeOutput{}
	s.outputs = append(s.outputs, output)
	return output, nil
}

func (s *fakeSpeaker) output(i int) *fakeOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.outputs) {
		return nil
	}
	return s.outputs[i]
}

type liveReceive struct {
	events []repositories.LiveEvent
	err    error
}

type fakeConn struct {
	inbound chan liveReceive
	closeCh chan struct{}
	once    sync.Once
	closes  atomic.Int32

	mu    sync.Mutex
	audio [][]byte
	texts []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan liveReceive, 16), closeCh: make(chan struct{})}
}

func (c *fakeConn) SendAudio(data []byte, sampleRate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, data)
	return nil
}

func (c *fakeConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) Receive() ([]repositories.LiveEvent, error) {
	select {
	case r := <-c.inbound:
		return r.events, r.err
	case <-c.closeCh:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeConn) sent() (audio [][]byte, texts []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...), append([]string(nil), c.texts...)
}

func (c *fakeConn) push(events ...repositories.LiveEvent) {
	c.inbound <- liveReceive{events: events}
}

// fakeDialer hands out a new fakeConn per dial. When gate is set, dials wait for it
// and ignore ctx.
type fakeDialer struct {
	err  error
	gate chan struct{}

	mu      sync.Mutex
	configs []repositories.LiveConfig
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, config repositories.LiveConfig) (repositories.LiveConnection, error) {
	d.mu.Lock()
	d.configs = append(d.configs, config)
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	gate, err := d.gate, d.err
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) config(i int) repositories.LiveConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configs[i]
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]entities.Profile
}

func (r *fakeProfiles) Get(ctx context.Context, id string) (*entities.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	snapshot := p.Snapshot()
	return &snapshot, nil
}

func (r *fakeProfiles) Save(ctx context.Context, profile *entities.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profiles == nil {
		r.profiles = make(map[string]entities.Profile)
	}
	r.profiles[profile.ID] = profile.Snapshot()
	return nil
}

type fakeConversations struct {
	// delay, when set, stalls Append before it stores the batch
	delay func(messages []entities.Message) time.Duration

	mu       sync.Mutex
	messages []entities.Message
}

func (r *fakeConversations) Append(ctx context.Context, conversationID string, messages ...entities.Message) error {
	if r.delay != nil {
		time.Sleep(r.delay(messages))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, messages...)
	return nil
}

func (r *fakeConversations) Recent(ctx context.Context, conversationID string, limit int) ([]entities.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return entities.LastMessages(r.messages, limit), nil
}

func (r *fakeConversations) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	texts := make([]string, len(r.messages))
	for i, m := range r.messages {
		texts[i] = m.Text
	}
	return texts
}

func (r *fakeConversations) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type recordingObserver struct {
	mu       sync.Mutex
	states   []entities.ConnectionState
	messages []entities.Message
	volumes  []float64
}

func (o *recordingObserver) OnState(state entities.ConnectionState, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) OnMessages(messages []entities.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = messages
}

func (o *recordingObserver) OnVolume(level float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volumes = append(o.volumes, level)
}

func (o *recordingObserver) stateList() []entities.ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]entities.ConnectionState(nil), o.states...)
}

type testEnv struct {
	dialer        *fakeDialer
	mic           *fakeMicrophone
	speaker       *fakeSpeaker
	profiles      *fakeProfiles
	conversations *fakeConversations
	llm           *fakeLLM
	session       *VoiceSession
}

func newTestEnv(t *testing.T, configure func(env *testEnv, deps *VoiceSessionDeps, opts *VoiceSessionOptions)) *testEnv {
	t.Helper()
	env := &testEnv{
		dialer:        &fakeDialer{},
		mic:           &fakeMicrophone{},
		speaker:       &fakeSpeaker{},
		profiles:      &fakeProfiles{},
		conversations: &fakeConversations{},
		llm:           &fakeLLM{},
	}
	logger := zaptest.NewLogger(t)
	deps := VoiceSessionDeps{
		Dialer:        env.dialer,
		Microphone:    env.mic,
		Speaker:       env.speaker,
		Profiles:      env.profiles,
		Conversations: env.conversations,
		Chat:          NewChatService(env.llm, logger),
	}
	opts := VoiceSessionOptions{LiveModel: "live-test", FrameSize: 4}
	if configure != nil {
		configure(env, &deps, &opts)
	}
	env.session = NewVoiceSession(deps, opts, logger)
	t.Cleanup(func() { env.session.Close() })
	return env
}
