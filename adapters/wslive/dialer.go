// Package wslive speaks the live BidiGenerateContent protocol directly over a websocket.
package wslive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/pcm"
)

// DefaultURL is the public endpoint of the live API
const DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// DefaultModel is used when neither the dialer nor the request names a model
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the server to confirm the setup.
	setupWait = 15 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 16 << 20
)

// Config configures the websocket dialer
type Config struct {
	URL    string
	APIKey string
	Model  string
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if config.URL != "" {
		u, err := url.Parse(config.URL)
		if err != nil {
			return fmt.Errorf("invalid live URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("live URL must use ws or wss, got %q", u.Scheme)
		}
	}
	return nil
}

// Dialer implements repositories.LiveDialer with gorilla/websocket
type Dialer struct {
	endpoint string
	model    string
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// NewDialer creates a new websocket live dialer
func NewDialer(config Config, logger *zap.Logger) (*Dialer, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	rawURL := config.URL
	if rawURL == "" {
		rawURL = DefaultURL
		logger.Info("Using default live URL", zap.String("url", rawURL))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid live URL: %w", err)
	}
	model := config.Model
	if model == "" {
		model = DefaultModel
	}
	query := u.Query()
	query.Set("key", config.APIKey)
	u.RawQuery = query.Encode()

	return &Dialer{
		endpoint: u.String(),
		model:    model,
		dialer: &websocket.Dialer{
			HandshakeTimeout: setupWait,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		logger: logger,
	}, nil
}

// Dial opens the websocket, sends the setup and waits for the server to confirm it
func (d *Dialer) Dial(ctx context.Context, config repositories.LiveConfig) (repositories.LiveConnection, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial live endpoint (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial live endpoint: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &connection{conn: conn, logger: d.logger}

	// Reads below do not observe ctx, so closing the socket unblocks them.
	waiting := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-waiting:
		}
	}()
	err = c.setup(d.setupMessage(config))
	close(waiting)

	if ctx.Err() != nil {
		_ = conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	d.logger.Info("Live websocket established", zap.String("voice", config.Voice))
	return c, nil
}

func (d *Dialer) setupMessage(config repositories.LiveConfig) *setup {
	model := config.Model
	if model == "" {
		model = d.model
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	s := &setup{
		Model:            model,
		GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
	}
	if config.Voice != "" {
		s.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: config.Voice}},
		}
	}
	if config.SystemInstruction != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: config.SystemInstruction}}}
	}
	if config.InputTranscription {
		s.InputAudioTranscription = &struct{}{}
	}
	if config.OutputTranscription {
		s.OutputAudioTranscription = &struct{}{}
	}
	return s
}

// connection is a live session over one websocket
type connection struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *connection) setup(s *setup) error {
	if err := c.writeJSON(clientMessage{Setup: s}); err != nil {
		return fmt.Errorf("failed to send setup: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(setupWait))
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		msg, err := c.read()
		if err != nil {
			return fmt.Errorf("live session setup failed: %w", err)
		}
		if msg.SetupComplete != nil {
			return nil
		}
		c.logger.Debug("Ignoring message before setup complete")
	}
}

func (c *connection) SendAudio(data []byte, sampleRate int) error {
	return c.writeJSON(clientMessage{RealtimeInput: &realtimeInput{
		Audio: &blob{MIMEType: pcm.MIMEType(sampleRate), Data: pcm.BytesToBase64(data)},
	}})
}

func (c *connection) SendText(text string) error {
	return c.writeJSON(clientMessage{RealtimeInput: &realtimeInput{Text: text}})
}

func (c *connection) Receive() ([]repositories.LiveEvent, error) {
	for {
		msg, err := c.read()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msg.GoAway != nil {
			c.logger.Warn("Live session is going away", zap.String("timeLeft", msg.GoAway.TimeLeft))
		}
		if events := c.events(msg); len(events) > 0 {
			return events, nil
		}
	}
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// read returns the next server message; the server may send JSON as text or binary frames
func (c *connection) read() (*serverMessage, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid server message: %w", err)
	}
	return &msg, nil
}

// events translates a server message in the order agent text, agent transcript,
// user transcript, agent audio, interrupted, turn complete
func (c *connection) events(msg *serverMessage) []repositories.LiveEvent {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var events []repositories.LiveEvent
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.Text != "" && !p.Thought {
				events = append(events, repositories.AgentTextEvent{Text: p.Text})
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, repositories.AgentTranscriptEvent{Text: sc.OutputTranscription.Text})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, repositories.UserTranscriptEvent{Text: sc.InputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := pcm.Base64ToBytes(p.InlineData.Data)
			if err != nil {
				c.logger.Warn("Dropping undecodable audio part", zap.Error(err))
				continue
			}
			events = append(events, repositories.AgentAudioEvent{
				Data:       data,
				MIMEType:   p.InlineData.MIMEType,
				SampleRate: pcm.RateFromMIME(p.InlineData.MIMEType, pcm.OutputSampleRate),
			})
		}
	}
	if sc.Interrupted {
		events = append(events, repositories.InterruptedEvent{})
	}
	if sc.TurnComplete {
		events = append(events, repositories.TurnCompleteEvent{})
	}
	return events
}

var _ repositories.LiveDialer = (*Dialer)(nil)
