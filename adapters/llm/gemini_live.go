package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/pcm"
)

// Dial implements repositories.LiveDialer. It returns once the server has confirmed the setup.
func (g *Gemini) Dial(ctx context.Context, config repositories.LiveConfig) (repositories.LiveConnection, error) {
	model := config.Model
	if model == "" {
		model = g.liveModel
	}

	session, err := g.client.Live.Connect(ctx, model, liveConnectConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to connect live session: %w", err)
	}

	// Receive does not observe ctx, so closing the session unblocks it.
	waiting := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-waiting:
		}
	}()
	first, err := session.Receive()
	close(waiting)

	if ctx.Err() != nil {
		_ = session.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("live session setup failed: %w", err)
	}

	conn := &geminiLiveConnection{session: session, logger: g.logger}
	if first.SetupComplete == nil {
		g.logger.Warn("Live session did not start with setup complete")
		conn.pending = EventsFromServerMessage(first)
	}

	g.logger.Info("Live session established",
		zap.String("model", model),
		zap.String("voice", config.Voice))
	return conn, nil
}

func liveConnectConfig(config repositories.LiveConfig) *genai.LiveConnectConfig {
	connectConfig := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if config.SystemInstruction != "" {
		connectConfig.SystemInstruction = genai.NewContentFromText(config.SystemInstruction, genai.RoleUser)
	}
	if config.Voice != "" {
		connectConfig.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: config.Voice},
			},
		}
	}
	if config.InputTranscription {
		connectConfig.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if config.OutputTranscription {
		connectConfig.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return connectConfig
}

// geminiLiveConnection adapts a genai live session to repositories.LiveConnection
type geminiLiveConnection struct {
	session *genai.Session
	logger  *zap.Logger
	pending []repositories.LiveEvent

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *geminiLiveConnection) SendAudio(data []byte, sampleRate int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: data, MIMEType: pcm.MIMEType(sampleRate)},
	})
}

func (c *geminiLiveConnection) SendText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{Text: text})
}

func (c *geminiLiveConnection) Receive() ([]repositories.LiveEvent, error) {
	if c.pending != nil {
		events := c.pending
		c.pending = nil
		return events, nil
	}

	for {
		msg, err := c.session.Receive()
		if err != nil {
			if isNormalClosure(err) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msg.GoAway != nil {
			c.logger.Warn("Live session is going away", zap.Any("timeLeft", msg.GoAway.TimeLeft))
		}
		if events := EventsFromServerMessage(msg); len(events) > 0 {
			return events, nil
		}
	}
}

func (c *geminiLiveConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func isNormalClosure(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return errors.Is(err, io.EOF)
}

// EventsFromServerMessage translates one live server message into events, in the order
// agent text, agent transcript, user transcript, agent audio, interrupted, turn complete.
func EventsFromServerMessage(msg *genai.LiveServerMessage) []repositories.LiveEvent {
	if msg == nil || msg.ServerContent == nil {
		return nil
	}
	content := msg.ServerContent

	var events []repositories.LiveEvent
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part != nil && part.Text != "" && !part.Thought {
				events = append(events, repositories.AgentTextEvent{Text: part.Text})
			}
		}
	}
	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		events = append(events, repositories.AgentTranscriptEvent{Text: content.OutputTranscription.Text})
	}
	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		events = append(events, repositories.UserTranscriptEvent{Text: content.InputTranscription.Text})
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			events = append(events, repositories.AgentAudioEvent{
				Data:       part.InlineData.Data,
				MIMEType:   part.InlineData.MIMEType,
				SampleRate: pcm.RateFromMIME(part.InlineData.MIMEType, pcm.OutputSampleRate),
			})
		}
	}
	if content.Interrupted {
		events = append(events, repositories.InterruptedEvent{})
	}
	if content.TurnComplete {
		events = append(events, repositories.TurnCompleteEvent{})
	}
	return events
}
