package repositories

import "context"

// LiveConfig is the open-with-config request of a live voice session
type LiveConfig struct {
	Model               string
	SystemInstruction   string
	Voice               string
	InputSampleRate     int
	OutputSampleRate    int
	InputTranscription  bool
	OutputTranscription bool
}

// LiveDialer opens duplex sessions to the remote conversational agent
type LiveDialer interface {
	// Dial blocks until the remote side confirms the session or fails.
	Dial(ctx context.Context, config LiveConfig) (LiveConnection, error)
}

// LiveConnection is a resolved live session. Send methods may be called from one
// goroutine while another goroutine blocks in Receive.
type LiveConnection interface {
	SendAudio(pcm []byte, sampleRate int) error
	SendText(text string) error
	// Receive blocks for the next server message and returns the events it carries,
	// in order. It returns io.EOF once the remote side closed the session normally.
	Receive() ([]LiveEvent, error)
	Close() error
}

// LiveEvent is an inbound event of a live session. The set of implementations is closed.
type LiveEvent interface {
	liveEventType() string
}

// AgentTextEvent carries a partial text part of the agent's turn
type AgentTextEvent struct{ Text string }

// AgentAudioEvent carries a partial audio segment of the agent's turn
type AgentAudioEvent struct {
	Data       []byte
	MIMEType   string
	SampleRate int
}

// UserTranscriptEvent carries a partial transcription of the user's speech
type UserTranscriptEvent struct{ Text string }

// AgentTranscriptEvent carries a partial transcription of the agent's speech
type AgentTranscriptEvent struct{ Text string }

// TurnCompleteEvent marks the end of a turn
type TurnCompleteEvent struct{}

// InterruptedEvent signals that the agent's in-flight response was cancelled by barge-in
type InterruptedEvent struct{}

func (AgentTextEvent) liveEventType() string       { return "agent_text" }
func (AgentAudioEvent) liveEventType() string      { return "agent_audio" }
func (UserTranscriptEvent) liveEventType() string  { return "user_transcript" }
func (AgentTranscriptEvent) liveEventType() string { return "agent_transcript" }
func (TurnCompleteEvent) liveEventType() string    { return "turn_complete" }
func (InterruptedEvent) liveEventType() string     { return "interrupted" }

// EventType returns the wire name of an event, used for logging
func EventType(e LiveEvent) string {
	if e == nil {
		return ""
	}
	return e.liveEventType()
}
