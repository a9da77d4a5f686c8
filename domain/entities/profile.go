package entities

import (
	"fmt"
	"strings"
	"time"
)

// Personality selects the behavioral paragraph of the companion
type Personality string

const (
	PersonalityPlayful    Personality = "Playful"
	PersonalityRomantic   Personality = "Romantic"
	PersonalitySerious    Personality = "Serious"
	PersonalitySupportive Personality = "Supportive"
	PersonalitySeductive  Personality = "Seductive"
)

// Personalities lists the supported personalities in display order
var Personalities = []Personality{
	PersonalityPlayful,
	PersonalityRomantic,
	PersonalitySeductive,
	PersonalitySupportive,
	PersonalitySerious,
}

// Voice is a prebuilt voice identifier of the remote agent
type Voice string

const (
	VoiceKore   Voice = "Kore"
	VoiceZephyr Voice = "Zephyr"
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceFenrir Voice = "Fenrir"
)

// Voices lists the supported voices
var Voices = []Voice{VoiceKore, VoiceZephyr, VoicePuck, VoiceCharon, VoiceFenrir}

// ResponseLength is the preferred reply length
type ResponseLength string

const (
	ResponseShort    ResponseLength = "Short"
	ResponseLong     ResponseLength = "Long"
	ResponseVariable ResponseLength = "Surprise Me"
)

// ResponseLengths lists the supported response lengths
var ResponseLengths = []ResponseLength{ResponseShort, ResponseLong, ResponseVariable}

const (
	DefaultName           = "Maya"
	DefaultPersonality    = PersonalityPlayful
	DefaultVoice          = VoiceKore
	DefaultResponseLength = ResponseShort
)

// Profile is the session configuration composed into the remote instructions.
// The live session takes a Snapshot at connect time; later edits only apply on reconnect.
type Profile struct {
	ID             string         `json:"id" bson:"_id"`
	Name           string         `json:"name" bson:"name"`
	Personality    Personality    `json:"personality" bson:"personality"`
	Voice          Voice          `json:"voice" bson:"voice"`
	CustomPrompt   string         `json:"custom_prompt" bson:"custom_prompt"`
	Memories       []string       `json:"memories" bson:"memories"`
	ResponseLength ResponseLength `json:"response_length" bson:"response_length"`
	UpdatedAt      time.Time      `json:"updated_at" bson:"updated_at"`
}

// DefaultProfile returns the profile used before the user changes any setting
func DefaultProfile(id string) Profile {
	return Profile{
		ID:             id,
		Name:           DefaultName,
		Personality:    DefaultPersonality,
		Voice:          DefaultVoice,
		ResponseLength: DefaultResponseLength,
		Memories:       []string{},
	}
}

// Snapshot returns a deep copy that shares no memory with p
func (p Profile) Snapshot() Profile {
	out := p
	out.Memories = append([]string(nil), p.Memories...)
	return out
}

// Normalize fills empty enum fields with defaults and trims text fields
func (p *Profile) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = DefaultName
	}
	if p.Personality == "" {
		p.Personality = DefaultPersonality
	}
	if p.Voice == "" {
		p.Voice = DefaultVoice
	}
	if p.ResponseLength == "" {
		p.ResponseLength = DefaultResponseLength
	}
	memories := make([]string, 0, len(p.Memories))
	for _, m := range p.Memories {
		if m = strings.TrimSpace(m); m != "" {
			memories = append(memories, m)
		}
	}
	p.Memories = memories
}

// Validate validates the profile data
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !contains(Personalities, p.Personality) {
		return fmt.Errorf("unknown personality %q", p.Personality)
	}
	if !contains(Voices, p.Voice) {
		return fmt.Errorf("unknown voice %q", p.Voice)
	}
	if !contains(ResponseLengths, p.ResponseLength) {
		return fmt.Errorf("unknown response length %q", p.ResponseLength)
	}
	return nil
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
