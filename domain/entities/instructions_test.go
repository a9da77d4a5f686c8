package entities

import (
	"strings"
	"testing"
)

func TestSystemInstruction_Composition(t *testing.T) {
	profile := DefaultProfile("p1")
	profile.Personality = PersonalitySupportive
	profile.ResponseLength = ResponseShort
	profile.Memories = []string{"likes tea"}
	profile.CustomPrompt = "Call me captain."

	got := SystemInstruction(profile)

	if !strings.Contains(got, PersonalityParagraph(PersonalitySupportive)) {
		t.Error("instruction should contain the Supportive paragraph")
	}
	if !strings.Contains(got, MemoryHeader+"\n- likes tea") {
		t.Errorf("instruction should contain the memory section, got:\n%s", got)
	}
	if !strings.Contains(got, LengthDirective(ResponseShort)) {
		t.Error("instruction should contain the terse directive")
	}
	if !strings.HasSuffix(got, "Call me captain.") {
		t.Error("custom prompt should be appended verbatim at the end")
	}
	if !strings.Contains(got, "You are Maya") {
		t.Error("instruction should name the companion")
	}
}

func TestSystemInstruction_OmitsEmptyMemorySection(t *testing.T) {
	profile := DefaultProfile("p1")
	profile.Personality = PersonalitySupportive
	profile.Memories = []string{}

	got := SystemInstruction(profile)

	if strings.Contains(got, MemoryHeader) {
		t.Errorf("memory header should be omitted when there are no memories, got:\n%s", got)
	}
}

func TestSystemInstruction_MemoriesKeepOrder(t *testing.T) {
	profile := DefaultProfile("p1")
	profile.Memories = []string{"first", "second", "third"}

	got := SystemInstruction(profile)

	first := strings.Index(got, "- first")
	second := strings.Index(got, "- second")
	third := strings.Index(got, "- third")
	if first < 0 || second < first || third < second {
		t.Errorf("memories should be rendered in order, got indexes %d %d %d", first, second, third)
	}
}

func TestSystemInstruction_PersonaWording(t *testing.T) {
	profile := DefaultProfile("p1")
	profile.Personality = PersonalitySeductive

	got := SystemInstruction(profile)

	if !strings.HasPrefix(got, "You are Maya, the user's companion.\n") {
		t.Errorf("unexpected role line, got:\n%s", got)
	}
	paragraph := PersonalityParagraph(PersonalitySeductive)
	if !strings.Contains(got, "Personality Mode: Seductive. "+paragraph) {
		t.Error("instruction should carry the Seductive paragraph")
	}
	for _, word := range []string{"spicy", "desire", "girlfriend"} {
		if strings.Contains(got, word) {
			t.Errorf("instruction should not contain %q", word)
		}
	}
	if !strings.Contains(got, "Your tone is intimate (but appropriate)") {
		t.Error("instruction should keep the tone rule")
	}
}

func TestPersonalityParagraph_UnknownFallsBackToPlayful(t *testing.T) {
	if PersonalityParagraph("Grumpy") != PersonalityParagraph(PersonalityPlayful) {
		t.Error("unknown personality should fall back to Playful")
	}
}

func TestLengthDirective(t *testing.T) {
	tests := []struct {
		length ResponseLength
		want   string
	}{
		{ResponseShort, "concise"},
		{ResponseLong, "detailed, comprehensive"},
		{ResponseVariable, "Vary your response length"},
	}

	for _, tt := range tests {
		t.Run(string(tt.length), func(t *testing.T) {
			if got := LengthDirective(tt.length); !strings.Contains(got, tt.want) {
				t.Errorf("LengthDirective(%q) = %q, want it to contain %q", tt.length, got, tt.want)
			}
		})
	}
}
