package entities

import "testing"

func TestProfileSnapshotIsIndependent(t *testing.T) {
	profile := DefaultProfile("p1")
	profile.Memories = []string{"likes tea"}

	snapshot := profile.Snapshot()
	profile.Memories[0] = "likes coffee"
	profile.Memories = append(profile.Memories, "has a cat")
	profile.Name = "Zara"

	if snapshot.Memories[0] != "likes tea" || len(snapshot.Memories) != 1 {
		t.Errorf("snapshot memories changed: %v", snapshot.Memories)
	}
	if snapshot.Name != DefaultName {
		t.Errorf("snapshot name changed: %s", snapshot.Name)
	}
}

func TestProfileNormalize(t *testing.T) {
	profile := Profile{Name: "  ", Memories: []string{" tea ", "", "   "}}
	profile.Normalize()

	if profile.Name != DefaultName {
		t.Errorf("Expected default name, got %q", profile.Name)
	}
	if profile.Personality != DefaultPersonality || profile.Voice != DefaultVoice || profile.ResponseLength != DefaultResponseLength {
		t.Errorf("Expected defaults to be applied, got %+v", profile)
	}
	if len(profile.Memories) != 1 || profile.Memories[0] != "tea" {
		t.Errorf("Expected trimmed memories, got %v", profile.Memories)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Profile)
		wantErr bool
	}{
		{name: "default profile", mutate: func(p *Profile) {}, wantErr: false},
		{name: "empty name", mutate: func(p *Profile) { p.Name = "" }, wantErr: true},
		{name: "unknown personality", mutate: func(p *Profile) { p.Personality = "Grumpy" }, wantErr: true},
		{name: "unknown voice", mutate: func(p *Profile) { p.Voice = "Alloy" }, wantErr: true},
		{name: "unknown length", mutate: func(p *Profile) { p.ResponseLength = "Medium" }, wantErr: true},
		{name: "variable length", mutate: func(p *Profile) { p.ResponseLength = ResponseVariable }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := DefaultProfile("p1")
			tt.mutate(&profile)
			if err := profile.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	first := NewMessage(RoleUser, "hello")
	second := NewMessage(RoleAssistant, "hi")

	if first.ID == "" || first.ID == second.ID {
		t.Errorf("Expected unique ids, got %q and %q", first.ID, second.ID)
	}
	if first.ID >= second.ID {
		t.Errorf("Expected time-ordered ids, got %q then %q", first.ID, second.ID)
	}
	if err := first.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if first.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestLastMessages(t *testing.T) {
	var messages []Message
	for i := 0; i < 12; i++ {
		messages = append(messages, NewMessage(RoleUser, string(rune('a'+i))))
	}

	last := LastMessages(messages, 10)
	if len(last) != 10 {
		t.Fatalf("Expected 10 messages, got %d", len(last))
	}
	if last[0].Text != "c" || last[9].Text != "l" {
		t.Errorf("Expected window c..l, got %s..%s", last[0].Text, last[9].Text)
	}

	last[0].Text = "changed"
	if messages[2].Text != "c" {
		t.Error("LastMessages should return a copy")
	}

	if got := LastMessages(messages, 0); got != nil {
		t.Errorf("Expected nil for zero window, got %v", got)
	}
}

func TestConnectionState(t *testing.T) {
	if !StateDisconnected.CanConnect() || !StateError.CanConnect() {
		t.Error("Disconnected and Error should allow connect")
	}
	if StateConnecting.CanConnect() || StateConnected.CanConnect() {
		t.Error("Connecting and Connected should not allow connect")
	}
	if !StateConnecting.Active() || !StateConnected.Active() || StateError.Active() {
		t.Error("Active should be true only while Connecting or Connected")
	}
}
