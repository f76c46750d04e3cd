package convo

import (
	"testing"

	"github.com/voicewire/voicewire/pkg/wire"
)

func TestPartialTranscriptsOnlyTouchPartialLine(t *testing.T) {
	m := NewStateMachine()
	for _, text := range []string{"h", "he", "hel", "hello wor"} {
		m.Apply(wire.Transcript{Text: text, IsFinal: false})
	}
	if got := m.Partial(); got != "hello wor" {
		t.Errorf("Partial = %q, want overwrite semantics", got)
	}
	if n := len(m.Messages()); n != 0 {
		t.Errorf("message log has %d entries, want 0", n)
	}
}

func TestFinalTranscriptsAppendUserMessages(t *testing.T) {
	m := NewStateMachine()
	m.Apply(wire.Transcript{Text: "hel", IsFinal: false})
	m.Apply(wire.Transcript{Text: "hello", IsFinal: true})
	if got := m.Partial(); got != "" {
		t.Errorf("partial not cleared after final: %q", got)
	}
	m.Apply(wire.Transcript{Text: "world", IsFinal: true})

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Text != "hello" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Text != "world" {
		t.Errorf("second message = %+v", msgs[1])
	}
	if msgs[0].ID == msgs[1].ID {
		t.Error("messages share an id")
	}
}

func TestBlankFinalTranscriptIsDropped(t *testing.T) {
	m := NewStateMachine()
	m.Apply(wire.Transcript{Text: "   ", IsFinal: true})
	if n := len(m.Messages()); n != 0 {
		t.Errorf("blank final produced %d messages", n)
	}
	if m.Partial() != "" {
		t.Error("blank final did not clear the partial line")
	}
}

func TestClearBoundariesYieldDiscreteAgentTurns(t *testing.T) {
	m := NewStateMachine()
	m.Apply(wire.AgentText{Clear: true})
	m.Apply(wire.AgentText{Token: "Hi"})
	m.Apply(wire.AgentText{Token: " there"})

	msgs := m.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleAgent || msgs[0].Text != "Hi there" {
		t.Fatalf("after first turn: %+v", msgs)
	}

	m.Apply(wire.AgentText{Clear: true})
	m.Apply(wire.AgentText{Token: "Bye"})

	msgs = m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 discrete agent turns", len(msgs))
	}
	if msgs[0].Text != "Hi there" {
		t.Errorf("first turn mutated: %q", msgs[0].Text)
	}
	if msgs[1].Text != "Bye" {
		t.Errorf("second turn = %q", msgs[1].Text)
	}
}

func TestWhitespaceOnlyAgentTurnStaysOpenButUnrendered(t *testing.T) {
	m := NewStateMachine()
	m.Apply(wire.AgentText{Token: " "})
	m.Apply(wire.AgentText{Token: "\n"})
	if n := len(m.Messages()); n != 0 {
		t.Fatalf("whitespace-only turn rendered %d messages", n)
	}

	// Once non-blank, the accumulated text (including earlier
	// whitespace) becomes a single renderable turn.
	m.Apply(wire.AgentText{Token: "ok"})
	msgs := m.Messages()
	if len(msgs) != 1 || msgs[0].Text != " \nok" {
		t.Fatalf("turn after non-blank token: %+v", msgs)
	}
}

func TestInterleavedUserAndAgentTurns(t *testing.T) {
	m := NewStateMachine()
	m.Apply(wire.AgentText{Token: "thinking"})
	m.Apply(wire.Transcript{Text: "wait", IsFinal: true})
	m.Apply(wire.AgentText{Token: " aloud"})

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleAgent || msgs[0].Text != "thinking aloud" {
		t.Errorf("agent turn = %+v", msgs[0])
	}
	if msgs[1].Role != RoleUser || msgs[1].Text != "wait" {
		t.Errorf("user turn = %+v", msgs[1])
	}
}

func TestStatusEventsAreAuthoritative(t *testing.T) {
	m := NewStateMachine()
	if m.Status() != StatusDisconnected {
		t.Fatalf("initial status = %q", m.Status())
	}
	m.SetStatus(StatusSpeaking) // local guess
	m.Apply(wire.Status{State: "listening"})
	if m.Status() != StatusListening {
		t.Errorf("status = %q, want listening", m.Status())
	}
}

func TestAgentAudioLeavesStateUntouched(t *testing.T) {
	m := NewStateMachine()
	m.Apply(wire.Status{State: "speaking"})
	m.Apply(wire.AgentText{Token: "hello"})
	m.Apply(wire.AgentAudio{PCM: []byte{1, 2, 3, 4}})

	if m.Status() != StatusSpeaking {
		t.Errorf("status changed: %q", m.Status())
	}
	if msgs := m.Messages(); len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Errorf("log changed: %+v", msgs)
	}
}

func TestLoadHistorySeedsLog(t *testing.T) {
	m := NewStateMachine()
	m.Apply(wire.AgentText{Token: "stale"})
	m.LoadHistory([]Message{
		{ID: "1", Role: RoleUser, Text: "earlier question"},
		{ID: "2", Role: RoleAgent, Text: "earlier answer"},
	})

	msgs := m.Messages()
	if len(msgs) != 2 || msgs[0].Text != "earlier question" {
		t.Fatalf("seeded log = %+v", msgs)
	}

	// A fresh token after seeding starts a new turn rather than
	// appending to the pre-seed open message.
	m.Apply(wire.AgentText{Token: "new answer"})
	msgs = m.Messages()
	if len(msgs) != 3 || msgs[2].Text != "new answer" {
		t.Fatalf("post-seed turn = %+v", msgs)
	}
}

func TestResetClearsEverything(t *testing.T) {
	m := NewStateMachine()
	m.Apply(wire.Transcript{Text: "partial", IsFinal: false})
	m.Apply(wire.Transcript{Text: "hello", IsFinal: true})
	m.Apply(wire.AgentText{Token: "answer"})
	m.Apply(wire.Status{State: "idle"})

	m.Reset()

	if len(m.Messages()) != 0 || m.Partial() != "" {
		t.Error("Reset left conversation state behind")
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("status after reset = %q", m.Status())
	}

	// Tokens after reset open a brand-new turn.
	m.Apply(wire.AgentText{Token: "fresh"})
	if msgs := m.Messages(); len(msgs) != 1 || msgs[0].Text != "fresh" {
		t.Errorf("post-reset turn = %+v", msgs)
	}
}

func TestLastAgentText(t *testing.T) {
	m := NewStateMachine()
	if m.LastAgentText() != "" {
		t.Error("empty machine has agent text")
	}
	m.Apply(wire.AgentText{Token: "first"})
	m.Apply(wire.AgentText{Clear: true})
	m.Apply(wire.AgentText{Token: "second"})
	m.Apply(wire.Transcript{Text: "user", IsFinal: true})
	if got := m.LastAgentText(); got != "second" {
		t.Errorf("LastAgentText = %q, want %q", got, "second")
	}
}
