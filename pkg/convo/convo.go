// Package convo holds the conversation state: the message log, the
// live partial transcript line, and the session status. A single
// reducer consumes inbound events in arrival order; accessors are safe
// to call from other goroutines.
package convo

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/pkg/wire"
)

// Status is the current conversation state. Exactly one value is
// current at a time.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusListening    Status = "listening"
	StatusThinking     Status = "thinking"
	StatusSpeaking     Status = "speaking"
	StatusIdle         Status = "idle"
	StatusInterrupted  Status = "interrupted"
	StatusError        Status = "error"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one turn in the conversation. Finalized messages are
// append-only; an agent message still streaming grows in place until a
// clear signal opens the next one.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
}

// StateMachine reduces inbound events into conversation state. Apply
// must be called from a single consumer in arrival order; everything
// else may be called from any goroutine.
type StateMachine struct {
	mu       sync.RWMutex
	status   Status
	messages []Message
	partial  string

	// Agent token accumulation. The open message is materialized into
	// the log only once its trimmed text is non-empty; before that it
	// is not a renderable turn.
	agentOpen bool
	agentText string
	agentIdx  int // index into messages once materialized, else -1

	now func() time.Time
}

// NewStateMachine returns a machine in the disconnected state with an
// empty log.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		status:   StatusDisconnected,
		agentIdx: -1,
		now:      time.Now,
	}
}

// Apply reduces one inbound event. AgentAudio does not touch the log
// or status; routing it to the playback sink is the caller's job.
func (m *StateMachine) Apply(ev wire.Inbound) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := ev.(type) {
	case wire.Transcript:
		if !e.IsFinal {
			m.partial = e.Text
			return
		}
		text := strings.TrimSpace(e.Text)
		m.partial = ""
		if text == "" {
			return
		}
		m.messages = append(m.messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleUser,
			Text:      text,
			Timestamp: m.now(),
		})

	case wire.AgentText:
		if e.Clear {
			// Only the append target resets; finalized turns stay.
			m.agentOpen = false
			m.agentText = ""
			m.agentIdx = -1
			return
		}
		if e.Token == "" {
			return
		}
		if !m.agentOpen {
			m.agentOpen = true
			m.agentText = ""
			m.agentIdx = -1
		}
		m.agentText += e.Token
		if m.agentIdx >= 0 {
			m.messages[m.agentIdx].Text = m.agentText
			return
		}
		if strings.TrimSpace(m.agentText) != "" {
			m.messages = append(m.messages, Message{
				ID:        uuid.NewString(),
				Role:      RoleAgent,
				Text:      m.agentText,
				Timestamp: m.now(),
			})
			m.agentIdx = len(m.messages) - 1
		}

	case wire.Status:
		m.status = Status(e.State)

	case wire.AgentAudio:
		// Playback concern, not state.
	}
}

// Status returns the current conversation status.
func (m *StateMachine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SetStatus records a locally derived status transition, e.g. entering
// speaking when synthesis starts before the backend confirms. Inbound
// Status events remain authoritative: a later one overwrites this.
func (m *StateMachine) SetStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

// Partial returns the live partial transcript line.
func (m *StateMachine) Partial() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.partial
}

// Messages returns a copy of the renderable message log.
func (m *StateMachine) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// LastAgentText returns the text of the most recent agent turn, or ""
// if there is none.
func (m *StateMachine) LastAgentText() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == RoleAgent {
			return m.messages[i].Text
		}
	}
	return ""
}

// LoadHistory replaces the log with previously persisted turns. The
// partial line and open agent state are discarded; status is untouched.
func (m *StateMachine) LoadHistory(msgs []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]Message(nil), msgs...)
	m.partial = ""
	m.agentOpen = false
	m.agentText = ""
	m.agentIdx = -1
}

// Reset clears the log, the partial line, and the open agent state.
// Used when the conversation identity changes.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.partial = ""
	m.agentOpen = false
	m.agentText = ""
	m.agentIdx = -1
	m.status = StatusDisconnected
}
