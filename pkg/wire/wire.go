// Package wire defines the duplex channel message envelope and the typed
// events carried inside it. Both directions share one envelope shape:
//
//	{ "type": string, "payload": object, "metadata": { ... } }
//
// Audio payloads travel as base64-encoded 16-bit little-endian PCM.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Outbound message types.
const (
	TypeAudioChunk     = "audio_chunk"
	TypeInterrupt      = "interrupt"
	TypeStartRecording = "start_recording"
	TypeStopRecording  = "stop_recording"
	TypeChatMessage    = "chat_message"
)

// Inbound message types.
const (
	TypeTranscript = "transcript"
	TypeAgentText  = "agent_text"
	TypeStatus     = "status"
	TypeAgentAudio = "agent_audio"
)

// Metadata is the identity bundle attached to every outbound envelope.
type Metadata struct {
	BrowserSessionID      string `json:"browser_session_id"`
	ConversationSessionID string `json:"conversation_session_id"`
	UserID                string `json:"user_id,omitempty"`
	UserType              string `json:"user_type"`
	Timezone              string `json:"timezone,omitempty"`
}

// Envelope is the raw frame exchanged over the duplex channel.
type Envelope struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`
}

// Outbound is a client-to-backend event.
type Outbound interface {
	outboundType() string
}

// AudioChunk carries one captured PCM16 frame.
type AudioChunk struct {
	PCM []byte
}

func (AudioChunk) outboundType() string { return TypeAudioChunk }

// Interrupt tells the backend to stop the in-flight agent response.
type Interrupt struct{}

func (Interrupt) outboundType() string { return TypeInterrupt }

// StartRecording announces that capture begins; audio chunks follow.
type StartRecording struct{}

func (StartRecording) outboundType() string { return TypeStartRecording }

// StopRecording announces that capture ended.
type StopRecording struct{}

func (StopRecording) outboundType() string { return TypeStopRecording }

// ChatMessage carries a typed user message (the text-chat path).
type ChatMessage struct {
	Text string
}

func (ChatMessage) outboundType() string { return TypeChatMessage }

// Inbound is a backend-to-client event.
type Inbound interface {
	inboundType() string
}

// Transcript is a speech-to-text result for the current utterance.
// Non-final transcripts overwrite the live partial line; final ones
// commit a user turn.
type Transcript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

func (Transcript) inboundType() string { return TypeTranscript }

// AgentText is one step of the streaming agent response: either a token
// to append, or a clear marker that the next token starts a new turn.
type AgentText struct {
	Token string `json:"token,omitempty"`
	Clear bool   `json:"clear,omitempty"`
}

func (AgentText) inboundType() string { return TypeAgentText }

// Status reports the backend's view of the session state.
type Status struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (Status) inboundType() string { return TypeStatus }

// AgentAudio carries one synthesized-speech chunk from the backend.
type AgentAudio struct {
	PCM []byte
}

func (AgentAudio) inboundType() string { return TypeAgentAudio }

// DecodeError describes a frame that could not be decoded. The transport
// drops and logs such frames; they never reach the reducer.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return "decode frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

type audioPayload struct {
	Audio string `json:"audio"`
}

type textPayload struct {
	Text string `json:"text"`
}

// EncodeOutbound builds the wire envelope for an outbound event,
// attaching the given metadata bundle.
func EncodeOutbound(ev Outbound, meta Metadata) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case AudioChunk:
		payload = audioPayload{Audio: base64.StdEncoding.EncodeToString(e.PCM)}
	case *AudioChunk:
		payload = audioPayload{Audio: base64.StdEncoding.EncodeToString(e.PCM)}
	case ChatMessage:
		payload = textPayload{Text: strings.TrimSpace(e.Text)}
	case *ChatMessage:
		payload = textPayload{Text: strings.TrimSpace(e.Text)}
	case Interrupt, *Interrupt, StartRecording, *StartRecording, StopRecording, *StopRecording:
		payload = struct{}{}
	default:
		return nil, fmt.Errorf("unsupported outbound event %T", ev)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Envelope{
		Type:     ev.outboundType(),
		Payload:  raw,
		Metadata: &meta,
	})
}

// DecodeInbound parses a raw frame into a typed inbound event.
// Unknown types and malformed payloads yield a *DecodeError.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: "invalid envelope", Err: err}
	}
	typ := strings.TrimSpace(env.Type)
	if typ == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}

	switch typ {
	case TypeTranscript:
		var t Transcript
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, &DecodeError{Reason: "invalid transcript payload", Err: err}
		}
		return t, nil
	case TypeAgentText:
		var a AgentText
		if err := json.Unmarshal(env.Payload, &a); err != nil {
			return nil, &DecodeError{Reason: "invalid agent_text payload", Err: err}
		}
		return a, nil
	case TypeStatus:
		var s Status
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, &DecodeError{Reason: "invalid status payload", Err: err}
		}
		if strings.TrimSpace(s.State) == "" {
			return nil, &DecodeError{Reason: "status missing state"}
		}
		return s, nil
	case TypeAgentAudio:
		var p audioPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, &DecodeError{Reason: "invalid agent_audio payload", Err: err}
		}
		pcm, err := base64.StdEncoding.DecodeString(p.Audio)
		if err != nil {
			return nil, &DecodeError{Reason: "invalid agent_audio base64", Err: err}
		}
		return AgentAudio{PCM: pcm}, nil
	default:
		return nil, &DecodeError{Reason: "unknown type " + typ}
	}
}

// DecodeOutbound parses a raw frame into a typed outbound event.
// Used by the backend side of the protocol (and the dev server).
func DecodeOutbound(data []byte) (Outbound, *Metadata, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, &DecodeError{Reason: "invalid envelope", Err: err}
	}

	switch strings.TrimSpace(env.Type) {
	case TypeAudioChunk:
		var p audioPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, nil, &DecodeError{Reason: "invalid audio_chunk payload", Err: err}
		}
		pcm, err := base64.StdEncoding.DecodeString(p.Audio)
		if err != nil {
			return nil, nil, &DecodeError{Reason: "invalid audio_chunk base64", Err: err}
		}
		return AudioChunk{PCM: pcm}, env.Metadata, nil
	case TypeInterrupt:
		return Interrupt{}, env.Metadata, nil
	case TypeStartRecording:
		return StartRecording{}, env.Metadata, nil
	case TypeStopRecording:
		return StopRecording{}, env.Metadata, nil
	case TypeChatMessage:
		var p textPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, nil, &DecodeError{Reason: "invalid chat_message payload", Err: err}
		}
		return ChatMessage{Text: p.Text}, env.Metadata, nil
	default:
		return nil, nil, &DecodeError{Reason: "unknown type " + strings.TrimSpace(env.Type)}
	}
}

// EncodeInbound builds the wire envelope for an inbound event. Used by
// the backend side of the protocol (and the dev server).
func EncodeInbound(ev Inbound) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case Transcript:
		payload = e
	case AgentText:
		payload = e
	case Status:
		payload = e
	case AgentAudio:
		payload = audioPayload{Audio: base64.StdEncoding.EncodeToString(e.PCM)}
	default:
		return nil, fmt.Errorf("unsupported inbound event %T", ev)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Envelope{Type: ev.inboundType(), Payload: raw})
}
