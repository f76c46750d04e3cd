package session

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/convo"
	"github.com/voicewire/voicewire/pkg/wire"
)

// Sender transmits outbound events. *transport.Transport implements it.
type Sender interface {
	Send(wire.Outbound)
}

// Synthesizer is the slice of synth.Client the controller needs.
type Synthesizer interface {
	Cancel()
	Speaking() bool
}

// Microphone is the slice of audio.FrameSource the controller needs.
type Microphone interface {
	Start(audio.FrameFunc) error
	Stop()
	Running() bool
}

type captureState int

const (
	captureIdle captureState = iota
	captureRequested
	captureActive
)

// TurnController is the sole writer of cross-component turn
// transitions. Barge-in order is fixed: local synthesis is silenced,
// the backend is interrupted, and only then does capture start.
type TurnController struct {
	send   Sender
	synth  Synthesizer
	mic    Microphone
	status func() convo.Status
	logger *slog.Logger

	// OnFrame, when set, receives each captured frame after it is sent.
	OnFrame func(pcm []byte)

	mu        sync.Mutex
	state     captureState
	deviceErr error
}

// NewTurnController wires the controller to its collaborators. status
// reports the current conversation status; synth may be nil when
// synthesis is disabled.
func NewTurnController(send Sender, synth Synthesizer, mic Microphone, status func() convo.Status, logger *slog.Logger) *TurnController {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnController{
		send:   send,
		synth:  synth,
		mic:    mic,
		status: status,
		logger: logger,
	}
}

// StartCapture begins streaming microphone audio. If the agent is
// thinking, speaking, or synthesis is playing locally, it first cancels
// synthesis, then sends Interrupt, then StartRecording — strictly in
// that order, without waiting for acknowledgements. Calling it while
// capture is already requested or active is a no-op.
func (t *TurnController) StartCapture() error {
	t.mu.Lock()
	if t.state != captureIdle {
		t.mu.Unlock()
		return nil
	}
	t.state = captureRequested
	t.mu.Unlock()

	st := t.status()
	bargeIn := st == convo.StatusThinking || st == convo.StatusSpeaking ||
		(t.synth != nil && t.synth.Speaking())
	if bargeIn {
		// Local audio goes silent before the backend hears about it.
		if t.synth != nil {
			t.synth.Cancel()
		}
		t.send.Send(wire.Interrupt{})
	}
	t.send.Send(wire.StartRecording{})

	if err := t.mic.Start(t.onFrame); err != nil {
		t.logger.Warn("turn: microphone unavailable", "err", err)
		// The backend already heard StartRecording; tell it the turn
		// is over so it does not sit in listening.
		t.send.Send(wire.StopRecording{})
		t.mu.Lock()
		t.state = captureIdle
		t.deviceErr = err
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.state = captureActive
	t.deviceErr = nil
	t.mu.Unlock()
	return nil
}

// StopCapture stops the microphone and tells the backend. It never
// touches synthesis state. Calling it while not capturing is a no-op.
func (t *TurnController) StopCapture() {
	t.mu.Lock()
	if t.state == captureIdle {
		t.mu.Unlock()
		return
	}
	t.state = captureIdle
	t.mu.Unlock()

	t.mic.Stop()
	t.send.Send(wire.StopRecording{})
}

// ToggleCapture starts capture when idle and stops it otherwise.
func (t *TurnController) ToggleCapture() error {
	if t.Recording() {
		t.StopCapture()
		return nil
	}
	return t.StartCapture()
}

// SendChat sends one text message. Blank text is a no-op.
func (t *TurnController) SendChat(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.send.Send(wire.ChatMessage{Text: text})
}

// Recording reports whether capture is requested or active.
func (t *TurnController) Recording() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != captureIdle
}

// DeviceError returns the most recent capture failure, or nil. It
// clears once a later StartCapture succeeds.
func (t *TurnController) DeviceError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deviceErr
}

// onFrame runs on the audio callback path: copy out, never block.
func (t *TurnController) onFrame(pcm []byte) {
	t.send.Send(wire.AudioChunk{PCM: pcm})
	if t.OnFrame != nil {
		t.OnFrame(pcm)
	}
}
