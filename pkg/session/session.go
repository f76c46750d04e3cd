// Package session assembles the voice engine: one duplex connection,
// one microphone, one speaker, one conversation state machine, and the
// turn controller that keeps them honest about who is talking.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/auth"
	"github.com/voicewire/voicewire/pkg/convo"
	"github.com/voicewire/voicewire/pkg/core"
	"github.com/voicewire/voicewire/pkg/history"
	"github.com/voicewire/voicewire/pkg/identity"
	"github.com/voicewire/voicewire/pkg/synth"
	"github.com/voicewire/voicewire/pkg/transport"
	"github.com/voicewire/voicewire/pkg/wire"
)

// AudioOutput is where agent audio and synthesized speech play.
// *audio.Sink implements it.
type AudioOutput interface {
	Play(pcm []byte)
	Flush()
}

// Event is published after each inbound event has been reduced, with
// the status as of that moment.
type Event struct {
	Inbound wire.Inbound
	Status  convo.Status
	Time    time.Time
}

// inputWindowMs is the rolling window of captured audio the input
// level meter reads over.
const inputWindowMs = 250

// Deps are the injectable collaborators. Nil fields get working
// defaults, except Mic and Output which degrade to silent stubs so a
// headless session still runs.
type Deps struct {
	Logger     *slog.Logger
	Store      identity.Store
	Mic        Microphone
	Output     AudioOutput
	HTTPClient *http.Client
}

// Session is the facade over the whole engine. One Session owns one
// duplex connection and the process's audio devices.
type Session struct {
	cfg    Config
	logger *slog.Logger

	id      *identity.Context
	tr      *transport.Transport
	machine *convo.StateMachine
	output  AudioOutput
	speech  *synth.Client
	turns   *TurnController
	hist    *history.Client
	authc   *auth.Client

	events  chan Event
	inbound chan wire.Inbound
	unsub   func()

	inRing    *audio.RingBuffer
	levelBits atomic.Uint64
	peakBits  atomic.Uint64

	logMu    sync.Mutex
	eventLog []string

	spokenMu  sync.Mutex
	spoken    string
	closeOnce sync.Once
	done      chan struct{}
}

type noOutput struct{}

func (noOutput) Play([]byte) {}
func (noOutput) Flush()      {}

type noMic struct{}

func (noMic) Start(audio.FrameFunc) error {
	return core.NewDeviceError("no capture device configured", nil)
}
func (noMic) Stop()         {}
func (noMic) Running() bool { return false }

// New builds a Session from config and dependencies. The returned
// session is not yet connected; call Connect.
func New(cfg Config, deps Deps) (*Session, error) {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := deps.Store
	if store == nil {
		fs, err := identity.DefaultFileStore()
		if err != nil {
			logger.Warn("session: falling back to in-memory identity store", "err", err)
			store = &identity.MemoryStore{}
		} else {
			store = fs
		}
	}
	id, err := identity.NewContext(store)
	if err != nil {
		return nil, fmt.Errorf("session identity: %w", err)
	}

	output := deps.Output
	if output == nil {
		output = noOutput{}
	}
	mic := deps.Mic
	if mic == nil {
		mic = noMic{}
	}

	s := &Session{
		cfg:     cfg,
		logger:  logger,
		id:      id,
		machine: convo.NewStateMachine(),
		output:  output,
		events:  make(chan Event, cfg.EventBuffer),
		inbound: make(chan wire.Inbound, 256),
		done:    make(chan struct{}),
	}

	s.tr = transport.New(cfg.SocketURL, id.Metadata, logger)
	s.speech = synth.NewClient(cfg.TTSEndpoint, cfg.TTSAPIKey, synth.Options{
		Model: cfg.TTSModel,
		Voice: cfg.TTSVoice,
		Speed: cfg.TTSSpeed,
	}, output, deps.HTTPClient, logger)
	s.hist = history.NewClient(cfg.APIBaseURL, deps.HTTPClient, logger)
	s.authc = auth.NewClient(cfg.APIBaseURL, deps.HTTPClient, logger)

	s.inRing = audio.NewRingBuffer(audio.CaptureFormat(), inputWindowMs)
	s.turns = NewTurnController(s.tr, s.speech, mic, s.machine.Status, logger)
	s.turns.OnFrame = func(pcm []byte) {
		s.inRing.Write(pcm)
		window := s.inRing.Read()
		s.levelBits.Store(math.Float64bits(audio.RMSEnergy(window)))
		s.peakBits.Store(math.Float64bits(audio.PeakAmplitude(window)))
	}

	// Inbound events queue through a channel so exactly one consumer
	// reduces them in arrival order.
	s.unsub = s.tr.Subscribe(func(ev wire.Inbound) {
		select {
		case s.inbound <- ev:
		case <-s.done:
		}
	})
	go s.consume()

	return s, nil
}

// Connect establishes the duplex connection and loads conversation
// history in the background.
func (s *Session) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	if err := s.tr.Connect(dialCtx); err != nil {
		return err
	}
	go s.loadHistory()
	return nil
}

// consume is the single reducer loop.
func (s *Session) consume() {
	for {
		select {
		case ev := <-s.inbound:
			s.reduce(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Session) reduce(ev wire.Inbound) {
	s.machine.Apply(ev)

	switch e := ev.(type) {
	case wire.AgentAudio:
		s.output.Play(e.PCM)
	case wire.AgentText:
		// A clear opens a fresh agent turn; any speech still playing
		// belongs to the previous one.
		if e.Clear {
			s.speech.Cancel()
			s.spokenMu.Lock()
			s.spoken = ""
			s.spokenMu.Unlock()
		}
	case wire.Status:
		if convo.Status(e.State) == convo.StatusIdle && s.cfg.AutoSpeak {
			s.maybeSpeakLastTurn()
		}
	}

	s.record(ev)
	s.publish(Event{Inbound: ev, Status: s.machine.Status(), Time: time.Now()})
}

// maybeSpeakLastTurn speaks the newest agent turn once the backend
// goes idle, at most once per turn.
func (s *Session) maybeSpeakLastTurn() {
	text := s.machine.LastAgentText()
	if text == "" {
		return
	}
	s.spokenMu.Lock()
	if text == s.spoken {
		s.spokenMu.Unlock()
		return
	}
	s.spoken = text
	s.spokenMu.Unlock()

	go s.speak(text)
}

// speak runs one utterance, entering speaking locally before the
// backend confirms and returning to idle afterwards. Synthesis
// failures are logged and swallowed; they never degrade the session.
func (s *Session) speak(text string) {
	s.machine.SetStatus(convo.StatusSpeaking)
	err := s.speech.Speak(context.Background(), text, synth.Options{})
	if err != nil && !errors.Is(err, synth.ErrBusy) {
		s.logger.Warn("session: speech synthesis failed", "err", err)
	}
	if s.machine.Status() == convo.StatusSpeaking {
		s.machine.SetStatus(convo.StatusIdle)
	}
}

// Speak voices arbitrary text through the synthesizer, subject to the
// same single-flight rule as auto-speech.
func (s *Session) Speak(ctx context.Context, text string) error {
	return s.speech.Speak(ctx, text, synth.Options{})
}

// CancelSpeech silences the synthesizer immediately.
func (s *Session) CancelSpeech() {
	s.speech.Cancel()
}

// StartCapture begins streaming microphone audio, barging in on the
// agent if it is mid-response.
func (s *Session) StartCapture() error {
	return s.turns.StartCapture()
}

// StopCapture stops streaming microphone audio and zeroes the input
// level meter.
func (s *Session) StopCapture() {
	s.turns.StopCapture()
	s.inRing.Clear()
	s.levelBits.Store(0)
	s.peakBits.Store(0)
}

// ToggleCapture flips between capturing and not.
func (s *Session) ToggleCapture() error {
	if s.Recording() {
		s.StopCapture()
		return nil
	}
	return s.StartCapture()
}

// Recording reports whether the microphone is live.
func (s *Session) Recording() bool {
	return s.turns.Recording()
}

// DeviceError returns the most recent microphone failure, or nil.
func (s *Session) DeviceError() error {
	return s.turns.DeviceError()
}

// SendChat sends a typed message down the same duplex channel.
func (s *Session) SendChat(text string) {
	s.turns.SendChat(text)
}

// Login authenticates and binds the session to the account. The
// conversation resets because its identity changed.
func (s *Session) Login(ctx context.Context, creds auth.Credentials) (*auth.User, error) {
	user, err := s.authc.Login(ctx, creds, s.id.Identity().BrowserSessionID)
	if err != nil {
		return nil, err
	}
	s.bindUser(user.ID)
	return user, nil
}

// Signup registers a new account and binds the session to it.
func (s *Session) Signup(ctx context.Context, creds auth.Credentials) (*auth.User, error) {
	user, err := s.authc.Signup(ctx, creds, s.id.Identity().BrowserSessionID)
	if err != nil {
		return nil, err
	}
	s.bindUser(user.ID)
	return user, nil
}

// SetUser binds the session to an already-authenticated user id.
func (s *Session) SetUser(userID string) {
	s.bindUser(userID)
}

// Logout returns the session to guest identity, starting a fresh
// conversation.
func (s *Session) Logout() {
	if s.id.SetGuest() {
		s.resetConversation()
	}
}

func (s *Session) bindUser(userID string) {
	if s.id.SetUser(userID) {
		s.resetConversation()
	}
}

// resetConversation clears state after an identity change and reloads
// history for the new conversation id.
func (s *Session) resetConversation() {
	s.machine.Reset()
	if s.tr.Connected() {
		s.machine.SetStatus(convo.StatusConnected)
	}
	s.spokenMu.Lock()
	s.spoken = ""
	s.spokenMu.Unlock()
	go s.loadHistory()
}

func (s *Session) loadHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	csid := s.id.Identity().ConversationSessionID
	conv, err := s.hist.Fetch(ctx, csid)
	if err != nil {
		s.logger.Warn("session: history load failed", "err", err)
		return
	}
	if msgs := conv.Messages(); len(msgs) > 0 {
		s.machine.LoadHistory(msgs)
	}
}

// Identity returns the current session identity snapshot.
func (s *Session) Identity() identity.Identity {
	return s.id.Identity()
}

// Status returns the current conversation status.
func (s *Session) Status() convo.Status {
	return s.machine.Status()
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []convo.Message {
	return s.machine.Messages()
}

// Partial returns the live partial transcript line.
func (s *Session) Partial() string {
	return s.machine.Partial()
}

// InputLevel returns the RMS level of the last quarter second of
// captured audio.
func (s *Session) InputLevel() float64 {
	return math.Float64frombits(s.levelBits.Load())
}

// InputPeak returns the peak amplitude over the same window.
func (s *Session) InputPeak() float64 {
	return math.Float64frombits(s.peakBits.Load())
}

// Events is the published event stream. Slow consumers lose events
// rather than stalling the reducer.
func (s *Session) Events() <-chan Event {
	return s.events
}

// EventLog returns the bounded diagnostic tail, newest last.
func (s *Session) EventLog() []string {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	return append([]string(nil), s.eventLog...)
}

// Close tears the session down: capture, synthesis, then transport.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.turns.StopCapture()
		s.speech.Cancel()
		close(s.done)
		s.unsub()
		err = s.tr.Close()
	})
	return err
}

func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Slow consumer; the log and accessors still have the state.
	}
}

func (s *Session) record(ev wire.Inbound) {
	var line string
	switch e := ev.(type) {
	case wire.Transcript:
		if e.IsFinal {
			line = fmt.Sprintf("transcript final: %q", e.Text)
		} else {
			line = fmt.Sprintf("transcript partial: %q", e.Text)
		}
	case wire.AgentText:
		if e.Clear {
			line = "agent_text clear"
		} else {
			line = fmt.Sprintf("agent_text token: %q", e.Token)
		}
	case wire.Status:
		line = "status: " + e.State
	case wire.AgentAudio:
		line = fmt.Sprintf("agent_audio: %d bytes", len(e.PCM))
	default:
		line = fmt.Sprintf("event: %T", ev)
	}

	s.logMu.Lock()
	s.eventLog = append(s.eventLog, time.Now().Format("15:04:05.000")+" "+line)
	if len(s.eventLog) > s.cfg.EventLogSize {
		s.eventLog = s.eventLog[len(s.eventLog)-s.cfg.EventLogSize:]
	}
	s.logMu.Unlock()
}
