package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/history"
	"github.com/voicewire/voicewire/pkg/wire"
)

type devServer struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu            sync.Mutex
	conversations map[string][]history.Entry
}

func newDevServer(logger *slog.Logger) *devServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &devServer{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conversations: make(map[string][]history.Entry),
	}
}

func (s *devServer) record(sessionID, transcript, response string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[sessionID] = append(s.conversations[sessionID], history.Entry{
		Transcript:  transcript,
		LLMResponse: response,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *devServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	entries := append([]history.Entry(nil), s.conversations[sessionID]...)
	s.mu.Unlock()

	if entries == nil {
		entries = []history.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(history.Conversation{
		SessionID: sessionID,
		Entries:   entries,
	})
}

// handleAuth accepts any well-formed credentials and mints a stable
// user id from the contact, so repeated logins bind the same account.
func (s *devServer) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email            string `json:"email"`
		Phone            string `json:"phone"`
		Password         string `json:"password"`
		Name             string `json:"name"`
		BrowserSessionID string `json:"browser_session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	contact := strings.TrimSpace(req.Email)
	if contact == "" {
		contact = strings.TrimSpace(req.Phone)
	}
	if contact == "" || len(req.Password) < 8 {
		writeAuthError(w, http.StatusBadRequest, "contact and a password of 8+ characters are required")
		return
	}

	user := map[string]any{
		"id": "dev-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(contact)).String(),
	}
	if req.Name != "" {
		user["name"] = req.Name
	}
	if req.Email != "" {
		user["email"] = req.Email
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"user": user})
}

func writeAuthError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg},
	})
}

// conn wraps one websocket client with its turn state.
type conn struct {
	ws     *websocket.Conn
	srv    *devServer
	logger *slog.Logger

	writeMu sync.Mutex

	sessionID string
	recording bool
	voice     *audio.Buffer
}

// maxUtteranceMs bounds how much of one voice turn is kept; the buffer
// drops the oldest audio past this.
const maxUtteranceMs = 30000

// levelWindowMs is the slice of recent audio the live level is read from.
const levelWindowMs = 500

func (s *devServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "err", err)
		return
	}
	c := &conn{
		ws:     ws,
		srv:    s,
		logger: s.logger,
		voice:  audio.NewBuffer(audio.CaptureFormat(), maxUtteranceMs),
	}
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ev, meta, err := wire.DecodeOutbound(data)
		if err != nil {
			c.logger.Debug("dropping malformed client frame", "err", err)
			continue
		}
		if meta != nil {
			c.sessionID = meta.ConversationSessionID
		}
		c.handle(ev)
	}
}

func (c *conn) send(ev wire.Inbound) {
	frame, err := wire.EncodeInbound(ev)
	if err != nil {
		c.logger.Error("encode inbound", "err", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *conn) handle(ev wire.Outbound) {
	switch e := ev.(type) {
	case wire.ChatMessage:
		c.reply(e.Text, e.Text)

	case wire.StartRecording:
		c.recording = true
		c.voice.Clear()
		c.send(wire.Status{State: "listening"})

	case wire.AudioChunk:
		if !c.recording {
			return
		}
		c.voice.Write(e.PCM)
		level := audio.RMSEnergy(c.voice.ReadLast(levelWindowMs))
		c.send(wire.Transcript{
			Text:    fmt.Sprintf("[voice %dms, level %.2f]", c.voice.DurationMs(), level),
			IsFinal: false,
		})

	case wire.StopRecording:
		if !c.recording {
			return
		}
		c.recording = false
		transcript := fmt.Sprintf("voice message (%dms)", c.voice.DurationMs())
		c.voice.Clear()
		c.send(wire.Transcript{Text: transcript, IsFinal: true})
		c.reply(transcript, transcript)

	case wire.Interrupt:
		c.recording = false
		c.send(wire.Status{State: "interrupted"})
	}
}

// reply streams a canned token response for the given user text and
// persists the exchange for the history endpoint.
func (c *conn) reply(transcript, userText string) {
	c.send(wire.Status{State: "thinking"})
	c.send(wire.AgentText{Clear: true})

	response := fmt.Sprintf("You said: %s", strings.TrimSpace(userText))
	for _, word := range strings.Fields(response) {
		c.send(wire.AgentText{Token: word + " "})
	}
	c.send(wire.Status{State: "idle"})

	c.srv.record(c.sessionID, transcript, response)
}
