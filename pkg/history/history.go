// Package history fetches previously persisted conversation turns so
// a reconnecting client can seed its message log.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/pkg/convo"
	"github.com/voicewire/voicewire/pkg/core"
)

// Entry is one persisted exchange. Either side may be absent.
type Entry struct {
	Transcript  string    `json:"transcript,omitempty"`
	LLMResponse string    `json:"llm_response,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Conversation is the history service response.
type Conversation struct {
	SessionID string  `json:"session_id"`
	Entries   []Entry `json:"entries"`
}

// Client fetches conversation history over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a history client for the given base URL.
// httpClient may be nil to use the shared default.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = core.NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Fetch retrieves the conversation for the given session id. A blank
// id short-circuits to an empty conversation without touching the
// network.
func (c *Client) Fetch(ctx context.Context, conversationSessionID string) (*Conversation, error) {
	if strings.TrimSpace(conversationSessionID) == "" {
		return &Conversation{Entries: []Entry{}}, nil
	}

	u := fmt.Sprintf("%s/conversations/%s", c.baseURL, url.PathEscape(conversationSessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, core.NewTransportError("build history request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewTransportError("fetch history", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No history yet for this session.
		return &Conversation{SessionID: conversationSessionID, Entries: []Entry{}}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewTransportError("history service: "+resp.Status, nil)
	}

	var conv Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, core.NewProtocolError("decode history response", err)
	}
	if conv.Entries == nil {
		conv.Entries = []Entry{}
	}
	return &conv, nil
}

// Messages converts history entries into conversation messages in
// entry order: each entry contributes its user transcript first, then
// the agent response.
func (conv *Conversation) Messages() []convo.Message {
	var msgs []convo.Message
	for _, e := range conv.Entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if text := strings.TrimSpace(e.Transcript); text != "" {
			msgs = append(msgs, convo.Message{
				ID:        uuid.NewString(),
				Role:      convo.RoleUser,
				Text:      text,
				Timestamp: ts,
			})
		}
		if text := strings.TrimSpace(e.LLMResponse); text != "" {
			msgs = append(msgs, convo.Message{
				ID:        uuid.NewString(),
				Role:      convo.RoleAgent,
				Text:      text,
				Timestamp: ts,
			})
		}
	}
	return msgs
}
