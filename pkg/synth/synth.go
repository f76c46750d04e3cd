// Package synth speaks agent text aloud through an HTTP text-to-speech
// service. One utterance is active at a time; Cancel silences it
// immediately and keeps any still-in-flight audio from ever starting.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/core"
)

// ErrBusy is returned by Speak while another utterance is active.
// Single-flight discipline is the caller's job.
var ErrBusy = errors.New("synth: an utterance is already active")

// Options selects the voice for one utterance. Zero values fall back
// to the client defaults.
type Options struct {
	Model string
	Voice string
	Speed float64
}

// Player is where synthesized audio goes. *audio.Sink implements it.
type Player interface {
	Play(pcm []byte)
	Flush()
}

// Client requests synthesized speech and plays it to completion.
type Client struct {
	endpoint   string
	apiKey     string
	defaults   Options
	format     audio.Format
	httpClient *http.Client
	player     Player
	logger     *slog.Logger

	mu     sync.Mutex
	active bool
	gen    uint64 // bumped by Speak and Cancel; stale audio never plays
	abort  context.CancelFunc
}

// NewClient creates a synthesis client. player receives the audio;
// httpClient may be nil to use the shared default.
func NewClient(endpoint, apiKey string, defaults Options, player Player, httpClient *http.Client, logger *slog.Logger) *Client {
	if defaults.Model == "" {
		defaults.Model = "tts-1"
	}
	if defaults.Voice == "" {
		defaults.Voice = "nova"
	}
	if defaults.Speed == 0 {
		defaults.Speed = 1.0
	}
	if httpClient == nil {
		httpClient = core.NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		defaults:   defaults,
		format:     audio.PlaybackFormat(),
		httpClient: httpClient,
		player:     player,
		logger:     logger,
	}
}

// Speaking reports whether an utterance is requested or playing.
func (c *Client) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

type speechError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Speak synthesizes text and plays it to completion. It returns nil
// when playback finished or was cancelled, ErrBusy when an utterance is
// already active, and a synthesis error on request failure. Synthesis
// errors are safe to log and drop; the session carries on.
func (c *Client) Speak(ctx context.Context, text string, opts Options) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.apiKey == "" {
		c.logger.Warn("synth: no api key configured, skipping speech")
		return nil
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrBusy
	}
	c.active = true
	c.gen++
	myGen := c.gen
	reqCtx, abort := context.WithCancel(ctx)
	c.abort = abort
	c.mu.Unlock()

	defer func() {
		abort()
		c.mu.Lock()
		c.active = false
		c.abort = nil
		c.mu.Unlock()
	}()

	pcm, err := c.fetch(reqCtx, text, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	// The request may have been cancelled while audio was in flight;
	// such audio must never reach the speaker. Play happens under the
	// lock so a concurrent Cancel either beats the check or flushes
	// what we just queued.
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return nil
	}
	c.player.Play(pcm)
	c.mu.Unlock()

	return c.waitForPlayback(reqCtx, len(pcm))
}

// Cancel stops the active utterance immediately: playback is flushed
// and any in-flight synthesis response is discarded. Cancelling when
// nothing is active is a no-op.
func (c *Client) Cancel() {
	c.mu.Lock()
	c.gen++
	abort := c.abort
	c.mu.Unlock()

	if abort != nil {
		abort()
	}
	c.player.Flush()
}

func (c *Client) fetch(ctx context.Context, text string, opts Options) ([]byte, error) {
	if opts.Model == "" {
		opts.Model = c.defaults.Model
	}
	if opts.Voice == "" {
		opts.Voice = c.defaults.Voice
	}
	if opts.Speed == 0 {
		opts.Speed = c.defaults.Speed
	}

	body, err := json.Marshal(speechRequest{
		Model:          opts.Model,
		Input:          text,
		Voice:          opts.Voice,
		Speed:          opts.Speed,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return nil, core.NewSynthesisError("encode speech request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewSynthesisError("build speech request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, core.NewSynthesisError("speech request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr speechError
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", resp.Status, apiErr.Error.Message)
		}
		return nil, core.NewSynthesisError("speech service: "+msg, nil)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, core.NewSynthesisError("read speech response", err)
	}
	return pcm, nil
}

// waitForPlayback blocks for the utterance's wall-clock duration so
// Speak resolves roughly when the speaker goes quiet. Cancellation cuts
// the wait short; the player has already been flushed by then.
func (c *Client) waitForPlayback(ctx context.Context, pcmBytes int) error {
	d := time.Duration(c.format.DurationMs(pcmBytes)) * time.Millisecond
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}
