// Package transport owns the single duplex WebSocket connection to the
// conversational backend.
//
// Outbound sends are fire-and-forget: when the connection is not open
// they are dropped, never queued. Inbound frames are decoded and fanned
// out to subscribers; connectivity transitions are reported as
// synthesized status events so consumers see exactly one event stream.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/core"
	"github.com/voicewire/voicewire/pkg/wire"
)

const defaultDialTimeout = 15 * time.Second

// Handler receives every inbound event, including synthesized status
// events. Handlers run on the read loop; keep them fast.
type Handler func(wire.Inbound)

// MetadataFunc supplies the identity metadata attached to each
// outbound envelope at send time.
type MetadataFunc func() wire.Metadata

// Transport is a duplex channel to the backend. One live connection
// exists at a time; Connect reuses it.
type Transport struct {
	url      string
	metadata MetadataFunc
	logger   *slog.Logger
	dialer   *websocket.Dialer

	mu   sync.Mutex // guards conn
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla conns do not allow concurrent writers

	subMu   sync.Mutex
	subs    map[int]Handler
	nextSub int
}

// New creates a Transport for the given websocket URL. metadata may be
// nil, in which case envelopes carry no metadata bundle.
func New(url string, metadata MetadataFunc, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		url:      url,
		metadata: metadata,
		logger:   logger,
		dialer:   &websocket.Dialer{},
		subs:     make(map[int]Handler),
	}
}

// Connect establishes the duplex connection, reusing a live one. It is
// safe to call concurrently; at most one connection results.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	t.notify(wire.Status{State: "connecting"})

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, _, err := t.dialer.DialContext(dialCtx, t.url, nil)
	if err != nil {
		t.notify(wire.Status{State: "error", Error: "socket_error"})
		t.notify(wire.Status{State: "disconnected"})
		return core.NewTransportError(fmt.Sprintf("dial %s", t.url), err)
	}

	t.conn = conn
	t.notify(wire.Status{State: "connected"})
	go t.readLoop(conn)
	return nil
}

// Connected reports whether a connection is currently open.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send transmits one outbound event. It is a silent no-op when the
// connection is not open: callers check status or accept the drop.
func (t *Transport) Send(ev wire.Outbound) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.logger.Debug("transport: dropping send, not connected", "event", fmt.Sprintf("%T", ev))
		return
	}

	var meta wire.Metadata
	if t.metadata != nil {
		meta = t.metadata()
	}
	data, err := wire.EncodeOutbound(ev, meta)
	if err != nil {
		t.logger.Error("transport: encode outbound", "err", err)
		return
	}

	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()
	if err != nil {
		// The read loop will observe the broken connection and report it.
		t.logger.Warn("transport: write failed", "err", err)
	}
}

// Subscribe registers a handler for every inbound event and returns its
// unsubscribe function. A handler that panics is recovered and logged;
// the remaining handlers still run.
func (t *Transport) Subscribe(h Handler) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = h
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

// Close tears down the connection. Subsequent sends are no-ops;
// Connect may be called again to reconnect.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			stillCurrent := t.conn == conn
			if stillCurrent {
				t.conn = nil
			}
			t.mu.Unlock()

			if !stillCurrent || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.notify(wire.Status{State: "disconnected"})
				return
			}
			t.logger.Warn("transport: read failed", "err", err)
			t.notify(wire.Status{State: "error", Error: "socket_error"})
			t.notify(wire.Status{State: "disconnected"})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := wire.DecodeInbound(data)
		if err != nil {
			t.logger.Warn("transport: dropping malformed frame", "err", err)
			continue
		}
		t.notify(ev)
	}
}

// notify fans one event out to all subscribers in registration order.
func (t *Transport) notify(ev wire.Inbound) {
	t.subMu.Lock()
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.subs[id])
	}
	t.subMu.Unlock()

	for _, h := range handlers {
		t.dispatch(h, ev)
	}
}

func (t *Transport) dispatch(h Handler, ev wire.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("transport: subscriber panicked", "panic", r)
		}
	}()
	h(ev)
}
