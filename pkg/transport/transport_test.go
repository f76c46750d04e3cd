package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/wire"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collectEvents(t *testing.T, tr *Transport) (<-chan wire.Inbound, func()) {
	t.Helper()
	ch := make(chan wire.Inbound, 64)
	unsub := tr.Subscribe(func(ev wire.Inbound) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch, unsub
}

func waitFor(t *testing.T, ch <-chan wire.Inbound, match func(wire.Inbound) bool) wire.Inbound {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestConnectDeliversInboundEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frame, _ := wire.EncodeInbound(wire.Transcript{Text: "hello there", IsFinal: true})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := New(wsURL(srv), nil, nil)
	ch, unsub := collectEvents(t, tr)
	defer unsub()
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !tr.Connected() {
		t.Fatal("expected Connected() after Connect")
	}

	waitFor(t, ch, func(ev wire.Inbound) bool {
		st, ok := ev.(wire.Status)
		return ok && st.State == "connected"
	})
	got := waitFor(t, ch, func(ev wire.Inbound) bool {
		_, ok := ev.(wire.Transcript)
		return ok
	})
	tr2 := got.(wire.Transcript)
	if tr2.Text != "hello there" || !tr2.IsFinal {
		t.Fatalf("unexpected transcript: %+v", tr2)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	upgrades := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades <- struct{}{}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := New(wsURL(srv), nil, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	<-upgrades
	select {
	case <-upgrades:
		t.Fatal("second Connect opened a new connection")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendAttachesMetadata(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
	}))
	defer srv.Close()

	meta := wire.Metadata{
		BrowserSessionID:      "bsid-1",
		ConversationSessionID: "guest:bsid-1",
		UserType:              "guest",
	}
	tr := New(wsURL(srv), func() wire.Metadata { return meta }, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.Send(wire.ChatMessage{Text: "ping"})

	select {
	case data := <-received:
		ev, gotMeta, err := wire.DecodeOutbound(data)
		if err != nil {
			t.Fatalf("DecodeOutbound: %v", err)
		}
		msg, ok := ev.(wire.ChatMessage)
		if !ok || msg.Text != "ping" {
			t.Fatalf("unexpected outbound event: %#v", ev)
		}
		if gotMeta == nil || gotMeta.ConversationSessionID != "guest:bsid-1" {
			t.Fatalf("metadata not carried: %+v", gotMeta)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the message")
	}
}

func TestSendWhileDisconnectedIsNoOp(t *testing.T) {
	tr := New("ws://127.0.0.1:1/never", nil, nil)
	// Must not panic or block.
	tr.Send(wire.ChatMessage{Text: "dropped"})
	tr.Send(wire.Interrupt{})
}

func TestDialFailureEmitsErrorStatus(t *testing.T) {
	tr := New("ws://127.0.0.1:1/never", nil, nil)
	ch, unsub := collectEvents(t, tr)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err == nil {
		t.Fatal("expected Connect to fail")
	}

	waitFor(t, ch, func(ev wire.Inbound) bool {
		st, ok := ev.(wire.Status)
		return ok && st.State == "error"
	})
	waitFor(t, ch, func(ev wire.Inbound) bool {
		st, ok := ev.(wire.Status)
		return ok && st.State == "disconnected"
	})
}

func TestServerCloseEmitsDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	tr := New(wsURL(srv), nil, nil)
	ch, unsub := collectEvents(t, tr)
	defer unsub()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, ch, func(ev wire.Inbound) bool {
		st, ok := ev.(wire.Status)
		return ok && st.State == "disconnected"
	})
	if tr.Connected() {
		t.Fatal("still connected after server close")
	}
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frame, _ := wire.EncodeInbound(wire.AgentText{Token: "tok"})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := New(wsURL(srv), nil, nil)
	defer tr.Close()

	unsubPanic := tr.Subscribe(func(ev wire.Inbound) {
		panic("listener bug")
	})
	defer unsubPanic()
	ch, unsub := collectEvents(t, tr)
	defer unsub()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	got := waitFor(t, ch, func(ev wire.Inbound) bool {
		_, ok := ev.(wire.AgentText)
		return ok
	})
	if got.(wire.AgentText).Token != "tok" {
		t.Fatalf("unexpected token: %#v", got)
	}
}
