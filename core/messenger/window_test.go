package messenger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func openTestWindow(t *testing.T, opts ...WindowOption) (*Window, *websocket.Conn) {
	t.Helper()

	window := NewWindow(opts...)
	if err := window.Open(context.Background()); err != nil {
		t.Fatalf("expected the window to open, got %v", err)
	}
	t.Cleanup(func() { _ = window.Close() })

	url := fmt.Sprintf("ws://%s/ws", window.Addr())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("expected to connect to the display socket, got %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// The server registers the connection just after the handshake; wait for
	// it so the first send is not dropped.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		window.connMu.Lock()
		registered := window.conn != nil
		window.connMu.Unlock()
		if registered {
			return window, conn
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for the display connection to register")
	return nil, nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a message from the window, got %v", err)
	}

	envelope, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("expected a valid envelope, got %v", err)
	}
	return envelope
}

func TestWindowDeliversTurnUpdatesToDisplay(t *testing.T) {
	window, conn := openTestWindow(t)

	if err := window.TurnStarted(1, "assistant"); err != nil {
		t.Fatalf("expected the send to be accepted, got %v", err)
	}
	if err := window.TurnDelta(1, "こんにちは"); err != nil {
		t.Fatalf("expected the send to be accepted, got %v", err)
	}

	started := readEnvelope(t, conn)
	if started.Type != MsgTurnStarted || started.TurnID != 1 {
		t.Fatalf("unexpected first envelope: %+v", started)
	}

	delta := readEnvelope(t, conn)
	if delta.Type != MsgTurnDelta {
		t.Fatalf("unexpected second envelope: %+v", delta)
	}
	payload, err := UnmarshalPayload[TextPayload](delta.Payload)
	if err != nil {
		t.Fatalf("expected a text payload, got %v", err)
	}
	if payload.Text != "こんにちは" {
		t.Fatalf("expected the delta text preserved, got %q", payload.Text)
	}
}

func TestWindowDispatchesUserMessagesToCallbacks(t *testing.T) {
	submitted := make(chan string, 1)
	cancelled := make(chan struct{}, 1)
	cleared := make(chan struct{}, 1)

	_, conn := openTestWindow(t,
		WithSubmitCallback(func(text string) { submitted <- text }),
		WithCancelCallback(func() { cancelled <- struct{}{} }),
		WithClearHistoryCallback(func() { cleared <- struct{}{} }),
	)

	writeClientEnvelope := func(msgType MessageType, payload any) {
		data, err := Marshal(msgType, 0, payload)
		if err != nil {
			t.Fatalf("expected marshal to succeed, got %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("expected the write to succeed, got %v", err)
		}
	}

	writeClientEnvelope(MsgUserSubmit, TextPayload{Text: "打った質問"})
	select {
	case text := <-submitted:
		if text != "打った質問" {
			t.Fatalf("expected the submitted text, got %q", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the submit callback")
	}

	writeClientEnvelope(MsgUserCancel, nil)
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the cancel callback")
	}

	writeClientEnvelope(MsgClearHistory, nil)
	select {
	case <-cleared:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the clear callback")
	}
}

func TestWindowIgnoresEmptySubmits(t *testing.T) {
	submitted := make(chan string, 1)
	_, conn := openTestWindow(t, WithSubmitCallback(func(text string) { submitted <- text }))

	data, err := Marshal(MsgUserSubmit, 0, TextPayload{Text: ""})
	if err != nil {
		t.Fatalf("expected marshal to succeed, got %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("expected the write to succeed, got %v", err)
	}

	select {
	case text := <-submitted:
		t.Fatalf("expected an empty submit to be dropped, got %q", text)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWindowSendAfterCloseFails(t *testing.T) {
	window := NewWindow()
	if err := window.Open(context.Background()); err != nil {
		t.Fatalf("expected the window to open, got %v", err)
	}
	if err := window.Close(); err != nil {
		t.Fatalf("expected a clean close, got %v", err)
	}

	if err := window.Notice("too late"); err == nil {
		t.Fatalf("expected sends after close to fail")
	}
}

func TestWindowSurvivesSendsWithoutDisplay(t *testing.T) {
	window := NewWindow()
	if err := window.Open(context.Background()); err != nil {
		t.Fatalf("expected the window to open, got %v", err)
	}
	t.Cleanup(func() { _ = window.Close() })

	for i := 0; i < outboundBufferSize+10; i++ {
		if err := window.TurnDelta(1, "nobody is listening"); err != nil {
			t.Fatalf("expected sends without a display to degrade silently, got %v", err)
		}
	}
}
