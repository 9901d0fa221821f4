package messenger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	outboundBufferSize = 256
	shutdownGrace      = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The listener is bound to loopback, the display is local.
		return true
	},
}

// Window owns the chat display: it serves the WebSocket the display connects
// to and, when configured with a command, manages the display process itself.
//
// Sends never block the conversation. When the display is absent or slow,
// messages are dropped and the conversation carries on.
type Window struct {
	listenAddr string
	command    []string

	onSubmit       func(text string)
	onCancel       func()
	onClearHistory func()

	listener net.Listener
	server   *http.Server
	cmd      *exec.Cmd

	conn   *websocket.Conn
	connMu sync.Mutex

	outbound chan []byte
	closed   atomic.Bool
	done     chan struct{}
}

type WindowOption func(*Window)

// WithListenAddr sets the loopback address the display server binds to.
func WithListenAddr(addr string) WindowOption {
	return func(w *Window) { w.listenAddr = addr }
}

// WithCommand sets the display process to spawn. The WebSocket URL is
// appended as the final argument. Without a command the window only serves
// the socket and waits for an external display to connect.
func WithCommand(command ...string) WindowOption {
	return func(w *Window) { w.command = command }
}

func WithSubmitCallback(callback func(text string)) WindowOption {
	return func(w *Window) { w.onSubmit = callback }
}

func WithCancelCallback(callback func()) WindowOption {
	return func(w *Window) { w.onCancel = callback }
}

func WithClearHistoryCallback(callback func()) WindowOption {
	return func(w *Window) { w.onClearHistory = callback }
}

func NewWindow(opts ...WindowOption) *Window {
	window := &Window{
		listenAddr: "127.0.0.1:0",
		outbound:   make(chan []byte, outboundBufferSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(window)
	}
	return window
}

// Open starts serving the display socket and spawns the display process if
// one was configured.
func (w *Window) Open(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.listenAddr)
	if err != nil {
		return fmt.Errorf("messenger: failed to listen on %s: %w", w.listenAddr, err)
	}
	w.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.serveDisplay)
	w.server = &http.Server{Handler: mux}

	go func() {
		if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "display server stopped", "error", err)
		}
	}()
	go w.writeLoop()

	if len(w.command) > 0 {
		url := fmt.Sprintf("ws://%s/ws", listener.Addr().String())
		cmd := exec.Command(w.command[0], append(w.command[1:], url)...)
		if err := cmd.Start(); err != nil {
			w.shutdown(ctx)
			return fmt.Errorf("messenger: failed to start display process: %w", err)
		}
		w.cmd = cmd
		logger.InfoContext(ctx, "started display process", "pid", cmd.Process.Pid, "url", url)
	}

	return nil
}

// Addr reports the address the display server is bound to. Empty before
// [Window.Open].
func (w *Window) Addr() string {
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

func (w *Window) serveDisplay(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		logger.ErrorContext(r.Context(), "display upgrade failed", "error", err)
		return
	}

	w.connMu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
	}
	w.conn = conn
	w.connMu.Unlock()

	logger.InfoContext(r.Context(), "display connected", "remote", conn.RemoteAddr().String())

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		envelope, err := Unmarshal(data)
		if err != nil {
			logger.WarnContext(r.Context(), "dropping malformed display message", "error", err)
			continue
		}
		w.dispatch(envelope)
	}

	w.connMu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	w.connMu.Unlock()
	_ = conn.Close()
}

func (w *Window) dispatch(envelope Envelope) {
	switch envelope.Type {
	case MsgUserSubmit:
		if w.onSubmit == nil {
			return
		}
		payload, err := UnmarshalPayload[TextPayload](envelope.Payload)
		if err != nil {
			logger.Warn("dropping malformed submit payload", "error", err)
			return
		}
		if payload.Text != "" {
			w.onSubmit(payload.Text)
		}
	case MsgUserCancel:
		if w.onCancel != nil {
			w.onCancel()
		}
	case MsgClearHistory:
		if w.onClearHistory != nil {
			w.onClearHistory()
		}
	default:
		logger.Warn("dropping display message of unknown type", "type", string(envelope.Type))
	}
}

func (w *Window) writeLoop() {
	for {
		select {
		case <-w.done:
			return
		case data := <-w.outbound:
			w.connMu.Lock()
			conn := w.conn
			w.connMu.Unlock()
			if conn == nil {
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warn("display write failed", "error", err)
			}
		}
	}
}

func (w *Window) send(msgType MessageType, turnID int64, payload any) error {
	if w.closed.Load() {
		return fmt.Errorf("messenger: window closed")
	}

	data, err := Marshal(msgType, turnID, payload)
	if err != nil {
		return err
	}

	select {
	case w.outbound <- data:
		return nil
	default:
		logger.Warn("display buffer full, dropping message", "type", string(msgType))
		return nil
	}
}

// TurnStarted announces a new turn before any of its text arrives.
func (w *Window) TurnStarted(turnID int64, role string) error {
	return w.send(MsgTurnStarted, turnID, TextPayload{Role: role})
}

// TurnDelta appends streamed text to the turn's display entry.
func (w *Window) TurnDelta(turnID int64, text string) error {
	return w.send(MsgTurnDelta, turnID, TextPayload{Text: text})
}

// TurnComplete replaces the turn's display entry with its final text.
func (w *Window) TurnComplete(turnID int64, text string, role string) error {
	return w.send(MsgTurnComplete, turnID, TextPayload{Text: text, Role: role})
}

// TurnCancelled marks the turn's display entry as cut off.
func (w *Window) TurnCancelled(turnID int64) error {
	return w.send(MsgTurnCancelled, turnID, nil)
}

// Notice shows out-of-band text, used for degraded-mode warnings.
func (w *Window) Notice(text string) error {
	return w.send(MsgNotice, 0, TextPayload{Text: text})
}

// HistoryReset tells the display to drop everything it is showing.
func (w *Window) HistoryReset() error {
	return w.send(MsgHistoryReset, 0, nil)
}

// Close terminates the display process and stops the server. The display is
// given a grace period to exit on its own before being killed.
func (w *Window) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.done)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	w.shutdown(ctx)
	return nil
}

func (w *Window) shutdown(ctx context.Context) {
	w.connMu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	if w.cmd != nil && w.cmd.Process != nil {
		exited := make(chan struct{})
		go func() {
			_, _ = w.cmd.Process.Wait()
			close(exited)
		}()

		_ = w.cmd.Process.Signal(os.Interrupt)
		select {
		case <-exited:
		case <-ctx.Done():
			_ = w.cmd.Process.Kill()
		}
		w.cmd = nil
	}

	if w.server != nil {
		_ = w.server.Shutdown(ctx)
		w.server = nil
	}
}
