package orchestration

import (
	"sync/atomic"

	"github.com/mikanbako-lab/miko-core/core/llms"
)

// DisplayClient is the chat display surface. Implementations marshal events
// across the process boundary; the canonical one is [messenger.Window].
type DisplayClient interface {
	TurnStarted(turnID int64, role string) error
	TurnDelta(turnID int64, text string) error
	TurnComplete(turnID int64, text string, role string) error
	TurnCancelled(turnID int64) error
	Notice(text string) error
	HistoryReset() error
}

// displayBridge wraps the optional display client. Transport failures are
// logged warnings; a disconnected display never stops generation or
// playback. After repeated consecutive failures the bridge goes quiet to
// keep the log readable.
type displayBridge struct {
	client DisplayClient

	consecutiveFailures atomic.Int32
}

const displayFailureLogLimit = 3

func (d *displayBridge) set(client DisplayClient) {
	if d == nil {
		return
	}

	d.client = client
}

func (d *displayBridge) isConfigured() bool {
	return d != nil && d.client != nil
}

func (d *displayBridge) push(op string, err error) {
	if err == nil {
		d.consecutiveFailures.Store(0)
		return
	}

	failures := d.consecutiveFailures.Add(1)
	if failures <= displayFailureLogLimit {
		transportErr := &DisplayTransportError{err: err}
		logger.Warn("display update dropped", "op", op, "error", transportErr)
	}
}

func (d *displayBridge) PushTurnStarted(turn llms.Turn) {
	if !d.isConfigured() {
		return
	}
	d.push("turn_started", d.client.TurnStarted(turn.ID, string(turn.Role)))
}

func (d *displayBridge) PushTextDelta(turnID int64, delta string) {
	if !d.isConfigured() {
		return
	}
	d.push("turn_delta", d.client.TurnDelta(turnID, delta))
}

func (d *displayBridge) PushTurnComplete(turn llms.Turn) {
	if !d.isConfigured() {
		return
	}
	d.push("turn_complete", d.client.TurnComplete(turn.ID, turn.Text, string(turn.Role)))
}

func (d *displayBridge) PushTurnCancelled(turnID int64) {
	if !d.isConfigured() {
		return
	}
	d.push("turn_cancelled", d.client.TurnCancelled(turnID))
}

func (d *displayBridge) PushNotice(text string) {
	if !d.isConfigured() {
		return
	}
	d.push("notice", d.client.Notice(text))
}

func (d *displayBridge) PushHistoryReset() {
	if !d.isConfigured() {
		return
	}
	d.push("history_reset", d.client.HistoryReset())
}
