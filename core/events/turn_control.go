package events

const (
	// KindCancelTurn identifies a request to cancel the active turn without
	// starting a new one.
	KindCancelTurn Kind = "turn_control.cancel"
	// KindClearHistory identifies a request to drop the recorded
	// conversation and reset the persona to its opening state.
	KindClearHistory Kind = "turn_control.clear_history"
)

type CancelTurn struct{ Base }

func (e CancelTurn) String() string { return "cancel turn" }

func NewCancelTurn(opts ...RebaseOption) CancelTurn {
	base := NewBase(KindCancelTurn)
	for _, opt := range opts {
		opt(&base)
	}

	return CancelTurn{Base: base}
}

type ClearHistory struct{ Base }

func (e ClearHistory) String() string { return "clear history" }

func NewClearHistory(opts ...RebaseOption) ClearHistory {
	base := NewBase(KindClearHistory)
	for _, opt := range opts {
		opt(&base)
	}

	return ClearHistory{Base: base}
}
