package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
	String() string
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

type RebaseOption func(*Base)

// WithBase carries the base of an earlier event into a derived one, keeping
// the original capture timestamp through transformations like transcription.
func WithBase(base Base) RebaseOption {
	return func(b *Base) {
		original := b.kind
		*b = base
		b.kind = original
	}
}
