package llms

import "context"

// Stream is a lazy, finite sequence of text fragments produced by a
// generation call. The sequence ends when the model emits its end-of-turn
// marker, when the context is cancelled, or with a non-nil error on decode
// or transport failure.
type Stream interface {
	Fragments(context.Context) func(func(string, error) bool)
}
