package events

import (
	"fmt"
	"time"
)

const (
	// KindUtteranceCaptured identifies a voiced segment extracted from the
	// microphone stream, awaiting transcription.
	KindUtteranceCaptured Kind = "user_input.utterance_captured"
)

type UtteranceCaptured struct {
	Base
	Audio    []byte
	Duration time.Duration
}

func (e UtteranceCaptured) String() string {
	return fmt.Sprintf("utterance (%.2fs)", e.Duration.Seconds())
}

func NewUtteranceCaptured(audio []byte, duration time.Duration, opts ...RebaseOption) UtteranceCaptured {
	base := NewBase(KindUtteranceCaptured)
	for _, opt := range opts {
		opt(&base)
	}

	return UtteranceCaptured{Base: base, Audio: audio, Duration: duration}
}
