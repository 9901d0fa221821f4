package orchestration

import "fmt"

// The failure taxonomy below separates what degrades from what stops. None
// of these terminate the conversation loop; each is handled at the boundary
// of the component that produced it.

// GenerationError reports an inference engine failure. The turn's stream
// ends, text already emitted is retained.
type GenerationError struct {
	err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failure: %v", e.err) }
func (e *GenerationError) Unwrap() error { return e.err }

// SynthesisError reports a failed synthesis for a single segment. The
// segment's audio is skipped, the conversation continues.
type SynthesisError struct {
	Sequence int
	err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failure for segment %d: %v", e.Sequence, e.err)
}
func (e *SynthesisError) Unwrap() error { return e.err }

// CaptureDeviceError reports that the audio input device stopped working.
// It disables the voice channel, text input remains available.
type CaptureDeviceError struct {
	err error
}

func (e *CaptureDeviceError) Error() string { return fmt.Sprintf("capture device failure: %v", e.err) }
func (e *CaptureDeviceError) Unwrap() error { return e.err }

// TranscriptionError reports a failed utterance transcription. The utterance
// is discarded, no turn is created, capture resumes.
type TranscriptionError struct {
	err error
}

func (e *TranscriptionError) Error() string { return fmt.Sprintf("transcription failure: %v", e.err) }
func (e *TranscriptionError) Unwrap() error { return e.err }

// DisplayTransportError reports that the display surface is unreachable.
// The conversation continues headless.
type DisplayTransportError struct {
	err error
}

func (e *DisplayTransportError) Error() string {
	return fmt.Sprintf("display transport failure: %v", e.err)
}
func (e *DisplayTransportError) Unwrap() error { return e.err }

// corruptHistoryError is returned by prompt assembly when the recorded
// conversation violates its own invariants. It is the single failure that
// resets state instead of degrading.
type corruptHistoryError struct {
	reason string
}

func (e *corruptHistoryError) Error() string {
	return fmt.Sprintf("corrupt conversation history: %s", e.reason)
}
