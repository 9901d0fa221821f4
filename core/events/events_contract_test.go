package events

import (
	"testing"
	"time"
)

func TestEventsCarryTheirKindAndTimestamp(t *testing.T) {
	before := time.Now()

	cases := []struct {
		event Event
		kind  Kind
	}{
		{NewUserPrompt("やあ"), KindUserPrompt},
		{NewTranscribedUserPrompt("やあ"), KindUserPrompt},
		{NewUtteranceCaptured(make([]byte, 16), time.Second), KindUtteranceCaptured},
		{NewCancelTurn(), KindCancelTurn},
		{NewClearHistory(), KindClearHistory},
	}

	for _, tc := range cases {
		if tc.event.Kind() != tc.kind {
			t.Fatalf("expected kind %q, got %q", tc.kind, tc.event.Kind())
		}
		if tc.event.Timestamp().Before(before) {
			t.Fatalf("expected a fresh timestamp on %q", tc.event.Kind())
		}
		if tc.event.String() == "" {
			t.Fatalf("expected a human-readable description for %q", tc.event.Kind())
		}
	}
}

func TestTranscribedPromptsAreMarked(t *testing.T) {
	if NewUserPrompt("typed").IsTranscribed {
		t.Fatalf("expected a typed prompt not to be marked transcribed")
	}
	if !NewTranscribedUserPrompt("spoken").IsTranscribed {
		t.Fatalf("expected a transcribed prompt to be marked")
	}
}

func TestWithBaseKeepsOriginTimestampButNotKind(t *testing.T) {
	utterance := NewUtteranceCaptured(make([]byte, 16), time.Second)
	time.Sleep(time.Millisecond)

	prompt := NewTranscribedUserPrompt("聞き取った", WithBase(utterance.Base))

	if prompt.Kind() != KindUserPrompt {
		t.Fatalf("expected the derived event to keep its own kind, got %q", prompt.Kind())
	}
	if !prompt.Timestamp().Equal(utterance.Timestamp()) {
		t.Fatalf("expected the capture timestamp carried through transcription")
	}
}
