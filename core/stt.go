package orchestration

import (
	"context"
	"errors"

	"github.com/mikanbako-lab/miko-core/core/speechtotext"
)

var errNoTranscriptionClient = errors.New("no transcription client configured")

// TranscriptionClient is the transcription capability: an audio buffer in,
// text out.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error)
}

// speechToText wraps the optional transcription client.
type speechToText struct {
	client  TranscriptionClient
	options []speechtotext.TranscriptionOption
}

func (s *speechToText) set(client TranscriptionClient, opts ...speechtotext.TranscriptionOption) {
	if s == nil {
		return
	}

	s.client = client
	s.options = opts
}

func (s *speechToText) isConfigured() bool {
	return s != nil && s.client != nil
}

// transcribe turns a captured utterance into text. A failure discards the
// utterance; no turn is created from it.
func (s *speechToText) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if !s.isConfigured() {
		return "", &TranscriptionError{err: errNoTranscriptionClient}
	}

	transcript, err := s.client.Transcribe(ctx, pcm, s.options...)
	if err != nil {
		return "", &TranscriptionError{err: err}
	}
	return transcript, nil
}
