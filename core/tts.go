package orchestration

import (
	"context"
	"fmt"

	"github.com/mikanbako-lab/miko-core/core/audio"
	"github.com/mikanbako-lab/miko-core/core/texttospeech"
)

// SynthesisClient is the synthesis capability: text and voice parameters in,
// an audio buffer out. Timeout and retry policy belong to the client.
type SynthesisClient interface {
	Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, audio.EncodingInfo, error)
}

// textToSpeech wraps the optional synthesis client. Without a client the
// conversation runs text-only and synthesize reports every segment as
// having no audio.
type textToSpeech struct {
	client  SynthesisClient
	options []texttospeech.SynthesisOption
}

func (t *textToSpeech) set(client SynthesisClient, opts ...texttospeech.SynthesisOption) {
	if t == nil {
		return
	}

	t.client = client
	t.options = opts
}

func (t *textToSpeech) isConfigured() bool {
	return t != nil && t.client != nil
}

func (t *textToSpeech) synthesize(ctx context.Context, text string) ([]byte, error) {
	if !t.isConfigured() {
		return nil, nil
	}

	audioData, _, err := t.client.Synthesize(ctx, text, t.options...)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize segment: %w", err)
	}
	return audioData, nil
}
