package orchestration

import (
	"context"

	"github.com/mikanbako-lab/miko-core/core/audio"
)

// AudioOutput is the playback sink. Play blocks until the audio has been
// consumed, keeping delivery of segment N+1 behind segment N.
type AudioOutput interface {
	Play(ctx context.Context, pcm []byte) error
	Clear()
	EncodingInfo() audio.EncodingInfo
}

// speechOutput wraps the optional playback client. Without one, delivered
// audio is dropped and the conversation is text-only.
type speechOutput struct {
	client AudioOutput
}

func (o *speechOutput) set(client AudioOutput) {
	if o == nil {
		return
	}

	o.client = client
}

func (o *speechOutput) isConfigured() bool {
	return o != nil && o.client != nil
}

func (o *speechOutput) play(ctx context.Context, pcm []byte) error {
	if !o.isConfigured() || len(pcm) == 0 {
		return nil
	}

	return o.client.Play(ctx, pcm)
}

// clear drops queued audio immediately. Used on interruption so the
// cancelled turn stops speaking mid-word.
func (o *speechOutput) clear() {
	if !o.isConfigured() {
		return
	}

	o.client.Clear()
}
