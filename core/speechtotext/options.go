package speechtotext

import "github.com/mikanbako-lab/miko-core/core/audio"

type TranscriptionOptions struct {
	// Language hints the expected language of the audio as an ISO 639-1
	// code. Empty lets the backend detect it.
	Language string

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithLanguage(language string) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.Language = language }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}
