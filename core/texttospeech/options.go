package texttospeech

import "github.com/mikanbako-lab/miko-core/core/audio"

type SynthesisOptions struct {
	// SpeakerID selects the voice used for synthesis. The available IDs
	// depend on the synthesis backend.
	SpeakerID int
	// SpeedScale adjusts the speaking rate. 1.0 is the backend's default.
	SpeedScale float64
	// PitchScale shifts the voice pitch. 0.0 is the backend's default.
	PitchScale float64

	EncodingInfo audio.EncodingInfo
}

type SynthesisOption func(*SynthesisOptions)

func WithSpeakerID(id int) SynthesisOption {
	return func(o *SynthesisOptions) { o.SpeakerID = id }
}

func WithSpeedScale(scale float64) SynthesisOption {
	return func(o *SynthesisOptions) {
		if scale <= 0 {
			return
		}
		o.SpeedScale = scale
	}
}

func WithPitchScale(scale float64) SynthesisOption {
	return func(o *SynthesisOptions) { o.PitchScale = scale }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}
