package orchestration

import (
	"time"

	"github.com/mikanbako-lab/miko-core/core/llms"
	"github.com/mikanbako-lab/miko-core/core/speechtotext"
	"github.com/mikanbako-lab/miko-core/core/texttospeech"
)

// OrchestratorOption configures an Orchestrator at construction time.
type OrchestratorOption func(*Orchestrator)

// WithStreamingLLM sets the client used to generate responses.
func WithStreamingLLM(client LLMWithStream) OrchestratorOption {
	return func(o *Orchestrator) {
		o.session.set(client)
	}
}

// WithSynthesisClient sets the client used to turn response segments into
// speech, along with default synthesis options applied to every request.
func WithSynthesisClient(client SynthesisClient, opts ...texttospeech.SynthesisOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tts.set(client, opts...)
	}
}

// WithTranscriptionClient sets the client used to transcribe captured
// utterances.
func WithTranscriptionClient(client TranscriptionClient, opts ...speechtotext.TranscriptionOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.stt.set(client, opts...)
	}
}

// WithAudioInput sets the microphone source. Capture starts when
// Orchestrate is called.
func WithAudioInput(input AudioInput) OrchestratorOption {
	return func(o *Orchestrator) {
		o.audioInput = input
	}
}

// WithAudioOutput sets the playback device for synthesized speech.
func WithAudioOutput(output AudioOutput) OrchestratorOption {
	return func(o *Orchestrator) {
		o.output.set(output)
	}
}

// WithDisplayClient sets the client that mirrors the conversation to a
// display window.
func WithDisplayClient(client DisplayClient) OrchestratorOption {
	return func(o *Orchestrator) {
		o.display.set(client)
	}
}

// WithPersona sets the persona whose identity and world frame the prompt
// preamble.
func WithPersona(persona Persona) OrchestratorOption {
	return func(o *Orchestrator) {
		o.assembler = newPromptAssembler(persona)
	}
}

// WithMaxSegmentLength caps speakable segments at the given rune count.
// Values below one keep the default.
func WithMaxSegmentLength(runes int) OrchestratorOption {
	return func(o *Orchestrator) {
		if runes < 1 {
			return
		}

		o.maxSegmentRunes = runes
	}
}

// WithSynthesisConcurrency bounds how many segments are synthesized at
// once. Values below one keep the default.
func WithSynthesisConcurrency(concurrency int) OrchestratorOption {
	return func(o *Orchestrator) {
		if concurrency < 1 {
			return
		}

		o.synthesisConcurrency = concurrency
	}
}

// WithGenerationOptions sets default options forwarded to every generation
// request, on top of the assembler's stop sequences.
func WithGenerationOptions(opts ...llms.GenerationOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.generationOptions = opts
	}
}

// WithVoiceActivityThreshold sets the RMS amplitude above which a frame
// counts as voiced.
func WithVoiceActivityThreshold(threshold float64) OrchestratorOption {
	return func(o *Orchestrator) {
		if threshold <= 0 {
			return
		}

		o.captureOpts.vadThreshold = threshold
	}
}

// WithSilenceDuration sets how long the input must stay silent before a
// captured utterance is finalized.
func WithSilenceDuration(duration time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if duration <= 0 {
			return
		}

		o.captureOpts.silenceDuration = duration
	}
}

// WithMinimumVoicedDuration sets the shortest voiced stretch that counts as
// an utterance. Anything shorter is discarded as noise.
func WithMinimumVoicedDuration(duration time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if duration <= 0 {
			return
		}

		o.captureOpts.minVoicedDuration = duration
	}
}

// OrchestrateOptions carries callbacks observed while the conversation
// loop runs. All callbacks are optional and are invoked from the
// orchestrator's internal goroutines, so they must not block.
type OrchestrateOptions struct {
	onResponse       func(delta string)
	onResponseEnd    func()
	onCancellation   func()
	onTranscription  func(transcript string)
	onStateChanged   func(state State)
	onCaptureFailure func(err error)
}

// OrchestrateOption configures a single Orchestrate call.
type OrchestrateOption func(*OrchestrateOptions)

// WithResponseCallback is called for every streamed response fragment.
func WithResponseCallback(callback func(delta string)) OrchestrateOption {
	return func(opts *OrchestrateOptions) {
		opts.onResponse = callback
	}
}

// WithResponseEndCallback is called when a response turn completes.
func WithResponseEndCallback(callback func()) OrchestrateOption {
	return func(opts *OrchestrateOptions) {
		opts.onResponseEnd = callback
	}
}

// WithCancellationCallback is called when a response turn ends cancelled.
func WithCancellationCallback(callback func()) OrchestrateOption {
	return func(opts *OrchestrateOptions) {
		opts.onCancellation = callback
	}
}

// WithTranscriptionCallback is called with the transcript of every accepted
// utterance, before the matching turn starts.
func WithTranscriptionCallback(callback func(transcript string)) OrchestrateOption {
	return func(opts *OrchestrateOptions) {
		opts.onTranscription = callback
	}
}

// WithStateChangedCallback is called whenever the orchestrator moves to a
// different conversation state.
func WithStateChangedCallback(callback func(state State)) OrchestrateOption {
	return func(opts *OrchestrateOptions) {
		opts.onStateChanged = callback
	}
}

// WithCaptureFailureCallback is called once when voice input is disabled
// after a capture device failure.
func WithCaptureFailureCallback(callback func(err error)) OrchestrateOption {
	return func(opts *OrchestrateOptions) {
		opts.onCaptureFailure = callback
	}
}
