// Package orchestration coordinates a local conversational persona: it turns
// captured speech or typed prompts into LLM turns, splits the streamed
// response into speakable segments, synthesizes them concurrently and plays
// them back strictly in order, while mirroring the conversation to a display
// window.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mikanbako-lab/miko-core/core/events"
	"github.com/mikanbako-lab/miko-core/core/llms"
)

// Orchestrator drives the conversation loop. Construct one with
// NewOrchestrator, hand it clients for the services it should use, then call
// Orchestrate to start consuming input.
type Orchestrator struct {
	conversation activeConversation
	runtime      *conversationRuntime
	assembler    promptAssembler

	session inferenceSession
	tts     textToSpeech
	stt     speechToText
	output  speechOutput
	display displayBridge

	audioInput  AudioInput
	captureOpts captureOptions
	capture     *capturePipeline

	maxSegmentRunes      int
	synthesisConcurrency int
	generationOptions    []llms.GenerationOption

	orchestrateOptions OrchestrateOptions
	orchestrateContext context.Context

	state          atomic.Value
	activePipeline atomic.Pointer[responsePipeline]
	voiceDisabled  atomic.Bool

	closeOnce sync.Once
}

// NewOrchestrator creates an orchestrator with the given options. Every
// client is optional. Missing clients degrade the matching capability
// instead of failing: no synthesis client means silent text-only turns, no
// audio input means typed prompts only, and so on.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	orchestrator := &Orchestrator{
		conversation:         newConversation(),
		runtime:              newConversationRuntime(),
		assembler:            newPromptAssembler(Persona{}),
		captureOpts:          defaultCaptureOptions(),
		maxSegmentRunes:      defaultMaxSegmentRunes,
		synthesisConcurrency: defaultSynthesisConcurrency,
	}
	orchestrator.state.Store(StateIdle)

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// State reports the orchestrator's current conversation state.
func (o *Orchestrator) State() State {
	state, ok := o.state.Load().(State)
	if !ok {
		return StateIdle
	}

	return state
}

func (o *Orchestrator) setState(state State) {
	if o.runtime.isClosed() {
		return
	}

	previous := o.state.Swap(state)
	if previous == state {
		return
	}

	if o.orchestrateOptions.onStateChanged != nil {
		o.orchestrateOptions.onStateChanged(state)
	}
}

// Orchestrate starts the conversation loop and returns immediately. Input
// keeps being consumed until ctx is cancelled or Close is called.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	for _, opt := range opts {
		opt(&o.orchestrateOptions)
	}
	o.orchestrateContext = ctx

	if !o.startRuntime(ctx) {
		return errRuntimeClosed
	}

	o.setState(StateAwaitingInput)

	if o.audioInput != nil {
		o.capture = newCapturePipeline(
			o.audioInput,
			o.captureOpts,
			o.handleUtterance,
			o.handleCaptureFailure,
		)
		o.capture.Start(ctx)
	}

	withContextCancelHook(ctx, func() { _ = o.Close() })

	return nil
}

// SendPrompt submits typed user input. An in-flight response turn is
// interrupted first so the new prompt never waits behind stale speech.
func (o *Orchestrator) SendPrompt(prompt string) error {
	return o.respondToEvent(events.NewUserPrompt(prompt))
}

// CancelTurn interrupts the active response turn, if any. Partial text is
// kept in history with a cancelled status.
func (o *Orchestrator) CancelTurn() {
	if pipeline := o.activePipeline.Load(); pipeline != nil {
		pipeline.Cancel()
	}
}

// ClearHistory queues a conversation reset. The turn ID counter keeps
// counting up so IDs stay unique across resets.
func (o *Orchestrator) ClearHistory() error {
	o.CancelTurn()

	if !o.runtime.enqueue(events.NewClearHistory()) {
		return errRuntimeClosed
	}

	return nil
}

// Snapshot returns a deep copy of the conversation history and the active
// turn, safe to read while the conversation keeps moving.
func (o *Orchestrator) Snapshot() ConversationSnapshot {
	return o.conversation.Snapshot()
}

func (o *Orchestrator) respondToEvent(event events.Event) error {
	switch event.(type) {
	case events.UserPrompt:
		o.CancelTurn()
	case events.CancelTurn:
		o.CancelTurn()
		return nil
	}

	if !o.runtime.enqueue(event) {
		return errRuntimeClosed
	}

	return nil
}

func (o *Orchestrator) handleUtterance(utterance events.UtteranceCaptured) {
	ctx := o.orchestrateContext
	transcript, err := o.stt.transcribe(ctx, utterance.Audio)
	if err != nil {
		logger.WarnContext(ctx, "discarding utterance", "error", err, "duration", utterance.Duration)
		return
	}
	if transcript == "" {
		logger.DebugContext(ctx, "discarding empty transcription", "duration", utterance.Duration)
		return
	}

	if o.orchestrateOptions.onTranscription != nil {
		o.orchestrateOptions.onTranscription(transcript)
	}

	prompt := events.NewTranscribedUserPrompt(transcript, events.WithBase(utterance.Base))
	if err := o.respondToEvent(prompt); err != nil {
		logger.WarnContext(ctx, "dropping transcribed prompt", "error", err)
	}
}

func (o *Orchestrator) handleCaptureFailure(err error) {
	if o.voiceDisabled.Swap(true) {
		return
	}

	logger.ErrorContext(o.orchestrateContext, "disabling voice input", "error", err)
	o.display.PushNotice(fmt.Sprintf("音声入力を無効化しました: %v", err))
	if o.orchestrateOptions.onCaptureFailure != nil {
		o.orchestrateOptions.onCaptureFailure(err)
	}
}

// Close shuts the orchestrator down. The active turn is cancelled, the event
// queue stops accepting input, and in-flight generation is aborted. Close
// blocks until the runtime goroutine has exited.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.CancelTurn()
		o.runtime.end()
		o.session.Shutdown(context.Background())
		o.runtime.waitUntilEnded()
		o.state.Store(StateShutdown)
	})

	return nil
}
