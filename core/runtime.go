package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikanbako-lab/miko-core/core/events"
	"github.com/mikanbako-lab/miko-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const conversationEventQueueCapacity = 10

// State is the orchestrator's observable position in the conversation loop.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingInput State = "awaiting_input"
	StateAssembling    State = "assembling"
	StateGenerating    State = "generating"
	StateFinalizing    State = "finalizing"
	StateInterrupted   State = "interrupted"
	StateShutdown      State = "shutdown"
)

type eventQueueItem struct {
	event    events.Event
	queuedAt time.Time
}

// conversationRuntime owns the event queue. Capture events, display submits
// and control events rendezvous here and are consumed by a single goroutine,
// which is the only writer of conversation state.
type conversationRuntime struct {
	baseContext context.Context

	queue   chan eventQueueItem
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	started atomic.Bool
}

func newConversationRuntime() *conversationRuntime {
	return &conversationRuntime{
		baseContext: context.Background(),
		queue:       make(chan eventQueueItem, conversationEventQueueCapacity),
		closeCh:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (runtime *conversationRuntime) isClosed() bool {
	if runtime == nil {
		return false
	}

	select {
	case <-runtime.closeCh:
		return true
	default:
		return false
	}
}

func (runtime *conversationRuntime) queuedEventCount() int {
	if runtime == nil {
		return 0
	}

	return len(runtime.queue)
}

func (runtime *conversationRuntime) enqueue(event events.Event) bool {
	if runtime == nil || runtime.isClosed() {
		return false
	}

	item := eventQueueItem{event: event, queuedAt: time.Now()}
	select {
	case <-runtime.closeCh:
		return false
	case runtime.queue <- item:
		return true
	}
}

func (runtime *conversationRuntime) end() {
	if runtime == nil {
		return
	}

	runtime.endOnce.Do(func() {
		close(runtime.closeCh)
	})
}

func (runtime *conversationRuntime) waitUntilEnded() {
	if runtime == nil {
		return
	}

	if runtime.started.Load() {
		<-runtime.done
	}
}

func (o *Orchestrator) startRuntime(ctx context.Context) (started bool) {
	runtime := o.runtime
	if runtime == nil || runtime.isClosed() {
		return false
	}

	runtime.startOnce.Do(func() {
		runtime.baseContext = ctx
		started = true
		runtime.started.Store(true)

		go func() {
			defer close(runtime.done)

			for {
				select {
				case <-runtime.closeCh:
					return
				case queuedEvent := <-runtime.queue:
					if runtime.isClosed() {
						return
					}
					o.processQueuedEvent(queuedEvent)
				}
			}
		}()
	})

	return started
}

func (o *Orchestrator) processQueuedEvent(queuedEvent eventQueueItem) {
	turnCtx, turnCancel := context.WithCancel(o.runtime.baseContext)
	defer turnCancel()

	go func() {
		select {
		case <-o.runtime.closeCh:
			turnCancel()
		case <-turnCtx.Done():
		}
	}()

	switch event := queuedEvent.event.(type) {
	case events.UserPrompt:
		o.processTurn(turnCtx, event, queuedEvent.queuedAt)
	case events.ClearHistory:
		o.processHistoryClear(turnCtx)
	default:
		logger.Warn("skipping event of unknown type", "kind", string(queuedEvent.event.Kind()))
	}
}

func (o *Orchestrator) processHistoryClear(ctx context.Context) {
	_, span := tracer.Start(ctx, "clear history")
	defer span.End()

	o.conversation.clear()
	o.display.PushHistoryReset()
	o.setState(StateAwaitingInput)
}

func (o *Orchestrator) processTurn(ctx context.Context, event events.UserPrompt, queuedAt time.Time) {
	ctx, span := tracer.Start(ctx, "process turn")
	defer span.End()

	queuedTime := time.Since(queuedAt).Seconds()
	span.SetAttributes(
		attribute.Float64("turn.queued_time", queuedTime),
		attribute.Bool("turn.is_transcribed", event.IsTranscribed),
	)
	span.AddEvent("taken out of queue", trace.WithAttributes(attribute.Float64("turn.queued_time", queuedTime)))

	o.setState(StateAssembling)

	history := o.conversation.History()
	prompt, err := o.assembler.Assemble(history, event.Prompt)
	if err != nil {
		// Corrupt history is the single state-reset path: clear, notify,
		// and assemble again from nothing.
		span.RecordError(err)
		logger.ErrorContext(ctx, "resetting corrupt conversation history", "error", err)
		o.conversation.clear()
		o.display.PushHistoryReset()
		o.display.PushNotice("会話履歴が壊れていたためリセットしました")

		if prompt, err = o.assembler.Assemble(nil, event.Prompt); err != nil {
			span.SetStatus(codes.Error, err.Error())
			o.setState(StateAwaitingInput)
			return
		}
	}

	userTurn := o.conversation.recordUserTurn(event.Prompt)
	o.display.PushTurnComplete(userTurn)

	assistantTurn, err := o.conversation.beginAssistantTurn()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.setState(StateAwaitingInput)
		return
	}
	span.SetAttributes(attribute.Int64("turn.id", assistantTurn.ID))
	o.display.PushTurnStarted(assistantTurn)

	pipeline := newResponsePipeline(
		&o.session,
		&o.tts,
		&o.output,
		&o.display,
		o.maxSegmentRunes,
		o.synthesisConcurrency,
		assistantTurn.ID,
		func(delta string) {
			o.conversation.appendActiveText(delta)
			if o.orchestrateOptions.onResponse != nil {
				o.orchestrateOptions.onResponse(delta)
			}
		},
		func() { o.setState(StateInterrupted) },
	)
	o.activePipeline.Store(pipeline)
	defer o.activePipeline.CompareAndSwap(pipeline, nil)

	o.setState(StateGenerating)

	generationOptions := append(
		[]llms.GenerationOption{llms.WithStopSequences(o.assembler.StopSequences()...)},
		o.generationOptions...,
	)
	if err := pipeline.Run(ctx, prompt, generationOptions...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.setState(StateFinalizing)

	status := llms.TurnStatusComplete
	if pipeline.IsCancelled() {
		status = llms.TurnStatusCancelled
	}

	finalTurn, err := o.conversation.finaliseActiveTurn(status)
	if err != nil {
		span.RecordError(err)
		o.setState(StateAwaitingInput)
		return
	}

	if status == llms.TurnStatusCancelled {
		span.SetAttributes(attribute.Bool("turn.cancelled", true))
		o.display.PushTurnCancelled(finalTurn.ID)
		if o.orchestrateOptions.onCancellation != nil {
			o.orchestrateOptions.onCancellation()
		}
	} else {
		o.display.PushTurnComplete(finalTurn)
		if o.orchestrateOptions.onResponseEnd != nil {
			o.orchestrateOptions.onResponseEnd()
		}
	}

	span.SetAttributes(attribute.Int("turn.queued_events", o.runtime.queuedEventCount()))
	o.setState(StateAwaitingInput)
}

var errRuntimeClosed = errors.New("conversation runtime is closed")
