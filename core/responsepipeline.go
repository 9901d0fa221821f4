package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikanbako-lab/miko-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// responsePipeline processes one assistant turn: three workers move text
// from the model through segmentation and synthesis to the speakers, joined
// at the end so the turn finalises exactly once.
//
//	generate      model fragments -> fragmentBuffer
//	segment       fragmentBuffer -> display deltas + synthesisQueue
//	playback      synthesisQueue deliveries -> audio output, in order
type responsePipeline struct {
	session   *inferenceSession
	segmenter *sentenceSegmenter
	fragments *fragmentBuffer
	queue     *synthesisQueue
	output    *speechOutput
	display   *displayBridge

	turnID     int64
	appendText func(delta string)
	onCancel   func()
	generation atomic.Pointer[generation]
	cancelled  atomic.Bool

	stopMu       sync.Mutex
	pipelineStop context.CancelFunc
}

func newResponsePipeline(
	session *inferenceSession,
	tts *textToSpeech,
	output *speechOutput,
	display *displayBridge,
	maxSegmentRunes int,
	synthesisConcurrency int,
	turnID int64,
	appendText func(delta string),
	onCancel func(),
) *responsePipeline {
	p := &responsePipeline{
		session:   session,
		segmenter: newSentenceSegmenter(maxSegmentRunes),
		fragments: newFragmentBuffer(),
		output:    output,
		display:   display,

		turnID:     turnID,
		appendText: appendText,
		onCancel:   onCancel,
	}
	p.queue = newSynthesisQueue(tts.synthesize, synthesisConcurrency)
	return p
}

// Run executes the pipeline to completion or cancellation and reports
// whether the turn ended cancelled. Failures inside workers degrade: a
// generation failure ends the stream but keeps partial text, a synthesis
// failure skips one segment.
func (p *responsePipeline) Run(ctx context.Context, prompt string, opts ...llms.GenerationOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.stopMu.Lock()
	p.pipelineStop = cancel
	p.stopMu.Unlock()

	if p.cancelled.Load() {
		return nil
	}

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	run := func(name string, f func(context.Context) error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
				cancel()
			}
		}()

		if err := f(ctx); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
			cancel()
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		run("generation", func(ctx context.Context) error {
			return p.generate(ctx, prompt, opts...)
		})
	}()
	go func() {
		defer wg.Done()
		run("segmentation", p.segmentAndDispatch)
	}()
	go func() {
		defer wg.Done()
		run("playback", p.playback)
	}()

	wg.Wait()
	return workerErr
}

func (p *responsePipeline) generate(ctx context.Context, prompt string, opts ...llms.GenerationOption) error {
	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()
	defer p.fragments.StreamComplete()

	gen, err := p.session.BeginTurn(ctx, prompt, opts...)
	if err != nil {
		genErr := &GenerationError{err: err}
		span.RecordError(genErr)
		span.SetStatus(codes.Error, genErr.Error())
		return genErr
	}
	defer gen.Release()
	p.generation.Store(gen)

	fragmentCount := 0
	for fragment, err := range gen.Fragments(ctx) {
		if err != nil {
			// Partial output already emitted stays, the stream just ends.
			genErr := &GenerationError{err: err}
			span.RecordError(genErr)
			span.SetStatus(codes.Error, genErr.Error())
			logger.WarnContext(ctx, "generation ended early", "error", genErr, "fragments", fragmentCount)
			return nil
		}
		if p.cancelled.Load() {
			return nil
		}

		p.fragments.AddFragment(fragment)
		fragmentCount++
	}

	span.SetAttributes(attribute.Int("response.fragments", fragmentCount))
	return nil
}

func (p *responsePipeline) segmentAndDispatch(ctx context.Context) error {
	done := withContextCancelHook(ctx, func() {
		p.fragments.Clear()
		p.queue.Stop()
	})
	defer close(done)

	_, span := tracer.Start(ctx, "segment response")
	defer span.End()

	segmentCount := 0
	for fragment := range p.fragments.Fragments {
		if p.cancelled.Load() {
			break
		}

		p.appendText(fragment)
		p.display.PushTextDelta(p.turnID, fragment)

		for _, chunk := range p.segmenter.Feed(fragment) {
			p.queue.Enqueue(ctx, chunk)
			segmentCount++
		}
	}

	if !p.cancelled.Load() {
		if chunk, ok := p.segmenter.Flush(); ok {
			p.queue.Enqueue(ctx, chunk)
			segmentCount++
		}
	}

	p.queue.AllEnqueued()
	span.SetAttributes(attribute.Int("response.segments", segmentCount))
	return nil
}

func (p *responsePipeline) playback(ctx context.Context) error {
	done := withContextCancelHook(ctx, func() {
		p.queue.Stop()
		p.output.clear()
	})
	defer close(done)

	_, span := tracer.Start(ctx, "play response")
	defer span.End()

	for segment := range p.queue.Deliveries {
		if p.cancelled.Load() {
			break
		}

		if segment.State == segmentFailed {
			// The slot is skipped, not waited on, so later segments are
			// not stalled behind a dead synthesis call.
			span.RecordError(segment.Err)
			logger.WarnContext(ctx, "skipping segment audio", "sequence", segment.Sequence, "error", segment.Err)
			continue
		}

		if err := p.output.play(ctx, segment.Audio); err != nil {
			span.RecordError(err)
			logger.WarnContext(ctx, "playback failed", "sequence", segment.Sequence, "error", err)
		}
	}

	return nil
}

// serverAbortTimeout bounds the best-effort abort request sent to the
// model server when a turn is interrupted.
const serverAbortTimeout = 2 * time.Second

// Cancel interrupts the turn: the stream stops, the server-side generation
// is aborted, undelivered segments are discarded, queued audio is cleared.
// Idempotent, safe from any goroutine.
func (p *responsePipeline) Cancel() {
	if p == nil || !p.cancelled.CompareAndSwap(false, true) {
		return
	}

	if gen := p.generation.Load(); gen != nil {
		gen.cancel()
	}

	// Dropping the stream connection alone leaves the server generating
	// into its exclusive model context, and the next turn would contend
	// with that ghost generation.
	abortCtx, abortDone := context.WithTimeout(context.Background(), serverAbortTimeout)
	p.session.Cancel(abortCtx)
	abortDone()
	p.stopMu.Lock()
	if p.pipelineStop != nil {
		p.pipelineStop()
	}
	p.stopMu.Unlock()
	p.fragments.Clear()
	p.queue.Stop()
	p.output.clear()

	if p.onCancel != nil {
		p.onCancel()
	}
}

func (p *responsePipeline) IsCancelled() bool {
	return p != nil && p.cancelled.Load()
}
