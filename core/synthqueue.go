package orchestration

import (
	"context"
	"sync"
)

const defaultSynthesisConcurrency = 2

type segmentState string

const (
	segmentQueued       segmentState = "queued"
	segmentSynthesizing segmentState = "synthesizing"
	segmentReady        segmentState = "ready"
	segmentFailed       segmentState = "failed"
)

// Segment is a speakable chunk moving through synthesis. Audio is set only
// in the ready state; Err only in the failed state.
type Segment struct {
	Sequence int
	Text     string
	State    segmentState
	Audio    []byte
	Err      error
}

// synthesisQueue accepts segments in generation order, synthesizes them
// concurrently up to a bounded limit, and hands them out strictly by
// sequence number regardless of which synthesis finishes first. A failed
// synthesis occupies its slot as a failure marker so later segments are
// never blocked behind it.
//
// Queue state is per turn. Stopping the queue discards everything
// undelivered; late synthesis completions after a stop are dropped.
type synthesisQueue struct {
	mu sync.Mutex

	segments     []*Segment
	delivered    int
	allEnqueued  bool
	stopped      bool
	updateSignal chan struct{}

	synthesize func(ctx context.Context, text string) ([]byte, error)
	semaphore  chan struct{}
}

func newSynthesisQueue(synthesize func(ctx context.Context, text string) ([]byte, error), concurrency int) *synthesisQueue {
	if concurrency <= 0 {
		concurrency = defaultSynthesisConcurrency
	}
	return &synthesisQueue{
		synthesize:   synthesize,
		semaphore:    make(chan struct{}, concurrency),
		updateSignal: make(chan struct{}, 1),
	}
}

// Enqueue accepts the next chunk and starts its synthesis in the
// background. Chunks must arrive in sequence order.
func (q *synthesisQueue) Enqueue(ctx context.Context, chunk speakableText) {
	segment := &Segment{
		Sequence: chunk.Sequence,
		Text:     chunk.Text,
		State:    segmentQueued,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.segments = append(q.segments, segment)
	q.mu.Unlock()

	go q.run(ctx, segment)
}

// AllEnqueued marks that no further segments will arrive for this turn.
func (q *synthesisQueue) AllEnqueued() {
	q.mu.Lock()
	q.allEnqueued = true
	q.mu.Unlock()
	q.signalUpdate()
}

// Stop discards all undelivered segments and releases a blocked consumer.
// In-flight synthesis calls are cancelled through the turn context; results
// that arrive anyway are dropped, never played. Stop is idempotent.
func (q *synthesisQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	q.signalUpdate()
}

func (q *synthesisQueue) run(ctx context.Context, segment *Segment) {
	select {
	case q.semaphore <- struct{}{}:
		defer func() { <-q.semaphore }()
	case <-ctx.Done():
		q.finish(segment, nil, ctx.Err())
		return
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	segment.State = segmentSynthesizing
	q.mu.Unlock()

	audio, err := q.synthesize(ctx, segment.Text)
	q.finish(segment, audio, err)
}

func (q *synthesisQueue) finish(segment *Segment, audio []byte, err error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	if err != nil {
		segment.State = segmentFailed
		segment.Err = &SynthesisError{Sequence: segment.Sequence, err: err}
	} else {
		segment.State = segmentReady
		segment.Audio = audio
	}
	q.mu.Unlock()
	q.signalUpdate()
}

// Deliveries hands out segments strictly by sequence number, each exactly
// once, blocking until the next one is ready or failed. The iterator
// returns once every enqueued segment has been delivered after AllEnqueued,
// or immediately after Stop.
func (q *synthesisQueue) Deliveries(yield func(Segment) bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}

		if q.delivered < len(q.segments) {
			segment := q.segments[q.delivered]
			if segment.State == segmentReady || segment.State == segmentFailed {
				delivery := *segment
				q.delivered++
				q.mu.Unlock()
				if !yield(delivery) {
					return
				}
				continue
			}
		} else if q.allEnqueued {
			q.mu.Unlock()
			return
		}

		q.mu.Unlock()
		<-q.updateSignal
	}
}

func (q *synthesisQueue) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
