package orchestration

import (
	"strings"
	"sync"
)

// fragmentBuffer decouples the generation pace from the segmentation pace.
// One producer appends fragments, one consumer drains them through the
// Fragments iterator, blocking while the stream is mid-generation.
type fragmentBuffer struct {
	mu                sync.Mutex
	fragments         []string
	fragmentsConsumed int
	streamComplete    bool
	cleared           bool

	updateSignal chan struct{}
}

func newFragmentBuffer() *fragmentBuffer {
	return &fragmentBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *fragmentBuffer) AddFragment(fragment string) {
	b.mu.Lock()
	b.fragments = append(b.fragments, fragment)
	b.mu.Unlock()
	b.signalUpdate()
}

// StreamComplete marks that no further fragments will arrive. The iterator
// drains what is buffered and returns.
func (b *fragmentBuffer) StreamComplete() {
	b.mu.Lock()
	b.streamComplete = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *fragmentBuffer) Fragments(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.fragmentsConsumed < len(b.fragments) {
			fragment := b.fragments[b.fragmentsConsumed]
			b.fragmentsConsumed++
			b.mu.Unlock()
			if !yield(fragment) {
				return
			}
			continue
		}

		if b.streamComplete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

func (b *fragmentBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Join(b.fragments, "")
}

// Clear releases a blocked consumer and makes the iterator return. Used on
// cancellation.
func (b *fragmentBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *fragmentBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
