package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/mikanbako-lab/miko-core/core/llms"
)

// LLMWithStream is the inference capability: a prompt in, a lazy fragment
// stream out.
type LLMWithStream interface {
	PromptWithStream(ctx context.Context, prompt string, opts ...llms.GenerationOption) llms.Stream
}

// LLMAborter is implemented by clients that support out-of-band cancellation
// of an in-flight generation on the server side.
type LLMAborter interface {
	Abort(ctx context.Context) error
}

// inferenceSession owns the model runtime lifecycle. The underlying model
// context is exclusive: at most one generation is active, and starting a new
// turn while one runs first cancels the prior stream and waits for its
// release. This is the hard serialization point of the whole core.
type inferenceSession struct {
	mu      sync.Mutex
	client  LLMWithStream
	current *generation
	closed  bool
}

// generation is one cancellable streaming turn.
type generation struct {
	stream llms.Stream
	cancel context.CancelFunc

	releaseOnce sync.Once
	released    chan struct{}
}

func (s *inferenceSession) set(client LLMWithStream) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
}

func (s *inferenceSession) isConfigured() bool {
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// BeginTurn starts a streaming generation for the prompt. The caller owns
// the returned generation and must call Release once the stream is fully
// consumed or abandoned.
func (s *inferenceSession) BeginTurn(ctx context.Context, prompt string, opts ...llms.GenerationOption) (*generation, error) {
	if s == nil {
		return nil, fmt.Errorf("inference session is required")
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, fmt.Errorf("inference session is shut down")
		}
		if s.client == nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("no llm client configured")
		}

		prior := s.current
		if prior == nil || prior.isReleased() {
			// The slot is claimed while still holding the lock, so two
			// waiters on the same prior can never both end up current.
			genCtx, cancel := context.WithCancel(ctx)
			g := &generation{
				stream:   s.client.PromptWithStream(genCtx, prompt, opts...),
				cancel:   cancel,
				released: make(chan struct{}),
			}
			s.current = g
			s.mu.Unlock()
			return g, nil
		}
		s.mu.Unlock()

		// A later turn preempts whatever is still running, then re-checks
		// the slot from the top.
		prior.cancel()
		<-prior.released
	}
}

// Fragments iterates the generation's text fragments.
func (g *generation) Fragments(ctx context.Context) func(func(string, error) bool) {
	return g.stream.Fragments(ctx)
}

func (g *generation) isReleased() bool {
	select {
	case <-g.released:
		return true
	default:
		return false
	}
}

// Release marks the generation's resources as freed, unblocking the next
// BeginTurn. Idempotent.
func (g *generation) Release() {
	g.releaseOnce.Do(func() {
		g.cancel()
		close(g.released)
	})
}

// Cancel stops the active generation, if any. Server-side abort is best
// effort. Idempotent.
func (s *inferenceSession) Cancel(ctx context.Context) {
	if s == nil {
		return
	}

	s.mu.Lock()
	current := s.current
	client := s.client
	s.mu.Unlock()

	if current != nil {
		current.cancel()
	}

	if aborter, ok := client.(LLMAborter); ok {
		if err := aborter.Abort(ctx); err != nil {
			logger.WarnContext(ctx, "failed to abort generation on server", "error", err)
		}
	}
}

// Shutdown cancels any active generation, waits for its release and closes
// the session for good.
func (s *inferenceSession) Shutdown(ctx context.Context) {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	current := s.current
	s.mu.Unlock()

	s.Cancel(ctx)
	if current != nil {
		<-current.released
	}
}
