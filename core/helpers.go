package orchestration

import "context"

// withContextCancelHook runs onContextDone if ctx finishes before the
// returned channel is closed.
func withContextCancelHook(ctx context.Context, onContextDone func()) chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			onContextDone()
		case <-done:
		}
	}()
	return done
}
