package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mikanbako-lab/miko-core/core/events"
	"github.com/mikanbako-lab/miko-core/core/llms"
	"github.com/mikanbako-lab/miko-core/core/speechtotext"
)

// queuedStreamLLM hands out one scripted stream per generation call.
type queuedStreamLLM struct {
	mu      sync.Mutex
	streams []*scriptedStream
}

func (l *queuedStreamLLM) PromptWithStream(ctx context.Context, prompt string, opts ...llms.GenerationOption) llms.Stream {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.streams) == 0 {
		return &scriptedStream{}
	}
	stream := l.streams[0]
	l.streams = l.streams[1:]
	return stream
}

type displayRecorder struct {
	mu    sync.Mutex
	calls []string

	resets chan struct{}
}

func newDisplayRecorder() *displayRecorder {
	return &displayRecorder{resets: make(chan struct{}, 1)}
}

func (d *displayRecorder) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *displayRecorder) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *displayRecorder) TurnStarted(turnID int64, role string) error {
	d.record("started:" + role)
	return nil
}

func (d *displayRecorder) TurnDelta(turnID int64, text string) error {
	d.record("delta:" + text)
	return nil
}

func (d *displayRecorder) TurnComplete(turnID int64, text string, role string) error {
	d.record("complete:" + role + ":" + text)
	return nil
}

func (d *displayRecorder) TurnCancelled(turnID int64) error {
	d.record("cancelled")
	return nil
}

func (d *displayRecorder) Notice(text string) error {
	d.record("notice")
	return nil
}

func (d *displayRecorder) HistoryReset() error {
	d.record("reset")
	select {
	case d.resets <- struct{}{}:
	default:
	}
	return nil
}

type scriptedTranscription struct {
	transcript string
	err        error
}

func (s *scriptedTranscription) Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error) {
	return s.transcript, s.err
}

func startOrchestrator(t *testing.T, llm LLMWithStream, extra ...OrchestratorOption) (*Orchestrator, *displayRecorder, chan struct{}, chan struct{}) {
	t.Helper()

	display := newDisplayRecorder()
	turnsEnded := make(chan struct{}, 4)
	turnsCancelled := make(chan struct{}, 4)

	options := append([]OrchestratorOption{
		WithStreamingLLM(llm),
		WithDisplayClient(display),
		WithPersona(Persona{Name: "霊夢", UserName: "魔理沙"}),
	}, extra...)

	o := NewOrchestrator(options...)
	t.Cleanup(func() { _ = o.Close() })

	err := o.Orchestrate(context.Background(),
		WithResponseEndCallback(func() { turnsEnded <- struct{}{} }),
		WithCancellationCallback(func() { turnsCancelled <- struct{}{} }),
	)
	if err != nil {
		t.Fatalf("expected orchestration to start, got %v", err)
	}
	return o, display, turnsEnded, turnsCancelled
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestOrchestratorRunsFullTurn(t *testing.T) {
	llm := &queuedStreamLLM{streams: []*scriptedStream{
		{fragments: []string{"あら、", "いらっしゃい。"}},
	}}
	o, display, turnsEnded, _ := startOrchestrator(t, llm)

	if err := o.SendPrompt("やあ"); err != nil {
		t.Fatalf("expected the prompt accepted, got %v", err)
	}
	waitSignal(t, turnsEnded, "the turn to complete")

	snapshot := o.Snapshot()
	if len(snapshot.History) != 2 {
		t.Fatalf("expected a user and an assistant turn, got %v", snapshot.History)
	}

	user, assistant := snapshot.History[0], snapshot.History[1]
	if user.ID != 1 || user.Role != llms.TurnRoleUser || user.Text != "やあ" {
		t.Fatalf("unexpected user turn: %+v", user)
	}
	if assistant.ID != 2 || assistant.Role != llms.TurnRoleAssistant {
		t.Fatalf("unexpected assistant turn: %+v", assistant)
	}
	if assistant.Status != llms.TurnStatusComplete {
		t.Fatalf("expected the assistant turn complete, got %v", assistant.Status)
	}
	if assistant.Text != "あら、いらっしゃい。" {
		t.Fatalf("expected the streamed text recorded, got %q", assistant.Text)
	}

	calls := display.recorded()
	var sawUserComplete, sawStart, sawDelta, sawAssistantComplete bool
	for _, call := range calls {
		switch call {
		case "complete:user:やあ":
			sawUserComplete = true
		case "started:assistant":
			sawStart = true
		case "delta:あら、":
			sawDelta = true
		case "complete:assistant:あら、いらっしゃい。":
			sawAssistantComplete = true
		}
	}
	if !sawUserComplete || !sawStart || !sawDelta || !sawAssistantComplete {
		t.Fatalf("expected the display to see the whole turn, got %v", calls)
	}
}

func TestOrchestratorInterruptsActiveTurnOnNewPrompt(t *testing.T) {
	first := &scriptedStream{
		fragments:    []string{"長い話の途中"},
		blockAtEnd:   true,
		fragmentSeen: make(chan struct{}, 1),
	}
	llm := &queuedStreamLLM{streams: []*scriptedStream{
		first,
		{fragments: []string{"新しい答え。"}},
	}}
	o, _, turnsEnded, turnsCancelled := startOrchestrator(t, llm)

	if err := o.SendPrompt("最初の質問"); err != nil {
		t.Fatalf("expected the first prompt accepted, got %v", err)
	}
	waitSignal(t, first.fragmentSeen, "the first turn to start streaming")
	waitForCondition(t, func() bool {
		active := o.Snapshot().ActiveTurn
		return active != nil && active.Text == "長い話の途中"
	})

	if err := o.SendPrompt("やっぱりこっち"); err != nil {
		t.Fatalf("expected the interrupting prompt accepted, got %v", err)
	}
	waitSignal(t, turnsCancelled, "the first turn to be cancelled")
	waitSignal(t, turnsEnded, "the second turn to complete")

	snapshot := o.Snapshot()
	if len(snapshot.History) != 4 {
		t.Fatalf("expected 4 turns in history, got %v", snapshot.History)
	}

	interrupted := snapshot.History[1]
	if interrupted.Status != llms.TurnStatusCancelled {
		t.Fatalf("expected the interrupted turn cancelled, got %v", interrupted.Status)
	}
	if interrupted.Text != "長い話の途中" {
		t.Fatalf("expected partial text kept on the interrupted turn, got %q", interrupted.Text)
	}

	final := snapshot.History[3]
	if final.Status != llms.TurnStatusComplete || final.Text != "新しい答え。" {
		t.Fatalf("expected the interrupting turn to complete normally, got %+v", final)
	}
}

func TestOrchestratorClearHistoryKeepsIDCounter(t *testing.T) {
	llm := &queuedStreamLLM{streams: []*scriptedStream{
		{fragments: []string{"一回目。"}},
		{fragments: []string{"二回目。"}},
	}}
	o, display, turnsEnded, _ := startOrchestrator(t, llm)

	if err := o.SendPrompt("やあ"); err != nil {
		t.Fatalf("expected the prompt accepted, got %v", err)
	}
	waitSignal(t, turnsEnded, "the first turn to complete")

	if err := o.ClearHistory(); err != nil {
		t.Fatalf("expected the clear accepted, got %v", err)
	}
	waitSignal(t, display.resets, "the display reset")

	if got := o.Snapshot().History; len(got) != 0 {
		t.Fatalf("expected an empty history after clear, got %v", got)
	}

	if err := o.SendPrompt("もう一度"); err != nil {
		t.Fatalf("expected the prompt accepted, got %v", err)
	}
	waitSignal(t, turnsEnded, "the second turn to complete")

	history := o.Snapshot().History
	if len(history) != 2 {
		t.Fatalf("expected 2 turns after the reset, got %v", history)
	}
	if history[0].ID != 3 {
		t.Fatalf("expected turn IDs to keep counting across a clear, got %d", history[0].ID)
	}
}

func TestOrchestratorTurnsTranscribedUtterancesIntoPrompts(t *testing.T) {
	llm := &queuedStreamLLM{streams: []*scriptedStream{
		{fragments: []string{"聞こえたよ。"}},
	}}
	o, _, turnsEnded, _ := startOrchestrator(t, llm,
		WithTranscriptionClient(&scriptedTranscription{transcript: "音声からの質問"}),
	)

	o.handleUtterance(events.NewUtteranceCaptured(make([]byte, 3200), 500*time.Millisecond))
	waitSignal(t, turnsEnded, "the transcribed turn to complete")

	history := o.Snapshot().History
	if len(history) != 2 {
		t.Fatalf("expected the utterance to become a turn, got %v", history)
	}
	if history[0].Text != "音声からの質問" {
		t.Fatalf("expected the transcript as user text, got %q", history[0].Text)
	}
}

func TestOrchestratorDiscardsFailedTranscriptions(t *testing.T) {
	llm := &queuedStreamLLM{}
	o, _, _, _ := startOrchestrator(t, llm,
		WithTranscriptionClient(&scriptedTranscription{err: errors.New("no speech detected")}),
	)

	o.handleUtterance(events.NewUtteranceCaptured(make([]byte, 3200), 500*time.Millisecond))
	time.Sleep(100 * time.Millisecond)

	if got := o.Snapshot().History; len(got) != 0 {
		t.Fatalf("expected a failed transcription to be discarded, got %v", got)
	}
}

func TestOrchestratorReportsStateTransitions(t *testing.T) {
	llm := &queuedStreamLLM{streams: []*scriptedStream{
		{fragments: []string{"はい。"}},
	}}

	var mu sync.Mutex
	var states []State
	display := newDisplayRecorder()
	turnsEnded := make(chan struct{}, 1)

	o := NewOrchestrator(
		WithStreamingLLM(llm),
		WithDisplayClient(display),
	)
	t.Cleanup(func() { _ = o.Close() })

	err := o.Orchestrate(context.Background(),
		WithStateChangedCallback(func(state State) {
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
		}),
		WithResponseEndCallback(func() { turnsEnded <- struct{}{} }),
	)
	if err != nil {
		t.Fatalf("expected orchestration to start, got %v", err)
	}

	if err := o.SendPrompt("状態は？"); err != nil {
		t.Fatalf("expected the prompt accepted, got %v", err)
	}
	waitSignal(t, turnsEnded, "the turn to complete")

	mu.Lock()
	observed := append([]State(nil), states...)
	mu.Unlock()

	for _, want := range []State{StateAwaitingInput, StateAssembling, StateGenerating, StateFinalizing} {
		found := false
		for _, state := range observed {
			if state == want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected to observe state %q, saw %v", want, observed)
		}
	}

	if o.State() != StateAwaitingInput {
		t.Fatalf("expected the orchestrator back to awaiting input, got %v", o.State())
	}
}

func TestOrchestratorRefusesInputAfterClose(t *testing.T) {
	o, _, _, _ := startOrchestrator(t, &queuedStreamLLM{})

	if err := o.Close(); err != nil {
		t.Fatalf("expected a clean close, got %v", err)
	}

	if err := o.SendPrompt("遅すぎた"); !errors.Is(err, errRuntimeClosed) {
		t.Fatalf("expected the closed runtime error, got %v", err)
	}
	if o.State() != StateShutdown {
		t.Fatalf("expected the shutdown state, got %v", o.State())
	}
}
