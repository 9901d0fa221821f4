package orchestration

import (
	"errors"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/mikanbako-lab/miko-core/core/llms"
)

var (
	ErrActiveTurnExists  = errors.New("active turn already set")
	ErrActiveTurnMissing = errors.New("no active turn")
)

// activeConversation is the single-writer conversation state. Only the
// runtime goroutine mutates it; everyone else reads snapshots. Turn IDs are
// monotonic across both roles and survive a history clear, so no ID is ever
// reused within a process.
type activeConversation struct {
	mu sync.RWMutex

	nextTurnID int64
	turns      []llms.Turn
	activeTurn *llms.Turn
}

func newConversation() activeConversation {
	return activeConversation{nextTurnID: 1}
}

// ConversationSnapshot is a point-in-time deep copy of conversation state.
type ConversationSnapshot struct {
	History    []llms.Turn
	ActiveTurn *llms.Turn
}

func (c *activeConversation) Snapshot() ConversationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := ConversationSnapshot{}
	if err := copier.CopyWithOption(&snapshot.History, &c.turns, copier.Option{DeepCopy: true}); err != nil {
		snapshot.History = append([]llms.Turn(nil), c.turns...)
	}
	if c.activeTurn != nil {
		active := *c.activeTurn
		snapshot.ActiveTurn = &active
	}
	return snapshot
}

func (c *activeConversation) History() []llms.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := make([]llms.Turn, len(c.turns))
	copy(history, c.turns)
	return history
}

// recordUserTurn appends a completed user turn. User text arrives whole, so
// the turn never passes through the streaming status.
func (c *activeConversation) recordUserTurn(text string) llms.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn := llms.Turn{
		ID:        c.nextTurnID,
		Role:      llms.TurnRoleUser,
		Text:      text,
		CreatedAt: time.Now(),
		Status:    llms.TurnStatusComplete,
	}
	c.nextTurnID++
	c.turns = append(c.turns, turn)
	return turn
}

// beginAssistantTurn opens the active turn. At most one exists at any time.
func (c *activeConversation) beginAssistantTurn() (llms.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeTurn != nil {
		return llms.Turn{}, ErrActiveTurnExists
	}

	turn := llms.Turn{
		ID:        c.nextTurnID,
		Role:      llms.TurnRoleAssistant,
		CreatedAt: time.Now(),
		Status:    llms.TurnStatusPending,
	}
	c.nextTurnID++
	c.activeTurn = &turn
	return turn, nil
}

// appendActiveText grows the active turn's text as fragments stream in and
// moves the turn to the streaming status on the first fragment.
func (c *activeConversation) appendActiveText(delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeTurn == nil {
		return
	}
	c.activeTurn.Status = llms.TurnStatusStreaming
	c.activeTurn.Text += delta
}

// finaliseActiveTurn freezes the active turn with the given terminal status
// and appends it to history. Partial text is retained on cancellation.
func (c *activeConversation) finaliseActiveTurn(status llms.TurnStatus) (llms.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeTurn == nil {
		return llms.Turn{}, ErrActiveTurnMissing
	}

	turn := *c.activeTurn
	turn.Status = status
	c.turns = append(c.turns, turn)
	c.activeTurn = nil
	return turn, nil
}

// clear drops the recorded history. The ID counter keeps running so turn
// IDs stay monotonic across the reset.
func (c *activeConversation) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = nil
}

func (c *activeConversation) hasActiveTurn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.activeTurn != nil
}
