package llms

import "time"

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

type TurnStatus string

const (
	TurnStatusPending   TurnStatus = "pending"
	TurnStatusStreaming TurnStatus = "streaming"
	TurnStatusComplete  TurnStatus = "complete"
	TurnStatusCancelled TurnStatus = "cancelled"
)

// Turn is a single contribution to the conversation. Text is mutable while
// the turn is streaming and frozen once the status becomes complete or
// cancelled.
type Turn struct {
	ID        int64
	Role      TurnRole
	Text      string
	CreatedAt time.Time
	Status    TurnStatus
}

func (t Turn) IsFinalised() bool {
	return t.Status == TurnStatusComplete || t.Status == TurnStatusCancelled
}
