package events

const (
	// KindUserPrompt identifies user text that should start a new turn.
	KindUserPrompt Kind = "user_input.prompt"
)

// UserPrompt carries user text destined for the conversation, either typed
// directly or produced by transcribing a captured utterance.
type UserPrompt struct {
	Base
	Prompt        string
	IsTranscribed bool
}

func (e UserPrompt) String() string { return e.Prompt }

func NewUserPrompt(prompt string, opts ...RebaseOption) UserPrompt {
	base := NewBase(KindUserPrompt)
	for _, opt := range opts {
		opt(&base)
	}

	return UserPrompt{
		Base:          base,
		Prompt:        prompt,
		IsTranscribed: false,
	}
}

func NewTranscribedUserPrompt(prompt string, opts ...RebaseOption) UserPrompt {
	base := NewBase(KindUserPrompt)
	for _, opt := range opts {
		opt(&base)
	}

	return UserPrompt{
		Base:          base,
		Prompt:        prompt,
		IsTranscribed: true,
	}
}
