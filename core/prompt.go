package orchestration

import (
	"strings"

	"github.com/mikanbako-lab/miko-core/core/llms"
)

// Persona is the static character configuration consumed at assembler
// construction time. The three setting sections mirror how local roleplay
// models are prompted: labeled blocks of world, character and scene context
// ahead of the dialogue.
type Persona struct {
	// Name is the assistant's dialogue label, e.g. "霊夢".
	Name string
	// UserName is the user's dialogue label.
	UserName string

	WorldSetting     string
	CharacterSetting string
	SceneSetting     string
}

const (
	defaultPersonaName = "アシスタント"
	defaultUserName    = "あなた"

	worldSettingHeader     = "[世界観設定]"
	characterSettingHeader = "[人物設定]"
	sceneSettingHeader     = "[シーン設定]"
)

type promptAssembler struct {
	persona Persona
}

func newPromptAssembler(persona Persona) promptAssembler {
	if persona.Name == "" {
		persona.Name = defaultPersonaName
	}
	if persona.UserName == "" {
		persona.UserName = defaultUserName
	}
	return promptAssembler{persona: persona}
}

// Assemble builds the model input from the persona preamble, the recorded
// history and the newest user input. It fails only on corrupt history.
func (a *promptAssembler) Assemble(history []llms.Turn, input string) (string, error) {
	if err := validateHistory(history); err != nil {
		return "", err
	}

	var prompt strings.Builder
	a.writePreamble(&prompt)

	for _, turn := range history {
		if turn.Text == "" {
			// Cancelled turns can legally carry no text, they add nothing
			// to the dialogue.
			continue
		}
		prompt.WriteString(a.label(turn.Role))
		prompt.WriteString(turn.Text)
		prompt.WriteString("\n")
	}

	prompt.WriteString(a.persona.UserName)
	prompt.WriteString(":")
	prompt.WriteString(input)
	prompt.WriteString("\n")
	prompt.WriteString(a.persona.Name)
	prompt.WriteString(":")

	return prompt.String(), nil
}

// StopSequences bounds generation at the next dialogue label, so the model
// speaks exactly one turn.
func (a *promptAssembler) StopSequences() []string {
	return []string{
		"\n" + a.persona.UserName + ":",
		"\n" + a.persona.Name + ":",
	}
}

func (a *promptAssembler) writePreamble(prompt *strings.Builder) {
	for _, section := range []struct {
		header string
		body   string
	}{
		{worldSettingHeader, a.persona.WorldSetting},
		{characterSettingHeader, a.persona.CharacterSetting},
		{sceneSettingHeader, a.persona.SceneSetting},
	} {
		if section.body == "" {
			continue
		}
		prompt.WriteString(section.header)
		prompt.WriteString("\n")
		prompt.WriteString(strings.TrimSpace(section.body))
		prompt.WriteString("\n\n")
	}
}

func (a *promptAssembler) label(role llms.TurnRole) string {
	if role == llms.TurnRoleAssistant {
		return a.persona.Name + ":"
	}
	return a.persona.UserName + ":"
}

func validateHistory(history []llms.Turn) error {
	lastID := int64(0)
	for _, turn := range history {
		switch turn.Role {
		case llms.TurnRoleUser, llms.TurnRoleAssistant:
		default:
			return &corruptHistoryError{reason: "unknown turn role " + string(turn.Role)}
		}

		if !turn.IsFinalised() {
			return &corruptHistoryError{reason: "unfinalised turn recorded in history"}
		}

		if turn.ID <= lastID {
			return &corruptHistoryError{reason: "turn IDs are not monotonically increasing"}
		}
		lastID = turn.ID
	}
	return nil
}
