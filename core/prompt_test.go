package orchestration

import (
	"errors"
	"testing"
	"time"

	"github.com/mikanbako-lab/miko-core/core/llms"
)

func finishedTurn(id int64, role llms.TurnRole, text string) llms.Turn {
	return llms.Turn{
		ID:        id,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
		Status:    llms.TurnStatusComplete,
	}
}

func TestAssembleBuildsPreambleDialogueAndCue(t *testing.T) {
	assembler := newPromptAssembler(Persona{
		Name:             "霊夢",
		UserName:         "魔理沙",
		WorldSetting:     "幻想郷のどこか。",
		CharacterSetting: "巫女。お茶が好き。",
		SceneSetting:     "神社の縁側。",
	})

	history := []llms.Turn{
		finishedTurn(1, llms.TurnRoleUser, "やあ"),
		finishedTurn(2, llms.TurnRoleAssistant, "あら、いらっしゃい"),
	}

	prompt, err := assembler.Assemble(history, "お茶でもどう？")
	if err != nil {
		t.Fatalf("expected assembly to succeed, got %v", err)
	}

	want := "[世界観設定]\n幻想郷のどこか。\n\n" +
		"[人物設定]\n巫女。お茶が好き。\n\n" +
		"[シーン設定]\n神社の縁側。\n\n" +
		"魔理沙:やあ\n" +
		"霊夢:あら、いらっしゃい\n" +
		"魔理沙:お茶でもどう？\n" +
		"霊夢:"
	if prompt != want {
		t.Fatalf("unexpected prompt,\nwant %q\ngot  %q", want, prompt)
	}
}

func TestAssembleDefaultsPersonaLabels(t *testing.T) {
	assembler := newPromptAssembler(Persona{})

	prompt, err := assembler.Assemble(nil, "こんにちは")
	if err != nil {
		t.Fatalf("expected assembly to succeed, got %v", err)
	}

	want := "あなた:こんにちは\nアシスタント:"
	if prompt != want {
		t.Fatalf("expected default labels,\nwant %q\ngot  %q", want, prompt)
	}
}

func TestAssembleSkipsTextlessCancelledTurns(t *testing.T) {
	assembler := newPromptAssembler(Persona{Name: "霊夢", UserName: "魔理沙"})

	cancelled := finishedTurn(2, llms.TurnRoleAssistant, "")
	cancelled.Status = llms.TurnStatusCancelled

	prompt, err := assembler.Assemble([]llms.Turn{
		finishedTurn(1, llms.TurnRoleUser, "やあ"),
		cancelled,
	}, "聞こえてる？")
	if err != nil {
		t.Fatalf("expected assembly to succeed, got %v", err)
	}

	want := "魔理沙:やあ\n魔理沙:聞こえてる？\n霊夢:"
	if prompt != want {
		t.Fatalf("expected the empty cancelled turn dropped,\nwant %q\ngot  %q", want, prompt)
	}
}

func TestAssembleRejectsCorruptHistory(t *testing.T) {
	assembler := newPromptAssembler(Persona{})

	streaming := finishedTurn(1, llms.TurnRoleAssistant, "まだ途中")
	streaming.Status = llms.TurnStatusStreaming

	cases := []struct {
		name    string
		history []llms.Turn
	}{
		{
			name:    "unknown role",
			history: []llms.Turn{{ID: 1, Role: "narrator", Text: "x", Status: llms.TurnStatusComplete}},
		},
		{
			name:    "unfinalised turn",
			history: []llms.Turn{streaming},
		},
		{
			name: "non-monotonic ids",
			history: []llms.Turn{
				finishedTurn(2, llms.TurnRoleUser, "a"),
				finishedTurn(1, llms.TurnRoleAssistant, "b"),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := assembler.Assemble(tc.history, "input")
			if err == nil {
				t.Fatalf("expected corrupt history to be rejected")
			}

			var corrupt *corruptHistoryError
			if !errors.As(err, &corrupt) {
				t.Fatalf("expected a corrupt history error, got %v", err)
			}
		})
	}
}

func TestStopSequencesBoundBothDialogueLabels(t *testing.T) {
	assembler := newPromptAssembler(Persona{Name: "霊夢", UserName: "魔理沙"})

	sequences := assembler.StopSequences()
	if len(sequences) != 2 {
		t.Fatalf("expected 2 stop sequences, got %d", len(sequences))
	}
	if sequences[0] != "\n魔理沙:" || sequences[1] != "\n霊夢:" {
		t.Fatalf("unexpected stop sequences: %v", sequences)
	}
}
