package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/llm"
)

func constGen(out string, err error) llm.Generator {
	return llm.GeneratorFunc(func(context.Context, []domain.ChatMessage) (string, error) {
		return out, err
	})
}

func TestClassify_Valid(t *testing.T) {
	cases := map[string]string{
		"plain":        `{"category": "MOOD_LOG"}`,
		"fenced":       "```json\n{\"category\": \"MOOD_LOG\"}\n```",
		"chatter":      `Sure! {"category": "MOOD_LOG"} Hope this helps.`,
		"lower case":   `{"category": "mood_log"}`,
		"padded value": `{"category": "  MOOD_LOG "}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Classify(context.Background(), constGen(raw, nil), StageBroad, "p", domain.Intents)
			require.NoError(t, err)
			require.Equal(t, domain.IntentMoodLog, got)
		})
	}
}

func TestClassify_SendsSingleSystemMessage(t *testing.T) {
	var seen []domain.ChatMessage
	gen := llm.GeneratorFunc(func(_ context.Context, msgs []domain.ChatMessage) (string, error) {
		seen = msgs
		return `{"category":"stretch"}`, nil
	})
	_, err := Classify(context.Background(), gen, StageActivity, "the prompt", domain.Activities)
	require.NoError(t, err)
	require.Equal(t, []domain.ChatMessage{{Role: domain.RoleSystem, Content: "the prompt"}}, seen)
}

func TestClassify_Errors(t *testing.T) {
	upstream := errors.New("connection reset")

	_, err := Classify(context.Background(), constGen("", upstream), StageActivity, "p", domain.Activities)
	var ce *ClassifierError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, StageActivity, ce.Stage)
	require.ErrorIs(t, err, upstream)

	_, err = Classify(context.Background(), constGen("breathing", nil), StageActivity, "p", domain.Activities)
	require.ErrorIs(t, err, ErrMalformedOutput)
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "breathing", ce.Raw)

	_, err = Classify(context.Background(), constGen(`{"category": 3}`, nil), StageActivity, "p", domain.Activities)
	require.ErrorIs(t, err, ErrMalformedOutput)

	_, err = Classify(context.Background(), constGen(`{"category": "running"}`, nil), StageActivity, "p", domain.Activities)
	require.ErrorIs(t, err, ErrUnknownCategory)
	require.Contains(t, err.Error(), "running")
}

func TestClassifierError_Message(t *testing.T) {
	err := &ClassifierError{Stage: StageBroad, Err: ErrMalformedOutput}
	require.Equal(t, "router: broad_intent classifier: malformed classifier output", err.Error())
}

type choiceGen struct {
	reply string
	got   llm.Choice
	plain int
}

func (g *choiceGen) Generate(context.Context, []domain.ChatMessage) (string, error) {
	g.plain++
	return g.reply, nil
}

func (g *choiceGen) GenerateChoice(_ context.Context, _ []domain.ChatMessage, choice llm.Choice) (string, error) {
	g.got = choice
	return g.reply, nil
}

func TestClassify_ConstrainsStructuredBackends(t *testing.T) {
	g := &choiceGen{reply: `{"category":"walking"}`}
	got, err := Classify(context.Background(), g, StageActivity, "p", domain.Activities)
	require.NoError(t, err)
	require.Equal(t, domain.ActivityWalking, got)
	require.Zero(t, g.plain)
	require.Equal(t, llm.Choice{Name: StageActivity, Field: "category", Values: []string{"breathing", "stretch", "walking"}}, g.got)
}

func TestClassify_StructuredAnswerStillValidated(t *testing.T) {
	g := &choiceGen{reply: `{"category":"swimming"}`}
	_, err := Classify(context.Background(), g, StageActivity, "p", domain.Activities)
	require.ErrorIs(t, err, ErrUnknownCategory)
}
