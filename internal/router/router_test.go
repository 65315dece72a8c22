package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mindspace-agent/internal/domain"
)

// scriptedGen answers each classifier stage with a canned response chosen by
// the prompt's first line.
type scriptedGen struct {
	mu         sync.Mutex
	broad      string
	activity   string
	assessment string
	err        error
	block      bool
	prompts    []string
}

func (g *scriptedGen) Generate(ctx context.Context, msgs []domain.ChatMessage) (string, error) {
	g.mu.Lock()
	prompt := msgs[0].Content
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.err != nil {
		return "", g.err
	}
	switch {
	case strings.HasPrefix(prompt, "Classify the user's intent"):
		return g.broad, nil
	case strings.HasPrefix(prompt, "The user wants to perform an activity"):
		return g.activity, nil
	case strings.HasPrefix(prompt, "The user wants to take a mental health assessment"):
		return g.assessment, nil
	}
	return "", errors.New("unexpected prompt")
}

func (g *scriptedGen) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func newRouter(t *testing.T, g *scriptedGen, opts ...Option) *Router {
	t.Helper()
	r, err := New(g, opts...)
	require.NoError(t, err)
	return r
}

func TestNew_NilGenerator(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestRoute_PanicBypassesLevelTwo(t *testing.T) {
	g := &scriptedGen{broad: `{"category": "CRISIS_PANIC"}`}
	r := newRouter(t, g)

	d := r.Route(context.Background(), "I can't breathe, I'm panicking")
	require.Equal(t, domain.IntentCrisisPanic, d.Intent)
	require.Equal(t, domain.WidgetType("breathing"), d.Widget)
	require.Equal(t, PanicReply, d.Reply)
	require.True(t, d.Direct)
	require.Equal(t, 1, g.calls())
}

func TestRoute_CrisisSuicide(t *testing.T) {
	g := &scriptedGen{broad: `{"category": "CRISIS_SUICIDE"}`}
	d := newRouter(t, g).Route(context.Background(), "I don't want to be here anymore")
	require.Equal(t, domain.WidgetCrisisResource, d.Widget)
	require.Contains(t, d.Reply, "14416")
	require.True(t, d.Direct)
	require.Equal(t, 1, g.calls())
}

func TestRoute_MoodLog(t *testing.T) {
	g := &scriptedGen{broad: `{"category": "MOOD_LOG"}`}
	d := newRouter(t, g).Route(context.Background(), "I want to log my mood")
	require.Equal(t, domain.WidgetMoodTracker, d.Widget)
	require.Equal(t, MoodReply, d.Reply)
	require.True(t, d.Direct)
}

func TestRoute_ActivityStretch(t *testing.T) {
	g := &scriptedGen{
		broad:    `{"category": "ROUTING_ACTIVITY"}`,
		activity: "```json\n{\"category\": \"stretch\"}\n```",
	}
	d := newRouter(t, g).Route(context.Background(), "I want to do some yoga, my neck hurts")
	require.Equal(t, domain.IntentRoutingActivity, d.Intent)
	require.Equal(t, domain.WidgetType("stretch"), d.Widget)
	require.Equal(t, "That sounds like a good idea. Let's do some gentle stretches.", d.Reply)
	require.Equal(t, 2, g.calls())
}

func TestFixedReplies_NameTheirTarget(t *testing.T) {
	for _, a := range domain.Activities {
		require.NotEmpty(t, ActivityReplies[a], a)
	}
	for _, a := range domain.Assessments {
		require.Contains(t, AssessmentReplies[a], string(a))
	}
	require.Contains(t, ActivityReplies[domain.ActivityWalking], "walk")
	require.Contains(t, ActivityReplies[domain.ActivityBreathing], "breathing")
}

func TestRoute_ActivityFallsBackToBreathing(t *testing.T) {
	g := &scriptedGen{broad: `{"category": "ROUTING_ACTIVITY"}`, activity: `{"category": "swimming"}`}
	d := newRouter(t, g).Route(context.Background(), "let's move")
	require.Equal(t, domain.WidgetType("breathing"), d.Widget)
	require.Equal(t, ActivityFallbackReply, d.Reply)
}

func TestRoute_Assessment(t *testing.T) {
	g := &scriptedGen{broad: `{"category": "ROUTING_ASSESSMENT"}`, assessment: `{"category": "Anxiety"}`}
	d := newRouter(t, g).Route(context.Background(), "can I take the GAD-7?")
	require.Equal(t, domain.WidgetType("anxiety"), d.Widget)
	require.Equal(t, AssessmentReplies[domain.AssessmentAnxiety], d.Reply)
	require.Contains(t, d.Reply, "anxiety")
}

func TestRoute_AssessmentFallsBackToStress(t *testing.T) {
	g := &scriptedGen{broad: `{"category": "ROUTING_ASSESSMENT"}`, assessment: "not json"}
	d := newRouter(t, g).Route(context.Background(), "test me")
	require.Equal(t, domain.WidgetType("stress"), d.Widget)
	require.Equal(t, AssessmentFallbackReply, d.Reply)
}

func TestRoute_GeneralChat(t *testing.T) {
	g := &scriptedGen{broad: `{"category": "GENERAL_CHAT"}`}
	d := newRouter(t, g).Route(context.Background(), "work has been a lot lately")
	require.Equal(t, domain.IntentGeneralChat, d.Intent)
	require.Equal(t, domain.WidgetGeneralChat, d.Widget)
	require.False(t, d.Direct)
	require.Empty(t, d.Reply)
}

func TestBroadIntent_FailuresDefaultToGeneralChat(t *testing.T) {
	cases := map[string]*scriptedGen{
		"call error":    {err: errors.New("503")},
		"malformed":     {broad: "CRISIS_PANIC"},
		"foreign label": {broad: `{"category": "WEATHER"}`},
		"empty":         {broad: `{"category": ""}`},
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, domain.IntentGeneralChat, newRouter(t, g).BroadIntent(context.Background(), "hi"))
		})
	}
}

func TestBroadIntent_TimeoutDefaultsToGeneralChat(t *testing.T) {
	g := &scriptedGen{block: true}
	r := newRouter(t, g, WithTimeout(20*time.Millisecond))

	start := time.Now()
	d := r.Route(context.Background(), "I can't breathe")
	require.Equal(t, domain.IntentGeneralChat, d.Intent)
	require.False(t, d.Direct)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSubTypeDefaults(t *testing.T) {
	g := &scriptedGen{err: errors.New("down")}
	r := newRouter(t, g)
	require.Equal(t, domain.ActivityBreathing, r.ActivityType(context.Background(), "x"))
	require.Equal(t, domain.AssessmentStress, r.AssessmentType(context.Background(), "x"))

	g = &scriptedGen{activity: `{"category":"walking"}`, assessment: `{"category":"depression"}`}
	r = newRouter(t, g)
	require.Equal(t, domain.ActivityWalking, r.ActivityType(context.Background(), "x"))
	require.Equal(t, domain.AssessmentDepression, r.AssessmentType(context.Background(), "x"))
}

func TestPromptsEmbedMessage(t *testing.T) {
	g := &scriptedGen{broad: `{"category": "GENERAL_CHAT"}`}
	newRouter(t, g).Route(context.Background(), `he said "stop"`)
	require.Len(t, g.prompts, 1)
	require.Contains(t, g.prompts[0], `USER INPUT: "he said \"stop\""`)
	for _, intent := range domain.Intents {
		require.Contains(t, g.prompts[0], string(intent))
	}
}
