// Package guardrail keeps the assistant on mental-health topics. Unlike the
// intent router it fails closed: an unreadable or failed classification is
// treated as off topic.
package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/llm"
	"mindspace-agent/internal/metrics"
	"mindspace-agent/internal/router"
)

const (
	Stage          = "guardrail"
	defaultTimeout = 10 * time.Second
)

// OffTopicReplies are the canned redirections returned for blocked messages.
var OffTopicReplies = []string{
	"My purpose is to provide support and information on mental well-being. I can't help with topics outside of that area. Is there anything related to mental health I can assist you with?",
	"My knowledge is focused specifically on mental health and well-being. My goal is to be a helpful resource in that area. How can I support you today?",
	"I can only answer questions related to mental health topics like stress, anxiety, and mindfulness. I am not equipped to handle other subjects. What's on your mind regarding your well-being?",
}

var errUnrecognized = errors.New("unrecognized topic")

var punctuation = regexp.MustCompile(`[^\w\s]`)

const systemInstruction = "You are a strict content classifier for a mental health chatbot. " +
	"Classify the user's text into exactly one of these three categories:\n" +
	"- 'mental_health': (stress, anxiety, emotions, therapy, life struggles)\n" +
	"- 'greeting': (hello, hi, good morning, how are you)\n" +
	"- 'off_topic': (coding, programming, math, politics, facts, general knowledge)\n\n" +
	"EXAMPLES:\n" +
	"User: 'I feel sad' -> mental_health\n" +
	"User: 'Write python code' -> off_topic\n" +
	"User: 'Who is the president?' -> off_topic\n" +
	"User: 'Hello there' -> greeting\n" +
	"User: 'Solve 2+2' -> off_topic\n\n" +
	"Now classify the following text. Output ONLY the category name, " +
	"or when JSON is required, ONLY {\"topic\": \"<category>\"}."

type Guard struct {
	gen     llm.Generator
	timeout time.Duration
	pick    func(n int) int
}

type Option func(*Guard)

func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithPicker replaces the random choice of canned reply.
func WithPicker(pick func(n int) int) Option {
	return func(g *Guard) {
		if pick != nil {
			g.pick = pick
		}
	}
}

func New(gen llm.Generator, opts ...Option) (*Guard, error) {
	if gen == nil {
		return nil, errors.New("guardrail: generator must not be nil")
	}
	g := &Guard{gen: gen, timeout: defaultTimeout, pick: rand.IntN}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ClassifyTopic labels text. Failures are logged and reported as off topic.
func (g *Guard) ClassifyTopic(ctx context.Context, text string) domain.Topic {
	topic, err := g.classify(ctx, text)
	if err != nil {
		metrics.RecordClassifierFailure(Stage)
		slog.Warn("guardrail classification failed, blocking", "err", err)
		topic = domain.TopicOffTopic
	}
	metrics.RecordGuardrail(string(topic))
	return topic
}

// Allowed reports whether text may proceed to routing.
func (g *Guard) Allowed(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return g.ClassifyTopic(ctx, text) != domain.TopicOffTopic
}

// OffTopicReply returns one of the canned redirections.
func (g *Guard) OffTopicReply() string {
	return OffTopicReplies[g.pick(len(OffTopicReplies))]
}

func (g *Guard) classify(ctx context.Context, text string) (domain.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := llm.GenerateChoice(ctx, g.gen, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: systemInstruction},
		{Role: domain.RoleUser, Content: fmt.Sprintf("User: '%s'", text)},
	}, topicChoice)
	if err != nil {
		return "", &router.ClassifierError{Stage: Stage, Err: err}
	}
	topic, ok := parseTopic(raw)
	if !ok {
		return "", &router.ClassifierError{Stage: Stage, Raw: raw, Err: errUnrecognized}
	}
	return topic, nil
}

var topicChoice = llm.Choice{
	Name:   "topic_classification",
	Field:  "topic",
	Values: []string{string(domain.TopicMentalHealth), string(domain.TopicGreeting), string(domain.TopicOffTopic)},
}

// parseTopic reads a {"topic": ...} answer when the backend returned one,
// then lower-cases the label, drops punctuation and looks for a label.
// The on-topic labels are checked first.
func parseTopic(raw string) (domain.Topic, bool) {
	var structured struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &structured); err == nil && structured.Topic != "" {
		raw = structured.Topic
	}
	s := punctuation.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "")
	for _, t := range []domain.Topic{domain.TopicMentalHealth, domain.TopicGreeting, domain.TopicOffTopic} {
		if strings.Contains(s, string(t)) {
			return t, true
		}
	}
	return "", false
}
