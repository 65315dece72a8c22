// Package router resolves what a user message asks for. Level 1 picks a broad
// intent; activity and assessment requests get a second, narrower pass.
// Classifier failures never escape: each level falls back to a fixed default.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/llm"
	"mindspace-agent/internal/metrics"
)

const (
	DefaultIntent     = domain.IntentGeneralChat
	DefaultActivity   = domain.ActivityBreathing
	DefaultAssessment = domain.AssessmentStress

	defaultTimeout = 10 * time.Second
)

// Fixed replies for the branches that bypass generation.
const (
	CrisisReply = "I am very concerned about you. You are not alone. Please reach out to these crisis lines immediately:\n\n" +
		"**National Helpline: 14416**\n**Vandrevala Foundation: 9999 666 555**"
	PanicReply              = "I am here with you. Let's focus on your breathing right now. Follow this animation."
	MoodReply               = "Understood. Let's log how you are feeling right now."
	ActivityFallbackReply   = "Here is a breathing exercise to help you center yourself."
	AssessmentFallbackReply = "Let's check your stress levels."
)

// ActivityReplies acknowledge the activity the user asked for.
var ActivityReplies = map[domain.Activity]string{
	domain.ActivityBreathing: "That sounds like a good idea. Let's start a breathing exercise.",
	domain.ActivityStretch:   "That sounds like a good idea. Let's do some gentle stretches.",
	domain.ActivityWalking:   "That sounds like a good idea. Let's go for a mindful walk.",
}

// AssessmentReplies introduce the questionnaire the user asked for.
var AssessmentReplies = map[domain.Assessment]string{
	domain.AssessmentAnxiety:    "Let's check in on your anxiety levels with a short questionnaire.",
	domain.AssessmentDepression: "Let's check in on your mood with a short depression questionnaire.",
	domain.AssessmentStress:     "Let's check in on your stress levels with a short questionnaire.",
}

// Decision is the outcome of routing one message. Direct decisions carry a
// fixed reply; the rest must go through the general chat pipeline.
type Decision struct {
	Intent domain.Intent
	Widget domain.WidgetType
	Reply  string
	Direct bool
}

type Router struct {
	gen     llm.Generator
	timeout time.Duration
}

type Option func(*Router)

// WithTimeout bounds each classifier call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func New(gen llm.Generator, opts ...Option) (*Router, error) {
	if gen == nil {
		return nil, errors.New("router: generator must not be nil")
	}
	r := &Router{gen: gen, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Route classifies message and resolves the branch it belongs to.
func (r *Router) Route(ctx context.Context, message string) Decision {
	intent := r.BroadIntent(ctx, message)
	metrics.RecordIntent(string(intent))

	switch intent {
	case domain.IntentCrisisSuicide:
		return Decision{Intent: intent, Widget: domain.WidgetCrisisResource, Reply: CrisisReply, Direct: true}
	case domain.IntentCrisisPanic:
		return Decision{Intent: intent, Widget: domain.ActivityWidget(domain.ActivityBreathing), Reply: PanicReply, Direct: true}
	case domain.IntentMoodLog:
		return Decision{Intent: intent, Widget: domain.WidgetMoodTracker, Reply: MoodReply, Direct: true}
	case domain.IntentRoutingActivity:
		activity, err := r.classifyActivity(ctx, message)
		if err != nil {
			return Decision{Intent: intent, Widget: domain.ActivityWidget(DefaultActivity), Reply: ActivityFallbackReply, Direct: true}
		}
		return Decision{Intent: intent, Widget: domain.ActivityWidget(activity), Reply: ActivityReplies[activity], Direct: true}
	case domain.IntentRoutingAssessment:
		assessment, err := r.classifyAssessment(ctx, message)
		if err != nil {
			return Decision{Intent: intent, Widget: domain.AssessmentWidget(DefaultAssessment), Reply: AssessmentFallbackReply, Direct: true}
		}
		return Decision{Intent: intent, Widget: domain.AssessmentWidget(assessment), Reply: AssessmentReplies[assessment], Direct: true}
	default:
		return Decision{Intent: domain.IntentGeneralChat, Widget: domain.WidgetGeneralChat}
	}
}

// BroadIntent runs the Level-1 classifier. Any failure yields GENERAL_CHAT.
func (r *Router) BroadIntent(ctx context.Context, message string) domain.Intent {
	intent, err := classifyStage(ctx, r, StageBroad, broadIntentPrompt(message), domain.Intents)
	if err != nil {
		return DefaultIntent
	}
	return intent
}

// ActivityType runs the Level-2a classifier. Any failure yields breathing.
func (r *Router) ActivityType(ctx context.Context, message string) domain.Activity {
	activity, err := r.classifyActivity(ctx, message)
	if err != nil {
		return DefaultActivity
	}
	return activity
}

// AssessmentType runs the Level-2b classifier. Any failure yields stress.
func (r *Router) AssessmentType(ctx context.Context, message string) domain.Assessment {
	assessment, err := r.classifyAssessment(ctx, message)
	if err != nil {
		return DefaultAssessment
	}
	return assessment
}

func (r *Router) classifyActivity(ctx context.Context, message string) (domain.Activity, error) {
	return classifyStage(ctx, r, StageActivity, activityPrompt(message), domain.Activities)
}

func (r *Router) classifyAssessment(ctx context.Context, message string) (domain.Assessment, error) {
	return classifyStage(ctx, r, StageAssessment, assessmentPrompt(message), domain.Assessments)
}

func classifyStage[T ~string](ctx context.Context, r *Router, stage, prompt string, valid []T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := Classify(ctx, r.gen, stage, prompt, valid)
	if err != nil {
		metrics.RecordClassifierFailure(stage)
		slog.Warn("classifier failed, using default", "stage", stage, "err", err)
		return out, err
	}
	return out, nil
}
