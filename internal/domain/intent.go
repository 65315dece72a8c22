package domain

// Intent is the Level-1 routing category.
type Intent string

const (
	IntentCrisisSuicide     Intent = "CRISIS_SUICIDE"
	IntentCrisisPanic       Intent = "CRISIS_PANIC"
	IntentMoodLog           Intent = "MOOD_LOG"
	IntentRoutingActivity   Intent = "ROUTING_ACTIVITY"
	IntentRoutingAssessment Intent = "ROUTING_ASSESSMENT"
	IntentGeneralChat       Intent = "GENERAL_CHAT"
)

// Intents lists every Level-1 category in prompt order.
var Intents = []Intent{
	IntentCrisisSuicide,
	IntentCrisisPanic,
	IntentMoodLog,
	IntentRoutingActivity,
	IntentRoutingAssessment,
	IntentGeneralChat,
}

// Activity is the Level-2a sub-category.
type Activity string

const (
	ActivityBreathing Activity = "breathing"
	ActivityStretch   Activity = "stretch"
	ActivityWalking   Activity = "walking"
)

var Activities = []Activity{ActivityBreathing, ActivityStretch, ActivityWalking}

// Assessment is the Level-2b sub-category.
type Assessment string

const (
	AssessmentAnxiety    Assessment = "anxiety"
	AssessmentDepression Assessment = "depression"
	AssessmentStress     Assessment = "stress"
)

var Assessments = []Assessment{AssessmentAnxiety, AssessmentDepression, AssessmentStress}

// ParseAssessment returns the assessment named by s.
func ParseAssessment(s string) (Assessment, bool) {
	for _, a := range Assessments {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Topic is the guardrail classification.
type Topic string

const (
	TopicMentalHealth Topic = "mental_health"
	TopicGreeting     Topic = "greeting"
	TopicOffTopic     Topic = "off_topic"
)

// WidgetType tells the caller which interactive element to render.
type WidgetType string

const (
	WidgetCrisisResource WidgetType = "crisis_resource"
	WidgetMoodTracker    WidgetType = "mood_tracker"
	WidgetOffTopic       WidgetType = "off_topic"
	WidgetGeneralChat    WidgetType = "general_chat"
)

// ActivityWidget maps an activity to its widget.
func ActivityWidget(a Activity) WidgetType { return WidgetType(a) }

// AssessmentWidget maps an assessment to its widget.
func AssessmentWidget(a Assessment) WidgetType { return WidgetType(a) }
