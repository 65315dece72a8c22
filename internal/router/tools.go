package router

import (
	"fmt"
	"regexp"
	"strings"

	"mindspace-agent/internal/domain"
)

// Tool is an interactive widget the reply model may trigger by emitting Tag.
type Tool struct {
	Name    string
	Group   string
	Tag     string
	Widget  domain.WidgetType
	Trigger string
}

// Tools lists every widget tag in prompt order.
var Tools = []Tool{
	{
		Name:    "mood_tracker",
		Tag:     "<<ACTION:MOOD_TRACKER>>",
		Widget:  domain.WidgetMoodTracker,
		Trigger: "Use this when the user explicitly asks to log mood, OR when the user shares a significant emotional experience (good or bad).",
	},
	{
		Name:    "breathing",
		Group:   "activities",
		Tag:     "<<ACTION:ACTIVITY_BREATHING>>",
		Widget:  domain.ActivityWidget(domain.ActivityBreathing),
		Trigger: "CRITICAL: Use this IMMEDIATELY if the user mentions panic, 'can't breathe', hyperventilating, or extreme anxiety.",
	},
	{
		Name:    "stretch",
		Group:   "activities",
		Tag:     "<<ACTION:ACTIVITY_STRETCH>>",
		Widget:  domain.ActivityWidget(domain.ActivityStretch),
		Trigger: "Use this when the user mentions physical tension, sitting for too long, or fatigue.",
	},
	{
		Name:    "walking",
		Group:   "activities",
		Tag:     "<<ACTION:ACTIVITY_WALK>>",
		Widget:  domain.ActivityWidget(domain.ActivityWalking),
		Trigger: "Use this when the user feels restless, trapped, or needs a change of scenery.",
	},
	{
		Name:    "anxiety",
		Group:   "assess",
		Tag:     "<<ACTION:ASSESS_ANXIETY>>",
		Widget:  domain.AssessmentWidget(domain.AssessmentAnxiety),
		Trigger: "Use this when the user asks for it, OR when the user agrees to your suggestion to check their anxiety levels.",
	},
	{
		Name:    "depression",
		Group:   "assess",
		Tag:     "<<ACTION:ASSESS_DEPRESSION>>",
		Widget:  domain.AssessmentWidget(domain.AssessmentDepression),
		Trigger: "Use this when the user asks for it, OR when the user agrees to your suggestion to check their depression levels.",
	},
	{
		Name:    "stress",
		Group:   "assess",
		Tag:     "<<ACTION:ASSESS_STRESS>>",
		Widget:  domain.AssessmentWidget(domain.AssessmentStress),
		Trigger: "Use this when the user asks for it, OR when the user agrees to your suggestion to check their stress levels.",
	},
}

var actionTag = regexp.MustCompile(`<<ACTION:.*?>>`)

// ToolRequest is a widget the reply model asked for.
type ToolRequest struct {
	Tag    string
	Widget domain.WidgetType
}

// Reply is a generated answer split into the text shown to the caller and an
// optional tool request. Raw keeps the tags and is what history stores.
type Reply struct {
	Raw  string
	Text string
	Tool *ToolRequest
}

// Widget returns the requested widget, or general_chat when none was asked for.
func (r Reply) Widget() domain.WidgetType {
	if r.Tool == nil {
		return domain.WidgetGeneralChat
	}
	return r.Tool.Widget
}

// ParseReply scans raw for action tags. The earliest known tag decides the
// tool; every tag, known or not, is stripped from Text.
func ParseReply(raw string) Reply {
	out := Reply{Raw: raw}

	for _, loc := range actionTag.FindAllStringIndex(raw, -1) {
		if t, ok := toolByTag(raw[loc[0]:loc[1]]); ok {
			out.Tool = &ToolRequest{Tag: t.Tag, Widget: t.Widget}
			break
		}
	}
	out.Text = strings.TrimSpace(actionTag.ReplaceAllString(raw, ""))
	return out
}

func toolByTag(tag string) (Tool, bool) {
	for _, t := range Tools {
		if t.Tag == tag {
			return t, true
		}
	}
	return Tool{}, false
}

// ToolSystemPrompt describes the widget tags and the consent rules for using
// them. It is appended to the general chat system prompt.
func ToolSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("\n\n### AVAILABLE INTERACTIVE TOOLS ###\n")
	sb.WriteString("You have access to interactive widgets. You MUST use the specific tags below to trigger them:\n")
	for _, t := range Tools {
		label := titleCase(t.Name)
		if t.Group != "" {
			label += " " + titleCase(t.Group)
		}
		fmt.Fprintf(&sb, "- %s: %s (Trigger: %s)\n", label, t.Tag, t.Trigger)
	}
	sb.WriteString(proactiveGuidelines)
	return sb.String()
}

func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

const proactiveGuidelines = `
### INTERACTION PROTOCOL: THE "ASK FIRST" RULE ###

You are an empathetic mental health assistant. Your goal is to get the user to use the tools, but you must be polite and consent-based.

1. **CRISIS (Panic/Suicide):**
   - IGNORE "asking for permission".
   - ACT IMMEDIATELY.
   - Output <<ACTION:ACTIVITY_BREATHING>> or crisis resources instantly.

2. **ASSESSMENTS (Depression/Anxiety/Stress):**
   - **Trigger Condition:** User seems sad, unmotivated, anxious (but not panicking), or stressed.
   - **Constraint:** DO NOT throw a tag at them immediately.
   - **Step 1 (The Proposal):** Empathize first, then ask: "Would you be open to taking a quick assessment to help us understand where you're at?"
   - **Step 2 (The Execution):** IF (and ONLY IF) the user says "Yes", "Sure", "Okay", or "I guess", THEN output the specific tag.

### FEW-SHOT EXAMPLES (Follow these patterns) ###

[Scenario: Depression Hand-off]
User: "I just don't feel like getting out of bed these days. It's pointless."
Assistant: "I hear you, and I'm sorry it feels so heavy right now. That feeling of pointlessness is really hard. Would you be open to a quick depression check-in? It helps me find the right support for you."
User: "Yeah, okay."
Assistant: "Thank you for trusting me. Let's do this together. <<ACTION:ASSESS_DEPRESSION>>"

[Scenario: Anxiety Hand-off]
User: "I have exams coming up and my stomach hurts from worry."
Assistant: "That physical knot in the stomach is a very real sign of stress. I can help. Shall we check your anxiety levels to see which tools might help best?"
User: "I don't know..."
Assistant: "No pressure at all. We can just talk, or try a breathing exercise instead. What do you prefer?"
User: "Let's try the check."
Assistant: "Okay. Opening the assessment now. <<ACTION:ASSESS_ANXIETY>>"
`
