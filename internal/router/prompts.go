package router

import (
	"fmt"
	"strings"
)

const outputInstruction = `Output ONLY JSON: {"category": "CATEGORY_NAME"}`

func broadIntentPrompt(message string) string {
	return strings.Join([]string{
		"Classify the user's intent into ONE of these BROAD categories.",
		outputInstruction,
		"",
		"CATEGORIES:",
		`1. "CRISIS_SUICIDE" -> Self-harm, ending life, extreme hopelessness.`,
		`2. "CRISIS_PANIC" -> Panicking, hyperventilating, "can't breathe".`,
		`3. "MOOD_LOG" -> Explicitly wants to log mood.`,
		`4. "ROUTING_ACTIVITY" -> User wants to do a physical or relaxation exercise (breathe, stretch, walk, meditate).`,
		`5. "ROUTING_ASSESSMENT" -> User wants to take a test, quiz, or check mental levels (anxiety, depression, stress).`,
		`6. "GENERAL_CHAT" -> Normal conversation, venting, questions.`,
		"",
		fmt.Sprintf("USER INPUT: %q", message),
	}, "\n")
}

func activityPrompt(message string) string {
	return strings.Join([]string{
		"The user wants to perform an activity. Classify into one specific type.",
		outputInstruction,
		"",
		"CATEGORIES:",
		`1. "breathing" -> Relaxation, meditation, calming down, deep breaths.`,
		`2. "stretch" -> Physical tension, neck pain, sitting too long, yoga.`,
		`3. "walking" -> Restless, need a break, change of scenery, trapped.`,
		"",
		fmt.Sprintf("USER INPUT: %q", message),
	}, "\n")
}

func assessmentPrompt(message string) string {
	return strings.Join([]string{
		"The user wants to take a mental health assessment. Classify into one specific type.",
		outputInstruction,
		"",
		"CATEGORIES:",
		`1. "anxiety" -> GAD-7, worried, nervous, on edge.`,
		`2. "depression" -> PHQ-9, sad, hopeless, no energy.`,
		`3. "stress" -> Overwhelmed, burnout, pressure.`,
		"",
		fmt.Sprintf("USER INPUT: %q", message),
	}, "\n")
}
