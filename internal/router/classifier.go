package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/llm"
)

// Classifier stages, used in errors, logs and metrics.
const (
	StageBroad      = "broad_intent"
	StageActivity   = "activity"
	StageAssessment = "assessment"
)

var (
	ErrMalformedOutput = errors.New("malformed classifier output")
	ErrUnknownCategory = errors.New("category not in valid set")
)

// ClassifierError reports a classifier call whose output could not be turned
// into one of the expected categories.
type ClassifierError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ClassifierError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("router: %s classifier: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("router: %s classifier: %v (raw %q)", e.Stage, e.Err, truncate(e.Raw, 80))
}

func (e *ClassifierError) Unwrap() error { return e.Err }

type categoryPayload struct {
	Category string `json:"category"`
}

// Classify sends prompt as a single system message and validates the
// {"category": ...} answer against valid. Backends that support structured
// output are constrained to the valid values; every answer still goes through
// the same tolerant parser. Matching ignores case and surrounding whitespace;
// the returned value is the canonical member of valid.
func Classify[T ~string](ctx context.Context, gen llm.Generator, stage, prompt string, valid []T) (T, error) {
	var zero T
	values := make([]string, len(valid))
	for i, v := range valid {
		values[i] = string(v)
	}
	raw, err := llm.GenerateChoice(ctx, gen,
		[]domain.ChatMessage{{Role: domain.RoleSystem, Content: prompt}},
		llm.Choice{Name: stage, Field: "category", Values: values},
	)
	if err != nil {
		return zero, &ClassifierError{Stage: stage, Err: err}
	}

	category, err := parseCategory(raw)
	if err != nil {
		return zero, &ClassifierError{Stage: stage, Raw: raw, Err: err}
	}
	for _, v := range valid {
		if strings.EqualFold(string(v), category) {
			return v, nil
		}
	}
	return zero, &ClassifierError{Stage: stage, Raw: raw, Err: fmt.Errorf("%w: %q", ErrUnknownCategory, category)}
}

// parseCategory extracts the category field from a model answer. Markdown
// code fences and text around the JSON object are tolerated.
func parseCategory(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrMalformedOutput
	}

	var p categoryPayload
	if err := json.Unmarshal([]byte(s[start:end+1]), &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	category := strings.TrimSpace(p.Category)
	if category == "" {
		return "", fmt.Errorf("%w: empty category", ErrMalformedOutput)
	}
	return category, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
