// Package assessment holds the self-report questionnaires offered by the
// assessment widgets and their scoring.
package assessment

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"mindspace-agent/internal/domain"
)

var ErrUnknownAssessment = errors.New("assessment: unknown assessment type")

type questionnaire struct {
	name      string
	questions []string
	threshold int
	high      string
	low       string
}

var questionnaires = map[domain.Assessment]questionnaire{
	domain.AssessmentAnxiety: {
		name: "GAD-7",
		questions: []string{
			"Feeling nervous, anxious, or on edge",
			"Not being able to stop or control worrying",
			"Worrying too much about different things",
			"Trouble relaxing",
			"Being so restless that it is hard to sit still",
			"Becoming easily annoyed or irritable",
			"Feeling afraid as if something awful might happen",
		},
		threshold: 10,
		high:      "Moderate/Severe Anxiety",
		low:       "Mild Anxiety",
	},
	domain.AssessmentDepression: {
		name: "PHQ-9",
		questions: []string{
			"Little interest or pleasure in doing things",
			"Feeling down, depressed, or hopeless",
			"Trouble falling or staying asleep, or sleeping too much",
			"Feeling tired or having little energy",
			"Poor appetite or overeating",
			"Feeling bad about yourself",
			"Trouble concentrating on things",
			"Moving or speaking slowly or being fidgety",
			"Thoughts of self-harm",
		},
		threshold: 10,
		high:      "Moderate/Severe Depression",
		low:       "Mild Depression",
	},
	domain.AssessmentStress: {
		name: "Stress",
		questions: []string{
			"I found it hard to wind down",
			"I tended to over-react to situations",
			"I felt that I was using a lot of nervous energy",
			"I found myself getting agitated",
			"I found it difficult to relax",
			"I was intolerant of anything that kept me from getting on with what I was doing",
			"I felt that I was rather touchy",
			"I felt upset by trivial things",
			"I found it hard to calm down after something upset me",
			"I found it difficult to tolerate interruptions",
		},
		threshold: 18,
		high:      "High Stress",
		low:       "Low/Moderate Stress",
	},
}

// Result is a scored questionnaire.
type Result struct {
	Summary string `json:"result"`
	Score   int    `json:"score"`
}

// Questions returns the items of the questionnaire for a.
func Questions(a domain.Assessment) ([]string, error) {
	q, ok := questionnaires[a]
	if !ok {
		return nil, ErrUnknownAssessment
	}
	return append([]string(nil), q.questions...), nil
}

// Score sums the answers and interprets the total. Answers that are not
// non-negative integers count as zero.
func Score(a domain.Assessment, answers map[string]any) (Result, error) {
	q, ok := questionnaires[a]
	if !ok {
		return Result{}, ErrUnknownAssessment
	}
	total := 0
	for _, v := range answers {
		total += answerValue(v)
	}
	label := q.low
	if total >= q.threshold {
		label = q.high
	}
	return Result{
		Summary: fmt.Sprintf("Your %s score is %d. %s", q.name, total, label),
		Score:   total,
	}, nil
}

func answerValue(v any) int {
	switch x := v.(type) {
	case float64:
		if x >= 0 && x == math.Trunc(x) && x <= math.MaxInt32 {
			return int(x)
		}
	case int:
		if x >= 0 && x <= math.MaxInt32 {
			return x
		}
	case string:
		if x == "" {
			return 0
		}
		for _, r := range x {
			if r < '0' || r > '9' {
				return 0
			}
		}
		if n, err := strconv.ParseInt(x, 10, 32); err == nil {
			return int(n)
		}
	}
	return 0
}
