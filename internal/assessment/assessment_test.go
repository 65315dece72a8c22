package assessment

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"mindspace-agent/internal/domain"
)

func TestQuestions(t *testing.T) {
	want := map[domain.Assessment]int{
		domain.AssessmentAnxiety:    7,
		domain.AssessmentDepression: 9,
		domain.AssessmentStress:     10,
	}
	for a, n := range want {
		q, err := Questions(a)
		require.NoError(t, err)
		require.Len(t, q, n)
	}

	q, _ := Questions(domain.AssessmentAnxiety)
	q[0] = "mutated"
	again, _ := Questions(domain.AssessmentAnxiety)
	require.NotEqual(t, "mutated", again[0])

	_, err := Questions("sleep")
	require.ErrorIs(t, err, ErrUnknownAssessment)
}

func TestScore_Thresholds(t *testing.T) {
	cases := []struct {
		a       domain.Assessment
		answers map[string]any
		want    Result
	}{
		{domain.AssessmentAnxiety, map[string]any{"q1": 3.0, "q2": 3.0, "q3": 3.0, "q4": 1.0}, Result{"Your GAD-7 score is 10. Moderate/Severe Anxiety", 10}},
		{domain.AssessmentAnxiety, map[string]any{"q1": 3.0, "q2": 3.0, "q3": 3.0}, Result{"Your GAD-7 score is 9. Mild Anxiety", 9}},
		{domain.AssessmentDepression, map[string]any{"q1": "2", "q2": "3"}, Result{"Your PHQ-9 score is 5. Mild Depression", 5}},
		{domain.AssessmentStress, map[string]any{"a": 9.0, "b": 9.0}, Result{"Your Stress score is 18. High Stress", 18}},
		{domain.AssessmentStress, map[string]any{"a": 17.0}, Result{"Your Stress score is 17. Low/Moderate Stress", 17}},
	}
	for _, c := range cases {
		got, err := Score(c.a, c.answers)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestScore_NonNumericAnswersCountZero(t *testing.T) {
	var answers map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":-2,"c":1.5,"d":null,"e":true,"f":"-1","g":"2"}`), &answers))
	got, err := Score(domain.AssessmentStress, answers)
	require.NoError(t, err)
	require.Equal(t, 2, got.Score)
}

func TestScore_UnknownType(t *testing.T) {
	_, err := Score("sleep", nil)
	require.ErrorIs(t, err, ErrUnknownAssessment)
}

func TestScore_OversizedAnswersCountZero(t *testing.T) {
	answers := map[string]any{
		"a": "9223372036854775807",
		"b": "9223372036854775807",
		"c": "2147483648",
		"d": math.MaxInt64,
		"e": "2147483647",
		"f": 3.0,
	}
	got, err := Score(domain.AssessmentStress, answers)
	require.NoError(t, err)
	require.Equal(t, math.MaxInt32+3, got.Score)
	require.Contains(t, got.Summary, "High Stress")
}
