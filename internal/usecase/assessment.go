package usecase

import (
	"context"
	"errors"
	"strings"

	"mindspace-agent/internal/assessment"
	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/identity"
)

// AssessmentService serves questionnaires and scores submitted answers for
// known users. Storing results is left to the account service.
type AssessmentService struct {
	identity IdentityResolver
}

type AssessmentInput struct {
	Email   string
	Type    string
	Answers map[string]any
}

func NewAssessmentService(id IdentityResolver) (*AssessmentService, error) {
	if id == nil {
		return nil, errors.New("usecase: identity resolver must not be nil")
	}
	return &AssessmentService{identity: id}, nil
}

func (s *AssessmentService) Questions(_ context.Context, assessmentType string) ([]string, error) {
	a, ok := domain.ParseAssessment(strings.ToLower(strings.TrimSpace(assessmentType)))
	if !ok {
		return nil, newError(ErrorNotFound, "unknown_assessment", nil)
	}
	q, err := assessment.Questions(a)
	if err != nil {
		return nil, newError(ErrorInternal, "questions_error", err)
	}
	return q, nil
}

func (s *AssessmentService) Submit(ctx context.Context, in AssessmentInput) (assessment.Result, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return assessment.Result{}, newError(ErrorUnauthenticated, "missing_identity", nil)
	}
	if len(in.Answers) == 0 {
		return assessment.Result{}, newError(ErrorInvalidInput, "missing_answers", nil)
	}
	if _, err := s.identity.ConversationID(ctx, email); err != nil {
		if errors.Is(err, identity.ErrUnknownIdentity) {
			return assessment.Result{}, newError(ErrorNotFound, "unknown_identity", err)
		}
		return assessment.Result{}, newError(ErrorInternal, "identity_lookup_error", err)
	}

	a, ok := domain.ParseAssessment(strings.ToLower(strings.TrimSpace(in.Type)))
	if !ok {
		return assessment.Result{}, newError(ErrorInvalidInput, "unknown_assessment", nil)
	}
	res, err := assessment.Score(a, in.Answers)
	if err != nil {
		return assessment.Result{}, newError(ErrorInternal, "score_error", err)
	}
	return res, nil
}
