package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"mindspace-agent/internal/assessment"
	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/usecase"
)

type stubChat struct {
	out   usecase.ChatOutput
	err   error
	in    usecase.ChatInput
	calls int
}

func (s *stubChat) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.calls++
	s.in = in
	return s.out, s.err
}

type stubAssessments struct {
	questions []string
	result    assessment.Result
	err       error
	gotType   string
	in        usecase.AssessmentInput
}

func (s *stubAssessments) Questions(_ context.Context, assessmentType string) ([]string, error) {
	s.gotType = assessmentType
	return s.questions, s.err
}

func (s *stubAssessments) Submit(_ context.Context, in usecase.AssessmentInput) (assessment.Result, error) {
	s.in = in
	return s.result, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, chat *stubChat, a *stubAssessments, opts Options) *Handler {
	t.Helper()
	h, err := NewHandler(chat, a, opts)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubAssessments{}, Options{})
	require.Error(t, err)
	_, err = NewHandler(&stubChat{}, nil, Options{})
	require.Error(t, err)
}

func TestHandle_Chat(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Reply: "Let's breathe together.", Widget: "breathing"}}
	h := newTestHandler(t, uc, &stubAssessments{}, Options{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"email":"a@example.com","message":"I'm panicking"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{Email: "a@example.com", Message: "I'm panicking"}, uc.in)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, chatResponse{Response: "Let's breathe together.", Reply: "Let's breathe together.", WidgetType: "breathing"}, out)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_ChatUsesLastUserMessage(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Reply: "ok", Widget: domain.WidgetGeneralChat}}
	h := newTestHandler(t, uc, &stubAssessments{}, Options{})

	body := `{"email":"a@example.com","messages":[
		{"role":"user","content":"first"},
		{"role":"assistant","content":"reply"},
		{"role":"user","content":"second"},
		{"role":"assistant","content":"reply again"}
	]}`
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat/", body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "second", uc.in.Message)
}

func TestHandle_Base64Body(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Reply: "ok", Widget: domain.WidgetGeneralChat}}
	h := newTestHandler(t, uc, &stubAssessments{}, Options{})

	event := makeEvent(http.MethodPost, "/chat", base64.StdEncoding.EncodeToString([]byte(`{"email":"a@example.com","message":"hi"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", uc.in.Message)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubChat{}
	h := newTestHandler(t, uc, &stubAssessments{}, Options{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Zero(t, uc.calls)
}

func TestHandle_UnknownRoute(t *testing.T) {
	h := newTestHandler(t, &stubChat{}, &stubAssessments{}, Options{})

	for _, ev := range []events.APIGatewayProxyRequest{
		makeEvent(http.MethodGet, "/chat", ""),
		makeEvent(http.MethodPost, "/ask", `{}`),
		makeEvent(http.MethodDelete, "/assessment/anxiety", ""),
	} {
		resp, err := h.Handle(context.Background(), ev)
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, ev.HTTPMethod+" "+ev.Path)
	}
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "missing identity", err: &usecase.Error{Code: usecase.ErrorUnauthenticated, Reason: "missing_identity"}, status: http.StatusUnauthorized, code: string(usecase.ErrorUnauthenticated)},
		{name: "unknown identity", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "unknown_identity"}, status: http.StatusNotFound, code: string(usecase.ErrorNotFound)},
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "llm_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "llm_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "identity_lookup_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubChat{err: tc.err}, &stubAssessments{}, Options{})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"email":"a@example.com","message":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.NotEmpty(t, out.Message)
			require.NotContains(t, out.Message, "boom")
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Reply: "ok", Widget: domain.WidgetGeneralChat}}
	h := newTestHandler(t, uc, &stubAssessments{}, Options{})

	event := makeEvent(http.MethodPost, "/chat", `{"email":"a@example.com","message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_RateLimitPerEmail(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Reply: "ok", Widget: domain.WidgetGeneralChat}}
	h := newTestHandler(t, uc, &stubAssessments{}, Options{RatePerSecond: 0.001, RateBurst: 2})

	send := func(email string) int {
		resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"email":"`+email+`","message":"hi"}`))
		require.NoError(t, err)
		return resp.StatusCode
	}
	require.Equal(t, http.StatusOK, send("a@example.com"))
	require.Equal(t, http.StatusOK, send("A@example.com"))
	require.Equal(t, http.StatusTooManyRequests, send("a@example.com"))
	require.Equal(t, http.StatusOK, send("b@example.com"))
	require.Equal(t, 3, uc.calls)
}

func TestHandle_AssessmentQuestions(t *testing.T) {
	a := &stubAssessments{questions: []string{"q1", "q2"}}
	h := newTestHandler(t, &stubChat{}, a, Options{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/assessment/questions/Anxiety", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Anxiety", a.gotType)

	out := parseBody[questionsResponse](t, resp.Body)
	require.Equal(t, questionsResponse{Type: "anxiety", Questions: []string{"q1", "q2"}}, out)
}

func TestHandle_AssessmentSubmit(t *testing.T) {
	a := &stubAssessments{result: assessment.Result{Summary: "Your PHQ-9 score is 4. Mild Depression", Score: 4}}
	h := newTestHandler(t, &stubChat{}, a, Options{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/assessment/depression", `{"email":"a@example.com","answers":{"q1":1,"q2":3}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "depression", a.in.Type)
	require.Equal(t, "a@example.com", a.in.Email)
	require.Equal(t, map[string]any{"q1": 1.0, "q2": 3.0}, a.in.Answers)

	out := parseBody[map[string]any](t, resp.Body)
	require.Equal(t, "Your PHQ-9 score is 4. Mild Depression", out["result"])
	require.Equal(t, 4.0, out["score"])
}

func TestHandle_AssessmentUnknownType(t *testing.T) {
	a := &stubAssessments{err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "unknown_assessment"}}
	h := newTestHandler(t, &stubChat{}, a, Options{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/assessment/questions/sleep", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "unknown assessment type", parseBody[errorResponse](t, resp.Body).Message)
}

func TestEchoAdapter(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Reply: "hello", Widget: domain.WidgetGeneralChat}}
	h := newTestHandler(t, uc, &stubAssessments{questions: []string{"q"}}, Options{})

	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"email":"a@example.com","message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", "corr-9")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "corr-9", rec.Header().Get("X-Correlation-Id"))
	require.Equal(t, "hello", parseBody[chatResponse](t, rec.Body.String()).Reply)

	req = httptest.NewRequest(http.MethodGet, "/assessment/questions/stress", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
