package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"mindspace-agent/internal/assessment"
	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type AssessmentUseCase interface {
	Questions(ctx context.Context, assessmentType string) ([]string, error)
	Submit(ctx context.Context, in usecase.AssessmentInput) (assessment.Result, error)
}

type Options struct {
	// RatePerSecond and RateBurst size the per-email token bucket. A zero
	// RatePerSecond disables limiting.
	RatePerSecond float64
	RateBurst     int
}

type Handler struct {
	chat        ChatUseCase
	assessments AssessmentUseCase
	limits      *limiterSet
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Email    string        `json:"email"`
	Message  string        `json:"message"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Response   string `json:"response"`
	Reply      string `json:"reply"`
	WidgetType string `json:"widget_type"`
}

type questionsResponse struct {
	Type      string   `json:"type"`
	Questions []string `json:"questions"`
}

type submitRequest struct {
	Email   string         `json:"email"`
	Answers map[string]any `json:"answers"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHandler(chat ChatUseCase, assessments AssessmentUseCase, opts Options) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if assessments == nil {
		return nil, errors.New("handler: assessment use case must not be nil")
	}
	return &Handler{
		chat:        chat,
		assessments: assessments,
		limits:      newLimiterSet(opts.RatePerSecond, opts.RateBurst),
	}, nil
}

// Handle serves API Gateway proxy events:
//
//	POST /chat
//	GET  /assessment/questions/{type}
//	POST /assessment/{type}
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := slog.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	body, err := requestBody(req)
	if err != nil {
		return errorJSON(correlationID, log, usecase.ErrorInvalidInput, "invalid_body", err), nil
	}

	segments := pathSegments(req.Path)
	switch {
	case req.HTTPMethod == http.MethodPost && len(segments) == 1 && segments[0] == "chat":
		return h.handleChat(ctx, correlationID, log, body), nil
	case req.HTTPMethod == http.MethodGet && len(segments) == 3 && segments[0] == "assessment" && segments[1] == "questions":
		return h.handleQuestions(ctx, correlationID, log, segments[2]), nil
	case req.HTTPMethod == http.MethodPost && len(segments) == 2 && segments[0] == "assessment":
		return h.handleSubmit(ctx, correlationID, log, segments[1], body), nil
	}
	return errorJSON(correlationID, log, usecase.ErrorNotFound, "route_not_found", nil), nil
}

func (h *Handler) handleChat(ctx context.Context, correlationID string, log *slog.Logger, body string) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(correlationID, log, usecase.ErrorInvalidInput, "invalid_body", err)
	}
	message := req.Message
	if strings.TrimSpace(message) == "" {
		message = lastUserMessage(req.Messages)
	}
	if !h.limits.allow(req.Email) {
		return errorJSON(correlationID, log, usecase.ErrorRateLimited, "client_rate_limited", nil)
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{Email: req.Email, Message: message})
	if err != nil {
		return useCaseError(correlationID, log, err)
	}
	log.Info("chat handled", "widget_type", out.Widget)
	return okJSON(correlationID, chatResponse{Response: out.Reply, Reply: out.Reply, WidgetType: string(out.Widget)})
}

func (h *Handler) handleQuestions(ctx context.Context, correlationID string, log *slog.Logger, assessmentType string) events.APIGatewayProxyResponse {
	questions, err := h.assessments.Questions(ctx, assessmentType)
	if err != nil {
		return useCaseError(correlationID, log, err)
	}
	return okJSON(correlationID, questionsResponse{Type: strings.ToLower(assessmentType), Questions: questions})
}

func (h *Handler) handleSubmit(ctx context.Context, correlationID string, log *slog.Logger, assessmentType, body string) events.APIGatewayProxyResponse {
	var req submitRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(correlationID, log, usecase.ErrorInvalidInput, "invalid_body", err)
	}
	if !h.limits.allow(req.Email) {
		return errorJSON(correlationID, log, usecase.ErrorRateLimited, "client_rate_limited", nil)
	}
	res, err := h.assessments.Submit(ctx, usecase.AssessmentInput{Email: req.Email, Type: assessmentType, Answers: req.Answers})
	if err != nil {
		return useCaseError(correlationID, log, err)
	}
	return okJSON(correlationID, res)
}

// lastUserMessage returns the newest non-empty user entry of a chat transcript.
func lastUserMessage(msgs []chatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(msgs[i].Role, domain.RoleUser) && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return ""
}

func useCaseError(correlationID string, log *slog.Logger, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return errorJSON(correlationID, log, ucErr.Code, ucErr.Reason, ucErr.Err)
	}
	return errorJSON(correlationID, log, usecase.ErrorInternal, "unexpected_error", err)
}

func errorJSON(correlationID string, log *slog.Logger, code usecase.ErrorCode, reason string, cause error) events.APIGatewayProxyResponse {
	status := statusFor(code)
	attrs := []any{"status", status, "code", code, "reason", reason}
	if cause != nil {
		attrs = append(attrs, "err", cause)
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}
	return respond(correlationID, status, errorResponse{Error: string(code), Message: messageFor(code, reason)})
}

func okJSON(correlationID string, v any) events.APIGatewayProxyResponse {
	return respond(correlationID, http.StatusOK, v)
}

func respond(correlationID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"internal error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorUnauthenticated:
		return http.StatusUnauthorized
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var reasonMessages = map[string]string{
	"missing_identity":    "email is required",
	"unknown_identity":    "no conversation is registered for this email",
	"empty_message":       "message content is required",
	"message_too_long":    "message is too long",
	"missing_answers":     "answers are required",
	"unknown_assessment":  "unknown assessment type",
	"invalid_body":        "request body must be valid JSON",
	"route_not_found":     "route not found",
	"client_rate_limited": "too many requests, slow down",
}

func messageFor(code usecase.ErrorCode, reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	switch code {
	case usecase.ErrorRateLimited:
		return "the assistant is busy, try again shortly"
	case usecase.ErrorUpstream:
		return "the assistant is unavailable, try again later"
	default:
		return "internal error"
	}
}

func requestBody(req events.APIGatewayProxyRequest) (string, error) {
	if !req.IsBase64Encoded {
		return req.Body, nil
	}
	raw, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
