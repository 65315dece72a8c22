package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/identity"
	"mindspace-agent/internal/llm"
	"mindspace-agent/internal/metrics"
	"mindspace-agent/internal/router"
)

const (
	defaultHistoryLimit      = 20
	defaultTopK              = 5
	defaultMaxMessageLength  = 2000
	defaultStorageTimeout    = 5 * time.Second
	defaultGenerationTimeout = 30 * time.Second
	logPreviewRunes          = 50
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type IdentityResolver interface {
	ConversationID(ctx context.Context, email string) (string, error)
}

type HistoryStore interface {
	Append(ctx context.Context, conversationID, senderID, content string) error
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

type TopicGuard interface {
	Allowed(ctx context.Context, text string) bool
	OffTopicReply() string
}

type IntentRouter interface {
	Route(ctx context.Context, message string) router.Decision
}

type Retriever interface {
	Search(ctx context.Context, query string, k int) []domain.Snippet
}

// Dependencies are constructed once per process. History and Retriever are
// optional: without them replies are generated without continuity or
// knowledge context.
type Dependencies struct {
	Identity  IdentityResolver
	Guard     TopicGuard
	Router    IntentRouter
	Generator llm.Generator
	History   HistoryStore
	Retriever Retriever
}

type Options struct {
	HistoryLimit      int
	TopK              int
	MaxMessageLength  int
	StorageTimeout    time.Duration
	GenerationTimeout time.Duration

	// Params and ParamPrefix, when set, load the assistant persona from
	// <ParamPrefix>/system_prompt.
	Params      ParamGetter
	ParamPrefix string
}

type ChatService struct {
	deps Dependencies
	opts Options

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
}

type ChatInput struct {
	Email   string
	Message string
}

type ChatOutput struct {
	Reply  string
	Widget domain.WidgetType
}

func NewChatService(deps Dependencies, opts Options) (*ChatService, error) {
	if deps.Identity == nil {
		return nil, errors.New("usecase: identity resolver must not be nil")
	}
	if deps.Guard == nil {
		return nil, errors.New("usecase: topic guard must not be nil")
	}
	if deps.Router == nil {
		return nil, errors.New("usecase: intent router must not be nil")
	}
	if deps.Generator == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = defaultMaxMessageLength
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = defaultStorageTimeout
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	opts.ParamPrefix = strings.TrimRight(strings.TrimSpace(opts.ParamPrefix), "/")
	return &ChatService{deps: deps, opts: opts}, nil
}

// HistoryEnabled reports whether turns are persisted.
func (s *ChatService) HistoryEnabled() bool { return s.deps.History != nil }

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return ChatOutput{}, newError(ErrorUnauthenticated, "missing_identity", nil)
	}
	convID, err := s.conversationID(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownIdentity) {
			return ChatOutput{}, newError(ErrorNotFound, "unknown_identity", err)
		}
		return ChatOutput{}, newError(ErrorInternal, "identity_lookup_error", err)
	}

	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.opts.MaxMessageLength {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	if !s.deps.Guard.Allowed(ctx, message) {
		slog.Info("message blocked as off topic", "conversation_id", convID, "message", truncateForLog(message, logPreviewRunes))
		s.appendTurn(ctx, convID, email, message)
		return s.output(s.deps.Guard.OffTopicReply(), domain.WidgetOffTopic), nil
	}

	decision := s.deps.Router.Route(ctx, message)
	if decision.Direct {
		s.appendTurn(ctx, convID, email, message)
		s.appendTurn(ctx, convID, domain.AssistantSenderID, decision.Reply)
		return s.output(decision.Reply, decision.Widget), nil
	}

	reply, err := s.generate(ctx, convID, email, message)
	if err != nil {
		// Keep the user's turn so the conversation can resume.
		s.appendTurn(ctx, convID, email, message)
		return ChatOutput{}, err
	}

	s.appendTurn(ctx, convID, email, message)
	s.appendTurn(ctx, convID, domain.AssistantSenderID, reply.Raw)
	return s.output(reply.Text, reply.Widget()), nil
}

// generate runs the general chat pipeline: history and knowledge lookups in
// parallel, prompt assembly, one model call and tag parsing.
func (s *ChatService) generate(ctx context.Context, convID, email, message string) (router.Reply, error) {
	var (
		history  []domain.Message
		snippets []domain.Snippet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		history = s.loadHistory(gctx, convID)
		return nil
	})
	g.Go(func() error {
		if s.deps.Retriever != nil {
			snippets = s.deps.Retriever.Search(gctx, message, s.opts.TopK)
		}
		return nil
	})
	_ = g.Wait()

	system := buildSystemPrompt(s.loadPersona(ctx), snippets)
	messages := buildPromptMessages(system, history, email, message)

	genCtx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()
	start := time.Now()
	raw, err := s.deps.Generator.Generate(genCtx, messages)
	metrics.ObserveGeneration(time.Since(start))
	if err != nil {
		slog.Error("reply generation failed", "conversation_id", convID, "err", err)
		return router.Reply{}, upstreamError("llm", err)
	}
	if strings.TrimSpace(raw) == "" {
		slog.Error("reply generation returned empty text", "conversation_id", convID)
		return router.Reply{}, newError(ErrorUpstream, "llm_empty_reply", nil)
	}
	return router.ParseReply(raw), nil
}

func (s *ChatService) loadHistory(ctx context.Context, convID string) []domain.Message {
	if s.deps.History == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	defer cancel()

	history, err := s.deps.History.GetHistory(ctx, convID, s.opts.HistoryLimit)
	if err != nil {
		metrics.RecordHistoryError("get")
		slog.Warn("history unavailable, continuing without it", "conversation_id", convID, "err", err)
		return nil
	}
	return history
}

func (s *ChatService) appendTurn(ctx context.Context, convID, sender, content string) {
	if s.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StorageTimeout)
	defer cancel()

	if err := s.deps.History.Append(ctx, convID, sender, content); err != nil {
		metrics.RecordHistoryError("append")
		slog.Warn("history append failed", "conversation_id", convID, "sender", sender, "err", err)
	}
}

func (s *ChatService) output(reply string, widget domain.WidgetType) ChatOutput {
	metrics.RecordWidget(string(widget))
	return ChatOutput{Reply: reply, Widget: widget}
}

// loadPersona returns the configured persona, reading it from the parameter
// store once. A failed read is retried on the next request.
func (s *ChatService) loadPersona(ctx context.Context) string {
	if s.opts.Params == nil || s.opts.ParamPrefix == "" {
		return defaultPersona
	}

	s.cacheMu.RLock()
	if s.cacheLoaded {
		persona := s.persona
		s.cacheMu.RUnlock()
		return persona
	}
	s.cacheMu.RUnlock()

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	defer cancel()
	persona, err := s.opts.Params.GetParameter(fetchCtx, s.opts.ParamPrefix+"/system_prompt")
	if err != nil {
		slog.Warn("persona not loaded, using default", "err", fmt.Errorf("usecase: load persona: %w", err))
		return defaultPersona
	}
	if strings.TrimSpace(persona) == "" {
		persona = defaultPersona
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.persona
	}
	s.persona = persona
	s.cacheLoaded = true
	return persona
}

func (s *ChatService) conversationID(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	defer cancel()
	return s.deps.Identity.ConversationID(ctx, email)
}
