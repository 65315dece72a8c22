// Package llm defines the text-generation contract shared by the router,
// the guardrail and the reply pipeline.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mindspace-agent/internal/domain"
)

// Generator turns an ordered message list into a reply.
type Generator interface {
	Generate(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, messages []domain.ChatMessage) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return f(ctx, messages)
}

// Choice asks for a JSON object whose single string Field is one of Values.
type Choice struct {
	Name   string
	Field  string
	Values []string
}

// Schema returns the JSON schema describing c.
func (c Choice) Schema() json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			c.Field: map[string]any{"type": "string", "enum": c.Values},
		},
		"required":             []string{c.Field},
		"additionalProperties": false,
	})
	return raw
}

// ChoiceGenerator is implemented by backends that can constrain their output
// to a Choice.
type ChoiceGenerator interface {
	GenerateChoice(ctx context.Context, messages []domain.ChatMessage, choice Choice) (string, error)
}

// GenerateChoice uses constrained output when g supports it and a plain
// completion otherwise. Callers still validate the answer.
func GenerateChoice(ctx context.Context, g Generator, messages []domain.ChatMessage, choice Choice) (string, error) {
	if cg, ok := g.(ChoiceGenerator); ok {
		return cg.GenerateChoice(ctx, messages, choice)
	}
	return g.Generate(ctx, messages)
}

// Pinger is implemented by backends that can report their availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

// WithTimeout bounds every call to g. A non-positive timeout returns g.
func WithTimeout(g Generator, timeout time.Duration) Generator {
	if timeout <= 0 {
		return g
	}
	return &timeoutGenerator{next: g, timeout: timeout}
}

func (t *timeoutGenerator) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Generate(ctx, messages)
}

func (t *timeoutGenerator) GenerateChoice(ctx context.Context, messages []domain.ChatMessage, choice Choice) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return GenerateChoice(ctx, t.next, messages, choice)
}

// Fallback prefers a local backend and switches to the remote one when the
// local backend is unhealthy or fails.
type Fallback struct {
	local       Generator
	remote      Generator
	pingTimeout time.Duration
}

func NewFallback(local, remote Generator) (*Fallback, error) {
	if remote == nil {
		return nil, errors.New("llm: remote generator must not be nil")
	}
	return &Fallback{local: local, remote: remote, pingTimeout: 2 * time.Second}, nil
}

func (f *Fallback) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return f.run(ctx, func(g Generator) (string, error) { return g.Generate(ctx, messages) })
}

func (f *Fallback) GenerateChoice(ctx context.Context, messages []domain.ChatMessage, choice Choice) (string, error) {
	return f.run(ctx, func(g Generator) (string, error) { return GenerateChoice(ctx, g, messages, choice) })
}

func (f *Fallback) run(ctx context.Context, call func(Generator) (string, error)) (string, error) {
	if f.local != nil && f.localHealthy(ctx) {
		out, err := call(f.local)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("llm: local generate: %w", err)
		}
		slog.Warn("local generation failed, using remote backend", "err", err)
	}
	return call(f.remote)
}

func (f *Fallback) localHealthy(ctx context.Context) bool {
	p, ok := f.local.(Pinger)
	if !ok {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, f.pingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		slog.Warn("local llm unavailable", "err", err)
		return false
	}
	return true
}
