package usecase

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/integrations/openai"
)

func TestBuildSystemPrompt(t *testing.T) {
	p := buildSystemPrompt("", []domain.Snippet{
		{Text: "Sleep matters.", SourceLabel: "[Source: NHS]"},
		{Text: "  ", SourceLabel: "[Source: Empty]"},
		{Text: "Walks help.", SourceLabel: "[Source: Unknown]"},
	})
	require.True(t, strings.HasPrefix(p, defaultPersona+"\nContext:\n\n"))
	require.Contains(t, p, "[Source: NHS]\nSleep matters.\n\n[Source: Unknown]\nWalks help.")
	require.NotContains(t, p, "[Source: Empty]")
	require.Contains(t, p, "### AVAILABLE INTERACTIVE TOOLS ###")
}

func TestBuildPromptMessages_SkipsEmptyTurns(t *testing.T) {
	msgs := buildPromptMessages("sys", []domain.Message{
		{SenderID: "a@example.com", Content: "hi"},
		{SenderID: "a@example.com", Content: ""},
		{SenderID: "someone-else", Content: "hello back"},
	}, "a@example.com", "how are you")

	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello back"},
		{Role: domain.RoleUser, Content: "how are you"},
	}, msgs)
}

func TestTruncateForLog(t *testing.T) {
	require.Equal(t, "héllo", truncateForLog("héllo", 5))
	require.Equal(t, "hé...", truncateForLog("héllo", 2))
}

func TestUpstreamError(t *testing.T) {
	wrapped := fmt.Errorf("llm: fallback: %w", &openai.HTTPStatusError{StatusCode: 429})
	err := upstreamError("llm", wrapped)
	require.Equal(t, ErrorRateLimited, err.Code)
	require.Equal(t, "llm_rate_limited", err.Reason)

	err = upstreamError("llm", errors.New("eof"))
	require.Equal(t, ErrorUpstream, err.Code)
	require.Equal(t, "llm_error", err.Reason)

	require.Equal(t, "usecase: NOT_FOUND (unknown_identity)", newError(ErrorNotFound, "unknown_identity", nil).Error())
}
