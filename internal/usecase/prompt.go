package usecase

import (
	"strings"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/router"
)

const defaultPersona = "You are a supportive mental health assistant. Always base your reply on the following context if relevant."

func buildSystemPrompt(persona string, snippets []domain.Snippet) string {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = defaultPersona
	}
	parts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		parts = append(parts, s.SourceLabel+"\n"+text)
	}
	return persona + "\n" +
		"Context:\n\n" + strings.Join(parts, "\n\n") + "\n" +
		router.ToolSystemPrompt()
}

// buildPromptMessages orders the system prompt, prior turns and the new
// message. Turns sent by sender are the user's; everything else is treated
// as the assistant's.
func buildPromptMessages(system string, history []domain.Message, sender, message string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := domain.RoleAssistant
		if m.SenderID == sender {
			role = domain.RoleUser
		}
		messages = append(messages, domain.ChatMessage{Role: role, Content: m.Content})
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: message})
}

func truncateForLog(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
