package chat

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"mce-assistant-backend/internal/types"
)

// NormalizeMessages coerces an arbitrary client-supplied message list into the
// shape the model API expects. Unknown roles become "user" and content is
// stringified, so this never fails; output length and order match the input.
func NormalizeMessages(in []types.IncomingMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		out = append(out, openai.ChatCompletionMessage{
			Role:    normalizeRole(m.Role),
			Content: stringifyContent(m.Content),
		})
	}
	return out
}

func normalizeRole(role string) string {
	switch role {
	case openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant, openai.ChatMessageRoleSystem:
		return role
	default:
		return openai.ChatMessageRoleUser
	}
}

func stringifyContent(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		return fmt.Sprintf("%v", c)
	}
}
