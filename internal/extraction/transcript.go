package extraction

import (
	"fmt"
	"strings"

	"github.com/azentyk/voice-appointments/internal/llm"
)

// FormatTranscript serialises a conversation into the plain text the
// extraction prompts read.
func FormatTranscript(messages []llm.ChatMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		if content := strings.TrimSpace(msg.Content); content != "" {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, content)
		}
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&b, "%s called %s(%s)\n", msg.Role, call.Name, call.StringArg("query"))
		}
		for _, result := range msg.ToolResults {
			fmt.Fprintf(&b, "tool %s: %s\n", result.Name, strings.TrimSpace(result.Content))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
