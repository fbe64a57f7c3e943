package llm

import (
	"errors"
	"strings"
)

// ErrNoJSONObject is returned when a reply holds no JSON object.
var ErrNoJSONObject = errors.New("llm: no JSON object in model output")

// ExtractJSONObject recovers the outermost {...} from model text, tolerating
// markdown fences and chatter around it.
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```JSON")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	return text[start : end+1], nil
}
