package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/azentyk/voice-appointments/internal/llm"
)

// Labeler auto-labels call transcripts with a model.
type Labeler struct {
	client llm.Client
	model  string
}

// NewLabeler returns a labeler; a nil client yields default labels.
func NewLabeler(client llm.Client, model string) *Labeler {
	return &Labeler{client: client, model: model}
}

// Label classifies a scrubbed transcript. outcome seeds the defaults used when
// the model is unavailable or answers with something unparseable.
func (l *Labeler) Label(ctx context.Context, outcome string, messages []Message) (Labels, error) {
	fallback := defaultLabels(outcome)
	if l == nil || l.client == nil || len(messages) == 0 {
		return fallback, nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := l.client.Complete(ctx, llm.Request{
		Model:     l.model,
		System:    []string{labelSystemPrompt},
		Messages:  []llm.ChatMessage{{Role: llm.RoleUser, Content: labelPrompt(sb.String())}},
		MaxTokens: 256,
	})
	if err != nil {
		return fallback, fmt.Errorf("archive: label call: %w", err)
	}

	raw, err := llm.ExtractJSONObject(resp.Text)
	if err != nil {
		return fallback, nil
	}
	var labels Labels
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return fallback, nil
	}
	if labels.Category == "" {
		labels.Category = fallback.Category
	}
	if labels.Sentiment == "" {
		labels.Sentiment = fallback.Sentiment
	}
	labels.AutoLabeled = true
	labels.LabelModel = l.model
	return labels, nil
}

func defaultLabels(outcome string) Labels {
	category := "abandoned"
	switch outcome {
	case "booking", "cancel", "reschedule":
		category = outcome
	}
	return Labels{Category: category, Sentiment: "neutral"}
}

const labelSystemPrompt = `You label phone calls handled by a doctor appointment assistant. Return only a JSON object. Be precise and conservative.`

func labelPrompt(transcript string) string {
	return fmt.Sprintf(`Label this call. Return ONLY a JSON object with these fields:

{
  "category": "booking|cancel|reschedule|inquiry|off_topic|abandoned",
  "sentiment": "positive|neutral|negative|hostile",
  "contains_phi": true/false,
  "needs_review": true/false
}

Rules:
- category: what the caller actually achieved or asked for
- contains_phi: true if symptoms, diagnoses or treatments are mentioned
- needs_review: true if the assistant gave medical advice or the caller was left without help

Call:
%s`, transcript)
}
