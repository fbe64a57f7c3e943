// Package dialogue drives the assistant side of a call: it rebuilds the
// system prompt from the session config, replays the thread history, runs the
// hospital lookup tool loop and returns the text to speak.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azentyk/voice-appointments/internal/hospitals"
	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/internal/observability/metrics"
	"github.com/azentyk/voice-appointments/internal/sessions"
	"github.com/azentyk/voice-appointments/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	HospitalToolName = "hospital_details"
	repromptMessage  = "Respond with a real output."
	noHospitalsFound = "No matching hospitals found."

	defaultMaxToolRounds = 4
	defaultMaxReprompts  = 2
	defaultTimeout       = 45 * time.Second
	defaultMaxTokens     = 512
)

var tracer = otel.Tracer("azentyk.internal.dialogue")

// ErrEmptyThread is returned when the config carries no thread id.
var ErrEmptyThread = errors.New("dialogue: thread id is required")

var hospitalTool = llm.ToolSpec{
	Name: HospitalToolName,
	Description: "Search for hospital information including hospital names, locations, " +
		"available specialties and doctor names. Use this when the caller asks about " +
		"hospital options or specialties.",
	Parameters: &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"query": {Type: "string", Description: "Free-text search such as a city, hospital or specialty"},
		},
		Required: []string{"query"},
	},
}

// ToolActivity records one tool call made while producing a reply.
type ToolActivity struct {
	Name     string `json:"name"`
	Query    string `json:"query"`
	Passages int    `json:"passages"`
	Error    string `json:"error,omitempty"`
}

// Reply is the outcome of one dialogue turn. Transcript is the full thread
// history including this turn.
type Reply struct {
	Message    string
	ToolCalls  []ToolActivity
	Transcript []llm.ChatMessage
}

// Engine advances dialogue threads against a model client.
type Engine struct {
	client        llm.Client
	retriever     hospitals.Retriever
	history       HistoryStore
	model         string
	maxTokens     int32
	timeout       time.Duration
	minWait       time.Duration
	maxToolRounds int
	maxReprompts  int
	metrics       *metrics.DialogueMetrics
	logger        *logging.Logger
	now           func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

func WithMaxTokens(n int32) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithTimeout bounds each turn's model and tool work.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMinWait sets the floor on how quickly a reply is returned.
func WithMinWait(d time.Duration) Option {
	return func(e *Engine) { e.minWait = d }
}

func WithMaxToolRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxToolRounds = n
		}
	}
}

func WithMetrics(m *metrics.DialogueMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine wires an engine. history defaults to an in-memory store.
func NewEngine(client llm.Client, retriever hospitals.Retriever, history HistoryStore, opts ...Option) *Engine {
	if client == nil {
		panic("dialogue: llm client cannot be nil")
	}
	if retriever == nil {
		panic("dialogue: retriever cannot be nil")
	}
	if history == nil {
		history = NewMemoryHistoryStore(defaultHistoryTTL)
	}
	e := &Engine{
		client:        client,
		retriever:     retriever,
		history:       history,
		maxTokens:     defaultMaxTokens,
		timeout:       defaultTimeout,
		maxToolRounds: defaultMaxToolRounds,
		maxReprompts:  defaultMaxReprompts,
		logger:        logging.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Advance feeds the caller's utterance into the thread named by cfg and
// returns the assistant's sanitised reply. An empty Message means the model
// produced nothing usable after re-prompting; model transport failures are
// returned as errors.
func (e *Engine) Advance(ctx context.Context, cfg sessions.DialogueConfig, utterance string) (Reply, error) {
	if strings.TrimSpace(cfg.ThreadID) == "" {
		return Reply{}, ErrEmptyThread
	}
	start := e.now()
	ctx, span := tracer.Start(ctx, "dialogue.advance")
	defer span.End()
	span.SetAttributes(attribute.String("dialogue.thread_id", cfg.ThreadID))

	history, err := e.history.Load(ctx, cfg.ThreadID)
	if err != nil {
		span.RecordError(err)
		return Reply{}, err
	}
	history = append(history, llm.ChatMessage{Role: llm.RoleUser, Content: utterance})

	turnCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := llm.Request{
		Model:     e.model,
		System:    []string{SystemPrompt(cfg)},
		Tools:     []llm.ToolSpec{hospitalTool},
		MaxTokens: e.maxTokens,
	}

	var (
		activity  []ToolActivity
		nudges    []llm.ChatMessage
		rounds    int
		reprompts int
		message   string
	)
	for {
		req.Messages = append(append([]llm.ChatMessage(nil), history...), nudges...)
		callStart := e.now()
		resp, err := e.client.Complete(turnCtx, req)
		if err != nil {
			e.metrics.ObserveModelCall("error", e.now().Sub(callStart).Seconds())
			span.RecordError(err)
			return Reply{}, fmt.Errorf("dialogue: model call: %w", err)
		}
		e.metrics.ObserveModelCall("ok", e.now().Sub(callStart).Seconds())

		if len(resp.ToolCalls) > 0 {
			if rounds >= e.maxToolRounds {
				e.logger.Warn("dialogue tool loop exhausted", "thread_id", cfg.ThreadID, "rounds", rounds)
				message = Sanitize(resp.Text)
				break
			}
			rounds++
			history = append(history, llm.ChatMessage{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
			results, calls := e.runTools(turnCtx, resp.ToolCalls)
			activity = append(activity, calls...)
			history = append(history, llm.ChatMessage{Role: llm.RoleUser, ToolResults: results})
			continue
		}

		message = Sanitize(resp.Text)
		if message == "" && reprompts < e.maxReprompts {
			reprompts++
			e.metrics.ObserveReprompt()
			nudges = append(nudges, llm.ChatMessage{Role: llm.RoleUser, Content: repromptMessage})
			continue
		}
		break
	}

	if message != "" {
		history = append(history, llm.ChatMessage{Role: llm.RoleAssistant, Content: message})
	}
	if err := e.history.Save(ctx, cfg.ThreadID, history); err != nil {
		e.logger.Warn("failed to persist dialogue history", "thread_id", cfg.ThreadID, "error", err)
	}

	if err := e.waitFloor(ctx, start); err != nil {
		return Reply{}, err
	}
	span.SetAttributes(
		attribute.Int("dialogue.tool_rounds", rounds),
		attribute.Int("dialogue.reprompts", reprompts),
	)
	return Reply{Message: message, ToolCalls: activity, Transcript: history}, nil
}

// Remember records an assistant line the caller heard but the model did not
// produce, so the next turn sees what was actually said. A trailing assistant
// reply is overwritten rather than followed, keeping roles alternating.
func (e *Engine) Remember(ctx context.Context, threadID, message string) error {
	if strings.TrimSpace(threadID) == "" {
		return ErrEmptyThread
	}
	history, err := e.history.Load(ctx, threadID)
	if err != nil {
		return err
	}
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleAssistant && len(history[n-1].ToolCalls) == 0 {
		history[n-1].Content = message
	} else {
		history = append(history, llm.ChatMessage{Role: llm.RoleAssistant, Content: message})
	}
	return e.history.Save(ctx, threadID, history)
}

func (e *Engine) runTools(ctx context.Context, calls []llm.ToolCall) ([]llm.ToolResult, []ToolActivity) {
	results := make([]llm.ToolResult, 0, len(calls))
	activity := make([]ToolActivity, 0, len(calls))
	for _, call := range calls {
		query := call.StringArg("query")
		act := ToolActivity{Name: call.Name, Query: query}
		var (
			content string
			err     error
		)
		if call.Name != HospitalToolName {
			err = fmt.Errorf("unknown tool %q", call.Name)
		} else {
			var passages []string
			passages, err = e.retriever.Search(ctx, query)
			act.Passages = len(passages)
			content = strings.Join(passages, "\n\n")
			if err == nil && content == "" {
				content = noHospitalsFound
			}
		}
		result := llm.ToolResult{CallID: call.ID, Name: call.Name, Content: content}
		if err != nil {
			result.Content = fmt.Sprintf("Error: %v\n please fix your mistakes.", err)
			result.IsError = true
			act.Error = err.Error()
			e.logger.Warn("dialogue tool call failed", "tool", call.Name, "error", err)
		}
		e.metrics.ObserveToolCall(call.Name, err == nil)
		results = append(results, result)
		activity = append(activity, act)
	}
	return results, activity
}

func (e *Engine) waitFloor(ctx context.Context, start time.Time) error {
	remaining := e.minWait - e.now().Sub(start)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var sanitizer = strings.NewReplacer("<END_OF_TURN>", "", "**", "")

// Sanitize strips turn markers and markdown emphasis from model output.
func Sanitize(text string) string {
	return strings.TrimSpace(sanitizer.Replace(text))
}
