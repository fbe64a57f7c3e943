package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/azentyk/voice-appointments/internal/hospitals"
	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/internal/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRetriever struct{ err error }

func (f failingRetriever) Search(context.Context, string) ([]string, error) { return nil, f.err }

func testConfig() sessions.DialogueConfig {
	return sessions.DialogueConfig{
		SessionID:          "sess-1",
		CallerID:           "+919876543210",
		ThreadID:           "thread-1",
		PatientData:        "Name: Priya, Phone: 9876543210",
		CurrentDate:        "2026-10-19",
		AppointmentDetails: "APT-PRIY-17000001234 Cardiology at Apollo Hospital on 2026-10-25 10:00",
	}
}

func newTestEngine(client llm.Client, opts ...Option) *Engine {
	return NewEngine(client, hospitals.NewStaticRetriever(hospitals.DefaultCatalog(), 2), NewMemoryHistoryStore(time.Hour), opts...)
}

func TestAdvanceRunsHospitalTool(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Response{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: HospitalToolName, Input: map[string]any{"query": "hospitals in Chennai"}}}},
		llm.Response{Text: "I found **Apollo Hospital** in Chennai. Would you like that one?<END_OF_TURN>"},
	)
	engine := newTestEngine(client)

	reply, err := engine.Advance(context.Background(), testConfig(), "I am in Chennai")
	require.NoError(t, err)
	assert.Equal(t, "I found Apollo Hospital in Chennai. Would you like that one?", reply.Message)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "hospitals in Chennai", reply.ToolCalls[0].Query)
	assert.Equal(t, 2, reply.ToolCalls[0].Passages)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, HospitalToolName, reqs[0].Tools[0].Name)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "call-1", last.ToolResults[0].CallID)
	assert.Contains(t, last.ToolResults[0].Content, "Location: Chennai")
	assert.Contains(t, last.ToolResults[0].Content, "\n\n")

	// user, assistant tool call, tool result, assistant reply
	require.Len(t, reply.Transcript, 4)
	assert.Equal(t, llm.RoleAssistant, reply.Transcript[3].Role)
}

func TestAdvanceKeepsThreadMemory(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Response{Text: "Please tell me your city."},
		llm.Response{Text: "Which hospital would you like?"},
	)
	engine := newTestEngine(client)
	ctx := context.Background()

	_, err := engine.Advance(ctx, testConfig(), "I want to book an appointment")
	require.NoError(t, err)
	reply, err := engine.Advance(ctx, testConfig(), "Bengaluru")
	require.NoError(t, err)
	assert.Len(t, reply.Transcript, 4)

	reqs := client.Requests()
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, "I want to book an appointment", reqs[1].Messages[0].Content)
	assert.Equal(t, "Please tell me your city.", reqs[1].Messages[1].Content)

	other := testConfig()
	other.ThreadID = "thread-2"
	client.Push(llm.Response{Text: "Hello!"})
	_, err = engine.Advance(ctx, other, "hi")
	require.NoError(t, err)
	reqs = client.Requests()
	assert.Len(t, reqs[2].Messages, 1, "a new thread starts empty")
}

func TestAdvanceRepromptsEmptyOutput(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Response{Text: "  "},
		llm.Response{Text: "<END_OF_TURN>"},
		llm.Response{Text: "Which city are you in?"},
	)
	engine := newTestEngine(client)

	reply, err := engine.Advance(context.Background(), testConfig(), "book please")
	require.NoError(t, err)
	assert.Equal(t, "Which city are you in?", reply.Message)

	reqs := client.Requests()
	require.Len(t, reqs, 3)
	final := reqs[2].Messages
	assert.Equal(t, repromptMessage, final[len(final)-1].Content)
	assert.Equal(t, repromptMessage, final[len(final)-2].Content)

	for _, msg := range reply.Transcript {
		assert.NotEqual(t, repromptMessage, msg.Content, "nudges are not persisted")
	}
}

func TestAdvanceGivesUpAfterTwoReprompts(t *testing.T) {
	client := llm.NewScriptedClient(llm.Response{}, llm.Response{}, llm.Response{}, llm.Response{Text: "too late"})
	engine := newTestEngine(client)

	reply, err := engine.Advance(context.Background(), testConfig(), "hello")
	require.NoError(t, err)
	assert.Empty(t, reply.Message)
	assert.Len(t, client.Requests(), 3)
	assert.Len(t, reply.Transcript, 1)
}

func TestAdvanceReportsToolErrorsToModel(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Response{ToolCalls: []llm.ToolCall{{ID: "c1", Name: HospitalToolName, Input: map[string]any{"query": "x"}}}},
		llm.Response{Text: "Sorry, could you repeat your city?"},
	)
	engine := NewEngine(client, failingRetriever{err: errors.New("index offline")}, nil)

	reply, err := engine.Advance(context.Background(), testConfig(), "Chennai")
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "index offline", reply.ToolCalls[0].Error)

	reqs := client.Requests()
	result := reqs[1].Messages[len(reqs[1].Messages)-1].ToolResults[0]
	assert.True(t, result.IsError)
	assert.Equal(t, "Error: index offline\n please fix your mistakes.", result.Content)
}

func TestAdvanceBoundsToolLoop(t *testing.T) {
	client := llm.NewScriptedClient()
	client.Default = llm.Response{ToolCalls: []llm.ToolCall{{ID: "c", Name: HospitalToolName, Input: map[string]any{"query": "Chennai"}}}}
	engine := newTestEngine(client, WithMaxToolRounds(2))

	reply, err := engine.Advance(context.Background(), testConfig(), "Chennai")
	require.NoError(t, err)
	assert.Empty(t, reply.Message)
	assert.Len(t, reply.ToolCalls, 2)
	assert.Len(t, client.Requests(), 3)
}

func TestAdvanceModelError(t *testing.T) {
	client := llm.NewScriptedClient()
	client.FailNext(errors.New("throttled"))
	engine := newTestEngine(client)

	_, err := engine.Advance(context.Background(), testConfig(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestAdvanceRequiresThread(t *testing.T) {
	engine := newTestEngine(llm.NewScriptedClient())
	cfg := testConfig()
	cfg.ThreadID = ""
	_, err := engine.Advance(context.Background(), cfg, "hello")
	assert.ErrorIs(t, err, ErrEmptyThread)
}

func TestAdvanceHonoursMinimumWait(t *testing.T) {
	client := llm.NewScriptedClient(llm.Response{Text: "Hello!"})
	engine := newTestEngine(client, WithMinWait(40*time.Millisecond))

	start := time.Now()
	_, err := engine.Advance(context.Background(), testConfig(), "hi")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSystemPromptCarriesContextBlocks(t *testing.T) {
	prompt := SystemPrompt(testConfig())
	assert.Contains(t, prompt, "LOCKED BOOKING SEQUENCE")
	assert.Contains(t, prompt, "<AppointmentDetails>\nAPT-PRIY-17000001234")
	assert.Contains(t, prompt, "<User>\nName: Priya")
	assert.Contains(t, prompt, "<Date>\n2026-10-19\n</Date>")

	empty := SystemPrompt(sessions.DialogueConfig{})
	assert.Contains(t, empty, "<User>\n</User>")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Booked for you.", Sanitize("  **Booked** for you.<END_OF_TURN>\n"))
	assert.Equal(t, "", Sanitize("<END_OF_TURN>"))
}

func TestRedisHistoryStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisHistoryStore(client, time.Hour)
	ctx := context.Background()

	history, err := store.Load(ctx, "t-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	msgs := []llm.ChatMessage{
		{Role: llm.RoleUser, Content: "Chennai"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: HospitalToolName, Input: map[string]any{"query": "Chennai"}}}},
		{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{CallID: "c1", Name: HospitalToolName, Content: "Hospital: Apollo"}}},
	}
	require.NoError(t, store.Save(ctx, "t-1", msgs))
	assert.Equal(t, time.Hour, mr.TTL("dialogue:thread:t-1"))

	loaded, err := store.Load(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "Chennai", loaded[1].ToolCalls[0].StringArg("query"))
	assert.Equal(t, "Hospital: Apollo", loaded[2].ToolResults[0].Content)

	mr.Set("dialogue:thread:bad", "{not json")
	_, err = store.Load(ctx, "bad")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "decode"))
}

func TestRememberReplacesTrailingAssistantLine(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Response{Text: "Your appointment has been cancelled successfully."},
		llm.Response{Text: "Thanks, cancelling APT-PRIY-1."},
	)
	engine := newTestEngine(client)
	ctx := context.Background()

	_, err := engine.Advance(ctx, testConfig(), "cancel it")
	require.NoError(t, err)
	require.NoError(t, engine.Remember(ctx, "thread-1", "Could you tell me your appointment ID?"))

	_, err = engine.Advance(ctx, testConfig(), "APT-PRIY-1")
	require.NoError(t, err)
	msgs := client.Requests()[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "Could you tell me your appointment ID?", msgs[1].Content)
	for i := 1; i < len(msgs); i++ {
		assert.NotEqual(t, msgs[i-1].Role, msgs[i].Role, "roles alternate at %d", i)
	}
	assert.ErrorIs(t, engine.Remember(ctx, "", "x"), ErrEmptyThread)
}

func TestRememberAppendsAfterUserTurn(t *testing.T) {
	history := NewMemoryHistoryStore(time.Hour)
	engine := NewEngine(llm.NewScriptedClient(), hospitals.NewStaticRetriever(hospitals.DefaultCatalog(), 2), history)
	ctx := context.Background()
	require.NoError(t, history.Save(ctx, "thread-9", []llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}}))

	require.NoError(t, engine.Remember(ctx, "thread-9", "How can I help you today?"))
	msgs, err := history.Load(ctx, "thread-9")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "How can I help you today?", msgs[1].Content)
}

func TestMemoryHistoryStoreExpiresIdleThreads(t *testing.T) {
	store := NewMemoryHistoryStore(time.Hour)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	msgs := []llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}}
	require.NoError(t, store.Save(ctx, "old", msgs))
	now = now.Add(40 * time.Minute)
	require.NoError(t, store.Save(ctx, "recent", msgs))

	now = now.Add(30 * time.Minute)
	loaded, err := store.Load(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, loaded)
	loaded, err = store.Load(ctx, "recent")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	now = now.Add(2 * time.Hour)
	require.NoError(t, store.Save(ctx, "fresh", msgs))
	assert.Equal(t, 1, store.Len(), "saving prunes expired threads")
}
