package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                         `{"a":1}`,
		"```json\n{\"a\":null}\n```":      `{"a":null}`,
		"Here you go: {\"a\":{\"b\":2}} ok": `{"a":{"b":2}}`,
	}
	for in, want := range cases {
		got, err := ExtractJSONObject(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ExtractJSONObject("no json here")
	assert.ErrorIs(t, err, ErrNoJSONObject)
}

func TestSchemaJSONSchema(t *testing.T) {
	s := ObjectOfNullableStrings([]string{"username", "appointment_id"}, map[string]string{"username": "caller name"})
	doc := s.JSONSchema()
	assert.Equal(t, "object", doc["type"])
	props := doc["properties"].(map[string]any)
	username := props["username"].(map[string]any)
	assert.Equal(t, []string{"string", "null"}, username["type"])
	assert.Equal(t, "caller name", username["description"])
	assert.Equal(t, []string{"username", "appointment_id"}, doc["required"])
}

func TestGeminiConversions(t *testing.T) {
	schema := geminiSchema(&Schema{Type: "object", Properties: map[string]*Schema{
		"new_date": {Type: "string", Nullable: true},
	}})
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.True(t, schema.Properties["new_date"].Nullable)
	assert.Equal(t, genai.TypeString, schema.Properties["new_date"].Type)

	history, last := geminiHistory([]ChatMessage{
		{Role: RoleSystem, Content: "ignored"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "hospital_details", Input: map[string]any{"query": "q"}}}},
		{Role: RoleUser, ToolResults: []ToolResult{{CallID: "1", Name: "hospital_details", Content: "City Care"}}},
	})
	require.Len(t, history, 2)
	assert.Equal(t, "model", history[1].Role)
	require.Len(t, last, 1)
	fr, ok := last[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "City Care", fr.Response["result"])

	resp, err := geminiParseResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(" Sure. "),
				genai.FunctionCall{Name: "hospital_details", Args: map[string]any{"query": "cardiology"}},
			}},
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 2, TotalTokenCount: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sure.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "cardiology", resp.ToolCalls[0].StringArg("query"))
	assert.EqualValues(t, 5, resp.Usage.TotalTokens)

	_, err = geminiParseResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}

func TestFallbackClient(t *testing.T) {
	primary := NewScriptedClient()
	primary.FailNext(errors.New("bedrock throttled"))
	fallback := NewScriptedClient(Response{Text: "from fallback"})

	client := NewFallbackClient(primary, fallback, nil)
	resp, err := client.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)

	primary.FailNext(errors.New("down"))
	fallback.FailNext(errors.New("also down"))
	_, err = client.Complete(context.Background(), Request{})
	assert.EqualError(t, err, "also down")

	solo := NewFallbackClient(NewScriptedClient(Response{Text: "ok"}), nil, nil)
	resp, err = solo.CompleteJSON(context.Background(), Request{}, &Schema{Type: "object"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestFallbackClientSkipsFallbackOnCancel(t *testing.T) {
	primary := NewScriptedClient()
	fallback := NewScriptedClient(Response{Text: "late"})
	client := NewFallbackClient(primary, fallback, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fallback.Requests())
}

func TestScriptedClientDefault(t *testing.T) {
	c := NewScriptedClient(Response{Text: "first"})
	c.Default = Response{Text: "again"}
	r1, _ := c.Complete(context.Background(), Request{})
	r2, _ := c.Complete(context.Background(), Request{})
	assert.Equal(t, "first", r1.Text)
	assert.Equal(t, "again", r2.Text)
	assert.Len(t, c.Requests(), 2)

	empty := NewScriptedClient()
	_, err := empty.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestGeminiHistoryMergesSameRoleRuns(t *testing.T) {
	history, last := geminiHistory([]ChatMessage{
		{Role: RoleUser, Content: "cancel my appointment"},
		{Role: RoleAssistant, Content: "Your appointment has been cancelled successfully."},
		{Role: RoleAssistant, Content: "I couldn't find that appointment."},
		{Role: RoleUser, Content: "book an appointment"},
		{Role: RoleUser, Content: "Respond with a real output."},
	})
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Len(t, history[1].Parts, 2)
	assert.Len(t, last, 2, "the trailing user run is sent as one message")
}
