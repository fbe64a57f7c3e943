package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient implements Client and StructuredClient using Google's Gemini API.
type GeminiClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiClient creates a Gemini client. modelID defaults to gemini-2.5-flash.
func NewGeminiClient(ctx context.Context, apiKey, modelID string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, modelID: modelID}, nil
}

var _ StructuredClient = (*GeminiClient)(nil)

func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	return c.send(ctx, req, nil)
}

// CompleteJSON asks Gemini for a JSON response matching schema.
func (c *GeminiClient) CompleteJSON(ctx context.Context, req Request, schema *Schema) (Response, error) {
	if schema == nil {
		return Response{}, errors.New("llm: schema is required")
	}
	return c.send(ctx, req, schema)
}

func (c *GeminiClient) send(ctx context.Context, req Request, schema *Schema) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("llm: gemini requires at least one message")
	}
	model := c.client.GenerativeModel(c.modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}

	system := append([]string(nil), req.System...)
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem && strings.TrimSpace(msg.Content) != "" {
			system = append(system, msg.Content)
		}
	}
	if text := strings.TrimSpace(strings.Join(system, "\n\n")); text != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(text))
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{geminiTool(req.Tools)}
	}
	if schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = geminiSchema(schema)
	}

	history, last := geminiHistory(req.Messages)
	if len(last) == 0 {
		return Response{}, errors.New("llm: gemini final message was empty")
	}
	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return Response{}, fmt.Errorf("llm: gemini completion failed: %w", err)
	}
	return geminiParseResponse(resp)
}

// geminiHistory splits the conversation into prior turns and the parts of the
// final message, which is what ChatSession.SendMessage expects.
func geminiHistory(messages []ChatMessage) ([]*genai.Content, []genai.Part) {
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}
		parts := geminiParts(msg)
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	if len(contents) == 0 {
		return nil, nil
	}
	last := contents[len(contents)-1]
	return contents[:len(contents)-1], last.Parts
}

func geminiParts(msg ChatMessage) []genai.Part {
	var parts []genai.Part
	if content := strings.TrimSpace(msg.Content); content != "" {
		parts = append(parts, genai.Text(content))
	}
	for _, call := range msg.ToolCalls {
		parts = append(parts, genai.FunctionCall{Name: call.Name, Args: call.Input})
	}
	for _, result := range msg.ToolResults {
		key := "result"
		if result.IsError {
			key = "error"
		}
		parts = append(parts, genai.FunctionResponse{
			Name:     result.Name,
			Response: map[string]any{key: result.Content},
		})
	}
	return parts
}

func geminiTool(tools []ToolSpec) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  geminiSchema(tool.Parameters),
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

func geminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiType(s.Type),
		Description: s.Description,
		Nullable:    s.Nullable,
		Enum:        s.Enum,
		Items:       geminiSchema(s.Items),
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = geminiSchema(prop)
		}
	}
	return out
}

func geminiType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func geminiParseResponse(resp *genai.GenerateContentResponse) (Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Response{}, errors.New("llm: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	var out Response
	if candidate.Content != nil {
		var text strings.Builder
		for i, part := range candidate.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				text.WriteString(string(v))
			case genai.FunctionCall:
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:    fmt.Sprintf("%s-%d", v.Name, i),
					Name:  v.Name,
					Input: v.Args,
				})
			}
		}
		out.Text = strings.TrimSpace(text.String())
	}
	out.StopReason = candidate.FinishReason.String()
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
