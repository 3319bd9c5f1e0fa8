package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() Request {
	return Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "list the files"},
			{Role: RoleAssistant, Content: "checking", ToolCalls: []ToolCall{
				{ID: "call-1", Name: "list_files", Arguments: map[string]interface{}{"path": "."}},
			}},
			{Role: RoleTool, Content: "main.go", ToolCallID: "call-1"},
		},
		Tools: []ToolDefinition{
			{
				Name:        "list_files",
				Description: "List workspace files",
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
					"required":   []string{"path"},
				},
			},
		},
		ModelConfig: ModelConfig{Model: "test-model", MaxTokens: 1024, Temperature: 0.5},
	}
}

func TestProviderNames(t *testing.T) {
	assert.Equal(t, "anthropic", NewAnthropicProvider("k").Name())
	assert.Equal(t, "openai", NewOpenAIProvider("k").Name())
	assert.Equal(t, "openrouter", NewOpenRouterProvider("k").Name())
	assert.Equal(t, "ollama", NewOllamaProvider("").Name())
}

func TestAnthropicConvertParams(t *testing.T) {
	p := NewAnthropicProvider("k").(*anthropicProvider)
	params := p.convertParams(sampleRequest())

	assert.Equal(t, "test-model", string(params.Model))
	assert.Equal(t, int64(1024), params.MaxTokens)

	// The system message lifts out of the transcript into the system param.
	require.Len(t, params.System, 1)
	assert.Equal(t, "be terse", params.System[0].Text)
	require.Len(t, params.Messages, 3)

	// Assistant tool use and the tool result both survive the round trip.
	assistant := params.Messages[1]
	require.Len(t, assistant.Content, 2)
	require.NotNil(t, assistant.Content[1].OfToolUse)
	assert.Equal(t, "call-1", assistant.Content[1].OfToolUse.ID)
	assert.Equal(t, "list_files", assistant.Content[1].OfToolUse.Name)
	result := params.Messages[2]
	require.Len(t, result.Content, 1)
	require.NotNil(t, result.Content[0].OfToolResult)
	assert.Equal(t, "call-1", result.Content[0].OfToolResult.ToolUseID)

	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.Tools[0].OfTool)
	assert.Equal(t, "list_files", params.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, params.Tools[0].OfTool.InputSchema.Required)
}

func TestInputSchemaAcceptsDecodedRequired(t *testing.T) {
	// Descriptors decoded from JSON carry required as []interface{}.
	schema := inputSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"query"},
	})
	assert.Equal(t, []string{"query"}, schema.Required)
	assert.NotNil(t, schema.Properties)
}

func TestOpenAIConvertParams(t *testing.T) {
	p := NewOpenAIProvider("k").(*openaiProvider)
	params := p.convertParams(sampleRequest())

	assert.Equal(t, "test-model", params.Model)
	assert.Equal(t, int64(1024), params.MaxTokens.Value)
	require.Len(t, params.Messages, 4)

	assistant := params.Messages[2].OfAssistant
	require.NotNil(t, assistant)
	assert.Equal(t, "checking", assistant.Content.OfString.Value)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call-1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "list_files", assistant.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path": "."}`, assistant.ToolCalls[0].Function.Arguments)

	result := params.Messages[3].OfTool
	require.NotNil(t, result)
	assert.Equal(t, "call-1", result.ToolCallID)
	assert.Equal(t, "main.go", result.Content.OfString.Value)

	require.Len(t, params.Tools, 1)
	assert.Equal(t, "list_files", params.Tools[0].Function.Name)
}

func TestOllamaConvertRequest(t *testing.T) {
	p := NewOllamaProvider("").(*ollamaProvider)
	req := p.convertRequest(sampleRequest(), true)

	assert.Equal(t, "test-model", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	require.Len(t, req.Messages[2].ToolCalls, 1)
	assert.Equal(t, "list_files", req.Messages[2].ToolCalls[0].Function.Name)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "function", req.Tools[0].Type)
	assert.Equal(t, 0.5, req.Options["temperature"])
}
