package llm

import "context"

// Provider is an interface for LLM providers
type Provider interface {
	// Chat sends a chat request to the LLM and returns the complete response
	Chat(ctx context.Context, request Request) (*Response, error)

	// ChatStream sends a chat request and streams the response
	ChatStream(ctx context.Context, request Request) (<-chan StreamChunk, <-chan error)

	// Name returns the provider name
	Name() string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a conversation message
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool responses
}

// ToolDefinition defines a tool that can be called by the LLM
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON schema
}

// ToolCall represents a request by the model to call a tool
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ModelConfig selects the model and generation parameters for a request
type ModelConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p,omitempty"`
}

// Request represents a request to an LLM
type Request struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ModelConfig ModelConfig      `json:"model_config"`
}

// Response represents a complete response from an LLM
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // stop, tool_calls, length, etc.
	TokenUsage   TokenUsage `json:"token_usage"`
}

// StreamChunk represents a chunk of streaming response. Delta chunks carry
// incremental text; the final chunk (Delta=false) carries the finish reason
// and any tool calls the model requested.
type StreamChunk struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Delta        bool
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates token usage across model rounds
func (t *TokenUsage) Add(other TokenUsage) {
	t.PromptTokens += other.PromptTokens
	t.CompletionTokens += other.CompletionTokens
	t.TotalTokens += other.TotalTokens
}
