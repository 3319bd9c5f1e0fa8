package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ollamaProvider speaks the Ollama local-runtime chat API over plain HTTP.
// There is no official Go SDK; the wire format is newline-delimited JSON.
type ollamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaProvider creates a provider backed by a local Ollama runtime
func NewOllamaProvider(baseURL string) Provider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &ollamaProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (p *ollamaProvider) Name() string {
	return "ollama"
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

func (p *ollamaProvider) convertRequest(request Request, stream bool) ollamaChatRequest {
	req := ollamaChatRequest{
		Model:  request.ModelConfig.Model,
		Stream: stream,
	}

	for _, msg := range request.Messages {
		om := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		req.Messages = append(req.Messages, om)
	}

	for _, tool := range request.Tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = tool.Name
		ot.Function.Description = tool.Description
		ot.Function.Parameters = tool.Parameters
		req.Tools = append(req.Tools, ot)
	}

	if request.ModelConfig.Temperature > 0 {
		req.Options = map[string]interface{}{
			"temperature": request.ModelConfig.Temperature,
		}
	}

	return req
}

func (p *ollamaProvider) post(ctx context.Context, body ollamaChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, string(msg))
	}

	return resp, nil
}

func (p *ollamaProvider) Chat(ctx context.Context, request Request) (*Response, error) {
	resp, err := p.post(ctx, p.convertRequest(request, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	return p.convertResponse(out), nil
}

func (p *ollamaProvider) convertResponse(out ollamaChatResponse) *Response {
	response := &Response{
		Content:      out.Message.Content,
		FinishReason: out.DoneReason,
		TokenUsage: TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}
	if response.FinishReason == "" {
		response.FinishReason = "stop"
	}

	for _, otc := range out.Message.ToolCalls {
		// Ollama does not assign tool call ids; generate stable ones so
		// tool results can be threaded back.
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        uuid.NewString(),
			Name:      otc.Function.Name,
			Arguments: otc.Function.Arguments,
		})
	}
	if len(response.ToolCalls) > 0 {
		response.FinishReason = "tool_calls"
	}

	return response
}

func (p *ollamaProvider) ChatStream(ctx context.Context, request Request) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		resp, err := p.post(ctx, p.convertRequest(request, true))
		if err != nil {
			errChan <- err
			return
		}
		defer resp.Body.Close()

		var calls []ToolCall
		finishReason := ""

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var out ollamaChatResponse
			if err := json.Unmarshal(line, &out); err != nil {
				errChan <- fmt.Errorf("failed to decode ollama stream line: %w", err)
				return
			}

			if out.Message.Content != "" {
				chunkChan <- StreamChunk{Content: out.Message.Content, Delta: true}
			}
			for _, otc := range out.Message.ToolCalls {
				calls = append(calls, ToolCall{
					ID:        uuid.NewString(),
					Name:      otc.Function.Name,
					Arguments: otc.Function.Arguments,
				})
			}
			if out.Done {
				finishReason = out.DoneReason
				break
			}
		}

		if err := scanner.Err(); err != nil {
			errChan <- fmt.Errorf("ollama stream error: %w", err)
			return
		}

		if finishReason == "" {
			finishReason = "stop"
		}
		if len(calls) > 0 {
			finishReason = "tool_calls"
		}
		chunkChan <- StreamChunk{FinishReason: finishReason, ToolCalls: calls, Delta: false}
	}()

	return chunkChan, errChan
}
