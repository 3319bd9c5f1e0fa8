package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

type openaiProvider struct {
	name   string
	client openai.Client
}

// NewOpenAIProvider creates a provider backed by the OpenAI API
func NewOpenAIProvider(apiKey string) Provider {
	return &openaiProvider{
		name:   "openai",
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// NewOpenRouterProvider creates a provider backed by the OpenRouter API,
// which speaks the OpenAI wire protocol on a different base URL.
func NewOpenRouterProvider(apiKey string) Provider {
	return &openaiProvider{
		name: "openrouter",
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(openRouterBaseURL),
		),
	}
}

func (p *openaiProvider) Name() string {
	return p.name
}

func (p *openaiProvider) convertMessages(request Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(request.Messages))

	for _, msg := range request.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					argsJSON, _ := json.Marshal(tc.Arguments)
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					})
				}
				assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
				if msg.Content != "" {
					assistant.Content.OfString = openai.String(msg.Content)
				}
				messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	return messages
}

func (p *openaiProvider) convertParams(request Request) openai.ChatCompletionNewParams {
	tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
	for _, tool := range request.Tools {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}

	params := openai.ChatCompletionNewParams{
		Model:       request.ModelConfig.Model,
		Messages:    p.convertMessages(request),
		MaxTokens:   openai.Int(int64(request.ModelConfig.MaxTokens)),
		Temperature: openai.Float(request.ModelConfig.Temperature),
	}

	if len(tools) > 0 {
		params.Tools = tools
	}

	if request.ModelConfig.TopP > 0 {
		params.TopP = openai.Float(request.ModelConfig.TopP)
	}

	return params
}

func (p *openaiProvider) Chat(ctx context.Context, request Request) (*Response, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.convertParams(request))
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.name, err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}

	choice := completion.Choices[0]
	response := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		TokenUsage: TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return response, nil
}

func (p *openaiProvider) ChatStream(ctx context.Context, request Request) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		stream := p.client.Chat.Completions.NewStreaming(ctx, p.convertParams(request))

		// Tool call fragments arrive interleaved across chunks, keyed by index.
		type partialCall struct {
			id   string
			name string
			args string
		}
		partials := make(map[int64]*partialCall)
		var order []int64
		finishReason := ""

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				chunkChan <- StreamChunk{
					Content: choice.Delta.Content,
					Delta:   true,
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := partials[tc.Index]
				if !ok {
					pc = &partialCall{}
					partials[tc.Index] = pc
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}

		if err := stream.Err(); err != nil {
			errChan <- fmt.Errorf("%s stream error: %w", p.name, err)
			return
		}

		final := StreamChunk{FinishReason: finishReason, Delta: false}
		for _, idx := range order {
			pc := partials[idx]
			var args map[string]interface{}
			if pc.args != "" {
				if err := json.Unmarshal([]byte(pc.args), &args); err != nil {
					errChan <- fmt.Errorf("failed to parse streamed tool arguments: %w", err)
					return
				}
			}
			final.ToolCalls = append(final.ToolCalls, ToolCall{
				ID:        pc.id,
				Name:      pc.name,
				Arguments: args,
			})
		}
		chunkChan <- final
	}()

	return chunkChan, errChan
}
