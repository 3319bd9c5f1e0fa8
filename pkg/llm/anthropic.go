package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) Provider {
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (p *anthropicProvider) Name() string {
	return "anthropic"
}

// inputSchema splits a JSON-schema object into the SDK's schema param. The
// builtin tools hand "required" over as []string; descriptors decoded from
// JSON carry []interface{}.
func inputSchema(parameters map[string]interface{}) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{
		Properties: parameters["properties"],
	}
	switch req := parameters["required"].(type) {
	case []string:
		schema.Required = req
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func (p *anthropicProvider) convertParams(request Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(request.Messages))
	var systemMessage string

	for _, msg := range request.Messages {
		switch msg.Role {
		case "system":
			systemMessage = msg.Content
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
				}
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			} else {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case "tool":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
	for _, tool := range request.Tools {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: inputSchema(tool.Parameters),
			},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(request.ModelConfig.Model),
		Messages:    messages,
		MaxTokens:   int64(request.ModelConfig.MaxTokens),
		Temperature: anthropic.Float(request.ModelConfig.Temperature),
	}

	if systemMessage != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemMessage},
		}
	}

	if len(tools) > 0 {
		params.Tools = tools
	}

	if request.ModelConfig.TopP > 0 {
		params.TopP = anthropic.Float(request.ModelConfig.TopP)
	}

	return params
}

func (p *anthropicProvider) Chat(ctx context.Context, request Request) (*Response, error) {
	message, err := p.client.Messages.New(ctx, p.convertParams(request))
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	response := &Response{
		FinishReason: string(message.StopReason),
		TokenUsage: TokenUsage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			response.Content += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			response.ToolCalls = append(response.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	return response, nil
}

func (p *anthropicProvider) ChatStream(ctx context.Context, request Request) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		stream := p.client.Messages.NewStreaming(ctx, p.convertParams(request))

		type partialCall struct {
			id   string
			name string
			args string
		}
		var pending *partialCall
		var calls []ToolCall
		finishReason := ""

		flush := func() error {
			if pending == nil {
				return nil
			}
			var args map[string]interface{}
			if pending.args != "" {
				if err := json.Unmarshal([]byte(pending.args), &args); err != nil {
					return fmt.Errorf("failed to parse streamed tool input: %w", err)
				}
			}
			calls = append(calls, ToolCall{ID: pending.id, Name: pending.name, Arguments: args})
			pending = nil
			return nil
		}

		for stream.Next() {
			event := stream.Current()

			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					pending = &partialCall{id: tu.ID, name: tu.Name}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := e.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					chunkChan <- StreamChunk{Content: delta.Text, Delta: true}
				case anthropic.InputJSONDelta:
					if pending != nil {
						pending.args += delta.PartialJSON
					}
				}
			case anthropic.ContentBlockStopEvent:
				if err := flush(); err != nil {
					errChan <- err
					return
				}
			case anthropic.MessageDeltaEvent:
				if e.Delta.StopReason != "" {
					finishReason = string(e.Delta.StopReason)
				}
			}
		}

		if err := stream.Err(); err != nil {
			errChan <- fmt.Errorf("anthropic stream error: %w", err)
			return
		}

		chunkChan <- StreamChunk{FinishReason: finishReason, ToolCalls: calls, Delta: false}
	}()

	return chunkChan, errChan
}
