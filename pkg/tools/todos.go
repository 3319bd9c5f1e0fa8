package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

var validTodoStatuses = map[string]bool{
	"pending":     true,
	"in_progress": true,
	"completed":   true,
}

// WriteTodosTool replaces the model's view of the task list. Persistence is
// an upsert keyed by description, so completed work keeps its audit trail
// even when the model stops mentioning it.
type WriteTodosTool struct {
	BaseTool
}

func NewWriteTodosTool() *WriteTodosTool {
	return &WriteTodosTool{
		BaseTool: NewBaseTool(
			"write_todos",
			"Create or update the session task list. Pass the full current list; statuses are pending, in_progress or completed.",
			objectSchema([]string{"todos"}, map[string]interface{}{
				"todos": map[string]interface{}{
					"type":        "array",
					"description": "The full task list",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"description": stringProp("What the task is"),
							"status":      stringProp("pending, in_progress or completed"),
						},
						"required": []string{"description", "status"},
					},
				},
			}),
		),
	}
}

func (t *WriteTodosTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	raw, ok := args["todos"]
	if !ok {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "todos is required", nil)
	}

	// Arguments arrive as decoded JSON; round-trip through encoding to get
	// typed items regardless of the provider's decoding choices. Models
	// trained on other task-list schemas send "content" instead of
	// "description"; both are accepted.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "todos must be a list", err)
	}
	var items []struct {
		Description string `json:"description"`
		Content     string `json:"content"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(encoded, &items); err != nil {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "todos must be a list of {description, status}", err)
	}

	todos := make([]Todo, 0, len(items))
	for i, item := range items {
		description := item.Description
		if strings.TrimSpace(description) == "" {
			description = item.Content
		}
		if strings.TrimSpace(description) == "" {
			return "", apperrors.New(apperrors.ErrCodeInvalidInput,
				fmt.Sprintf("todo %d has an empty description", i), nil)
		}
		if !validTodoStatuses[item.Status] {
			return "", apperrors.New(apperrors.ErrCodeInvalidInput,
				fmt.Sprintf("todo %d has invalid status %q", i, item.Status), nil)
		}
		todos = append(todos, Todo{Description: description, Status: item.Status})
	}

	if err := toolCtx.State.SyncTodos(ctx, toolCtx.SessionID, todos); err != nil {
		return "", apperrors.New(apperrors.ErrCodeStoreOperation, "failed to sync todos", err)
	}
	return fmt.Sprintf("Updated %d todos", len(todos)), nil
}

// ReadTodosTool renders the persisted task list.
type ReadTodosTool struct {
	BaseTool
}

func NewReadTodosTool() *ReadTodosTool {
	return &ReadTodosTool{
		BaseTool: NewBaseTool(
			"read_todos",
			"Read the session task list.",
			objectSchema(nil, map[string]interface{}{}),
		),
	}
}

func (t *ReadTodosTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	todos, err := toolCtx.State.ReadTodos(ctx, toolCtx.SessionID)
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeStoreOperation, "failed to read todos", err)
	}
	if len(todos) == 0 {
		return "No todos.", nil
	}

	var b strings.Builder
	for _, todo := range todos {
		marker := "[ ]"
		switch todo.Status {
		case "in_progress":
			marker = "[>]"
		case "completed":
			marker = "[x]"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, todo.Description)
	}
	return b.String(), nil
}
