// Package tools implements the built-in agent tools and the registry that
// materializes a tool set from an agent definition.
package tools

import (
	"context"

	"github.com/deepagents-dev/deepagents/pkg/sandbox"
)

// Tool defines the interface for agent tools.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error)
}

// Todo is the tool-facing view of one task list entry.
type Todo struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

// StateSync is the subset of the state synchronizer that tools drive.
// Implemented by internal/state; kept narrow so tools stay testable with a
// stub.
type StateSync interface {
	SyncTodos(ctx context.Context, sessionID string, todos []Todo) error
	ReadTodos(ctx context.Context, sessionID string) ([]Todo, error)
	UpsertFile(ctx context.Context, sessionID, path, content string) error
}

// Context carries per-invocation state into a tool run.
type Context struct {
	SessionID string
	Pod       string
	Sandbox   sandbox.Manager
	State     StateSync
}

// BaseTool provides common functionality for tools.
type BaseTool struct {
	name        string
	description string
	parameters  map[string]interface{}
}

// NewBaseTool creates a new BaseTool.
func NewBaseTool(name, description string, parameters map[string]interface{}) BaseTool {
	return BaseTool{
		name:        name,
		description: description,
		parameters:  parameters,
	}
}

// Name returns the tool name.
func (b *BaseTool) Name() string {
	return b.name
}

// Description returns the tool description.
func (b *BaseTool) Description() string {
	return b.description
}

// Parameters returns the tool's JSON schema parameter definition.
func (b *BaseTool) Parameters() map[string]interface{} {
	return b.parameters
}

func objectSchema(required []string, props map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}
