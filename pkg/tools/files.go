package tools

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

// ReadFileTool returns the contents of a workspace file.
type ReadFileTool struct {
	BaseTool
}

func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{
		BaseTool: NewBaseTool(
			"read_file",
			"Read the contents of a file in the session workspace.",
			objectSchema([]string{"path"}, map[string]interface{}{
				"path": stringProp("Path of the file, relative to the workspace root"),
			}),
		),
	}
}

func (t *ReadFileTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "path is required", nil)
	}
	out := toolCtx.Sandbox.ReadFile(ctx, toolCtx.Pod, path)
	return Truncate(out, ShellOutputLimit), nil
}

// WriteFileTool writes a workspace file and records the new content in the
// session's durable file state.
type WriteFileTool struct {
	BaseTool
}

func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{
		BaseTool: NewBaseTool(
			"write_file",
			"Write content to a file in the session workspace, creating it and any parent directories if needed.",
			objectSchema([]string{"path", "content"}, map[string]interface{}{
				"path":    stringProp("Path of the file, relative to the workspace root"),
				"content": stringProp("Full content to write"),
			}),
		),
	}
}

func (t *WriteFileTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "path is required", nil)
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "content is required", nil)
	}

	out := toolCtx.Sandbox.WriteFile(ctx, toolCtx.Pod, path, content)
	if strings.HasPrefix(out, "Error:") {
		return out, nil
	}

	if toolCtx.State != nil {
		if err := toolCtx.State.UpsertFile(ctx, toolCtx.SessionID, path, content); err != nil {
			return "", apperrors.New(apperrors.ErrCodeStoreOperation, "failed to record file state", err)
		}
	}
	return out, nil
}

// EditFileTool replaces one unique occurrence of a string in a workspace
// file. An ambiguous target is refused without touching the file.
type EditFileTool struct {
	BaseTool
}

func NewEditFileTool() *EditFileTool {
	return &EditFileTool{
		BaseTool: NewBaseTool(
			"edit_file",
			"Replace an exact string in a file. The old string must appear exactly once; ambiguous matches are refused.",
			objectSchema([]string{"path", "old_string", "new_string"}, map[string]interface{}{
				"path":       stringProp("Path of the file, relative to the workspace root"),
				"old_string": stringProp("Exact text to replace, must be unique in the file"),
				"new_string": stringProp("Replacement text"),
			}),
		),
	}
}

func (t *EditFileTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "path is required", nil)
	}
	oldStr, ok := stringArg(args, "old_string")
	if !ok || oldStr == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "old_string is required", nil)
	}
	newStr, ok := stringArg(args, "new_string")
	if !ok {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "new_string is required", nil)
	}

	content := toolCtx.Sandbox.ReadFile(ctx, toolCtx.Pod, path)
	if strings.HasPrefix(content, "Error:") {
		return content, nil
	}

	count := strings.Count(content, oldStr)
	if count == 0 {
		return fmt.Sprintf("Error: string not found in %s", path), nil
	}
	if count > 1 {
		return fmt.Sprintf("Error: string appears %d times in %s, provide a more specific string", count, path), nil
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	out := toolCtx.Sandbox.WriteFile(ctx, toolCtx.Pod, path, updated)
	if strings.HasPrefix(out, "Error:") {
		return out, nil
	}

	if toolCtx.State != nil {
		if err := toolCtx.State.UpsertFile(ctx, toolCtx.SessionID, path, updated); err != nil {
			return "", apperrors.New(apperrors.ErrCodeStoreOperation, "failed to record file state", err)
		}
	}
	return fmt.Sprintf("Edited %s", path), nil
}

// ListFilesTool lists a workspace directory.
type ListFilesTool struct {
	BaseTool
}

func NewListFilesTool() *ListFilesTool {
	return &ListFilesTool{
		BaseTool: NewBaseTool(
			"list_files",
			"List files and directories in the session workspace.",
			objectSchema(nil, map[string]interface{}{
				"path": stringProp("Directory to list, relative to the workspace root. Defaults to the root."),
			}),
		),
	}
}

func (t *ListFilesTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	path, _ := stringArg(args, "path")

	files, err := toolCtx.Sandbox.ListFiles(ctx, toolCtx.Pod, path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if len(files) == 0 {
		return "(empty directory)", nil
	}

	var b strings.Builder
	for _, f := range files {
		if f.IsDirectory {
			fmt.Fprintf(&b, "%s/\n", f.Name)
		} else {
			fmt.Fprintf(&b, "%s (%d bytes)\n", f.Name, f.Size)
		}
	}
	return Truncate(b.String(), ShellOutputLimit), nil
}
