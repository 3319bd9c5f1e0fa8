package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
)

const (
	searchTimeout  = 30 * time.Second
	maxSearchLines = 50
)

// GlobTool finds workspace files matching a shell glob pattern.
type GlobTool struct {
	BaseTool
}

func NewGlobTool() *GlobTool {
	return &GlobTool{
		BaseTool: NewBaseTool(
			"glob",
			"Find files in the workspace matching a glob pattern, for example '*.go' or 'src/**/*.py'.",
			objectSchema([]string{"pattern"}, map[string]interface{}{
				"pattern": stringProp("Glob pattern to match file names against"),
			}),
		),
	}
}

func (t *GlobTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	pattern, ok := stringArg(args, "pattern")
	if !ok || pattern == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "pattern is required", nil)
	}

	cmd := fmt.Sprintf("cd %s && find . -path %s -o -name %s 2>/dev/null | head -n %d",
		sandbox.WorkspaceRoot, quoteArg("./"+strings.TrimPrefix(pattern, "./")), quoteArg(pattern), maxSearchLines)
	out := toolCtx.Sandbox.Exec(ctx, toolCtx.Pod, []string{"sh", "-c", cmd}, searchTimeout)
	if strings.TrimSpace(out) == "" {
		return "No files matched.", nil
	}
	return Truncate(out, ShellOutputLimit), nil
}

// GrepTool searches workspace file contents.
type GrepTool struct {
	BaseTool
}

func NewGrepTool() *GrepTool {
	return &GrepTool{
		BaseTool: NewBaseTool(
			"grep",
			"Search workspace file contents for a pattern. Returns matching lines with file and line number.",
			objectSchema([]string{"pattern"}, map[string]interface{}{
				"pattern": stringProp("Pattern to search for"),
				"path":    stringProp("Directory or file to search, relative to the workspace root"),
			}),
		),
	}
}

func (t *GrepTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	pattern, ok := stringArg(args, "pattern")
	if !ok || pattern == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "pattern is required", nil)
	}
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}

	cmd := fmt.Sprintf("cd %s && grep -rn %s %s 2>/dev/null | head -n %d",
		sandbox.WorkspaceRoot, quoteArg(pattern), quoteArg(path), maxSearchLines)
	out := toolCtx.Sandbox.Exec(ctx, toolCtx.Pod, []string{"sh", "-c", cmd}, searchTimeout)
	if strings.TrimSpace(out) == "" {
		return "No matches found.", nil
	}
	return Truncate(out, ShellOutputLimit), nil
}

func quoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
