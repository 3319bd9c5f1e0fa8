package tools

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
)

const bashTimeout = 120 * time.Second

// deniedPatterns are substrings that block a command outright. This is a
// guardrail against obviously destructive commands, not a security boundary;
// isolation comes from the sandbox pod itself.
var deniedPatterns = []string{
	"rm -rf /",
	"mkfs",
	"dd if=",
	":(){ :|:& };:",
	":(){:|:&};:",
	"chmod -R 777 /",
	"chown -R",
}

const denyMessage = "Error: command blocked by safety policy"

// BashTool runs shell commands inside the session's sandbox pod.
type BashTool struct {
	BaseTool
}

// NewBashTool creates a new BashTool.
func NewBashTool() *BashTool {
	return &BashTool{
		BaseTool: NewBaseTool(
			"bash",
			"Execute a bash command in the session workspace. Returns combined stdout and stderr.",
			objectSchema([]string{"command"}, map[string]interface{}{
				"command": stringProp("The bash command to execute"),
			}),
		),
	}
}

func (b *BashTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	command, ok := stringArg(args, "command")
	if !ok || command == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "command is required", nil)
	}

	for _, pattern := range deniedPatterns {
		if strings.Contains(command, pattern) {
			return denyMessage, nil
		}
	}

	out := toolCtx.Sandbox.Exec(ctx, toolCtx.Pod,
		[]string{"sh", "-c", "cd " + sandbox.WorkspaceRoot + " && " + command}, bashTimeout)
	return Truncate(out, ShellOutputLimit), nil
}
