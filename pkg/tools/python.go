package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
	"github.com/google/uuid"
)

const pythonTimeout = 60 * time.Second

// PythonTool runs a python snippet in the sandbox. The code is written to a
// temporary script first so multi-line programs and quoting survive intact.
type PythonTool struct {
	BaseTool
}

func NewPythonTool() *PythonTool {
	return &PythonTool{
		BaseTool: NewBaseTool(
			"python",
			"Execute python code in the session workspace and return its output.",
			objectSchema([]string{"code"}, map[string]interface{}{
				"code": stringProp("Python code to execute"),
			}),
		),
	}
}

func (t *PythonTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	code, ok := stringArg(args, "code")
	if !ok || code == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "code is required", nil)
	}

	// Script lives inside the workspace volume and is removed after the run
	// so it never shows up in file listings for long.
	scriptName := fmt.Sprintf(".script-%s.py", uuid.NewString()[:8])
	written := toolCtx.Sandbox.WriteFile(ctx, toolCtx.Pod, scriptName, code)
	if strings.HasPrefix(written, "Error:") {
		return written, nil
	}

	cmd := fmt.Sprintf("cd %s && python3 %s; rm -f %s",
		sandbox.WorkspaceRoot, scriptName, scriptName)
	out := toolCtx.Sandbox.Exec(ctx, toolCtx.Pod, []string{"sh", "-c", cmd}, pythonTimeout)
	return Truncate(out, WebOutputLimit), nil
}
