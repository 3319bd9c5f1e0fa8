package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

// ExternalTool invokes a tool served over HTTP. The remote contract is a
// JSON POST of {"name": ..., "arguments": {...}}; the response body is
// returned verbatim unless it is a JSON object with a "result" field, in
// which case that field is unwrapped.
type ExternalTool struct {
	BaseTool
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewExternalTool builds a tool proxy from an agent definition entry. The
// config map must carry "endpoint"; "api_key" is optional bearer auth.
func NewExternalTool(name, description string, parameters map[string]interface{}, config map[string]interface{}, client *http.Client) (*ExternalTool, error) {
	endpoint, ok := config["endpoint"].(string)
	if !ok || endpoint == "" {
		return nil, apperrors.New(apperrors.ErrCodeToolCapability,
			fmt.Sprintf("external tool %s missing endpoint configuration", name), nil)
	}
	apiKey, _ := config["api_key"].(string)
	if client == nil {
		client = &http.Client{Timeout: webTimeout}
	}
	if parameters == nil {
		parameters = objectSchema(nil, map[string]interface{}{})
	}
	return &ExternalTool{
		BaseTool: NewBaseTool(name, description, parameters),
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
	}, nil
}

func (t *ExternalTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"name":      t.Name(),
		"arguments": args,
	})
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeToolExecution, "failed to marshal tool request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeToolExecution, "failed to create tool request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: tool request failed: %v", err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeToolExecution, "failed to read tool response", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Error: tool returned status %d: %s", resp.StatusCode, respBody), nil
	}

	var wrapped struct {
		Result *string `json:"result"`
	}
	if err := json.Unmarshal(respBody, &wrapped); err == nil && wrapped.Result != nil {
		return Truncate(*wrapped.Result, ShellOutputLimit), nil
	}
	return Truncate(string(respBody), ShellOutputLimit), nil
}
