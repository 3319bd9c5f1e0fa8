// Package agent defines the portable agent configuration format and its
// YAML import/export round trip.
package agent

import (
	"fmt"

	"sigs.k8s.io/yaml"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
	"github.com/deepagents-dev/deepagents/pkg/tools"
)

// Provider names accepted in an agent definition. Default resolves to the
// server's configured default provider at run time.
const (
	ProviderDefault    = "Default"
	ProviderOpenRouter = "OpenRouter"
	ProviderOllama     = "Ollama"
	ProviderAnthropic  = "Anthropic"
)

var validProviders = map[string]bool{
	ProviderDefault:    true,
	ProviderOpenRouter: true,
	ProviderOllama:     true,
	ProviderAnthropic:  true,
}

var validToolTypes = map[string]bool{
	"builtin": true,
	"mcp":     true,
	"custom":  true,
}

// LLMConfig selects the model an agent talks to.
type LLMConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// Features toggles built-in agent capabilities. Filesystem controls whether
// sessions get a sandbox at all.
type Features struct {
	Filesystem bool `json:"filesystem"`
	Todos      bool `json:"todos"`
	Subagents  bool `json:"subagents"`
}

// Definition is the full portable configuration of one agent.
type Definition struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	LLM          LLMConfig          `json:"llm"`
	Features     Features           `json:"features"`
	Tools        []tools.Descriptor `json:"tools,omitempty"`
}

// Validate checks the definition against the import rules. It is called on
// both import and session creation so a definition edited in storage cannot
// bypass the checks.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return apperrors.New(apperrors.ErrCodeAgentConfig, "agent name is required", nil)
	}
	if d.LLM.Provider != "" && !validProviders[d.LLM.Provider] {
		return apperrors.New(apperrors.ErrCodeAgentConfig,
			fmt.Sprintf("unknown provider %q", d.LLM.Provider), nil)
	}
	for i, tool := range d.Tools {
		if tool.Name == "" {
			return apperrors.New(apperrors.ErrCodeAgentConfig,
				fmt.Sprintf("tool %d has no name", i), nil)
		}
		if !validToolTypes[tool.Type] {
			return apperrors.New(apperrors.ErrCodeAgentConfig,
				fmt.Sprintf("tool %q has unknown type %q", tool.Name, tool.Type), nil)
		}
	}
	return nil
}

// Export serializes the definition to YAML.
func Export(d *Definition) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "failed to marshal agent definition", err)
	}
	return out, nil
}

// Import parses and validates a YAML agent definition.
func Import(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "failed to parse agent definition", err)
	}
	if d.LLM.Provider == "" {
		d.LLM.Provider = ProviderDefault
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Template returns a starter definition with the common builtin tools
// enabled.
func Template(name string) *Definition {
	return &Definition{
		Name:         name,
		Description:  "A general purpose deep agent",
		SystemPrompt: "You are a helpful assistant working in an isolated workspace.",
		LLM:          LLMConfig{Provider: ProviderDefault},
		Features:     Features{Filesystem: true, Todos: true},
		Tools: []tools.Descriptor{
			{Name: "bash", Type: "builtin", Enabled: true},
			{Name: "read_file", Type: "builtin", Enabled: true},
			{Name: "write_file", Type: "builtin", Enabled: true},
			{Name: "edit_file", Type: "builtin", Enabled: true},
			{Name: "list_files", Type: "builtin", Enabled: true},
			{Name: "glob", Type: "builtin", Enabled: true},
			{Name: "grep", Type: "builtin", Enabled: true},
			{Name: "write_todos", Type: "builtin", Enabled: true},
			{Name: "read_todos", Type: "builtin", Enabled: true},
		},
	}
}
