package tools

import (
	"fmt"
	"net/http"
	"sync"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

// Capability names a runtime facility a tool depends on. Capabilities are
// declared by the factory and checked when the tool set is materialized, so
// an agent whose session has no sandbox never receives a shell tool.
type Capability string

const (
	CapabilitySandbox Capability = "sandbox"
	CapabilityState   Capability = "state"
	CapabilityNetwork Capability = "network"
)

// Descriptor is one tool entry from an agent definition.
type Descriptor struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"` // builtin, mcp or custom
	Description string                 `json:"description,omitempty"`
	Enabled     bool                   `json:"enabled"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

// Factory builds a tool instance for one descriptor.
type Factory func(d Descriptor) (Tool, error)

type registration struct {
	requires []Capability
	factory  Factory
}

// Registry maps builtin tool names to factories and materializes tool sets
// for agents.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builtins: make(map[string]registration)}
}

var knownCapabilities = map[Capability]bool{
	CapabilitySandbox: true,
	CapabilityState:   true,
	CapabilityNetwork: true,
}

// Register adds a builtin factory. Duplicate names and unknown capability
// requirements are rejected.
func (r *Registry) Register(name string, requires []Capability, factory Factory) error {
	for _, c := range requires {
		if !knownCapabilities[c] {
			return apperrors.New(apperrors.ErrCodeToolCapability,
				fmt.Sprintf("tool %s requires unknown capability %q", name, c), nil)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builtins[name]; exists {
		return apperrors.New(apperrors.ErrCodeToolCapability,
			fmt.Sprintf("tool %s is already registered", name), nil)
	}
	r.builtins[name] = registration{requires: requires, factory: factory}
	return nil
}

// CapabilitySet reports which capabilities a session actually has.
type CapabilitySet map[Capability]bool

// ForAgent materializes the tool set for one agent's descriptors, in
// descriptor order. Disabled entries are skipped. Builtin entries naming an
// unregistered tool, or requiring a capability the session lacks, are
// skipped rather than failing the session. External entries (mcp, custom)
// become HTTP proxies.
func (r *Registry) ForAgent(descriptors []Descriptor, have CapabilitySet, client *http.Client) ([]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		switch d.Type {
		case "builtin":
			reg, ok := r.builtins[d.Name]
			if !ok {
				continue
			}
			if !hasAll(have, reg.requires) {
				continue
			}
			tool, err := reg.factory(d)
			if err != nil {
				return nil, err
			}
			out = append(out, tool)
		case "mcp", "custom":
			tool, err := NewExternalTool(d.Name, d.Description, nil, d.Config, client)
			if err != nil {
				return nil, err
			}
			out = append(out, tool)
		default:
			continue
		}
	}
	return out, nil
}

func hasAll(have CapabilitySet, requires []Capability) bool {
	for _, c := range requires {
		if !have[c] {
			return false
		}
	}
	return true
}

// NewDefaultRegistry builds a registry with every builtin tool registered.
func NewDefaultRegistry(client *http.Client) *Registry {
	r := NewRegistry()

	sandboxOnly := []Capability{CapabilitySandbox}
	sandboxAndState := []Capability{CapabilitySandbox, CapabilityState}
	stateOnly := []Capability{CapabilityState}
	network := []Capability{CapabilityNetwork}

	must := func(err error) {
		if err != nil {
			panic(err) // registration of builtins is static, failure is a programming error
		}
	}

	must(r.Register("bash", sandboxOnly, func(Descriptor) (Tool, error) { return NewBashTool(), nil }))
	must(r.Register("read_file", sandboxOnly, func(Descriptor) (Tool, error) { return NewReadFileTool(), nil }))
	must(r.Register("write_file", sandboxAndState, func(Descriptor) (Tool, error) { return NewWriteFileTool(), nil }))
	must(r.Register("edit_file", sandboxAndState, func(Descriptor) (Tool, error) { return NewEditFileTool(), nil }))
	must(r.Register("list_files", sandboxOnly, func(Descriptor) (Tool, error) { return NewListFilesTool(), nil }))
	must(r.Register("glob", sandboxOnly, func(Descriptor) (Tool, error) { return NewGlobTool(), nil }))
	must(r.Register("grep", sandboxOnly, func(Descriptor) (Tool, error) { return NewGrepTool(), nil }))
	must(r.Register("python", sandboxOnly, func(Descriptor) (Tool, error) { return NewPythonTool(), nil }))
	must(r.Register("write_todos", stateOnly, func(Descriptor) (Tool, error) { return NewWriteTodosTool(), nil }))
	must(r.Register("read_todos", stateOnly, func(Descriptor) (Tool, error) { return NewReadTodosTool(), nil }))
	must(r.Register("web_search", network, func(Descriptor) (Tool, error) { return NewWebSearchTool(client), nil }))
	must(r.Register("web_fetch", network, func(Descriptor) (Tool, error) { return NewWebFetchTool(client), nil }))

	return r
}
