// Package engine runs agent turns: it streams model output, dispatches tool
// calls and commits the transcript atomically at the end of each turn.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/deepagents-dev/deepagents/internal/bus"
	"github.com/deepagents-dev/deepagents/internal/metrics"
	"github.com/deepagents-dev/deepagents/internal/state"
	"github.com/deepagents-dev/deepagents/internal/store"
	"github.com/deepagents-dev/deepagents/pkg/agent"
	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
	"github.com/deepagents-dev/deepagents/pkg/llm"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
	"github.com/deepagents-dev/deepagents/pkg/tools"
)

// DefaultMaxToolCalls bounds how many tool invocations one turn may make.
const DefaultMaxToolCalls = 25

// operationalInstructions are appended to every agent's system prompt so the
// model knows the workspace contract regardless of how the agent is written.
const operationalInstructions = `

You work inside an isolated workspace at /workspace. Use the available tools
to inspect and modify it. Keep the task list current with write_todos as you
make progress. Prefer small, verifiable steps.`

// fileSyncTools name the tools whose run can change the workspace, so the
// tracked file list is refreshed after each of them.
var fileSyncTools = map[string]bool{
	"bash":       true,
	"python":     true,
	"write_file": true,
	"edit_file":  true,
	"list_files": true,
}

// Config carries the engine's process-level settings.
type Config struct {
	DefaultProvider string
	DefaultModel    string
	MaxToolCalls    int
}

// Engine executes turns against a session.
type Engine struct {
	store     *store.Store
	sync      *state.Synchronizer
	bus       *bus.Bus
	sandbox   sandbox.Manager
	registry  *tools.Registry
	providers llm.ProviderRegistry
	metrics   *metrics.Metrics
	client    *http.Client
	cfg       Config
	log       logr.Logger
}

// New creates an Engine. client is used for external-protocol tools; nil
// gets a default.
func New(st *store.Store, sync *state.Synchronizer, b *bus.Bus, sb sandbox.Manager,
	registry *tools.Registry, providers llm.ProviderRegistry, m *metrics.Metrics,
	client *http.Client, cfg Config, log logr.Logger) *Engine {
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = DefaultMaxToolCalls
	}
	return &Engine{
		store:     st,
		sync:      sync,
		bus:       b,
		sandbox:   sb,
		registry:  registry,
		providers: providers,
		metrics:   m,
		client:    client,
		cfg:       cfg,
		log:       log.WithName("engine"),
	}
}

// RunTurn executes one full turn for the session. The user message is
// expected to be persisted already. On success the turn's assistant and tool
// messages are committed together and a Completed event fires; on any
// failure nothing from the turn is persisted, the session moves to the error
// state and an Error event fires.
func (e *Engine) RunTurn(ctx context.Context, sessionID string) error {
	err := e.runTurn(ctx, sessionID)
	if err != nil {
		e.log.Error(err, "turn failed", "session", sessionID)
		if statusErr := e.store.SetSessionStatus(context.Background(), sessionID, store.SessionError); statusErr != nil {
			e.log.Error(statusErr, "failed to mark session errored", "session", sessionID)
		}
		e.bus.Publish(bus.Error(sessionID, err.Error()))
		if e.metrics != nil {
			e.metrics.TurnsTotal.WithLabelValues("error").Inc()
		}
		return err
	}
	e.bus.Publish(bus.Completed(sessionID))
	if e.metrics != nil {
		e.metrics.TurnsTotal.WithLabelValues("completed").Inc()
	}
	return nil
}

func (e *Engine) runTurn(ctx context.Context, sessionID string) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != store.SessionActive {
		return apperrors.New(apperrors.ErrCodeSessionNotActive,
			fmt.Sprintf("session %s is %s", sessionID, session.Status), nil)
	}

	agentRecord, err := e.store.GetAgentByName(ctx, session.AgentName)
	if err != nil {
		return err
	}
	def, err := agentRecord.Definition()
	if err != nil {
		return err
	}

	provider, modelCfg, err := e.resolveModel(def)
	if err != nil {
		return err
	}

	toolSet, toolCtx, err := e.materializeTools(def, session)
	if err != nil {
		return err
	}

	transcript, err := e.loadTranscript(ctx, session.ID, def)
	if err != nil {
		return err
	}

	// Messages created during the turn are buffered and only flushed on a
	// clean finish, so a failed turn leaves no partial transcript behind.
	var pending []*store.Message

	toolsByName := make(map[string]tools.Tool, len(toolSet))
	defs := make([]llm.ToolDefinition, 0, len(toolSet))
	for _, t := range toolSet {
		toolsByName[t.Name()] = t
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	callCount := 0
	for {
		resp, err := e.streamOnce(ctx, provider, llm.Request{
			Messages:    transcript,
			Tools:       defs,
			ModelConfig: modelCfg,
		}, session.ID)
		if err != nil {
			return err
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		transcript = append(transcript, assistantMsg)
		record, err := encodeMessage(session.ID, assistantMsg)
		if err != nil {
			return err
		}
		pending = append(pending, record)

		if len(resp.ToolCalls) == 0 {
			break
		}

		if callCount+len(resp.ToolCalls) > e.cfg.MaxToolCalls {
			return apperrors.New(apperrors.ErrCodeTurnFailed,
				fmt.Sprintf("tool call limit of %d exceeded", e.cfg.MaxToolCalls), nil)
		}

		for _, call := range resp.ToolCalls {
			callCount++
			result := e.dispatchTool(ctx, toolsByName, call, toolCtx)

			toolMsg := llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: call.ID}
			transcript = append(transcript, toolMsg)
			record, err := encodeMessage(session.ID, toolMsg)
			if err != nil {
				return err
			}
			pending = append(pending, record)

			if fileSyncTools[call.Name] && session.SandboxPod != "" {
				e.resyncFiles(ctx, session)
			}
		}
	}

	for _, record := range pending {
		if err := e.store.AppendMessage(ctx, record); err != nil {
			return err
		}
	}
	if err := e.store.TouchSession(ctx, session.ID); err != nil {
		return err
	}
	return nil
}

// streamOnce runs one model request, forwarding token deltas as events and
// returning the accumulated response.
func (e *Engine) streamOnce(ctx context.Context, provider llm.Provider, req llm.Request, sessionID string) (*llm.Response, error) {
	chunks, errs := provider.ChatStream(ctx, req)

	var content strings.Builder
	var calls []llm.ToolCall
	finish := ""

	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			return nil, apperrors.New(apperrors.ErrCodeTurnFailed, "turn cancelled", ctx.Err())
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if chunk.Delta {
				if chunk.Content != "" {
					content.WriteString(chunk.Content)
					e.bus.Publish(bus.Token(sessionID, chunk.Content))
				}
				continue
			}
			calls = append(calls, chunk.ToolCalls...)
			if chunk.FinishReason != "" {
				finish = chunk.FinishReason
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, apperrors.New(apperrors.ErrCodeTurnFailed, "model stream failed", err)
			}
		}
	}

	return &llm.Response{Content: content.String(), ToolCalls: calls, FinishReason: finish}, nil
}

// dispatchTool runs one call and always yields result text; tool failures
// are fed back to the model rather than failing the turn.
func (e *Engine) dispatchTool(ctx context.Context, byName map[string]tools.Tool, call llm.ToolCall, toolCtx *tools.Context) string {
	e.bus.Publish(bus.ToolStart(toolCtx.SessionID, call.Name))
	if e.metrics != nil {
		e.metrics.ToolCallsTotal.WithLabelValues(call.Name).Inc()
	}

	var result string
	tool, ok := byName[call.Name]
	if !ok {
		result = fmt.Sprintf("Error: unknown tool %q", call.Name)
	} else {
		out, err := tool.Run(ctx, call.Arguments, toolCtx)
		if err != nil {
			result = fmt.Sprintf("Error: %v", err)
		} else {
			result = out
		}
	}

	e.bus.Publish(bus.ToolEnd(toolCtx.SessionID, call.Name, tools.Truncate(result, 500)))
	return result
}

// resyncFiles refreshes the tracked file list from the live workspace. Best
// effort: a listing failure mid-turn is logged, not fatal.
func (e *Engine) resyncFiles(ctx context.Context, session *store.Session) {
	files, err := e.sandbox.ListFiles(ctx, session.SandboxPod, "")
	if err != nil {
		e.log.V(1).Info("workspace listing failed during resync", "session", session.ID, "error", err)
		return
	}
	discovered := make([]store.FileEntry, 0, len(files))
	for _, f := range files {
		discovered = append(discovered, store.FileEntry{Path: f.Path, IsDirectory: f.IsDirectory})
	}
	if err := e.sync.SyncFiles(ctx, session.ID, discovered); err != nil {
		e.log.Error(err, "file sync failed", "session", session.ID)
	}
}

func (e *Engine) resolveModel(def *agent.Definition) (llm.Provider, llm.ModelConfig, error) {
	providerName := def.LLM.Provider
	if providerName == "" || providerName == agent.ProviderDefault {
		providerName = e.cfg.DefaultProvider
	}

	provider, err := e.providers.Get(strings.ToLower(providerName))
	if err != nil {
		return nil, llm.ModelConfig{}, err
	}

	model := def.LLM.Model
	if model == "" {
		model = e.cfg.DefaultModel
	}
	return provider, llm.ModelConfig{Provider: provider.Name(), Model: model}, nil
}

func (e *Engine) materializeTools(def *agent.Definition, session *store.Session) ([]tools.Tool, *tools.Context, error) {
	have := tools.CapabilitySet{
		tools.CapabilityState:   true,
		tools.CapabilityNetwork: true,
	}
	if def.Features.Filesystem && session.SandboxPod != "" {
		have[tools.CapabilitySandbox] = true
	}

	toolSet, err := e.registry.ForAgent(def.Tools, have, e.client)
	if err != nil {
		return nil, nil, err
	}

	toolCtx := &tools.Context{
		SessionID: session.ID,
		Pod:       session.SandboxPod,
		Sandbox:   e.sandbox,
		State:     e.sync,
	}
	return toolSet, toolCtx, nil
}

// loadTranscript rebuilds the provider message list from the stored
// transcript, with the system prompt first.
func (e *Engine) loadTranscript(ctx context.Context, sessionID string, def *agent.Definition) ([]llm.Message, error) {
	records, err := e.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(records)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: def.SystemPrompt + operationalInstructions,
	})
	for _, r := range records {
		msg := llm.Message{Role: r.Role, Content: r.Content, ToolCallID: r.ToolCallID}
		if len(r.ToolCalls) > 0 {
			if err := json.Unmarshal(r.ToolCalls, &msg.ToolCalls); err != nil {
				return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "stored tool calls are corrupt", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func encodeMessage(sessionID string, msg llm.Message) (*store.Message, error) {
	record := &store.Message{
		SessionID:  sessionID,
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	if len(msg.ToolCalls) > 0 {
		encoded, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to encode tool calls", err)
		}
		record.ToolCalls = encoded
	}
	return record, nil
}
