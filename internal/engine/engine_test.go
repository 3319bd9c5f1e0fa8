package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/deepagents-dev/deepagents/internal/bus"
	"github.com/deepagents-dev/deepagents/internal/state"
	"github.com/deepagents-dev/deepagents/internal/store"
	"github.com/deepagents-dev/deepagents/pkg/agent"
	"github.com/deepagents-dev/deepagents/pkg/llm"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
	"github.com/deepagents-dev/deepagents/pkg/tools"
)

// scriptedRound is one model response in a scripted conversation.
type scriptedRound struct {
	tokens []string
	calls  []llm.ToolCall
	err    error
}

// scriptedProvider replays rounds in order.
type scriptedProvider struct {
	rounds []scriptedRound
	next   int
	block  chan struct{} // when set, ChatStream waits before responding
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	chunks, errs := p.ChatStream(ctx, req)
	var resp llm.Response
	for chunk := range chunks {
		if chunk.Delta {
			resp.Content += chunk.Content
		} else {
			resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
			resp.FinishReason = chunk.FinishReason
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk)
	errs := make(chan error, 1)

	round := scriptedRound{}
	if p.next < len(p.rounds) {
		round = p.rounds[p.next]
		p.next++
	}

	go func() {
		defer close(chunks)
		defer close(errs)
		if p.block != nil {
			<-p.block
		}
		for _, token := range round.tokens {
			chunks <- llm.StreamChunk{Content: token, Delta: true}
		}
		if round.err != nil {
			errs <- round.err
			return
		}
		finish := "stop"
		if len(round.calls) > 0 {
			finish = "tool_calls"
		}
		chunks <- llm.StreamChunk{ToolCalls: round.calls, FinishReason: finish}
	}()

	return chunks, errs
}

// stubSandbox is a minimal in-memory sandbox for engine tests.
type stubSandbox struct {
	files map[string]string
}

func (s *stubSandbox) Create(ctx context.Context, sessionID string) (*sandbox.Handle, error) {
	return &sandbox.Handle{Pod: "sandbox-stub"}, nil
}

func (s *stubSandbox) Exec(ctx context.Context, pod string, command []string, timeout time.Duration) string {
	return "ok"
}

func (s *stubSandbox) ReadFile(ctx context.Context, pod, path string) string {
	return s.files[path]
}

func (s *stubSandbox) WriteFile(ctx context.Context, pod, path, content string) string {
	s.files[path] = content
	return "Written"
}

func (s *stubSandbox) ListFiles(ctx context.Context, pod, path string) ([]sandbox.FileInfo, error) {
	var out []sandbox.FileInfo
	for name := range s.files {
		out = append(out, sandbox.FileInfo{Name: name, Path: name})
	}
	return out, nil
}

func (s *stubSandbox) Cleanup(ctx context.Context, sessionID string) {}

func (s *stubSandbox) PodPhase(ctx context.Context, sessionID string) (corev1.PodPhase, error) {
	return corev1.PodRunning, nil
}

type fixture struct {
	engine  *Engine
	store   *store.Store
	bus     *bus.Bus
	session *store.Session
}

func newFixture(t *testing.T, provider llm.Provider, maxToolCalls int) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)

	agentRecord, err := st.SaveAgent(ctx, agent.Template("tester"))
	require.NoError(t, err)
	session, err := st.CreateSession(ctx, agentRecord)
	require.NoError(t, err)
	require.NoError(t, st.SetSessionSandbox(ctx, session.ID, "sandbox-stub", "sandbox-pvc-stub"))

	providers := llm.NewRegistry()
	require.NoError(t, providers.Register(provider))

	b := bus.New()
	sb := &stubSandbox{files: map[string]string{}}
	sync := state.New(st, b)

	eng := New(st, sync, b, sb, tools.NewDefaultRegistry(nil), providers, nil, nil,
		Config{DefaultProvider: "fake", DefaultModel: "test-model", MaxToolCalls: maxToolCalls},
		logr.Discard())

	session, err = st.GetSession(ctx, session.ID)
	require.NoError(t, err)
	return &fixture{engine: eng, store: st, bus: b, session: session}
}

func (f *fixture) sendUser(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, f.store.AppendMessage(context.Background(), &store.Message{
		SessionID: f.session.ID,
		Role:      llm.RoleUser,
		Content:   content,
	}))
}

func collect(ch <-chan bus.Event) []bus.Event {
	var events []bus.Event
	for {
		select {
		case e := <-ch:
			events = append(events, e)
		default:
			return events
		}
	}
}

func eventTypes(events []bus.Event) []bus.EventType {
	out := make([]bus.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestRunTurnPlainResponse(t *testing.T) {
	provider := &scriptedProvider{rounds: []scriptedRound{
		{tokens: []string{"Hel", "lo"}},
	}}
	f := newFixture(t, provider, 0)
	ch := f.bus.Subscribe(f.session.ID)
	f.sendUser(t, "hi")

	require.NoError(t, f.engine.RunTurn(context.Background(), f.session.ID))

	messages, err := f.store.ListMessages(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello", messages[1].Content)

	events := collect(ch)
	assert.Equal(t, []bus.EventType{bus.EventToken, bus.EventToken, bus.EventCompleted}, eventTypes(events))
}

func TestRunTurnWithToolCall(t *testing.T) {
	provider := &scriptedProvider{rounds: []scriptedRound{
		{calls: []llm.ToolCall{{ID: "call_1", Name: "read_todos", Arguments: map[string]interface{}{}}}},
		{tokens: []string{"Nothing pending."}},
	}}
	f := newFixture(t, provider, 0)
	ch := f.bus.Subscribe(f.session.ID)
	f.sendUser(t, "what is left to do?")

	require.NoError(t, f.engine.RunTurn(context.Background(), f.session.ID))

	messages, err := f.store.ListMessages(context.Background(), f.session.ID)
	require.NoError(t, err)
	// user, assistant(tool call), tool result, assistant text
	require.Len(t, messages, 4)
	assert.Equal(t, llm.RoleAssistant, messages[1].Role)
	assert.NotEmpty(t, messages[1].ToolCalls)
	assert.Equal(t, llm.RoleTool, messages[2].Role)
	assert.Equal(t, "call_1", messages[2].ToolCallID)
	assert.Equal(t, "No todos.", messages[2].Content)
	assert.Equal(t, "Nothing pending.", messages[3].Content)

	types := eventTypes(collect(ch))
	assert.Contains(t, types, bus.EventToolStart)
	assert.Contains(t, types, bus.EventToolEnd)
	assert.Equal(t, bus.EventCompleted, types[len(types)-1])
}

func TestRunTurnUnknownToolFeedsErrorBack(t *testing.T) {
	provider := &scriptedProvider{rounds: []scriptedRound{
		{calls: []llm.ToolCall{{ID: "call_1", Name: "teleport", Arguments: map[string]interface{}{}}}},
		{tokens: []string{"Sorry."}},
	}}
	f := newFixture(t, provider, 0)
	f.sendUser(t, "go")

	require.NoError(t, f.engine.RunTurn(context.Background(), f.session.ID))

	messages, err := f.store.ListMessages(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Contains(t, messages[2].Content, "unknown tool")
}

func TestRunTurnFailureLeavesNothingPersisted(t *testing.T) {
	provider := &scriptedProvider{rounds: []scriptedRound{
		{tokens: []string{"partial"}, err: errors.New("upstream disconnected")},
	}}
	f := newFixture(t, provider, 0)
	ch := f.bus.Subscribe(f.session.ID)
	f.sendUser(t, "hi")

	err := f.engine.RunTurn(context.Background(), f.session.ID)
	require.Error(t, err)

	messages, listErr := f.store.ListMessages(context.Background(), f.session.ID)
	require.NoError(t, listErr)
	require.Len(t, messages, 1, "only the user message survives a failed turn")

	session, getErr := f.store.GetSession(context.Background(), f.session.ID)
	require.NoError(t, getErr)
	assert.Equal(t, store.SessionError, session.Status)

	events := collect(ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, bus.EventError, last.Type)
	assert.Contains(t, last.Error, "model stream failed")
}

func TestRunTurnEnforcesToolCallLimit(t *testing.T) {
	rounds := make([]scriptedRound, 10)
	for i := range rounds {
		rounds[i] = scriptedRound{calls: []llm.ToolCall{
			{ID: "c", Name: "read_todos", Arguments: map[string]interface{}{}},
		}}
	}
	provider := &scriptedProvider{rounds: rounds}
	f := newFixture(t, provider, 3)
	f.sendUser(t, "loop forever")

	err := f.engine.RunTurn(context.Background(), f.session.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool call limit")
}

func TestRunTurnRejectsInactiveSession(t *testing.T) {
	provider := &scriptedProvider{}
	f := newFixture(t, provider, 0)
	require.NoError(t, f.store.SetSessionStatus(context.Background(), f.session.ID, store.SessionCompleted))

	err := f.engine.RunTurn(context.Background(), f.session.ID)
	require.Error(t, err)
}

func TestRunnerSingleFlight(t *testing.T) {
	block := make(chan struct{})
	provider := &scriptedProvider{
		rounds: []scriptedRound{{tokens: []string{"slow"}}, {tokens: []string{"second"}}},
		block:  block,
	}
	f := newFixture(t, provider, 0)
	f.sendUser(t, "hi")

	runner := NewRunner(f.engine, 50*time.Millisecond, logr.Discard())
	require.NoError(t, runner.Submit(f.session.ID))

	// The first turn is still blocked on the provider.
	err := runner.Submit(f.session.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	close(block)
}

func TestRunnerCancelAbortsTurn(t *testing.T) {
	block := make(chan struct{})
	provider := &scriptedProvider{
		rounds: []scriptedRound{{tokens: []string{"never delivered"}}},
		block:  block,
	}
	f := newFixture(t, provider, 0)
	ch := f.bus.Subscribe(f.session.ID)
	f.sendUser(t, "hi")

	runner := NewRunner(f.engine, time.Second, logr.Discard())
	require.NoError(t, runner.Submit(f.session.ID))
	runner.Cancel(f.session.ID)
	close(block)

	require.Eventually(t, func() bool {
		for _, e := range collect(ch) {
			if e.Type == bus.EventError {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
