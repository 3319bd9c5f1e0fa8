package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/deepagents-dev/deepagents/internal/bus"
	"github.com/deepagents-dev/deepagents/internal/engine"
	"github.com/deepagents-dev/deepagents/internal/metrics"
	"github.com/deepagents-dev/deepagents/internal/state"
	"github.com/deepagents-dev/deepagents/internal/store"
	"github.com/deepagents-dev/deepagents/pkg/agent"
	"github.com/deepagents-dev/deepagents/pkg/llm"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
	"github.com/deepagents-dev/deepagents/pkg/tools"
)

// fakeSandbox tracks provisioning and cleanup calls.
type fakeSandbox struct {
	failCreate bool
	created    []string
	cleaned    []string
}

func (f *fakeSandbox) Create(ctx context.Context, sessionID string) (*sandbox.Handle, error) {
	if f.failCreate {
		return nil, errors.New("cluster unavailable")
	}
	f.created = append(f.created, sessionID)
	names := sandbox.DeriveNames(sessionID)
	return &sandbox.Handle{Pod: names.Pod, PVC: names.PVC}, nil
}

func (f *fakeSandbox) Exec(ctx context.Context, pod string, command []string, timeout time.Duration) string {
	return ""
}

func (f *fakeSandbox) ReadFile(ctx context.Context, pod, path string) string { return "" }

func (f *fakeSandbox) WriteFile(ctx context.Context, pod, path, content string) string { return "" }

func (f *fakeSandbox) ListFiles(ctx context.Context, pod, path string) ([]sandbox.FileInfo, error) {
	return nil, nil
}

func (f *fakeSandbox) Cleanup(ctx context.Context, sessionID string) {
	f.cleaned = append(f.cleaned, sessionID)
}

func (f *fakeSandbox) PodPhase(ctx context.Context, sessionID string) (corev1.PodPhase, error) {
	return corev1.PodRunning, nil
}

// echoProvider responds to every request with fixed text.
type echoProvider struct{}

func (echoProvider) Name() string { return "fake" }

func (echoProvider) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: "done", FinishReason: "stop"}, nil
}

func (echoProvider) ChatStream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk, 2)
	errs := make(chan error, 1)
	chunks <- llm.StreamChunk{Content: "done", Delta: true}
	chunks <- llm.StreamChunk{FinishReason: "stop"}
	close(chunks)
	close(errs)
	return chunks, errs
}

type harness struct {
	server  *httptest.Server
	store   *store.Store
	bus     *bus.Bus
	sandbox *fakeSandbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)

	b := bus.New()
	sb := &fakeSandbox{}
	sync := state.New(st, b)

	providers := llm.NewRegistry()
	require.NoError(t, providers.Register(echoProvider{}))

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	eng := engine.New(st, sync, b, sb, tools.NewDefaultRegistry(nil), providers, m, nil,
		engine.Config{DefaultProvider: "fake", DefaultModel: "m"}, logr.Discard())
	runner := engine.NewRunner(eng, time.Second, logr.Discard())

	srv := New(st, sb, runner, sync, b, m, logr.Discard())
	ts := httptest.NewServer(srv.Router(registry))
	t.Cleanup(ts.Close)

	return &harness{server: ts, store: st, bus: b, sandbox: sb}
}

func (h *harness) importAgent(t *testing.T, def *agent.Definition) {
	t.Helper()
	body, err := agent.Export(def)
	require.NoError(t, err)
	resp, err := http.Post(h.server.URL+"/api/agents/import", "application/yaml", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (h *harness) createSession(t *testing.T, agentName string) sessionView {
	t.Helper()
	body := fmt.Sprintf(`{"agent": %q}`, agentName)
	resp, err := http.Post(h.server.URL+"/api/sessions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	return view
}

func doRequest(t *testing.T, method, url string, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAgentImportExportRoundTrip(t *testing.T) {
	h := newHarness(t)
	def := agent.Template("researcher")
	h.importAgent(t, def)

	resp, err := http.Get(h.server.URL + "/api/agents/researcher/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	got, err := agent.Import(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, def, got)
}

func TestImportRejectsInvalidYAML(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Post(h.server.URL+"/api/agents/import", "application/yaml",
		strings.NewReader("description: nameless\n"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateSessionProvisionsSandbox(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))

	view := h.createSession(t, "researcher")
	assert.Equal(t, "active", view.Status)
	assert.NotEmpty(t, view.SandboxPod)
	assert.Equal(t, []string{view.ID}, h.sandbox.created)
}

func TestCreateSessionWithoutFilesystemSkipsSandbox(t *testing.T) {
	h := newHarness(t)
	def := agent.Template("scribe")
	def.Features.Filesystem = false
	h.importAgent(t, def)

	view := h.createSession(t, "scribe")
	assert.Equal(t, "active", view.Status)
	assert.Empty(t, view.SandboxPod)
	assert.Empty(t, h.sandbox.created, "no provisioning call without the filesystem feature")
}

func TestProvisionDurationObserved(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))
	h.createSession(t, "researcher")

	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "deepagents_sandbox_provision_seconds_count 1")
}

func TestCreateSessionSurvivesProvisionFailure(t *testing.T) {
	h := newHarness(t)
	h.sandbox.failCreate = true
	h.importAgent(t, agent.Template("researcher"))

	view := h.createSession(t, "researcher")
	assert.Equal(t, "active", view.Status)
	assert.Empty(t, view.SandboxPod)
}

func TestCreateSessionUnknownAgent(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Post(h.server.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"agent": "ghost"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageRunsTurn(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))
	view := h.createSession(t, "researcher")

	resp := doRequest(t, http.MethodPost, h.server.URL+"/api/sessions/"+view.ID+"/messages",
		`{"content": "hello"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ack map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, "processing", ack["status"])

	require.Eventually(t, func() bool {
		messages, err := h.store.ListMessages(context.Background(), view.ID)
		return err == nil && len(messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	messages, err := h.store.ListMessages(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, "done", messages[1].Content)
}

func TestSendMessageToEndedSession(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))
	view := h.createSession(t, "researcher")

	resp := doRequest(t, http.MethodDelete, h.server.URL+"/api/sessions/"+view.ID, "")
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, h.server.URL+"/api/sessions/"+view.ID+"/messages",
		`{"content": "too late"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEndSessionCleansUpSandbox(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))
	view := h.createSession(t, "researcher")

	resp := doRequest(t, http.MethodDelete, h.server.URL+"/api/sessions/"+view.ID, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{view.ID}, h.sandbox.cleaned)

	session, err := h.store.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, session.Status)
}

func TestEndSessionPurge(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))
	view := h.createSession(t, "researcher")

	resp := doRequest(t, http.MethodDelete, h.server.URL+"/api/sessions/"+view.ID+"?purge=true", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := h.store.GetSession(context.Background(), view.ID)
	require.Error(t, err)
}

func TestGetSessionDetail(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))
	view := h.createSession(t, "researcher")

	ctx := context.Background()
	require.NoError(t, h.store.AppendMessage(ctx, &store.Message{SessionID: view.ID, Role: "user", Content: "hi"}))
	require.NoError(t, h.store.UpsertTodo(ctx, view.ID, "investigate", store.TodoPending))
	require.NoError(t, h.store.UpsertFile(ctx, view.ID, "notes.md", "# notes"))

	resp, err := http.Get(h.server.URL + "/api/sessions/" + view.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail sessionDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.Equal(t, view.ID, detail.ID)
	assert.Equal(t, string(corev1.PodRunning), detail.SandboxPhase)
	require.Len(t, detail.Messages, 1)
	require.Len(t, detail.Todos, 1)
	require.Len(t, detail.Files, 1)
	assert.Equal(t, "# notes", detail.Files[0].Content)
}

func TestUpdateTodoStatus(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))
	view := h.createSession(t, "researcher")

	ctx := context.Background()
	require.NoError(t, h.store.UpsertTodo(ctx, view.ID, "task", store.TodoPending))
	todos, err := h.store.ListTodos(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, todos, 1)

	events := h.bus.Subscribe(view.ID)
	defer h.bus.Unsubscribe(view.ID, events)

	resp := doRequest(t, http.MethodPatch,
		fmt.Sprintf("%s/api/todos/%d", h.server.URL, todos[0].ID),
		`{"status": "completed"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated todoView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, store.TodoCompleted, updated.Status)

	select {
	case event := <-events:
		assert.Equal(t, bus.EventTodoSnapshot, event.Type)
	default:
		t.Fatal("expected a todo snapshot event")
	}
}

func TestUpdateTodoRejectsBadStatus(t *testing.T) {
	h := newHarness(t)
	resp := doRequest(t, http.MethodPatch, h.server.URL+"/api/todos/1", `{"status": "done"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsWebsocketStreams(t *testing.T) {
	h := newHarness(t)
	h.importAgent(t, agent.Template("researcher"))
	view := h.createSession(t, "researcher")

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/sessions/" + view.ID + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	require.Eventually(t, func() bool {
		h.bus.Publish(bus.Token(view.ID, "hi"))
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var event bus.Event
		if err := conn.ReadJSON(&event); err != nil {
			return false
		}
		return event.Type == bus.EventToken && event.Token == "hi"
	}, 2*time.Second, 50*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
