package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepagents-dev/deepagents/pkg/agent"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	return s
}

func seedSession(t *testing.T, s *Store) *Session {
	t.Helper()
	ctx := context.Background()
	agentRecord, err := s.SaveAgent(ctx, agent.Template("tester"))
	require.NoError(t, err)
	session, err := s.CreateSession(ctx, agentRecord)
	require.NoError(t, err)
	return session
}

func TestSaveAgentUpsertsByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := agent.Template("researcher")
	first, err := s.SaveAgent(ctx, def)
	require.NoError(t, err)

	def.Description = "updated"
	second, err := s.SaveAgent(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "updated", second.Description)

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	got, err := second.Definition()
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)
}

func TestGetAgentByNameNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgentByName(context.Background(), "ghost")
	require.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := seedSession(t, s)

	assert.Equal(t, SessionActive, session.Status)

	require.NoError(t, s.SetSessionSandbox(ctx, session.ID, "sandbox-abc", "sandbox-pvc-abc"))
	require.NoError(t, s.SetSessionStatus(ctx, session.ID, SessionCompleted))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, got.Status)
	assert.Equal(t, "sandbox-abc", got.SandboxPod)
}

func TestTodoUpsertByDescription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := seedSession(t, s)

	require.NoError(t, s.UpsertTodo(ctx, session.ID, "write tests", TodoPending))
	require.NoError(t, s.UpsertTodo(ctx, session.ID, "write tests", TodoCompleted))

	todos, err := s.ListTodos(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, todos, 1, "same description must update, not duplicate")
	assert.Equal(t, TodoCompleted, todos[0].Status)
}

func TestTodosAreScopedPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedSession(t, s)
	agentRecord, err := s.GetAgentByName(ctx, "tester")
	require.NoError(t, err)
	b, err := s.CreateSession(ctx, agentRecord)
	require.NoError(t, err)

	require.NoError(t, s.UpsertTodo(ctx, a.ID, "shared description", TodoPending))
	require.NoError(t, s.UpsertTodo(ctx, b.ID, "shared description", TodoCompleted))

	aTodos, err := s.ListTodos(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, aTodos, 1)
	assert.Equal(t, TodoPending, aTodos[0].Status)
}

func TestFileInsertOnlyVsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := seedSession(t, s)

	require.NoError(t, s.UpsertFile(ctx, session.ID, "main.go", "v1"))

	// Bulk sync must not clobber tracked content.
	require.NoError(t, s.InsertNewFiles(ctx, session.ID, []FileEntry{
		{Path: "main.go"},
		{Path: "README.md"},
		{Path: "docs", IsDirectory: true},
	}))

	files, err := s.ListFiles(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "README.md", files[0].Path)
	assert.Equal(t, "docs", files[1].Path)
	assert.True(t, files[1].IsDirectory)
	assert.Equal(t, "main.go", files[2].Path)
	assert.Equal(t, "v1", files[2].Content)

	require.NoError(t, s.UpsertFile(ctx, session.ID, "main.go", "v2"))
	files, err = s.ListFiles(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", files[2].Content)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := seedSession(t, s)

	require.NoError(t, s.AppendMessage(ctx, &Message{SessionID: session.ID, Role: "user", Content: "hi"}))
	require.NoError(t, s.UpsertTodo(ctx, session.ID, "task", TodoPending))
	require.NoError(t, s.UpsertFile(ctx, session.ID, "a.txt", "x"))

	require.NoError(t, s.DeleteSession(ctx, session.ID))

	_, err := s.GetSession(ctx, session.ID)
	require.Error(t, err)

	messages, err := s.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
	todos, err := s.ListTodos(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, todos)
	files, err := s.ListFiles(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteSession(context.Background(), "missing")
	require.Error(t, err)
}

func TestListActiveSessionsCreatedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := seedSession(t, s)

	stale, err := s.ListActiveSessionsCreatedBefore(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = s.ListActiveSessionsCreatedBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, session.ID, stale[0].ID)

	// Completed sessions are never swept.
	require.NoError(t, s.SetSessionStatus(ctx, session.ID, SessionCompleted))
	stale, err = s.ListActiveSessionsCreatedBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := seedSession(t, s)

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendMessage(ctx, &Message{SessionID: session.ID, Role: "user", Content: content}))
	}

	messages, err := s.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "third", messages[2].Content)
}
