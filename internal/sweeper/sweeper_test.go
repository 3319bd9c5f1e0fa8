package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/deepagents-dev/deepagents/internal/store"
	"github.com/deepagents-dev/deepagents/pkg/agent"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
)

type recordingSandbox struct {
	cleaned []string
}

func (r *recordingSandbox) Create(ctx context.Context, sessionID string) (*sandbox.Handle, error) {
	return &sandbox.Handle{}, nil
}

func (r *recordingSandbox) Exec(ctx context.Context, pod string, command []string, timeout time.Duration) string {
	return ""
}

func (r *recordingSandbox) ReadFile(ctx context.Context, pod, path string) string { return "" }

func (r *recordingSandbox) WriteFile(ctx context.Context, pod, path, content string) string {
	return ""
}

func (r *recordingSandbox) ListFiles(ctx context.Context, pod, path string) ([]sandbox.FileInfo, error) {
	return nil, nil
}

func (r *recordingSandbox) Cleanup(ctx context.Context, sessionID string) {
	r.cleaned = append(r.cleaned, sessionID)
}

func (r *recordingSandbox) PodPhase(ctx context.Context, sessionID string) (corev1.PodPhase, error) {
	return corev1.PodRunning, nil
}

func TestSweepTimesOutOldSessions(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)

	agentRecord, err := st.SaveAgent(ctx, agent.Template("tester"))
	require.NoError(t, err)

	old, err := st.CreateSession(ctx, agentRecord)
	require.NoError(t, err)
	require.NoError(t, st.SetSessionSandbox(ctx, old.ID, "sandbox-old", "sandbox-pvc-old"))

	// old ages past the timeout, fresh does not.
	time.Sleep(100 * time.Millisecond)
	fresh, err := st.CreateSession(ctx, agentRecord)
	require.NoError(t, err)

	sb := &recordingSandbox{}
	s := New(st, sb, nil, 50*time.Millisecond, time.Hour, logr.Discard())
	require.NoError(t, s.SweepOnce(ctx))

	got, err := st.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionTimeout, got.Status)
	assert.Equal(t, []string{old.ID}, sb.cleaned)

	kept, err := st.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionActive, kept.Status)
}

func TestSweepIgnoresActivity(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)

	agentRecord, err := st.SaveAgent(ctx, agent.Template("tester"))
	require.NoError(t, err)
	session, err := st.CreateSession(ctx, agentRecord)
	require.NoError(t, err)

	// Recent activity must not extend the session's lifetime: age is
	// measured from creation.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, st.TouchSession(ctx, session.ID))

	s := New(st, &recordingSandbox{}, nil, 50*time.Millisecond, time.Hour, logr.Discard())
	require.NoError(t, s.SweepOnce(ctx))

	got, err := st.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionTimeout, got.Status)
}

func TestSweepSkipsEndedSessions(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)

	agentRecord, err := st.SaveAgent(ctx, agent.Template("tester"))
	require.NoError(t, err)
	session, err := st.CreateSession(ctx, agentRecord)
	require.NoError(t, err)
	require.NoError(t, st.SetSessionStatus(ctx, session.ID, store.SessionCompleted))

	sb := &recordingSandbox{}
	s := New(st, sb, nil, time.Nanosecond, time.Hour, logr.Discard())
	require.NoError(t, s.SweepOnce(ctx))

	got, err := st.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, got.Status)
	assert.Empty(t, sb.cleaned)
}
