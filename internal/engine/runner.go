package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

// DefaultEnqueueTimeout is how long Submit waits for the previous turn of
// the same session to release the slot before rejecting.
const DefaultEnqueueTimeout = 5 * time.Second

type turnSlot struct {
	sem    chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Runner serializes turns per session: at most one turn runs for a session
// at any time, and an active turn can be cancelled when the session ends.
type Runner struct {
	engine         *Engine
	enqueueTimeout time.Duration
	log            logr.Logger

	mu    sync.Mutex
	slots map[string]*turnSlot
}

// NewRunner creates a Runner around the engine.
func NewRunner(e *Engine, enqueueTimeout time.Duration, log logr.Logger) *Runner {
	if enqueueTimeout <= 0 {
		enqueueTimeout = DefaultEnqueueTimeout
	}
	return &Runner{
		engine:         e,
		enqueueTimeout: enqueueTimeout,
		log:            log.WithName("runner"),
		slots:          make(map[string]*turnSlot),
	}
}

func (r *Runner) slot(sessionID string) *turnSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[sessionID]
	if !ok {
		s = &turnSlot{sem: make(chan struct{}, 1)}
		r.slots[sessionID] = s
	}
	return s
}

// Submit starts a turn in the background. It blocks only to acquire the
// session's slot; if a previous turn is still running past the enqueue
// timeout, the new turn is rejected.
func (r *Runner) Submit(sessionID string) error {
	slot := r.slot(sessionID)

	select {
	case slot.sem <- struct{}{}:
	case <-time.After(r.enqueueTimeout):
		return apperrors.New(apperrors.ErrCodeTurnFailed,
			fmt.Sprintf("a turn is already running for session %s", sessionID), nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	slot.mu.Lock()
	slot.cancel = cancel
	slot.mu.Unlock()

	go func() {
		defer func() {
			slot.mu.Lock()
			slot.cancel = nil
			slot.mu.Unlock()
			cancel()
			<-slot.sem
		}()
		if err := r.engine.RunTurn(ctx, sessionID); err != nil {
			r.log.V(1).Info("turn ended with error", "session", sessionID, "error", err)
		}
	}()
	return nil
}

// Cancel aborts the session's active turn, if any. Used when a session is
// ended while the model is still working.
func (r *Runner) Cancel(sessionID string) {
	r.mu.Lock()
	slot, ok := r.slots[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	slot.mu.Lock()
	if slot.cancel != nil {
		slot.cancel()
	}
	slot.mu.Unlock()
}

// Forget drops the session's slot after the session is gone.
func (r *Runner) Forget(sessionID string) {
	r.Cancel(sessionID)
	r.mu.Lock()
	delete(r.slots, sessionID)
	r.mu.Unlock()
}
