// Package state keeps the durable session state (todos, files) in step with
// what happens inside the sandbox and announces every change as a full
// snapshot event.
package state

import (
	"context"
	"sync"

	"github.com/deepagents-dev/deepagents/internal/bus"
	"github.com/deepagents-dev/deepagents/internal/store"
	"github.com/deepagents-dev/deepagents/pkg/tools"
)

// Synchronizer applies state changes transactionally-per-call and publishes
// snapshots. A per-session mutex serializes concurrent syncs so snapshots
// always reflect a consistent store read.
type Synchronizer struct {
	store *store.Store
	bus   *bus.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Synchronizer.
func New(st *store.Store, b *bus.Bus) *Synchronizer {
	return &Synchronizer{
		store: st,
		bus:   b,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Synchronizer) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// SyncTodos upserts every entry by description. Entries the model stopped
// mentioning are kept, deletion never happens here, so the record of
// finished work survives the model's shrinking context.
func (s *Synchronizer) SyncTodos(ctx context.Context, sessionID string, todos []tools.Todo) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	for _, todo := range todos {
		if err := s.store.UpsertTodo(ctx, sessionID, todo.Description, todo.Status); err != nil {
			return err
		}
	}
	return s.publishTodoSnapshot(ctx, sessionID)
}

// ReadTodos returns the persisted task list in creation order.
func (s *Synchronizer) ReadTodos(ctx context.Context, sessionID string) ([]tools.Todo, error) {
	records, err := s.store.ListTodos(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	todos := make([]tools.Todo, 0, len(records))
	for _, r := range records {
		todos = append(todos, tools.Todo{Description: r.Description, Status: r.Status})
	}
	return todos, nil
}

// SyncFiles records workspace entries discovered by a listing, directories
// included. Only paths not yet tracked are inserted; tracked content is
// authoritative and only changes through UpsertFile.
func (s *Synchronizer) SyncFiles(ctx context.Context, sessionID string, entries []store.FileEntry) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.InsertNewFiles(ctx, sessionID, entries); err != nil {
		return err
	}
	return s.publishFileSnapshot(ctx, sessionID)
}

// UpsertFile records the exact content written by the write and edit tools.
func (s *Synchronizer) UpsertFile(ctx context.Context, sessionID, path, content string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.UpsertFile(ctx, sessionID, path, content); err != nil {
		return err
	}
	return s.publishFileSnapshot(ctx, sessionID)
}

// PublishTodoSnapshot re-emits the current task list. Used after manual
// status edits through the API.
func (s *Synchronizer) PublishTodoSnapshot(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.publishTodoSnapshot(ctx, sessionID)
}

func (s *Synchronizer) publishTodoSnapshot(ctx context.Context, sessionID string) error {
	records, err := s.store.ListTodos(ctx, sessionID)
	if err != nil {
		return err
	}
	snapshot := make([]bus.TodoState, 0, len(records))
	for _, r := range records {
		snapshot = append(snapshot, bus.TodoState{ID: r.ID, Description: r.Description, Status: r.Status})
	}
	s.bus.Publish(bus.TodoSnapshot(sessionID, snapshot))
	return nil
}

func (s *Synchronizer) publishFileSnapshot(ctx context.Context, sessionID string) error {
	records, err := s.store.ListFiles(ctx, sessionID)
	if err != nil {
		return err
	}
	snapshot := make([]bus.FileState, 0, len(records))
	for _, r := range records {
		snapshot = append(snapshot, bus.FileState{Path: r.Path, IsDirectory: r.IsDirectory, Size: len(r.Content)})
	}
	s.bus.Publish(bus.FileSnapshot(sessionID, snapshot))
	return nil
}

// Forget drops the per-session lock after a session ends.
func (s *Synchronizer) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, sessionID)
}
