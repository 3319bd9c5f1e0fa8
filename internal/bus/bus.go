// Package bus fans execution events out to live subscribers, one stream per
// session. Publishing never blocks: slow consumers drop events rather than
// stalling a turn. Durable state lives in the store, events are best effort.
package bus

import (
	"sync"
	"time"
)

// EventType tags the variant of an Event.
type EventType string

const (
	EventToken        EventType = "token"
	EventToolStart    EventType = "tool_start"
	EventToolEnd      EventType = "tool_end"
	EventTodoSnapshot EventType = "todo_snapshot"
	EventFileSnapshot EventType = "file_snapshot"
	EventCompleted    EventType = "completed"
	EventError        EventType = "error"
)

// ToolEvent describes one tool invocation boundary.
type ToolEvent struct {
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
}

// TodoState is one entry of a full task list snapshot.
type TodoState struct {
	ID          uint   `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// FileState is one entry of a full file list snapshot. Content is omitted;
// consumers fetch it through the session endpoint when needed.
type FileState struct {
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory,omitempty"`
	Size        int    `json:"size"`
}

// Event is one tagged execution event. Exactly the fields matching Type are
// populated.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Token     string      `json:"token,omitempty"`
	Tool      *ToolEvent  `json:"tool,omitempty"`
	Todos     []TodoState `json:"todos,omitempty"`
	Files     []FileState `json:"files,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func newEvent(typ EventType, sessionID string) Event {
	return Event{Type: typ, SessionID: sessionID, Timestamp: time.Now().UTC()}
}

// Token builds a streaming text delta event.
func Token(sessionID, token string) Event {
	e := newEvent(EventToken, sessionID)
	e.Token = token
	return e
}

// ToolStart marks a tool invocation beginning.
func ToolStart(sessionID, tool string) Event {
	e := newEvent(EventToolStart, sessionID)
	e.Tool = &ToolEvent{Name: tool}
	return e
}

// ToolEnd marks a tool invocation finishing, carrying its (truncated) result.
func ToolEnd(sessionID, tool, result string) Event {
	e := newEvent(EventToolEnd, sessionID)
	e.Tool = &ToolEvent{Name: tool, Result: result}
	return e
}

// TodoSnapshot carries the full task list after a sync.
func TodoSnapshot(sessionID string, todos []TodoState) Event {
	e := newEvent(EventTodoSnapshot, sessionID)
	e.Todos = todos
	return e
}

// FileSnapshot carries the full tracked file list after a sync.
func FileSnapshot(sessionID string, files []FileState) Event {
	e := newEvent(EventFileSnapshot, sessionID)
	e.Files = files
	return e
}

// Completed marks a turn finishing normally.
func Completed(sessionID string) Event {
	return newEvent(EventCompleted, sessionID)
}

// Error marks a turn failing.
func Error(sessionID, message string) Event {
	e := newEvent(EventError, sessionID)
	e.Error = message
	return e
}

const subscriberBuffer = 100

// Bus is an in-process, per-session event fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]chan Event)}
}

// Publish delivers the event to all current subscribers of its session.
// Full subscriber buffers are skipped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subscribers := b.subscribers[event.SessionID]
	b.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up, drop rather than block the turn.
		}
	}
}

// Subscribe opens a buffered event stream for one session.
func (b *Bus) Subscribe(sessionID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subscribers[sessionID] = append(b.subscribers[sessionID], ch)
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sessionID string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers := b.subscribers[sessionID]
	for i, sub := range subscribers {
		if sub == ch {
			b.subscribers[sessionID] = append(subscribers[:i], subscribers[i+1:]...)
			close(sub)
			break
		}
	}
	if len(b.subscribers[sessionID]) == 0 {
		delete(b.subscribers, sessionID)
	}
}
