// Package store is the durable persistence layer: agents, sessions,
// messages, todos and file state.
package store

import (
	"time"
)

// Session lifecycle states.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionError     = "error"
	SessionTimeout   = "timeout"
)

// Todo states. Mirrors the statuses the write_todos tool accepts.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// Agent is one stored agent definition. Spec holds the full portable
// definition as JSON; name and description are lifted out for listing.
type Agent struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	Spec        []byte `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is one conversation bound to an agent and, optionally, a sandbox.
type Session struct {
	ID             string `gorm:"primaryKey"`
	AgentID        string `gorm:"index;not null"`
	AgentName      string
	Status         string `gorm:"index;not null"`
	SandboxPod     string
	SandboxPVC     string
	LastActivityAt time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message is one append-only transcript entry. ToolCalls holds the
// serialized call list for assistant messages that requested tools.
type Message struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"index;not null"`
	Role       string `gorm:"not null"`
	Content    string
	ToolCalls  []byte
	ToolCallID string
	CreatedAt  time.Time
}

// Todo is one task list entry. The (session, description) pair is unique:
// syncing upserts by description and never deletes, so finished work stays
// on record.
type Todo struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"uniqueIndex:idx_session_description;not null"`
	Description string `gorm:"uniqueIndex:idx_session_description;not null"`
	Status      string `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// File is the durable copy of one workspace file. The (session, path) pair
// is unique; bulk sync only inserts new paths while the write and edit tools
// update content in place.
type File struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"uniqueIndex:idx_session_path;not null"`
	Path        string `gorm:"uniqueIndex:idx_session_path;not null"`
	IsDirectory bool
	Content     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
