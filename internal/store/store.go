package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deepagents-dev/deepagents/pkg/agent"
	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

// Store wraps the database handle with the persistence operations the rest
// of the system uses.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and runs migrations. Supported
// drivers are sqlite and postgres.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "deepagents.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation,
			fmt.Sprintf("unsupported database driver %q", driver), nil)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to open database", err)
	}

	if err := db.AutoMigrate(&Agent{}, &Session{}, &Message{}, &Todo{}, &File{}); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to migrate schema", err)
	}

	return &Store{db: db}, nil
}

// --- agents ---

// SaveAgent inserts or updates an agent by name.
func (s *Store) SaveAgent(ctx context.Context, def *agent.Definition) (*Agent, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	spec, err := json.Marshal(def)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to encode agent spec", err)
	}

	record := &Agent{
		ID:          uuid.NewString(),
		Name:        def.Name,
		Description: def.Description,
		Spec:        spec,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "spec", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to save agent", err)
	}

	return s.GetAgentByName(ctx, def.Name)
}

// GetAgentByName loads one agent record.
func (s *Store) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	var record Agent
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeAgentNotFound,
			fmt.Sprintf("agent %q not found", name), err)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to load agent", err)
	}
	return &record, nil
}

// Definition decodes the stored agent spec.
func (a *Agent) Definition() (*agent.Definition, error) {
	var def agent.Definition
	if err := json.Unmarshal(a.Spec, &def); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "stored agent spec is corrupt", err)
	}
	return &def, nil
}

// ListAgents returns all agents ordered by name.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := s.db.WithContext(ctx).Order("name").Find(&agents).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to list agents", err)
	}
	return agents, nil
}

// DeleteAgent removes one agent by name. Sessions keep their denormalized
// agent name for history.
func (s *Store) DeleteAgent(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).Where("name = ?", name).Delete(&Agent{})
	if result.Error != nil {
		return apperrors.New(apperrors.ErrCodeStoreOperation, "failed to delete agent", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.ErrCodeAgentNotFound,
			fmt.Sprintf("agent %q not found", name), nil)
	}
	return nil
}

// --- sessions ---

// CreateSession inserts a new active session for the given agent.
func (s *Store) CreateSession(ctx context.Context, agentRecord *Agent) (*Session, error) {
	session := &Session{
		ID:             uuid.NewString(),
		AgentID:        agentRecord.ID,
		AgentName:      agentRecord.Name,
		Status:         SessionActive,
		LastActivityAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionCreate, "failed to create session", err)
	}
	return session, nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeSessionGet,
			fmt.Sprintf("session %s not found", id), err)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionGet, "failed to load session", err)
	}
	return &session, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&sessions).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to list sessions", err)
	}
	return sessions, nil
}

// SetSessionStatus moves a session to a new lifecycle state.
func (s *Store) SetSessionStatus(ctx context.Context, id, status string) error {
	err := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreOperation, "failed to update session status", err)
	}
	return nil
}

// SetSessionSandbox records the provisioned resource names.
func (s *Store) SetSessionSandbox(ctx context.Context, id, pod, pvc string) error {
	err := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).
		Updates(map[string]interface{}{"sandbox_pod": pod, "sandbox_pvc": pvc}).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreOperation, "failed to record sandbox", err)
	}
	return nil
}

// TouchSession bumps the activity timestamp shown in session views. The
// lifecycle sweep keys on creation time, not activity.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).
		Update("last_activity_at", time.Now().UTC()).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreOperation, "failed to touch session", err)
	}
	return nil
}

// ListActiveSessionsCreatedBefore returns active sessions created before the
// cutoff. The lifecycle sweep bounds session age from creation; there is no
// liveness heartbeat that can keep a session alive indefinitely.
func (s *Store) ListActiveSessionsCreatedBefore(ctx context.Context, cutoff time.Time) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", SessionActive, cutoff).
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to list stale sessions", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and all of its dependent records in one
// transaction, so a failure partway leaves everything intact.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&Todo{}, &File{}, &Message{}} {
			if err := tx.Where("session_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		result := tx.Where("id = ?", id).Delete(&Session{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.New(apperrors.ErrCodeSessionDelete,
			fmt.Sprintf("session %s not found", id), err)
	}
	if err != nil {
		return apperrors.New(apperrors.ErrCodeSessionDelete, "failed to delete session", err)
	}
	return nil
}

// --- messages ---

// AppendMessage adds one transcript entry.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return apperrors.New(apperrors.ErrCodeStoreOperation, "failed to append message", err)
	}
	return nil
}

// ListMessages returns the transcript in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("id").Find(&messages).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to list messages", err)
	}
	return messages, nil
}

// --- todos ---

// UpsertTodo inserts a todo or updates its status when one with the same
// description already exists for the session.
func (s *Store) UpsertTodo(ctx context.Context, sessionID, description, status string) error {
	record := &Todo{
		SessionID:   sessionID,
		Description: description,
		Status:      status,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "description"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreOperation, "failed to upsert todo", err)
	}
	return nil
}

// ListTodos returns a session's todos in creation order.
func (s *Store) ListTodos(ctx context.Context, sessionID string) ([]Todo, error) {
	var todos []Todo
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("id").Find(&todos).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to list todos", err)
	}
	return todos, nil
}

// UpdateTodoStatus changes one todo by id. Serves the manual status toggle
// in the external API.
func (s *Store) UpdateTodoStatus(ctx context.Context, id uint, status string) (*Todo, error) {
	result := s.db.WithContext(ctx).Model(&Todo{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to update todo", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation,
			fmt.Sprintf("todo %d not found", id), nil)
	}
	var record Todo
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to reload todo", err)
	}
	return &record, nil
}

// --- files ---

// FileEntry is one workspace entry discovered by a listing.
type FileEntry struct {
	Path        string
	IsDirectory bool
}

// InsertNewFiles records workspace entries not yet tracked for the session.
// Existing paths are left untouched: content updates only flow through
// UpsertFile via the write and edit tools.
func (s *Store) InsertNewFiles(ctx context.Context, sessionID string, entries []FileEntry) error {
	for _, entry := range entries {
		record := &File{SessionID: sessionID, Path: entry.Path, IsDirectory: entry.IsDirectory}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "path"}},
			DoNothing: true,
		}).Create(record).Error
		if err != nil {
			return apperrors.New(apperrors.ErrCodeStoreOperation, "failed to record file", err)
		}
	}
	return nil
}

// UpsertFile inserts or replaces the stored content for one path.
func (s *Store) UpsertFile(ctx context.Context, sessionID, path, content string) error {
	record := &File{SessionID: sessionID, Path: path, Content: content}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreOperation, "failed to upsert file", err)
	}
	return nil
}

// ListFiles returns a session's tracked files ordered by path.
func (s *Store) ListFiles(ctx context.Context, sessionID string) ([]File, error) {
	var files []File
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("path").Find(&files).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreOperation, "failed to list files", err)
	}
	return files, nil
}
