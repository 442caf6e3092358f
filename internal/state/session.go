package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

type sessionRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Status    string `db:"status"`
	Metadata  string `db:"metadata"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r sessionRow) model() *models.Session {
	s := &models.Session{
		ID:     r.ID,
		Name:   r.Name,
		Status: models.SessionStatus(r.Status),
	}
	_ = json.Unmarshal([]byte(r.Metadata), &s.Metadata)
	s.CreatedAt, _ = parseTime(r.CreatedAt)
	s.UpdatedAt, _ = parseTime(r.UpdatedAt)
	return s
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "session_" + uuid.New().String()[:8]
}

// CreateSession creates a new session. Empty fields get defaults.
func (db *DB) CreateSession(ctx context.Context, s *models.Session) error {
	if s.ID == "" {
		s.ID = NewSessionID()
	}
	if s.Status == "" {
		s.Status = models.SessionActive
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	meta, err := marshalMap(s.Metadata)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	_, err = db.exec(ctx, `
		INSERT INTO sessions (id, name, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, string(s.Status), meta, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. It returns nil, nil if there is none.
func (db *DB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var row sessionRow
	err := db.get(ctx, &row, `
		SELECT id, name, status, metadata, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.model(), nil
}

// ListSessions lists sessions newest first, optionally filtered by status.
func (db *DB) ListSessions(ctx context.Context, status *models.SessionStatus) ([]*models.Session, error) {
	var rows []sessionRow
	var err error
	if status != nil {
		err = db.selectRows(ctx, &rows, `
			SELECT id, name, status, metadata, created_at, updated_at
			FROM sessions WHERE status = ? ORDER BY created_at DESC, rowid DESC
		`, string(*status))
	} else {
		err = db.selectRows(ctx, &rows, `
			SELECT id, name, status, metadata, created_at, updated_at
			FROM sessions ORDER BY created_at DESC, rowid DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*models.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.model())
	}
	return sessions, nil
}

// UpdateSessionStatus sets the status of a session.
func (db *DB) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	res, err := db.exec(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// GetActiveSession returns the most recent active session, if any.
func (db *DB) GetActiveSession(ctx context.Context) (*models.Session, error) {
	status := models.SessionActive
	sessions, err := db.ListSessions(ctx, &status)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}
