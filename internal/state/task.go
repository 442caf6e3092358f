package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

const taskColumns = `id, session_id, parent_id, name, description, status, progress, priority,
	dependencies, tags, metadata, created_at, updated_at`

type taskRow struct {
	ID           string         `db:"id"`
	SessionID    string         `db:"session_id"`
	ParentID     sql.NullString `db:"parent_id"`
	Name         string         `db:"name"`
	Description  string         `db:"description"`
	Status       string         `db:"status"`
	Progress     float64        `db:"progress"`
	Priority     int            `db:"priority"`
	Dependencies string         `db:"dependencies"`
	Tags         string         `db:"tags"`
	Metadata     string         `db:"metadata"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
}

func (r taskRow) model() *models.Task {
	t := &models.Task{
		ID:          r.ID,
		SessionID:   r.SessionID,
		ParentID:    r.ParentID.String,
		Name:        r.Name,
		Description: r.Description,
		Status:      models.TaskStatus(r.Status),
		Progress:    r.Progress,
		Priority:    r.Priority,
	}
	_ = json.Unmarshal([]byte(r.Dependencies), &t.Dependencies)
	_ = json.Unmarshal([]byte(r.Tags), &t.Tags)
	_ = json.Unmarshal([]byte(r.Metadata), &t.Metadata)
	t.CreatedAt, _ = parseTime(r.CreatedAt)
	t.UpdatedAt, _ = parseTime(r.UpdatedAt)
	return t
}

// ProgressEntry is one recorded progress update.
type ProgressEntry struct {
	TaskID     string            `json:"task_id"`
	Progress   float64           `json:"progress"`
	Status     models.TaskStatus `json:"status"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// NewTaskID returns an identifier for a top-level task or, when sub is true, a subtask.
func NewTaskID(sub bool) string {
	prefix := "task_"
	if sub {
		prefix = "subtask_"
	}
	return prefix + uuid.New().String()[:8]
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalList(list []string) string {
	if list == nil {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// CreateTask inserts a task. A missing ID is generated, and a parent, if set, must exist.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = NewTaskID(t.ParentID != "")
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if !t.Status.Valid() {
		return fmt.Errorf("create task %s: invalid status %q", t.ID, t.Status)
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	meta, err := marshalMap(t.Metadata)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if t.ParentID != "" {
			var parentSession string
			err := tx.GetContext(ctx, &parentSession, "SELECT session_id FROM tasks WHERE id = ?", t.ParentID)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("create task: parent %s: %w", t.ParentID, ErrTaskNotFound)
			}
			if err != nil {
				return fmt.Errorf("create task: %w", err)
			}
			if t.SessionID == "" {
				t.SessionID = parentSession
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.SessionID, nullable(t.ParentID), t.Name, t.Description, string(t.Status),
			t.Progress, t.Priority, marshalList(t.Dependencies), marshalList(t.Tags), meta,
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
}

// GetTask retrieves a task by ID. It returns nil, nil if there is none.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var row taskRow
	err := db.get(ctx, &row, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return row.model(), nil
}

func (db *DB) listTasks(ctx context.Context, where string, args ...any) ([]*models.Task, error) {
	var rows []taskRow
	if err := db.selectRows(ctx, &rows, "SELECT "+taskColumns+" FROM tasks WHERE "+where+" ORDER BY rowid", args...); err != nil {
		return nil, err
	}
	tasks := make([]*models.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.model())
	}
	return tasks, nil
}

// GetSubtasks returns the direct children of a task in creation order.
func (db *DB) GetSubtasks(ctx context.Context, id string) ([]*models.Task, error) {
	tasks, err := db.listTasks(ctx, "parent_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get subtasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns every task of a session in creation order.
func (db *DB) ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	tasks, err := db.listTasks(ctx, "session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListByStatus returns the tasks of a session that have the given status.
func (db *DB) ListByStatus(ctx context.Context, sessionID string, status models.TaskStatus) ([]*models.Task, error) {
	tasks, err := db.listTasks(ctx, "session_id = ? AND status = ?", sessionID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	return tasks, nil
}

// GetTree returns the hierarchy under rootID, or every top-level tree of the
// session when rootID is empty. It returns nil, nil when nothing matches.
func (db *DB) GetTree(ctx context.Context, sessionID, rootID string) (models.Forest, error) {
	if rootID == "" {
		tasks, err := db.ListTasks(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("get tree: %w", err)
		}
		if len(tasks) == 0 {
			return nil, nil
		}
		return models.BuildForest(tasks), nil
	}

	root, err := db.GetTask(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}
	if root == nil {
		return nil, nil
	}
	tasks, err := db.ListTasks(ctx, root.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}
	node := models.BuildForest(tasks).Find(rootID)
	if node == nil {
		return nil, nil
	}
	return models.Forest{node}, nil
}

// UpdateTask writes the editable fields of a task.
func (db *DB) UpdateTask(ctx context.Context, t *models.Task) error {
	meta, err := marshalMap(t.Metadata)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	t.UpdatedAt = time.Now()
	res, err := db.exec(ctx, `
		UPDATE tasks SET name = ?, description = ?, status = ?, priority = ?,
			dependencies = ?, tags = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, t.Name, t.Description, string(t.Status), t.Priority, marshalList(t.Dependencies),
		marshalList(t.Tags), meta, formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, ErrTaskNotFound)
	}
	return nil
}

// DeleteTask removes a task and all of its descendants.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		doomed := []string{id}
		for i := 0; i < len(doomed); i++ {
			var children []string
			if err := tx.SelectContext(ctx, &children, "SELECT id FROM tasks WHERE parent_id = ?", doomed[i]); err != nil {
				return fmt.Errorf("delete task: %w", err)
			}
			doomed = append(doomed, children...)
		}
		query, args, err := sqlx.In("DELETE FROM tasks WHERE id IN (?)", doomed)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
}

// UpdateProgress records a task's progress and optional status, then recomputes
// every ancestor bottom-up: a parent's progress is the mean of its children and
// it is completed only when all of its children are.
func (db *DB) UpdateProgress(ctx context.Context, id string, progress float64, status *models.TaskStatus) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	now := formatTime(time.Now())

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var cur struct {
			Status   string         `db:"status"`
			ParentID sql.NullString `db:"parent_id"`
		}
		err := tx.GetContext(ctx, &cur, "SELECT status, parent_id FROM tasks WHERE id = ?", id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update progress %s: %w", id, ErrTaskNotFound)
		}
		if err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		newStatus := cur.Status
		if status != nil {
			newStatus = string(*status)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET progress = ?, status = ?, updated_at = ? WHERE id = ?",
			progress, newStatus, now, id); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO progress_history (task_id, progress, status, recorded_at) VALUES (?, ?, ?, ?)",
			id, progress, newStatus, now); err != nil {
			return fmt.Errorf("record progress: %w", err)
		}

		return rollup(ctx, tx, cur.ParentID.String, now)
	})
}

// rollup walks from parentID to the root, recomputing each ancestor from its children.
func rollup(ctx context.Context, tx *sqlx.Tx, parentID, now string) error {
	visited := make(map[string]bool)
	for parentID != "" && !visited[parentID] {
		visited[parentID] = true

		var children []struct {
			Progress float64 `db:"progress"`
			Status   string  `db:"status"`
		}
		if err := tx.SelectContext(ctx, &children,
			"SELECT progress, status FROM tasks WHERE parent_id = ?", parentID); err != nil {
			return fmt.Errorf("rollup %s: %w", parentID, err)
		}
		if len(children) == 0 {
			return nil
		}

		sum := 0.0
		allCompleted := true
		started := false
		for _, c := range children {
			sum += c.Progress
			if c.Status != string(models.TaskStatusCompleted) {
				allCompleted = false
			}
			if c.Progress > 0 || c.Status != string(models.TaskStatusPending) {
				started = true
			}
		}
		status := models.TaskStatusPending
		switch {
		case allCompleted:
			status = models.TaskStatusCompleted
		case started:
			status = models.TaskStatusInProgress
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET progress = ?, status = ?, updated_at = ? WHERE id = ?",
			sum/float64(len(children)), string(status), now, parentID); err != nil {
			return fmt.Errorf("rollup %s: %w", parentID, err)
		}

		var next sql.NullString
		err := tx.GetContext(ctx, &next, "SELECT parent_id FROM tasks WHERE id = ?", parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rollup %s: %w", parentID, err)
		}
		parentID = next.String
	}
	return nil
}

// GetProgressHistory returns up to limit progress records for a task, newest first.
func (db *DB) GetProgressHistory(ctx context.Context, id string, limit int) ([]ProgressEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		TaskID     string  `db:"task_id"`
		Progress   float64 `db:"progress"`
		Status     string  `db:"status"`
		RecordedAt string  `db:"recorded_at"`
	}
	err := db.selectRows(ctx, &rows, `
		SELECT task_id, progress, status, recorded_at FROM progress_history
		WHERE task_id = ? ORDER BY id DESC LIMIT ?
	`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("get progress history: %w", err)
	}
	out := make([]ProgressEntry, len(rows))
	for i, r := range rows {
		out[i] = ProgressEntry{TaskID: r.TaskID, Progress: r.Progress, Status: models.TaskStatus(r.Status)}
		out[i].RecordedAt, _ = parseTime(r.RecordedAt)
	}
	return out, nil
}

// modifyDependencies applies fn to a task's dependency list inside a transaction
// and writes the result back when fn reports a change.
func (db *DB) modifyDependencies(ctx context.Context, taskID string, fn func([]string) ([]string, bool)) (bool, error) {
	changed := false
	err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var raw string
		err := tx.GetContext(ctx, &raw, "SELECT dependencies FROM tasks WHERE id = ?", taskID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
		}
		if err != nil {
			return err
		}
		var deps []string
		_ = json.Unmarshal([]byte(raw), &deps)

		deps, changed = fn(deps)
		if !changed {
			return nil
		}
		_, err = tx.ExecContext(ctx, "UPDATE tasks SET dependencies = ?, updated_at = ? WHERE id = ?",
			marshalList(deps), formatTime(time.Now()), taskID)
		return err
	})
	return changed, err
}

// AddDependency records that taskID depends on dependsOn. It reports false
// for a self-dependency or one that is already present.
func (db *DB) AddDependency(ctx context.Context, taskID, dependsOn string) (bool, error) {
	if taskID == dependsOn {
		return false, nil
	}
	added, err := db.modifyDependencies(ctx, taskID, func(deps []string) ([]string, bool) {
		for _, d := range deps {
			if d == dependsOn {
				return deps, false
			}
		}
		return append(deps, dependsOn), true
	})
	if err != nil {
		return false, fmt.Errorf("add dependency: %w", err)
	}
	return added, nil
}

// RemoveDependency drops dependsOn from taskID's dependency set. It reports
// false if the dependency was not present.
func (db *DB) RemoveDependency(ctx context.Context, taskID, dependsOn string) (bool, error) {
	removed, err := db.modifyDependencies(ctx, taskID, func(deps []string) ([]string, bool) {
		out := deps[:0]
		found := false
		for _, d := range deps {
			if d == dependsOn {
				found = true
				continue
			}
			out = append(out, d)
		}
		return out, found
	})
	if err != nil {
		return false, fmt.Errorf("remove dependency: %w", err)
	}
	return removed, nil
}

// UpdateMetadata sets one metadata key on a task, keeping the others.
func (db *DB) UpdateMetadata(ctx context.Context, id, key string, value any) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var raw string
		err := tx.GetContext(ctx, &raw, "SELECT metadata FROM tasks WHERE id = ?", id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update metadata %s: %w", id, ErrTaskNotFound)
		}
		if err != nil {
			return fmt.Errorf("update metadata: %w", err)
		}
		meta := map[string]any{}
		_ = json.Unmarshal([]byte(raw), &meta)
		meta[key] = value

		encoded, err := marshalMap(meta)
		if err != nil {
			return fmt.Errorf("update metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE tasks SET metadata = ?, updated_at = ? WHERE id = ?",
			encoded, formatTime(time.Now()), id); err != nil {
			return fmt.Errorf("update metadata: %w", err)
		}
		return nil
	})
}
