package state

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// seedSession creates a session and returns its ID.
func seedSession(t *testing.T, db *DB) string {
	t.Helper()
	s := &models.Session{Name: "test"}
	if err := db.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return s.ID
}

// seedTask creates a task under parentID (which may be empty).
func seedTask(t *testing.T, db *DB, sessionID, id, parentID string) *models.Task {
	t.Helper()
	task := &models.Task{ID: id, SessionID: sessionID, ParentID: parentID, Name: id}
	if err := db.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask(%s) failed: %v", id, err)
	}
	return task
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCreateTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)

	task := &models.Task{
		SessionID:    sid,
		Name:         "Implement login",
		Description:  "OAuth flow",
		Priority:     3,
		Dependencies: []string{"other"},
		Tags:         []string{"auth"},
		Metadata:     map[string]any{"estimate": 2.0},
	}
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if !strings.HasPrefix(task.ID, "task_") {
		t.Errorf("ID = %q, want task_ prefix", task.ID)
	}

	got, err := db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetTask returned nil")
	}
	if got.Status != models.TaskStatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Priority != 3 || got.Description != "OAuth flow" {
		t.Errorf("unexpected task: %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "other" {
		t.Errorf("Dependencies = %v", got.Dependencies)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "auth" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.Metadata["estimate"] != 2.0 {
		t.Errorf("Metadata = %v", got.Metadata)
	}
}

func TestCreateTask_SubtaskInheritsSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "root", "")

	sub := &models.Task{ParentID: "root", Name: "child"}
	if err := db.CreateTask(ctx, sub); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if !strings.HasPrefix(sub.ID, "subtask_") {
		t.Errorf("ID = %q, want subtask_ prefix", sub.ID)
	}
	if sub.SessionID != sid {
		t.Errorf("SessionID = %q, want %q", sub.SessionID, sid)
	}
}

func TestCreateTask_MissingParent(t *testing.T) {
	db := setupTestDB(t)
	sid := seedSession(t, db)

	err := db.CreateTask(context.Background(), &models.Task{SessionID: sid, ParentID: "ghost", Name: "x"})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestCreateTask_InvalidStatus(t *testing.T) {
	db := setupTestDB(t)
	sid := seedSession(t, db)

	err := db.CreateTask(context.Background(), &models.Task{SessionID: sid, Name: "x", Status: "bogus"})
	if err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestGetTask_NotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetTask(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestGetSubtasksAndListByStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "root", "")
	seedTask(t, db, sid, "a", "root")
	seedTask(t, db, sid, "b", "root")
	seedTask(t, db, sid, "c", "root")

	subs, err := db.GetSubtasks(ctx, "root")
	if err != nil {
		t.Fatalf("GetSubtasks failed: %v", err)
	}
	var ids []string
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("subtasks = %v, want creation order a,b,c", ids)
	}

	done := models.TaskStatusCompleted
	if err := db.UpdateProgress(ctx, "b", 1, &done); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	completed, err := db.ListByStatus(ctx, sid, models.TaskStatusCompleted)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "b" {
		t.Errorf("completed = %v, want [b]", completed)
	}
}

func TestGetTree(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "r1", "")
	seedTask(t, db, sid, "a", "r1")
	seedTask(t, db, sid, "a1", "a")
	seedTask(t, db, sid, "r2", "")

	forest, err := db.GetTree(ctx, sid, "")
	if err != nil {
		t.Fatalf("GetTree failed: %v", err)
	}
	if len(forest) != 2 {
		t.Fatalf("roots = %d, want 2", len(forest))
	}

	sub, err := db.GetTree(ctx, sid, "a")
	if err != nil {
		t.Fatalf("GetTree failed: %v", err)
	}
	if len(sub) != 1 || sub[0].Task.ID != "a" {
		t.Fatalf("subtree = %+v, want rooted at a", sub)
	}
	if len(sub[0].Children) != 1 || sub[0].Children[0].Task.ID != "a1" {
		t.Errorf("children of a = %+v", sub[0].Children)
	}

	missing, err := db.GetTree(ctx, sid, "ghost")
	if err != nil {
		t.Fatalf("GetTree failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown root, got %+v", missing)
	}
}

func TestUpdateTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	task := seedTask(t, db, sid, "t", "")

	task.Name = "renamed"
	task.Priority = 9
	if err := db.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	got, _ := db.GetTask(ctx, "t")
	if got.Name != "renamed" || got.Priority != 9 {
		t.Errorf("unexpected task after update: %+v", got)
	}

	err := db.UpdateTask(ctx, &models.Task{ID: "ghost", Status: models.TaskStatusPending})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestDeleteTask_RemovesDescendants(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "root", "")
	seedTask(t, db, sid, "a", "root")
	seedTask(t, db, sid, "a1", "a")
	seedTask(t, db, sid, "other", "")

	if err := db.DeleteTask(ctx, "root"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	tasks, err := db.ListTasks(ctx, sid)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "other" {
		t.Errorf("remaining = %v, want [other]", tasks)
	}
}

func TestUpdateProgress_RollsUpAncestors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "root", "")
	seedTask(t, db, sid, "mid", "root")
	seedTask(t, db, sid, "leaf1", "mid")
	seedTask(t, db, sid, "leaf2", "mid")
	seedTask(t, db, sid, "side", "root")

	if err := db.UpdateProgress(ctx, "leaf1", 0.5, nil); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	mid, _ := db.GetTask(ctx, "mid")
	if !almostEqual(mid.Progress, 0.25) {
		t.Errorf("mid progress = %v, want 0.25", mid.Progress)
	}
	if mid.Status != models.TaskStatusInProgress {
		t.Errorf("mid status = %q, want in_progress", mid.Status)
	}
	root, _ := db.GetTask(ctx, "root")
	if !almostEqual(root.Progress, 0.125) {
		t.Errorf("root progress = %v, want 0.125", root.Progress)
	}
	if root.Status != models.TaskStatusInProgress {
		t.Errorf("root status = %q, want in_progress", root.Status)
	}

	done := models.TaskStatusCompleted
	for _, id := range []string{"leaf1", "leaf2", "side"} {
		if err := db.UpdateProgress(ctx, id, 1, &done); err != nil {
			t.Fatalf("UpdateProgress(%s) failed: %v", id, err)
		}
	}

	root, _ = db.GetTask(ctx, "root")
	if !almostEqual(root.Progress, 1) || root.Status != models.TaskStatusCompleted {
		t.Errorf("root = %v/%q, want 1/completed", root.Progress, root.Status)
	}
}

func TestUpdateProgress_StatusOnlyMarksParentStarted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "p", "")
	seedTask(t, db, sid, "c", "p")
	seedTask(t, db, sid, "d", "p")

	running := models.TaskStatusInProgress
	if err := db.UpdateProgress(ctx, "c", 0, &running); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	p, _ := db.GetTask(ctx, "p")
	if p.Status != models.TaskStatusInProgress {
		t.Errorf("parent status = %q, want in_progress", p.Status)
	}
	if p.Progress != 0 {
		t.Errorf("parent progress = %v, want 0", p.Progress)
	}
}

func TestUpdateProgress_ClampsAndRecordsHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "t", "")

	if err := db.UpdateProgress(ctx, "t", -1, nil); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if err := db.UpdateProgress(ctx, "t", 7, nil); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	got, _ := db.GetTask(ctx, "t")
	if got.Progress != 1 {
		t.Errorf("progress = %v, want clamped to 1", got.Progress)
	}

	history, err := db.GetProgressHistory(ctx, "t", 10)
	if err != nil {
		t.Fatalf("GetProgressHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if history[0].Progress != 1 || history[1].Progress != 0 {
		t.Errorf("history = %+v, want newest first [1, 0]", history)
	}
	if history[0].RecordedAt.IsZero() {
		t.Error("RecordedAt not parsed")
	}
}

func TestUpdateProgress_MissingTask(t *testing.T) {
	db := setupTestDB(t)

	err := db.UpdateProgress(context.Background(), "ghost", 0.5, nil)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestDependencies(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "a", "")
	seedTask(t, db, sid, "b", "")

	added, err := db.AddDependency(ctx, "b", "a")
	if err != nil || !added {
		t.Fatalf("AddDependency = %v, %v; want true, nil", added, err)
	}
	added, err = db.AddDependency(ctx, "b", "a")
	if err != nil || added {
		t.Errorf("duplicate AddDependency = %v, %v; want false, nil", added, err)
	}
	added, err = db.AddDependency(ctx, "b", "b")
	if err != nil || added {
		t.Errorf("self AddDependency = %v, %v; want false, nil", added, err)
	}

	got, _ := db.GetTask(ctx, "b")
	if !got.DependsOn("a") {
		t.Errorf("b.Dependencies = %v, want [a]", got.Dependencies)
	}

	removed, err := db.RemoveDependency(ctx, "b", "a")
	if err != nil || !removed {
		t.Fatalf("RemoveDependency = %v, %v; want true, nil", removed, err)
	}
	removed, err = db.RemoveDependency(ctx, "b", "a")
	if err != nil || removed {
		t.Errorf("second RemoveDependency = %v, %v; want false, nil", removed, err)
	}

	if _, err := db.AddDependency(ctx, "ghost", "a"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestUpdateMetadata(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	task := &models.Task{ID: "t", SessionID: sid, Name: "t", Metadata: map[string]any{"keep": "me"}}
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := db.UpdateMetadata(ctx, "t", "analysis", map[string]any{"task_count": 3}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}

	got, _ := db.GetTask(ctx, "t")
	if got.Metadata["keep"] != "me" {
		t.Errorf("existing key lost: %v", got.Metadata)
	}
	analysis, ok := got.Metadata["analysis"].(map[string]any)
	if !ok || analysis["task_count"] != 3.0 {
		t.Errorf("analysis = %v", got.Metadata["analysis"])
	}

	if err := db.UpdateMetadata(ctx, "ghost", "k", 1); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}
