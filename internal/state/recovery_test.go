package state

import (
	"context"
	"errors"
	"testing"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

func TestNewRecoveryManager(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)
	if rm == nil {
		t.Fatal("NewRecoveryManager returned nil")
	}
	if rm.db != db {
		t.Error("RecoveryManager.db not set correctly")
	}
}

func TestCheckForInterrupted_NoSessions(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	interrupted, err := rm.CheckForInterrupted(context.Background())
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if interrupted != nil {
		t.Errorf("expected nil when no sessions, got %+v", interrupted)
	}
}

func TestCheckForInterrupted_NothingRunning(t *testing.T) {
	db := setupTestDB(t)
	sid := seedSession(t, db)
	seedTask(t, db, sid, "t", "")

	interrupted, err := NewRecoveryManager(db).CheckForInterrupted(context.Background())
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if interrupted != nil {
		t.Errorf("expected nil, got %+v", interrupted)
	}
}

func TestCheckForInterrupted_ArchivedSessionIgnored(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "t", "")
	running := models.TaskStatusInProgress
	if err := db.UpdateProgress(ctx, "t", 0.5, &running); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := db.UpdateSessionStatus(ctx, sid, models.SessionArchived); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	interrupted, err := NewRecoveryManager(db).CheckForInterrupted(ctx)
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if interrupted != nil {
		t.Errorf("expected nil for archived session, got %+v", interrupted)
	}
}

// interruptedTree seeds root -> {a, b} with a left in_progress.
func interruptedTree(t *testing.T, db *DB) string {
	t.Helper()
	sid := seedSession(t, db)
	seedTask(t, db, sid, "root", "")
	seedTask(t, db, sid, "a", "root")
	seedTask(t, db, sid, "b", "root")
	running := models.TaskStatusInProgress
	if err := db.UpdateProgress(context.Background(), "a", 0.5, &running); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return sid
}

func TestCheckForInterrupted_ReportsLeavesOnly(t *testing.T) {
	db := setupTestDB(t)
	sid := interruptedTree(t, db)

	interrupted, err := NewRecoveryManager(db).CheckForInterrupted(context.Background())
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if interrupted == nil {
		t.Fatal("expected interrupted session")
	}
	if interrupted.SessionID != sid {
		t.Errorf("SessionID = %q, want %q", interrupted.SessionID, sid)
	}
	// root is in_progress through rollup but is not a leaf
	if len(interrupted.RunningTasks) != 1 || interrupted.RunningTasks[0] != "a" {
		t.Errorf("RunningTasks = %v, want [a]", interrupted.RunningTasks)
	}
	if interrupted.LastActivity.IsZero() {
		t.Error("LastActivity not set")
	}
}

func TestResume_ResetsInterruptedTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := interruptedTree(t, db)

	n, err := NewRecoveryManager(db).Resume(ctx, sid)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset = %d, want 1", n)
	}

	a, _ := db.GetTask(ctx, "a")
	if a.Status != models.TaskStatusPending || a.Progress != 0 {
		t.Errorf("a = %q/%v, want pending/0", a.Status, a.Progress)
	}
	root, _ := db.GetTask(ctx, "root")
	if root.Status != models.TaskStatusPending {
		t.Errorf("root status = %q, want pending after rollup", root.Status)
	}
}

func TestResume_NonExistentSession(t *testing.T) {
	db := setupTestDB(t)

	_, err := NewRecoveryManager(db).Resume(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestClean_FailsTasksAndArchivesSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sid := interruptedTree(t, db)

	if err := NewRecoveryManager(db).Clean(ctx, sid); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}

	a, _ := db.GetTask(ctx, "a")
	if a.Status != models.TaskStatusFailed {
		t.Errorf("a status = %q, want failed", a.Status)
	}
	if a.Progress != 0.5 {
		t.Errorf("a progress = %v, want 0.5 preserved", a.Progress)
	}
	s, _ := db.GetSession(ctx, sid)
	if s.Status != models.SessionArchived {
		t.Errorf("session status = %q, want archived", s.Status)
	}
}

func TestClean_NonExistentSession(t *testing.T) {
	db := setupTestDB(t)

	err := NewRecoveryManager(db).Clean(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
