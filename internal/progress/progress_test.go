package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskgraph/internal/analysis"
	"github.com/ShayCichocki/taskgraph/internal/state"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// fakeStore serves a fixed forest and canned history.
type fakeStore struct {
	forest  models.Forest
	history map[string][]state.ProgressEntry
}

func (f *fakeStore) GetTree(context.Context, string, string) (models.Forest, error) {
	return f.forest, nil
}

func (f *fakeStore) GetProgressHistory(_ context.Context, id string, _ int) ([]state.ProgressEntry, error) {
	return f.history[id], nil
}

func task(id, parent string, status models.TaskStatus) *models.Task {
	return &models.Task{ID: id, ParentID: parent, Status: status}
}

func sampleForest() models.Forest {
	return models.BuildForest([]*models.Task{
		task("root", "", models.TaskStatusInProgress),
		task("a", "root", models.TaskStatusCompleted),
		task("b", "root", models.TaskStatusCompleted),
		task("c", "root", models.TaskStatusInProgress),
		task("d", "root", models.TaskStatusPending),
		task("e", "root", models.TaskStatusFailed),
	})
}

func TestSummary(t *testing.T) {
	tr := NewTracker(&fakeStore{forest: sampleForest()})

	s, err := tr.Summary(context.Background(), "s", "root")
	require.NoError(t, err)

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 2, s.InProgress)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 2.0/6.0, s.Progress, 1e-9)
}

func TestSummary_EmptyTree(t *testing.T) {
	tr := NewTracker(&fakeStore{})

	_, err := tr.Summary(context.Background(), "s", "")
	assert.ErrorIs(t, err, analysis.ErrTaskTreeNotFound)
}

func TestPredict_DefaultDuration(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(&fakeStore{forest: sampleForest()})
	tr.now = func() time.Time { return now }

	p, err := tr.Predict(context.Background(), "s", "root")
	require.NoError(t, err)

	assert.Equal(t, 2, p.RemainingTasks, "c and d")
	assert.Zero(t, p.Observed)
	assert.Equal(t, DefaultTaskDuration, p.AverageTaskTime)
	assert.Equal(t, 2*DefaultTaskDuration, p.EstimatedRemaining)
	assert.Equal(t, now.Add(2*DefaultTaskDuration), p.EstimatedCompletion)
	assert.InDelta(t, 100*2.0/6.0, p.CompletionPercentage, 1e-9)
}

func TestPredict_ObservedDurations(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := func(span time.Duration) []state.ProgressEntry {
		return []state.ProgressEntry{
			{Progress: 1, RecordedAt: base.Add(span)},
			{Progress: 0.5, RecordedAt: base.Add(span / 2)},
			{Progress: 0, RecordedAt: base},
		}
	}
	tr := NewTracker(&fakeStore{
		forest: sampleForest(),
		history: map[string][]state.ProgressEntry{
			"a": entries(10 * time.Second),
			"b": entries(30 * time.Second),
		},
	})

	p, err := tr.Predict(context.Background(), "s", "root")
	require.NoError(t, err)

	assert.Equal(t, 2, p.Observed)
	assert.Equal(t, 20*time.Second, p.AverageTaskTime)
	assert.Equal(t, 40*time.Second, p.EstimatedRemaining)
}

func TestTracker_AgainstStore(t *testing.T) {
	ctx := context.Background()
	db, err := state.Open(t.TempDir() + "/progress.db")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	sess := &models.Session{Name: "p"}
	require.NoError(t, db.CreateSession(ctx, sess))
	for _, tk := range []*models.Task{
		{ID: "root", SessionID: sess.ID, Name: "root"},
		{ID: "x", SessionID: sess.ID, ParentID: "root", Name: "x"},
		{ID: "y", SessionID: sess.ID, ParentID: "root", Name: "y"},
	} {
		require.NoError(t, db.CreateTask(ctx, tk))
	}
	done := models.TaskStatusCompleted
	require.NoError(t, db.UpdateProgress(ctx, "x", 1, &done))

	tr := NewTracker(db)
	s, err := tr.Summary(ctx, sess.ID, "root")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.InProgress, "root rolls up to in_progress")

	p, err := tr.Predict(ctx, sess.ID, "root")
	require.NoError(t, err)
	assert.Equal(t, 1, p.RemainingTasks)
}
