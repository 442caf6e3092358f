package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

func TestAnalyze_PersistsInferredDependencies(t *testing.T) {
	store := newMemStore(
		task("root", "", "Login"),
		task("tests", "root", "Write unit tests for login"),
		task("impl", "root", "Implement feature X"),
	)
	a := New(store, nil, nil)

	result, err := a.Analyze(context.Background(), "s1", "root", true)
	require.NoError(t, err)

	assert.Equal(t, models.AnalysisOK, result.Status)
	assert.Equal(t, 3, result.TaskCount)
	assert.True(t, result.OrderValid)
	assert.Equal(t, []string{"impl", "tests", "root"}, result.ExecutionOrder)
	assert.Equal(t, []string{"impl", "tests", "root"}, result.CriticalPath.Tasks)
	assert.Equal(t, 10, result.CriticalPath.EstimatedDuration)
	assert.Empty(t, result.Cycles)
	assert.Nil(t, result.Resolution)

	assert.Equal(t, []string{"impl"}, store.tasks["tests"].Dependencies)
	assert.Same(t, result, store.tasks["root"].Metadata[MetadataKey])
}

func TestAnalyze_ResolvesMutualInference(t *testing.T) {
	// refactoring and testing each depend on the other, which forms a 2-cycle.
	store := newMemStore(
		task("root", "", "Cleanup"),
		&models.Task{ID: "refactor", ParentID: "root", Name: "Refactor the parser", Priority: 1},
		&models.Task{ID: "tests", ParentID: "root", Name: "Test the parser", Priority: 3},
	)
	a := New(store, nil, nil)

	result, err := a.Analyze(context.Background(), "s1", "", true)
	require.NoError(t, err)

	require.Len(t, result.Cycles, 1)
	require.NotNil(t, result.Resolution)
	assert.Equal(t, StrategyPriorityDrop, result.Resolution.Resolutions[0].Strategy)
	assert.Equal(t, models.AnalysisOK, result.Status)
	assert.True(t, result.OrderValid)

	// refactor has the lower priority, so its outgoing edge is dropped:
	// tests no longer depends on refactor.
	assert.Empty(t, store.tasks["tests"].Dependencies)
	assert.Equal(t, []string{"tests"}, store.tasks["refactor"].Dependencies)

	// A second pass finds nothing new to infer or resolve.
	again, err := a.Analyze(context.Background(), "s1", "", true)
	require.NoError(t, err)
	assert.Empty(t, again.Cycles)
}

func TestAnalyze_TreeNotFound(t *testing.T) {
	a := New(newMemStore(), nil, nil)

	_, err := a.Analyze(context.Background(), "s1", "missing", false)
	assert.ErrorIs(t, err, ErrTaskTreeNotFound)

	_, err = a.Analyze(context.Background(), "empty-session", "", false)
	assert.ErrorIs(t, err, ErrTaskTreeNotFound)
}

func TestVisualize(t *testing.T) {
	store := newMemStore(
		task("main", "", "Main"),
		task("x", "main", "X"),
		task("y", "main", "Y", "x"),
	)
	store.tasks["x"].Status = models.TaskStatusCompleted

	v, err := New(store, nil, nil).Visualize(context.Background(), "s1", "main")
	require.NoError(t, err)

	require.Len(t, v.Nodes, 3)
	assert.Equal(t, models.VisualNode{ID: "main", Label: "Main", Status: models.TaskStatusPending}, v.Nodes[0])
	assert.Equal(t, models.TaskStatusCompleted, v.Nodes[1].Status)
	assert.ElementsMatch(t, []models.VisualEdge{
		{From: "x", To: "main"},
		{From: "y", To: "main"},
		{From: "x", To: "y"},
	}, v.Edges)
	assert.Equal(t, []string{"x", "y", "main"}, v.CriticalPath)
	assert.Equal(t, [][]string{{"x", "y", "main"}}, v.Groups)
}
