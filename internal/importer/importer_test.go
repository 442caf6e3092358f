package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskgraph/internal/exec"
	"github.com/ShayCichocki/taskgraph/internal/state"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

const billing = `
session: billing
tasks:
  - key: schema
    name: Design schema
    priority: 8
    tags: [db]
  - name: Build API
    description: REST endpoints
    depends_on: [schema]
    children:
      - name: Handlers
      - name: Tests
        depends_on: [Handlers]
`

type recordingStore struct {
	created []*models.Task
	failOn  string
}

func (r *recordingStore) CreateTask(_ context.Context, t *models.Task) error {
	if t.Name == r.failOn {
		return errors.New("boom")
	}
	r.created = append(r.created, t)
	return nil
}

func TestParse(t *testing.T) {
	doc, err := Parse(strings.NewReader(billing))
	require.NoError(t, err)
	assert.Equal(t, "billing", doc.Session)
	require.Len(t, doc.Tasks, 2)
	assert.Len(t, doc.Tasks[1].Children, 2)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":         ``,
		"no tasks":      "session: x\n",
		"unnamed":       "tasks:\n  - description: nope\n",
		"duplicate":     "tasks:\n  - name: a\n  - name: a\n",
		"unknown dep":   "tasks:\n  - name: a\n    depends_on: [b]\n",
		"self dep":      "tasks:\n  - name: a\n    depends_on: [a]\n",
		"unknown field": "tasks:\n  - name: a\n    owner: me\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(src))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestImport_CommandBecomesMetadata(t *testing.T) {
	doc, err := Parse(strings.NewReader("tasks:\n  - name: build\n    command: make build\n    metadata:\n      owner: ops\n"))
	require.NoError(t, err)

	store := &recordingStore{}
	_, err = New(store, nil).Import(context.Background(), "sess", doc)
	require.NoError(t, err)
	require.Len(t, store.created, 1)

	c, ok := exec.Command(store.created[0])
	assert.True(t, ok)
	assert.Equal(t, "make build", c)
	assert.Equal(t, "ops", store.created[0].Metadata["owner"])
}

func TestImport_ResolvesKeys(t *testing.T) {
	doc, err := Parse(strings.NewReader(billing))
	require.NoError(t, err)

	store := &recordingStore{}
	res, err := New(store, nil).Import(context.Background(), "sess", doc)
	require.NoError(t, err)

	require.Len(t, store.created, 4)
	assert.Len(t, res.Roots, 2)

	byName := map[string]*models.Task{}
	for _, tk := range store.created {
		assert.Equal(t, "sess", tk.SessionID)
		byName[tk.Name] = tk
	}
	assert.True(t, strings.HasPrefix(byName["Design schema"].ID, "task_"))
	assert.True(t, strings.HasPrefix(byName["Handlers"].ID, "subtask_"))
	assert.Equal(t, 8, byName["Design schema"].Priority)
	assert.Equal(t, []string{"db"}, byName["Design schema"].Tags)

	api := byName["Build API"]
	assert.Equal(t, []string{byName["Design schema"].ID}, api.Dependencies)
	assert.Equal(t, api.ID, byName["Handlers"].ParentID)
	assert.Equal(t, []string{byName["Handlers"].ID}, byName["Tests"].Dependencies)
	assert.Equal(t, res.IDs["Tests"], byName["Tests"].ID)
}

func TestImport_ForwardReference(t *testing.T) {
	doc, err := Parse(strings.NewReader("tasks:\n  - name: a\n    depends_on: [b]\n  - name: b\n"))
	require.NoError(t, err)

	store := &recordingStore{}
	res, err := New(store, nil).Import(context.Background(), "s", doc)
	require.NoError(t, err)
	assert.Equal(t, []string{res.IDs["b"]}, store.created[0].Dependencies)
}

func TestImport_StoreError(t *testing.T) {
	doc, err := Parse(strings.NewReader(billing))
	require.NoError(t, err)

	store := &recordingStore{failOn: "Handlers"}
	res, err := New(store, nil).Import(context.Background(), "s", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Handlers")
	assert.Len(t, res.Tasks, 2)
}

func TestImport_IntoSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := state.Open(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	sess := &models.Session{Name: "billing"}
	require.NoError(t, db.CreateSession(ctx, sess))

	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(billing), 0o644))
	doc, err := ParseFile(path)
	require.NoError(t, err)

	res, err := New(db, nil).Import(ctx, sess.ID, doc)
	require.NoError(t, err)

	forest, err := db.GetTree(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Len(t, forest, 2)
	assert.Len(t, forest.Tasks(), 4)

	tests, err := db.GetTask(ctx, res.IDs["Tests"])
	require.NoError(t, err)
	require.NotNil(t, tests)
	assert.Equal(t, res.IDs["Build API"], tests.ParentID)
	assert.Equal(t, []string{res.IDs["Handlers"]}, tests.Dependencies)
}
