package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskgraph/internal/graph"
)

func TestExecutionOrder_RespectsEdges(t *testing.T) {
	g := graphOf(
		[2]string{"a", "c"}, [2]string{"b", "c"}, [2]string{"c", "d"},
		[2]string{"a", "e"}, [2]string{"e", "d"}, [2]string{"f", "b"},
	)

	order, valid := ExecutionOrder(g)
	require.True(t, valid)
	require.Len(t, order, g.Len())

	pos := make(map[string]int)
	for i, n := range order {
		pos[n] = i
	}
	for _, e := range g.Edges() {
		assert.Less(t, pos[e.From], pos[e.To], "edge %s -> %s", e.From, e.To)
	}
}

func TestExecutionOrder_FallbackOnCycle(t *testing.T) {
	g := graphOf([2]string{"a", "b"}, [2]string{"b", "a"}, [2]string{"c", "d"})

	order, valid := ExecutionOrder(g)

	assert.False(t, valid)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestExecutionOrder_Empty(t *testing.T) {
	order, valid := ExecutionOrder(graph.New())
	assert.True(t, valid)
	assert.Empty(t, order)
}

func TestCriticalPath_Chain(t *testing.T) {
	for _, n := range []int{2, 3, 5, 10} {
		g := graph.New()
		for i := 1; i < n; i++ {
			g.AddEdge(nodeID(i), nodeID(i+1))
		}

		cp := CriticalPath(g)
		assert.Equal(t, n-1, cp.Length)
		assert.Equal(t, (n-1)*5, cp.EstimatedDuration)
		assert.Len(t, cp.Tasks, n)
		assert.Equal(t, nodeID(1), cp.Tasks[0])
	}
}

func TestCriticalPath_FirstSuccessorWinsTies(t *testing.T) {
	g := graphOf([2]string{"a", "b"}, [2]string{"a", "c"}, [2]string{"b", "d"}, [2]string{"c", "d"})

	cp := CriticalPath(g)

	assert.Equal(t, []string{"a", "b", "d"}, cp.Tasks)
	assert.Equal(t, 2, cp.Length)
}

func TestCriticalPath_NoEdges(t *testing.T) {
	g := graph.New()
	g.AddNode("solo")

	cp := CriticalPath(g)
	assert.Empty(t, cp.Tasks)
	assert.Zero(t, cp.Length)
	assert.Zero(t, cp.EstimatedDuration)
}

func TestCriticalPath_CycleTerminates(t *testing.T) {
	g := graphOf([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"})

	cp := CriticalPath(g)
	assert.Equal(t, 2, cp.Length)
}

func TestParallelGroups(t *testing.T) {
	g := graphOf([2]string{"x", "main"}, [2]string{"y", "main"}, [2]string{"z", "main"})

	assert.Equal(t, [][]string{{"x"}, {"y"}, {"z", "main"}}, ParallelGroups(g))
}

func TestParallelGroups_Chain(t *testing.T) {
	g := graphOf([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"d", "e"})

	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e"}}, ParallelGroups(g))
}
