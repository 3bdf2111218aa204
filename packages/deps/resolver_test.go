package deps

import (
	"testing"

	"github.com/rustic-ai/moth/packages/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cases(defs ...[2]any) []spec.ToolTestCase {
	out := make([]spec.ToolTestCase, 0, len(defs))
	for _, d := range defs {
		tc := spec.ToolTestCase{Tool: "tool"}
		tc.Name = d[0].(string)
		if d[1] != nil {
			tc.Dependencies = d[1].([]string)
		}
		out = append(out, tc)
	}
	return out
}

func TestResolve_NoDependencies(t *testing.T) {
	res, err := Resolve(cases(
		[2]any{"a", nil},
		[2]any{"b", nil},
		[2]any{"c", nil},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res.ExecutionOrder)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, res.Waves)
}

func TestResolve_Chain(t *testing.T) {
	res, err := Resolve(cases(
		[2]any{"c", []string{"b"}},
		[2]any{"b", []string{"a"}},
		[2]any{"a", nil},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res.ExecutionOrder)
	assert.Len(t, res.Waves, 3)
}

func TestResolve_Diamond(t *testing.T) {
	// A and B independent, C depends on both: C last, A and B before it.
	res, err := Resolve(cases(
		[2]any{"a", nil},
		[2]any{"b", nil},
		[2]any{"c", []string{"a", "b"}},
	))
	require.NoError(t, err)
	require.Len(t, res.ExecutionOrder, 3)
	assert.Equal(t, "c", res.ExecutionOrder[2])
	assert.ElementsMatch(t, []string{"a", "b"}, res.ExecutionOrder[:2])
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, res.Waves)
}

func TestResolve_TopologicalValidity(t *testing.T) {
	cs := cases(
		[2]any{"e", []string{"c", "d"}},
		[2]any{"d", []string{"b"}},
		[2]any{"c", []string{"a"}},
		[2]any{"b", nil},
		[2]any{"a", nil},
	)
	res, err := Resolve(cs)
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, name := range res.ExecutionOrder {
		pos[name] = i
	}
	for _, tc := range cs {
		for _, dep := range tc.Dependencies {
			assert.Less(t, pos[dep], pos[tc.Name], "%s must run after %s", tc.Name, dep)
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	cs := cases(
		[2]any{"z", nil},
		[2]any{"m", nil},
		[2]any{"a", nil},
		[2]any{"last", []string{"z", "m", "a"}},
	)
	first, err := Resolve(cs)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Resolve(cs)
		require.NoError(t, err)
		assert.Equal(t, first.ExecutionOrder, again.ExecutionOrder)
	}
	// Declaration order breaks ties, not lexical order.
	assert.Equal(t, []string{"z", "m", "a", "last"}, first.ExecutionOrder)
}

func TestResolve_Cycle(t *testing.T) {
	_, err := Resolve(cases(
		[2]any{"a", []string{"b"}},
		[2]any{"b", []string{"a"}},
	))
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Tests)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestResolve_CycleNamesParticipant(t *testing.T) {
	_, err := Resolve(cases(
		[2]any{"ok", nil},
		[2]any{"x", []string{"y"}},
		[2]any{"y", []string{"z"}},
		[2]any{"z", []string{"x"}},
	))
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"x", "y", "z"}, cycleErr.Tests)
	assert.NotContains(t, cycleErr.Tests, "ok")
}

func TestResolve_UnknownDependency(t *testing.T) {
	_, err := Resolve(cases(
		[2]any{"a", []string{"ghost"}},
	))
	var unknownErr *UnknownDependencyError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "a", unknownErr.Test)
	assert.Equal(t, "ghost", unknownErr.Dependency)
}

func TestResolve_Empty(t *testing.T) {
	res, err := Resolve(nil)
	require.NoError(t, err)
	assert.Empty(t, res.ExecutionOrder)
	assert.Empty(t, res.Waves)
}
