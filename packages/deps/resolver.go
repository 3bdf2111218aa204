// Package deps turns a set of named, possibly-interdependent test cases into
// a deterministic, cycle-free execution order.
package deps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rustic-ai/moth/packages/spec"
)

// Resolution is the computed execution plan: a total order in which every
// test appears strictly after all tests it depends on, plus the same order
// grouped into waves of mutually independent tests for bounded-concurrency
// execution.
type Resolution struct {
	ExecutionOrder []string   `json:"execution_order"`
	Waves          [][]string `json:"waves"`
}

// CycleError reports a circular dependency. Tests lists every test left on a
// cycle (or downstream of one); Chain is one concrete cycle for diagnostics.
type CycleError struct {
	Tests []string
	Chain []string
}

func (e *CycleError) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("circular dependency: %s", strings.Join(e.Chain, " -> "))
	}
	return fmt.Sprintf("circular dependency among tests: %s", strings.Join(e.Tests, ", "))
}

// UnknownDependencyError reports a dependency naming a test absent from the
// suite. This is a resolution failure, not a silent no-op.
type UnknownDependencyError struct {
	Test       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("test %q depends on %q which is not part of the suite", e.Test, e.Dependency)
}

// Resolve computes the execution order for the given test cases. Ties among
// independent tests are broken by declaration order so runs are reproducible.
func Resolve(cases []spec.ToolTestCase) (*Resolution, error) {
	index := make(map[string]int, len(cases)) // name -> declaration position
	for i, tc := range cases {
		index[tc.Name] = i
	}

	inDegree := make(map[string]int, len(cases))
	dependents := make(map[string][]string, len(cases))
	for _, tc := range cases {
		inDegree[tc.Name] += 0
		for _, dep := range tc.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, &UnknownDependencyError{Test: tc.Name, Dependency: dep}
			}
			dependents[dep] = append(dependents[dep], tc.Name)
			inDegree[tc.Name]++
		}
	}

	// Kahn's algorithm, wave by wave. Each wave is the set of tests whose
	// dependencies all completed in earlier waves, sorted by declaration
	// order; concatenating the waves gives the total order.
	ready := make([]string, 0, len(cases))
	for _, tc := range cases {
		if inDegree[tc.Name] == 0 {
			ready = append(ready, tc.Name)
		}
	}

	res := &Resolution{ExecutionOrder: make([]string, 0, len(cases))}
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
		wave := ready
		ready = nil
		res.Waves = append(res.Waves, wave)
		for _, name := range wave {
			res.ExecutionOrder = append(res.ExecutionOrder, name)
			for _, next := range dependents[name] {
				inDegree[next]--
				if inDegree[next] == 0 {
					ready = append(ready, next)
				}
			}
		}
	}

	if len(res.ExecutionOrder) != len(cases) {
		return nil, cycleError(cases, inDegree)
	}
	return res, nil
}

// cycleError collects the tests never scheduled and traces one cycle among
// them for the error message.
func cycleError(cases []spec.ToolTestCase, inDegree map[string]int) *CycleError {
	var stuck []string
	stuckSet := make(map[string]bool)
	deps := make(map[string][]string)
	for _, tc := range cases {
		deps[tc.Name] = tc.Dependencies
		if inDegree[tc.Name] > 0 {
			stuck = append(stuck, tc.Name)
			stuckSet[tc.Name] = true
		}
	}

	// Walk dependency edges inside the stuck set until a name repeats.
	chain := []string{stuck[0]}
	visited := map[string]int{stuck[0]: 0}
	current := stuck[0]
	for {
		var next string
		for _, dep := range deps[current] {
			if stuckSet[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			break
		}
		if pos, seen := visited[next]; seen {
			chain = append(chain[pos:], next)
			return &CycleError{Tests: stuck, Chain: chain}
		}
		visited[next] = len(chain)
		chain = append(chain, next)
		current = next
	}
	return &CycleError{Tests: stuck}
}
