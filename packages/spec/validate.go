package spec

import "fmt"

// Validate performs semantic checks that parsing alone cannot catch:
// duplicate test names, dangling dependency references, and malformed
// field validations. All failures wrap ErrInvalid.
func (s *Specification) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: specification name is required", ErrInvalid)
	}

	seen := make(map[string]string) // test name -> tool name
	for _, tool := range s.Tools {
		if tool.Name == "" {
			return fmt.Errorf("%w: tool with empty name", ErrInvalid)
		}
		for _, tc := range tool.Tests {
			if tc.Name == "" {
				return fmt.Errorf("%w: tool %q has a test with empty name", ErrInvalid, tool.Name)
			}
			if prev, dup := seen[tc.Name]; dup {
				return fmt.Errorf("%w: duplicate test name %q (tools %q and %q)", ErrInvalid, tc.Name, prev, tool.Name)
			}
			seen[tc.Name] = tool.Name

			for _, fv := range tc.Expected.Fields {
				if fv.Path == "" {
					return fmt.Errorf("%w: test %q has a field validation with empty path", ErrInvalid, tc.Name)
				}
				if fv.Min != nil && fv.Max != nil && *fv.Min > *fv.Max {
					return fmt.Errorf("%w: test %q field %q: min %v exceeds max %v", ErrInvalid, tc.Name, fv.Path, *fv.Min, *fv.Max)
				}
			}
		}
	}

	// Dependency references must name tests that exist. Cycle detection is
	// the resolver's job; this catches the dangling-reference class early.
	for _, tool := range s.Tools {
		for _, tc := range tool.Tests {
			for _, dep := range tc.Dependencies {
				if _, ok := seen[dep]; !ok {
					return fmt.Errorf("%w: test %q depends on %q which does not exist", ErrInvalid, tc.Name, dep)
				}
				if dep == tc.Name {
					return fmt.Errorf("%w: test %q depends on itself", ErrInvalid, tc.Name)
				}
			}
		}
	}

	for _, script := range s.ValidationScripts {
		if script.Name == "" {
			return fmt.Errorf("%w: validation script with empty name", ErrInvalid)
		}
		switch script.ExecutionPhase {
		case "", PhaseBefore, PhaseAfter, PhaseBoth:
		default:
			return fmt.Errorf("%w: script %q has unknown execution phase %q", ErrInvalid, script.Name, script.ExecutionPhase)
		}
	}

	return nil
}
