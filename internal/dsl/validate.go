package dsl

import "fmt"

// ValidationIssue describes a single playbook defect, pointing at the
// offending step so authors can fix it without re-deriving which step
// failed.
type ValidationIssue struct {
	Step    string
	Message string
}

func (v ValidationIssue) Error() string {
	return fmt.Sprintf("step %q: %s", v.Step, v.Message)
}

// StepValidationInput is the subset of a decoded-but-not-yet-typed step
// document Validate inspects before construction of a Step, so
// legacy/rejected keys can be caught before any Loop is built.
type StepValidationInput struct {
	ID       string
	HasUntil bool
	LoopKind string // "", "mapping", "array_or_scalar"
}

// Validate rejects the two playbook-authoring mistakes the spec requires be
// caught before any event is persisted (§9 Open Questions):
//   - `until:` is never treated as `where:`; its presence is always an error.
//   - Iterating a YAML mapping is disallowed outright.
func Validate(raw []StepValidationInput) []ValidationIssue {
	var issues []ValidationIssue
	for _, s := range raw {
		if s.HasUntil {
			issues = append(issues, ValidationIssue{
				Step:    s.ID,
				Message: "`until:` is not supported; it is not equivalent to `where:` and playbooks must not rely on it",
			})
		}
		if s.LoopKind == "mapping" {
			issues = append(issues, ValidationIssue{
				Step:    s.ID,
				Message: "loop.in/collection must resolve to an array or scalar; iterating a mapping is not supported",
			})
		}
	}
	return issues
}
