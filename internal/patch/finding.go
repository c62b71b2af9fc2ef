package patch

import "fmt"

// FindingKind distinguishes blocking errors from resolvable conflicts.
type FindingKind string

// Finding kinds
const (
	// FindingError blocks application entirely and is never resolvable.
	FindingError FindingKind = "error"

	// FindingConflict has a default option the resolver may override.
	FindingConflict FindingKind = "conflict"
)

// Phase identifies where a finding was produced.
type Phase string

// Finding phases
const (
	PhaseValidate Phase = "validate"
	PhaseApply    Phase = "apply"
)

// Option is a caller-chosen policy for resolving a conflict.
type Option string

// Resolution options
const (
	OptionNone    Option = "none"
	OptionIgnore  Option = "ignore"
	OptionDelete  Option = "delete"
	OptionReplace Option = "replace"
)

// Finding is a validation-time observation about an action's target.
type Finding struct {
	// Kind is Error or Conflict.
	Kind FindingKind

	// RelPath is the action's target path.
	RelPath string

	// Phase is the stage that produced the finding.
	Phase Phase

	// Message is a human-readable explanation.
	Message string

	// Default is the suggested option for conflicts (OptionNone for errors).
	Default Option
}

// String renders the finding for logs and CLI output.
func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Kind, f.RelPath, f.Message)
}

// ResolutionMap maps a relative path to the option chosen for its
// outstanding conflict. Consulted by the applier before acting on any
// action whose path has a finding.
type ResolutionMap map[string]Option

// HasErrors reports whether any finding is a blocking error.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Kind == FindingError {
			return true
		}
	}
	return false
}

// Conflicts returns just the conflict findings, preserving order.
func Conflicts(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Kind == FindingConflict {
			out = append(out, f)
		}
	}
	return out
}

// DefaultResolutions builds a ResolutionMap that accepts every
// conflict's default option.
func DefaultResolutions(findings []Finding) ResolutionMap {
	res := make(ResolutionMap)
	for _, f := range findings {
		if f.Kind == FindingConflict {
			res[f.RelPath] = f.Default
		}
	}
	return res
}
