package engine

import (
	"context"
	"fmt"

	"github.com/velistar/treepatch/internal/patch"
)

// Message used for blocking errors on missing critical paths.
const msgMissingCritical = "critical file is missing"

// Validate inspects each action's target path and returns findings in
// action order, without mutating anything. Errors block application
// entirely; conflicts carry a default option the caller's resolver may
// override.
func (e *Engine) Validate(ctx context.Context, req *ValidateRequest) (*ValidateResult, error) {
	r, err := patch.Open(req.PatchPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()

	p := r.Patch()
	var findings []patch.Finding
	for _, a := range p.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := e.validateAction(p, a, req.TargetRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to validate %s: %w", a.RelPath, err)
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}

	return &ValidateResult{Patch: p, Findings: findings}, nil
}

// validateAction checks a single action against the target tree and
// returns at most one finding.
func (e *Engine) validateAction(p *patch.Patch, a patch.Action, root string) (*patch.Finding, error) {
	if err := e.fs.ValidateRelPath(a.RelPath); err != nil {
		return nil, err
	}
	if a.Kind == patch.KindRename {
		if err := e.fs.ValidateRelPath(a.RenamedFrom); err != nil {
			return nil, err
		}
	}

	target := targetPath(root, a.RelPath)
	state, err := e.pathState(target)
	if err != nil {
		return nil, err
	}

	switch a.Kind {
	case patch.KindCreate:
		return e.validateCreate(p, a, state), nil

	case patch.KindDelete:
		// An already-absent delete target is work already done.
		if state == PriorMissing {
			return nil, nil
		}
		return e.validateExpected(p, a, target, state)

	case patch.KindUpdate:
		if state == PriorMissing {
			if a.Critical {
				return errorFinding(a, msgMissingCritical), nil
			}
			if a.Optional {
				return nil, nil
			}
			return conflictFinding(a, "file is absent", patch.OptionReplace), nil
		}
		return e.validateExpected(p, a, target, state)

	case patch.KindUpdateZip:
		if state == PriorMissing {
			if a.Critical {
				return errorFinding(a, msgMissingCritical), nil
			}
			if a.Optional {
				return nil, nil
			}
			// Entry splicing cannot reconstitute a missing container.
			return errorFinding(a, "archive is absent"), nil
		}
		if state == PriorDir {
			return errorFinding(a, "archive is a directory"), nil
		}
		return e.validateExpected(p, a, target, state)

	case patch.KindRename:
		from := targetPath(root, a.RenamedFrom)
		fromState, err := e.pathState(from)
		if err != nil {
			return nil, err
		}
		if fromState == PriorMissing {
			if a.Critical {
				return errorFinding(a, msgMissingCritical), nil
			}
			if a.Optional {
				return nil, nil
			}
			return errorFinding(a, fmt.Sprintf("cannot rename: %s is absent", a.RenamedFrom)), nil
		}
		return e.validateExpectedAt(p, a, from, fromState)

	case patch.KindDirToFile:
		if state == PriorMissing || state == PriorDir {
			return nil, nil
		}
		// A file already sits where the directory used to be.
		if p.Strict {
			return conflictFinding(a, "unexpected file in place of directory", patch.OptionDelete), nil
		}
		return nil, nil

	case patch.KindFileToDir:
		if state == PriorMissing || state == PriorDir {
			return nil, nil
		}
		return e.validateExpected(p, a, target, state)

	default:
		return nil, fmt.Errorf("unknown action kind: %s", a.Kind)
	}
}

// validateCreate flags an unexpectedly existing target. In non-strict
// mode existing files are silently overwritten.
func (e *Engine) validateCreate(p *patch.Patch, a patch.Action, state PriorState) *patch.Finding {
	if state == PriorMissing {
		return nil
	}
	if a.IsDir && state == PriorDir {
		// Directory already there - creating it is a no-op.
		return nil
	}
	if p.Strict {
		return conflictFinding(a, "unexpected file at target", patch.OptionDelete)
	}
	return nil
}

// validateExpected compares the target's current signature against the
// action's expected old signature.
func (e *Engine) validateExpected(p *patch.Patch, a patch.Action, target string, state PriorState) (*patch.Finding, error) {
	return e.validateExpectedAt(p, a, target, state)
}

// validateExpectedAt is validateExpected with an explicit path, used by
// renames whose precondition lives at the old-case path.
func (e *Engine) validateExpectedAt(p *patch.Patch, a patch.Action, path string, state PriorState) (*patch.Finding, error) {
	if a.ExpectedOld == nil {
		return nil, nil
	}

	if state == PriorDir {
		if p.Strict {
			return errorFinding(a, "file was replaced by a directory"), nil
		}
		return conflictFinding(a, "file was replaced by a directory", patch.OptionReplace), nil
	}

	sig, err := e.digester.File(path)
	if err != nil {
		if a.Critical {
			return errorFinding(a, msgMissingCritical), nil
		}
		return errorFinding(a, fmt.Sprintf("file is unreadable: %v", err)), nil
	}
	if sig.Equal(*a.ExpectedOld) {
		return nil, nil
	}

	// The user modified the file since the old baseline.
	if p.Strict {
		return errorFinding(a, "file was modified"), nil
	}
	return conflictFinding(a, "file was modified", patch.OptionReplace), nil
}

func errorFinding(a patch.Action, msg string) *patch.Finding {
	return &patch.Finding{
		Kind:    patch.FindingError,
		RelPath: a.RelPath,
		Phase:   patch.PhaseValidate,
		Message: msg,
		Default: patch.OptionNone,
	}
}

func conflictFinding(a patch.Action, msg string, def patch.Option) *patch.Finding {
	return &patch.Finding{
		Kind:    patch.FindingConflict,
		RelPath: a.RelPath,
		Phase:   patch.PhaseValidate,
		Message: msg,
		Default: def,
	}
}
