package engine

import (
	"context"
	"fmt"

	"github.com/velistar/treepatch/internal/patch"
)

// Revert undoes a previously applied patch using the backups and
// journal in req.BackupRoot. Applied actions are processed in reverse
// of application order. Revert is idempotent: the journal is truncated
// on success, so reverting again is a no-op.
func (e *Engine) Revert(ctx context.Context, req *RevertRequest) (*RevertResult, error) {
	j, err := e.loadJournal(req.BackupRoot)
	if err != nil {
		return nil, err
	}
	if len(j.Actions) == 0 {
		return &RevertResult{}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.revertApplied(j.Actions, req.BackupRoot, req.TargetRoot); err != nil {
		return nil, err
	}

	restored := len(j.Actions)
	j.Actions = nil
	if err := e.saveJournal(req.BackupRoot, j); err != nil {
		return nil, fmt.Errorf("failed to truncate journal: %w", err)
	}

	return &RevertResult{Restored: restored}, nil
}

// revertApplied restores the pre-mutation state of every applied
// action, newest first. A backup that cannot be read is fatal and
// surfaced as ErrRevert - there is no further state to roll back to.
func (e *Engine) revertApplied(applied []AppliedAction, backupRoot, targetRoot string) error {
	for i := len(applied) - 1; i >= 0; i-- {
		if err := e.revertOne(applied[i], backupRoot, targetRoot); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRevert, applied[i].Action.RelPath, err)
		}
	}
	return nil
}

// revertOne restores one action's target to its recorded prior state.
func (e *Engine) revertOne(aa AppliedAction, backupRoot, targetRoot string) error {
	target := targetPath(targetRoot, aa.Action.RelPath)

	if aa.Action.Kind == patch.KindRename {
		state, err := e.pathState(target)
		if err != nil {
			return err
		}
		if state != PriorMissing {
			if err := e.fs.Rename(target, targetPath(targetRoot, aa.Action.RenamedFrom)); err != nil {
				return err
			}
		}
		// Remove the parent directories the rename created, deepest
		// first. One that gained unrelated content since stays.
		for i := len(aa.CreatedDirs) - 1; i >= 0; i-- {
			if err := e.fs.Remove(targetPath(targetRoot, aa.CreatedDirs[i])); err != nil {
				break
			}
		}
		return nil
	}

	switch aa.Prior {
	case PriorMissing:
		return e.fs.RemoveAll(target)

	case PriorFile, PriorDir:
		backupAbs := targetPath(backupRoot, aa.BackupRel)
		exists, err := e.fs.Exists(backupAbs)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("backup for %s is missing", aa.Action.RelPath)
		}
		if err := e.fs.RemoveAll(target); err != nil {
			return err
		}
		return e.fs.Copy(backupAbs, target)

	default:
		return fmt.Errorf("unknown prior state: %s", aa.Prior)
	}
}
