package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/velistar/treepatch/internal/patch"
	"github.com/velistar/treepatch/internal/zipdelta"
)

// backupFilesDir is where pre-mutation bytes live under the backup root.
const backupFilesDir = "files"

// Apply executes the patch against the target tree under the given
// resolutions. Pre-mutation state is captured into the backup root
// before every mutation; if any action fails (or the context is
// cancelled), everything applied so far is reverted before the error
// is returned, so the caller observes either full success or the
// original tree.
//
// When req.BackupRoot is empty a throwaway backup is kept for the
// duration of the call so the rollback guarantee still holds, but no
// journal survives for a later explicit revert.
func (e *Engine) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResult, error) {
	if patch.HasErrors(req.Findings) {
		return nil, fmt.Errorf("%w: blocking errors present", ErrUnresolved)
	}

	r, err := patch.Open(req.PatchPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()
	p := r.Patch()

	backupRoot := req.BackupRoot
	ephemeral := backupRoot == ""
	if ephemeral {
		backupRoot, err = os.MkdirTemp("", "treepatch-backup-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create rollback store: %w", err)
		}
		defer func() {
			_ = os.RemoveAll(backupRoot)
		}()
	}

	findingByPath := make(map[string]patch.Finding, len(req.Findings))
	for _, f := range req.Findings {
		findingByPath[f.RelPath] = f
	}
	resolve := func(rel string) patch.Option {
		f, ok := findingByPath[rel]
		if !ok {
			return patch.OptionNone
		}
		if opt, ok := req.Resolutions[rel]; ok {
			return opt
		}
		return f.Default
	}

	result := &ApplyResult{BackupRoot: req.BackupRoot}
	var applied []AppliedAction

	fail := func(cause error) (*ApplyResult, error) {
		if rerr := e.revertApplied(applied, backupRoot, req.TargetRoot); rerr != nil {
			return nil, fmt.Errorf("%w: %v (rollback also failed: %v)", ErrApply, cause, rerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrApply, cause)
	}

	for i, a := range p.Actions {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		aa, performed, err := e.applyAction(r, i, a, req.TargetRoot, backupRoot, resolve(a.RelPath))
		if err != nil {
			return fail(fmt.Errorf("%s %s: %v", a.Kind, a.RelPath, err))
		}
		if !performed {
			result.Skipped++
			continue
		}
		applied = append(applied, aa)
	}

	result.Applied = applied

	if !ephemeral {
		j := &journal{
			Version:   journalVersion,
			PatchPath: req.PatchPath,
			Target:    req.TargetRoot,
			AppliedAt: e.clock.Now(),
			Actions:   applied,
		}
		if err := e.saveJournal(backupRoot, j); err != nil {
			return fail(err)
		}
	}

	return result, nil
}

// applyAction performs one action. It returns performed=false when the
// action was suppressed (Ignore resolution, consistent absence, or a
// tolerated locked delete); nothing is recorded for suppressed actions.
func (e *Engine) applyAction(r *patch.Reader, index int, a patch.Action, targetRoot, backupRoot string, res patch.Option) (AppliedAction, bool, error) {
	none := AppliedAction{}

	if res == patch.OptionIgnore {
		return none, false, nil
	}

	if err := e.fs.ValidateRelPath(a.RelPath); err != nil {
		return none, false, err
	}

	target := targetPath(targetRoot, a.RelPath)
	state, err := e.pathState(target)
	if err != nil {
		return none, false, err
	}

	// Consistent-absence and already-done skips.
	switch a.Kind {
	case patch.KindDelete, patch.KindDirToFile:
		if state == PriorMissing {
			return none, false, nil
		}
	case patch.KindUpdate, patch.KindUpdateZip:
		if state == PriorMissing && a.Optional {
			return none, false, nil
		}
	case patch.KindFileToDir:
		if state == PriorDir {
			return none, false, nil
		}
	case patch.KindCreate:
		if a.IsDir && state == PriorDir {
			return none, false, nil
		}
	case patch.KindRename:
		fromState, err := e.pathState(targetPath(targetRoot, a.RenamedFrom))
		if err != nil {
			return none, false, err
		}
		if fromState == PriorMissing {
			return none, false, nil
		}
	}

	// Capture the pre-mutation state before touching anything.
	aa := AppliedAction{Index: index, Action: a, Prior: state}
	if a.Kind != patch.KindRename && state != PriorMissing {
		backupRel := backupFilesDir + "/" + a.RelPath
		if err := e.fs.Copy(target, targetPath(backupRoot, backupRel)); err != nil {
			return none, false, fmt.Errorf("failed to back up: %w", err)
		}
		aa.BackupRel = backupRel
	}

	switch a.Kind {
	case patch.KindCreate:
		// A Delete resolution (or non-strict overwrite) clears the
		// unexpected occupant first; the backup above keeps it revertible.
		if state != PriorMissing {
			if err := e.fs.RemoveAll(target); err != nil {
				return none, false, err
			}
		}
		if a.IsDir {
			if err := e.fs.MkdirAll(target, 0755); err != nil {
				return none, false, err
			}
		} else {
			data, err := r.Payload(index)
			if err != nil {
				return none, false, err
			}
			if err := e.fs.AtomicWrite(target, data, 0644); err != nil {
				return none, false, err
			}
		}

	case patch.KindDelete:
		if err := e.fs.Remove(target); err != nil {
			if a.IsDir {
				// Leftover user files keep the directory alive; removing
				// them would destroy data that was never part of the patch.
				e.warnf("leaving non-empty directory %s in place: %v", a.RelPath, err)
				return none, false, nil
			}
			if e.lockPolicy(err) {
				// Lock contention: best-effort no-op, original bytes intact.
				e.warnf("skipping locked file %s: %v", a.RelPath, err)
				return none, false, nil
			}
			return none, false, err
		}

	case patch.KindUpdate:
		data, err := r.Payload(index)
		if err != nil {
			return none, false, err
		}
		if err := e.fs.AtomicWrite(target, data, 0644); err != nil {
			return none, false, err
		}

	case patch.KindUpdateZip:
		err := zipdelta.Splice(target, a.Entries, func(name string) ([]byte, error) {
			return r.EntryPayload(index, name)
		})
		if err != nil {
			return none, false, err
		}

	case patch.KindRename:
		createdDirs, err := e.missingParentDirs(targetRoot, a.RelPath)
		if err != nil {
			return none, false, err
		}
		aa.CreatedDirs = createdDirs
		if err := e.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return none, false, err
		}
		from := targetPath(targetRoot, a.RenamedFrom)
		sensitive, err := e.fs.CaseSensitiveDir(filepath.Dir(from))
		if err != nil {
			return none, false, err
		}
		if sensitive {
			if err := e.fs.Rename(from, target); err != nil {
				return none, false, err
			}
		} else {
			// On a case-insensitive filesystem the old and new paths
			// resolve to the same entry and some systems refuse the
			// direct rename, so go through an intermediate name.
			tmp := from + ".treepatch-rename"
			if err := e.fs.Rename(from, tmp); err != nil {
				return none, false, err
			}
			if err := e.fs.Rename(tmp, target); err != nil {
				_ = e.fs.Rename(tmp, from)
				return none, false, err
			}
		}

	case patch.KindDirToFile:
		if err := e.fs.RemoveAll(target); err != nil {
			return none, false, err
		}

	case patch.KindFileToDir:
		if state == PriorFile {
			if err := e.fs.Remove(target); err != nil {
				return none, false, err
			}
		}
		if err := e.fs.MkdirAll(target, 0755); err != nil {
			return none, false, err
		}

	default:
		return none, false, fmt.Errorf("unknown action kind: %s", a.Kind)
	}

	return aa, true, nil
}

// missingParentDirs lists the ancestors of rel that do not exist yet
// under root, shallowest first, so a revert knows which directories
// the mutation implicitly created.
func (e *Engine) missingParentDirs(root, rel string) ([]string, error) {
	var missing []string
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		exists, err := e.fs.Exists(targetPath(root, dir))
		if err != nil {
			return nil, err
		}
		if exists {
			break
		}
		missing = append(missing, dir)
	}
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing, nil
}
