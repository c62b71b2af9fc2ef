package engine

import (
	"time"

	"github.com/velistar/treepatch/internal/patch"
)

// ValidateRequest asks for a patch to be checked against a target tree.
type ValidateRequest struct {
	// PatchPath is the patch archive to inspect.
	PatchPath string

	// TargetRoot is the tree the patch would be applied to.
	TargetRoot string
}

// ValidateResult holds the findings of a validation pass. Nothing has
// been mutated.
type ValidateResult struct {
	// Patch is the deserialized action list.
	Patch *patch.Patch

	// Findings lists errors and conflicts in action order.
	Findings []patch.Finding
}

// ApplyRequest asks for a patch to be applied to a target tree.
type ApplyRequest struct {
	// PatchPath is the patch archive to apply.
	PatchPath string

	// TargetRoot is the tree to mutate.
	TargetRoot string

	// Findings is the validation output for this patch and target.
	// Apply refuses to run while any of them is a blocking error.
	Findings []patch.Finding

	// Resolutions maps conflicted paths to the caller's chosen option.
	Resolutions patch.ResolutionMap

	// BackupRoot, when non-empty, receives pre-mutation state and the
	// apply journal so the application can be reverted later. When
	// empty, a throwaway backup is kept only for rollback-on-failure.
	BackupRoot string
}

// ApplyResult reports what an apply pass performed.
type ApplyResult struct {
	// Applied lists the mutations that were performed, in order.
	Applied []AppliedAction

	// Skipped counts actions suppressed by Ignore resolutions or
	// consistent absence of their targets.
	Skipped int

	// BackupRoot is where backups and the journal were written (empty
	// when the caller supplied none).
	BackupRoot string
}

// RevertRequest asks for a previous application to be undone.
type RevertRequest struct {
	// TargetRoot is the tree to restore.
	TargetRoot string

	// BackupRoot holds the backups and journal of the application.
	BackupRoot string
}

// RevertResult reports what a revert pass restored.
type RevertResult struct {
	// Restored counts the applied actions that were undone.
	Restored int
}

// PriorState records what existed at an action's target path before
// the mutation.
type PriorState string

// Prior states
const (
	PriorMissing PriorState = "missing"
	PriorFile    PriorState = "file"
	PriorDir     PriorState = "dir"
)

// AppliedAction is recorded only after a mutation has actually
// happened. The backup bytes belong to the applier until a revert
// consumes them or the caller discards the backup root.
type AppliedAction struct {
	// Index is the action's position in the patch (its payload key).
	Index int `json:"index"`

	// Action is the action that was performed.
	Action patch.Action `json:"action"`

	// Prior is what the target path held before the mutation.
	Prior PriorState `json:"prior"`

	// BackupRel is the path of the captured state under the backup
	// root, empty when nothing was captured.
	BackupRel string `json:"backup,omitempty"`

	// CreatedDirs lists parent directories, shallowest first, that the
	// mutation had to create and a revert must remove again.
	CreatedDirs []string `json:"created_dirs,omitempty"`
}

// journal is the persisted record of one application, stored in the
// backup root so a later explicit revert can find it.
type journal struct {
	Version   int             `json:"version"`
	PatchPath string          `json:"patch"`
	Target    string          `json:"target"`
	AppliedAt time.Time       `json:"applied_at"`
	Actions   []AppliedAction `json:"actions"`
}
