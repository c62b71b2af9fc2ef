// Package patch defines the patch data model and the patch archive format.
//
// A Patch is an ordered list of Actions plus a payload archive. Actions
// are produced once at build time and are immutable; every action
// targets a single slash-separated relative path. The archive is a zip
// container holding a JSON manifest and one payload blob per action
// that carries replacement bytes.
package patch

import (
	"github.com/velistar/treepatch/internal/digest"
)

// Kind identifies the type of change an Action performs.
type Kind string

// Action kinds
const (
	// KindCreate writes a new file (payload = file bytes) or directory.
	KindCreate Kind = "create"

	// KindDelete removes a file.
	KindDelete Kind = "delete"

	// KindUpdate replaces a file's contents wholesale.
	KindUpdate Kind = "update"

	// KindUpdateZip splices individual entries inside a zip/jar-like
	// container instead of replacing the whole file.
	KindUpdateZip Kind = "update_zip"

	// KindDirToFile removes a directory tree so a following Create can
	// put a file at the same path.
	KindDirToFile Kind = "dir_to_file"

	// KindFileToDir removes a file and creates an empty directory at
	// the same path; descendants arrive as separate Creates.
	KindFileToDir Kind = "file_to_dir"

	// KindRename moves a file whose path changed only by letter case.
	KindRename Kind = "rename"
)

// Entry change operations for KindUpdateZip actions.
const (
	EntryAdd    = "add"
	EntryUpdate = "update"
	EntryRemove = "remove"
)

// EntryChange describes one entry-level change inside a container.
// Add and Update changes carry payload bytes in the archive; Remove
// changes carry none.
type EntryChange struct {
	Name string `json:"name"`
	Op   string `json:"op"`
}

// Action is one unit of change for one relative path.
//
// ExpectedOld is the signature of the old-tree file (nil for pure
// creates) so validation can detect drift; New is the signature the
// target should have after the action applies (nil for deletes).
// Payload bytes, when the kind carries any, are keyed by the action's
// position in the patch.
type Action struct {
	// RelPath is the slash-separated path relative to the tree root.
	RelPath string `json:"path"`

	// Kind is the action type.
	Kind Kind `json:"kind"`

	// ExpectedOld is the signature the target is expected to have
	// before the action applies.
	ExpectedOld *digest.Signature `json:"old,omitempty"`

	// New is the signature the target will have after the action.
	New *digest.Signature `json:"new,omitempty"`

	// Critical marks a path whose processing is mandatory.
	Critical bool `json:"critical,omitempty"`

	// Optional marks a path that may be absent without error.
	Optional bool `json:"optional,omitempty"`

	// IsDir marks a Create that produces a directory rather than a file.
	IsDir bool `json:"dir,omitempty"`

	// RenamedFrom is the old-case path for KindRename.
	RenamedFrom string `json:"renamed_from,omitempty"`

	// Entries lists the container changes for KindUpdateZip.
	Entries []EntryChange `json:"entries,omitempty"`
}

// HasPayload reports whether the action carries whole-file payload
// bytes in the archive. UpdateZip actions carry per-entry payloads
// instead (see Reader.EntryPayload).
func (a Action) HasPayload() bool {
	switch a.Kind {
	case KindCreate:
		return !a.IsDir
	case KindUpdate:
		return true
	default:
		return false
	}
}

// Spec describes a patch build. Immutable once a build starts.
type Spec struct {
	// OldRoot is the baseline tree.
	OldRoot string

	// NewRoot is the desired tree.
	NewRoot string

	// CriticalPaths must exist in the target and apply successfully.
	CriticalPaths []string

	// OptionalPaths may be absent from either tree without error.
	OptionalPaths []string

	// IgnoredPaths are excluded from the diff entirely.
	IgnoredPaths []string

	// Strict escalates drift conflicts to errors at validation time.
	Strict bool
}

// Patch is the ordered action list plus the strict flag it was built
// with. Payload bytes live in the archive, keyed by action index.
type Patch struct {
	Strict  bool
	Actions []Action
}

// New creates an empty Patch.
func New(strict bool) *Patch {
	return &Patch{Strict: strict, Actions: []Action{}}
}

// Add appends an action to the patch.
func (p *Patch) Add(a Action) {
	p.Actions = append(p.Actions, a)
}
