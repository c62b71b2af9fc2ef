// Package build computes the ordered action list that transforms an
// older tree into a newer one and serializes it as a patch archive.
//
// The diff is path-keyed: paths only in the new tree become creates,
// paths only in the old tree become deletes, paths in both are compared
// by content signature. Containers (zip/jar) that changed are diffed
// entry-by-entry so the patch carries only the changed entries, and a
// pair of paths differing only by letter case collapses into a single
// content-preserving rename instead of delete/create noise.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/velistar/treepatch/internal/clock"
	"github.com/velistar/treepatch/internal/digest"
	"github.com/velistar/treepatch/internal/patch"
	"github.com/velistar/treepatch/internal/zipdelta"
)

// ErrBuild indicates the source trees could not be read. Nothing is produced.
var ErrBuild = errors.New("patch build failed")

// Builder computes patches between two trees.
type Builder struct {
	digester digest.Digester
	clock    clock.Clock
}

// New creates a new Builder with the given dependencies.
func New(digester digest.Digester, clk clock.Clock) *Builder {
	return &Builder{digester: digester, clock: clk}
}

// Result holds a built patch plus the container entry payloads that
// cannot be streamed from the new tree at serialization time.
type Result struct {
	Patch *patch.Patch

	// entryPayloads maps action index -> entry name -> new bytes for
	// UpdateZip actions.
	entryPayloads map[int]map[string][]byte
}

// node is one path in a tree listing.
type node struct {
	isDir bool
	sig   digest.Signature
}

// Build walks both trees and computes the ordered action list.
func (b *Builder) Build(ctx context.Context, spec *patch.Spec) (*Result, error) {
	oldNodes, err := b.listTree(ctx, spec.OldRoot, spec.IgnoredPaths)
	if err != nil {
		return nil, fmt.Errorf("%w: old tree unreadable: %v", ErrBuild, err)
	}
	newNodes, err := b.listTree(ctx, spec.NewRoot, spec.IgnoredPaths)
	if err != nil {
		return nil, fmt.Errorf("%w: new tree unreadable: %v", ErrBuild, err)
	}

	critical := pathSet(spec.CriticalPaths)
	optional := pathSet(spec.OptionalPaths)

	p := patch.New(spec.Strict)
	result := &Result{Patch: p, entryPayloads: make(map[int]map[string][]byte)}

	onlyOld, onlyNew, both := splitPaths(oldNodes, newNodes)

	// Case-fold collapse: an old-only file and a new-only file whose
	// paths are equal under case folding are the same file renamed.
	renames := matchCaseRenames(onlyOld, onlyNew, oldNodes, newNodes)
	renamedOld := make(map[string]bool, len(renames))
	renamedNew := make(map[string]bool, len(renames))
	for _, r := range renames {
		renamedOld[r.oldRel] = true
		renamedNew[r.newRel] = true
	}

	flags := func(rel string) (bool, bool) {
		return critical[rel], optional[rel]
	}

	// Phase 1: renames. These come first so an old-cased parent
	// directory is already empty when its deletion runs.
	for _, r := range renames {
		oldSig := oldNodes[r.oldRel].sig
		a := patch.Action{
			RelPath:     r.newRel,
			Kind:        patch.KindRename,
			RenamedFrom: r.oldRel,
			ExpectedOld: &oldSig,
			New:         &oldSig,
		}
		a.Critical, a.Optional = flags(r.newRel)
		p.Add(a)
	}

	// Phase 2: deletions, children before parents.
	sort.Sort(sort.Reverse(sort.StringSlice(onlyOld)))
	for _, rel := range onlyOld {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if renamedOld[rel] {
			continue
		}
		n := oldNodes[rel]
		a := patch.Action{RelPath: rel, Kind: patch.KindDelete, IsDir: n.isDir}
		if !n.isDir {
			sig := n.sig
			a.ExpectedOld = &sig
		}
		a.Critical, a.Optional = flags(rel)
		p.Add(a)
	}

	// Phase 3: new-tree walk in ascending order, so parent directories
	// are created before their children and conversions precede the
	// creates that depend on them.
	ordered := make([]string, 0, len(onlyNew)+len(both))
	ordered = append(ordered, onlyNew...)
	ordered = append(ordered, both...)
	sort.Strings(ordered)

	for _, rel := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if renamedNew[rel] {
			continue
		}
		newNode := newNodes[rel]
		oldNode, inOld := oldNodes[rel]

		crit, opt := flags(rel)

		if !inOld {
			sig := newNode.sig
			a := patch.Action{RelPath: rel, Kind: patch.KindCreate, IsDir: newNode.isDir, Critical: crit, Optional: opt}
			if !newNode.isDir {
				a.New = &sig
			}
			p.Add(a)
			continue
		}

		switch {
		case oldNode.isDir && newNode.isDir:
			// Nothing to do.
		case oldNode.isDir && !newNode.isDir:
			// Directory becomes a file: the conversion pair.
			p.Add(patch.Action{RelPath: rel, Kind: patch.KindDirToFile, Critical: crit, Optional: opt})
			sig := newNode.sig
			p.Add(patch.Action{RelPath: rel, Kind: patch.KindCreate, New: &sig, Critical: crit, Optional: opt})
		case !oldNode.isDir && newNode.isDir:
			// File becomes a directory; descendants arrive as creates.
			oldSig := oldNode.sig
			p.Add(patch.Action{RelPath: rel, Kind: patch.KindFileToDir, ExpectedOld: &oldSig, Critical: crit, Optional: opt})
		default:
			if oldNode.sig.Equal(newNode.sig) {
				continue
			}
			if err := b.addFileUpdate(spec, result, rel, oldNode, newNode, crit, opt); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

// addFileUpdate emits either an entry-level container update or a
// whole-file update for a changed file present in both trees.
func (b *Builder) addFileUpdate(spec *patch.Spec, result *Result, rel string, oldNode, newNode node, crit, opt bool) error {
	oldSig := oldNode.sig
	newSig := newNode.sig

	if zipdelta.IsArchivePath(rel) {
		changes, payloads, err := zipdelta.EntryDiff(
			filepath.Join(spec.OldRoot, filepath.FromSlash(rel)),
			filepath.Join(spec.NewRoot, filepath.FromSlash(rel)),
		)
		if err == nil {
			if len(changes) == 0 {
				// Same entries, different archive bytes (timestamps,
				// compression). Replacing wholesale keeps signatures honest.
				result.Patch.Add(patch.Action{
					RelPath: rel, Kind: patch.KindUpdate,
					ExpectedOld: &oldSig, New: &newSig, Critical: crit, Optional: opt,
				})
				return nil
			}
			index := len(result.Patch.Actions)
			result.Patch.Add(patch.Action{
				RelPath: rel, Kind: patch.KindUpdateZip,
				ExpectedOld: &oldSig, New: &newSig,
				Critical: crit, Optional: opt, Entries: changes,
			})
			result.entryPayloads[index] = payloads
			return nil
		}
		// Unparseable container: fall back to a whole-file update.
	}

	result.Patch.Add(patch.Action{
		RelPath: rel, Kind: patch.KindUpdate,
		ExpectedOld: &oldSig, New: &newSig, Critical: crit, Optional: opt,
	})
	return nil
}

// WriteFile builds the patch for spec and serializes it, payloads
// included, to outPath. The partially written archive is removed on
// any failure.
func (b *Builder) WriteFile(ctx context.Context, spec *patch.Spec, outPath string) (*patch.Patch, error) {
	result, err := b.Build(ctx, spec)
	if err != nil {
		return nil, err
	}

	w, err := patch.NewWriter(outPath, spec.Strict, b.clock.Now())
	if err != nil {
		return nil, err
	}

	for i, a := range result.Patch.Actions {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return nil, err
		}
		if err := b.writeAction(w, spec, result, i, a); err != nil {
			w.Abort()
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return result.Patch, nil
}

func (b *Builder) writeAction(w *patch.Writer, spec *patch.Spec, result *Result, index int, a patch.Action) error {
	if a.Kind == patch.KindUpdateZip {
		return w.AddContainer(a, result.entryPayloads[index])
	}

	if !a.HasPayload() {
		return w.Add(a, nil)
	}

	src := filepath.Join(spec.NewRoot, filepath.FromSlash(a.RelPath))
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open payload source %s: %w", a.RelPath, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return w.Add(a, f)
}

// listTree walks root and returns every path (files and directories)
// keyed by slash-separated relative path, with file signatures.
func (b *Builder) listTree(ctx context.Context, root string, ignored []string) (map[string]node, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	skip := pathSet(ignored)
	nodes := make(map[string]node)

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip[rel] {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			nodes[rel] = node{isDir: true}
			return nil
		}
		sig, err := b.digester.File(path)
		if err != nil {
			return fmt.Errorf("failed to digest %s: %w", rel, err)
		}
		nodes[rel] = node{sig: sig}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return nodes, nil
}

// splitPaths partitions the union of both listings into old-only,
// new-only, and shared relative paths.
func splitPaths(oldNodes, newNodes map[string]node) (onlyOld, onlyNew, both []string) {
	for rel := range oldNodes {
		if _, ok := newNodes[rel]; ok {
			both = append(both, rel)
		} else {
			onlyOld = append(onlyOld, rel)
		}
	}
	for rel := range newNodes {
		if _, ok := oldNodes[rel]; !ok {
			onlyNew = append(onlyNew, rel)
		}
	}
	return onlyOld, onlyNew, both
}

// caseRename pairs an old-only path with the new-only path it was
// renamed to.
type caseRename struct {
	oldRel string
	newRel string
}

// matchCaseRenames pairs old-only and new-only files whose paths are
// equal under case folding and whose contents match. A pair whose
// content changed too is not a spurious artifact of case-insensitive
// listing, so it stays a delete+create. Directory case renames are not
// collapsed either; they fall through to delete+create, which is
// correct on every filesystem even if noisier.
func matchCaseRenames(onlyOld, onlyNew []string, oldNodes, newNodes map[string]node) []caseRename {
	folded := make(map[string]string, len(onlyNew))
	for _, rel := range onlyNew {
		if newNodes[rel].isDir {
			continue
		}
		folded[strings.ToLower(rel)] = rel
	}

	var renames []caseRename
	for _, rel := range onlyOld {
		if oldNodes[rel].isDir {
			continue
		}
		newRel, ok := folded[strings.ToLower(rel)]
		if !ok || newRel == rel {
			continue
		}
		if !oldNodes[rel].sig.Equal(newNodes[newRel].sig) {
			continue
		}
		renames = append(renames, caseRename{oldRel: rel, newRel: newRel})
	}
	sort.Slice(renames, func(i, j int) bool { return renames[i].newRel < renames[j].newRel })
	return renames
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[filepath.ToSlash(p)] = true
	}
	return set
}
