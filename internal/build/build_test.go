package build

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/velistar/treepatch/internal/clock"
	"github.com/velistar/treepatch/internal/digest"
	"github.com/velistar/treepatch/internal/patch"
)

func newTestBuilder() *Builder {
	return New(digest.NewSigDigester(), clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
}

// writeTree materializes files (and their parent directories) under a
// fresh temp root. A value ending in "/" creates an empty directory.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if content == "" && rel[len(rel)-1] == '/' {
			if err := os.MkdirAll(path, 0755); err != nil {
				t.Fatalf("failed to create dir %s: %v", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create parent of %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
	return root
}

// actionAt finds the first action for rel, failing the test if absent.
func actionAt(t *testing.T, p *patch.Patch, rel string, kind patch.Kind) (patch.Action, int) {
	t.Helper()
	for i, a := range p.Actions {
		if a.RelPath == rel && a.Kind == kind {
			return a, i
		}
	}
	t.Fatalf("no %s action for %s in %v", kind, rel, kinds(p))
	return patch.Action{}, -1
}

func kinds(p *patch.Patch) []string {
	out := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		out[i] = string(a.Kind) + " " + a.RelPath
	}
	return out
}

func TestBuildCreateDeleteUpdate(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{
		"a.txt":    "version one",
		"gone.txt": "obsolete",
	})
	newRoot := writeTree(t, map[string]string{
		"a.txt":     "version two",
		"fresh.txt": "brand new",
	})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p := result.Patch

	if len(p.Actions) != 3 {
		t.Fatalf("got %d actions, want 3: %v", len(p.Actions), kinds(p))
	}

	del, delIdx := actionAt(t, p, "gone.txt", patch.KindDelete)
	if del.ExpectedOld == nil || !del.ExpectedOld.Equal(digest.Bytes([]byte("obsolete"))) {
		t.Error("delete should carry the old file's signature")
	}

	create, createIdx := actionAt(t, p, "fresh.txt", patch.KindCreate)
	if create.New == nil || !create.New.Equal(digest.Bytes([]byte("brand new"))) {
		t.Error("create should carry the new file's signature")
	}
	if delIdx > createIdx {
		t.Error("deletes must precede creates")
	}

	update, _ := actionAt(t, p, "a.txt", patch.KindUpdate)
	if update.ExpectedOld == nil || !update.ExpectedOld.Equal(digest.Bytes([]byte("version one"))) {
		t.Error("update should carry the old signature")
	}
	if update.New == nil || !update.New.Equal(digest.Bytes([]byte("version two"))) {
		t.Error("update should carry the new signature")
	}
}

func TestBuildUnchangedFileProducesNothing(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"same.txt": "stable"})
	newRoot := writeTree(t, map[string]string{"same.txt": "stable"})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Patch.Actions) != 0 {
		t.Errorf("identical trees should produce an empty patch, got %v", kinds(result.Patch))
	}
}

func TestBuildDeleteChildrenBeforeParents(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{
		"plugins/tool/inner/deep.txt": "d",
		"plugins/tool/top.txt":        "t",
	})
	newRoot := writeTree(t, map[string]string{"keep.txt": "k"})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var deleteOrder []string
	for _, a := range result.Patch.Actions {
		if a.Kind == patch.KindDelete {
			deleteOrder = append(deleteOrder, a.RelPath)
		}
	}

	pos := make(map[string]int, len(deleteOrder))
	for i, rel := range deleteOrder {
		pos[rel] = i
	}
	if pos["plugins/tool/inner/deep.txt"] > pos["plugins/tool/inner"] {
		t.Error("file must be deleted before its parent directory")
	}
	if pos["plugins/tool/inner"] > pos["plugins/tool"] {
		t.Error("inner directory must be deleted before its parent")
	}
	if pos["plugins/tool"] > pos["plugins"] {
		t.Error("directories must be deleted bottom-up")
	}
}

func TestBuildCreatesParentsFirst(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"anchor.txt": "a"})
	newRoot := writeTree(t, map[string]string{
		"anchor.txt":     "a",
		"lib/sub/new.so": "binary",
	})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p := result.Patch

	_, libIdx := actionAt(t, p, "lib", patch.KindCreate)
	_, subIdx := actionAt(t, p, "lib/sub", patch.KindCreate)
	_, fileIdx := actionAt(t, p, "lib/sub/new.so", patch.KindCreate)
	if !(libIdx < subIdx && subIdx < fileIdx) {
		t.Errorf("creates out of order: lib=%d sub=%d file=%d", libIdx, subIdx, fileIdx)
	}

	dir, _ := actionAt(t, p, "lib", patch.KindCreate)
	if !dir.IsDir {
		t.Error("directory create should carry the dir flag")
	}
}

func TestBuildConversionPairs(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{
		"item":            "was a file",
		"node/child.txt":  "in old dir",
		"node/other.conf": "also old",
	})
	newRoot := writeTree(t, map[string]string{
		"item/child.txt": "now inside a dir",
		"node":           "now a file",
	})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p := result.Patch

	// File -> directory: conversion then the descendant create.
	ftd, ftdIdx := actionAt(t, p, "item", patch.KindFileToDir)
	if ftd.ExpectedOld == nil {
		t.Error("file_to_dir should carry the old file's signature")
	}
	_, childIdx := actionAt(t, p, "item/child.txt", patch.KindCreate)
	if ftdIdx > childIdx {
		t.Error("conversion must precede the creates inside the new directory")
	}

	// Directory -> file: conversion immediately followed by the create.
	_, dtfIdx := actionAt(t, p, "node", patch.KindDirToFile)
	_, ncIdx := actionAt(t, p, "node", patch.KindCreate)
	if dtfIdx+1 != ncIdx {
		t.Errorf("dir_to_file at %d should be followed by create at %d", dtfIdx, ncIdx)
	}

	// The old directory's children go away as ordinary deletes.
	actionAt(t, p, "node/child.txt", patch.KindDelete)
	actionAt(t, p, "node/other.conf", patch.KindDelete)
}

func TestBuildCaseRenameCollapses(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"Tools/Launcher.sh": "run"})
	newRoot := writeTree(t, map[string]string{"tools/launcher.sh": "run"})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p := result.Patch

	rename, idx := actionAt(t, p, "tools/launcher.sh", patch.KindRename)
	if idx != 0 {
		t.Errorf("rename should come first, got index %d", idx)
	}
	if rename.RenamedFrom != "Tools/Launcher.sh" {
		t.Errorf("RenamedFrom = %q", rename.RenamedFrom)
	}

	for _, a := range p.Actions {
		if a.Kind == patch.KindDelete && a.RelPath == "Tools/Launcher.sh" {
			t.Error("renamed file must not also be deleted")
		}
		if a.Kind == patch.KindCreate && a.RelPath == "tools/launcher.sh" {
			t.Error("renamed file must not also be created")
		}
	}
}

func TestBuildCaseRenameWithContentChangeStaysDeleteCreate(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"Config.xml": "old settings"})
	newRoot := writeTree(t, map[string]string{"config.xml": "new settings"})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p := result.Patch

	actionAt(t, p, "Config.xml", patch.KindDelete)
	actionAt(t, p, "config.xml", patch.KindCreate)
	for _, a := range p.Actions {
		if a.Kind == patch.KindRename {
			t.Error("content change must not collapse into a rename")
		}
	}
}

func TestBuildFlagsAndIgnored(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{
		"bin/critical.dll": "v1",
		"opt/maybe.txt":    "v1",
		"cache/junk.tmp":   "noise",
	})
	newRoot := writeTree(t, map[string]string{
		"bin/critical.dll": "v2",
		"opt/maybe.txt":    "v2",
		"cache/other.tmp":  "different noise",
	})

	spec := &patch.Spec{
		OldRoot:       oldRoot,
		NewRoot:       newRoot,
		CriticalPaths: []string{"bin/critical.dll"},
		OptionalPaths: []string{"opt/maybe.txt"},
		IgnoredPaths:  []string{"cache"},
	}
	result, err := newTestBuilder().Build(context.Background(), spec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p := result.Patch

	crit, _ := actionAt(t, p, "bin/critical.dll", patch.KindUpdate)
	if !crit.Critical {
		t.Error("critical flag not set")
	}
	opt, _ := actionAt(t, p, "opt/maybe.txt", patch.KindUpdate)
	if !opt.Optional {
		t.Error("optional flag not set")
	}
	for _, a := range p.Actions {
		if a.RelPath == "cache" || a.RelPath == "cache/junk.tmp" || a.RelPath == "cache/other.tmp" {
			t.Errorf("ignored path produced an action: %s %s", a.Kind, a.RelPath)
		}
	}
}

func TestBuildContainerDelta(t *testing.T) {
	oldRoot := t.TempDir()
	newRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(oldRoot, "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(newRoot, "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	writeZip(t, filepath.Join(oldRoot, "lib", "app.jar"), map[string]string{
		"Main.class":   "main v1",
		"Helper.class": "helper",
		"Legacy.class": "old code",
	})
	writeZip(t, filepath.Join(newRoot, "lib", "app.jar"), map[string]string{
		"Main.class":   "main v2 with fixes",
		"Helper.class": "helper",
		"Added.class":  "new code",
	})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p := result.Patch

	uz, idx := actionAt(t, p, "lib/app.jar", patch.KindUpdateZip)
	ops := make(map[string]string, len(uz.Entries))
	for _, e := range uz.Entries {
		ops[e.Name] = e.Op
	}
	if ops["Main.class"] != patch.EntryUpdate || ops["Added.class"] != patch.EntryAdd || ops["Legacy.class"] != patch.EntryRemove {
		t.Errorf("unexpected entry changes: %v", uz.Entries)
	}
	if _, ok := ops["Helper.class"]; ok {
		t.Error("unchanged entry should not appear in the delta")
	}
	if string(result.entryPayloads[idx]["Main.class"]) != "main v2 with fixes" {
		t.Error("entry payload not captured")
	}
}

func TestBuildCorruptContainerFallsBackToUpdate(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"broken.jar": "not really a jar"})
	newRoot := writeTree(t, map[string]string{"broken.jar": "still not a jar, but changed"})

	result, err := newTestBuilder().Build(context.Background(), &patch.Spec{OldRoot: oldRoot, NewRoot: newRoot})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	actionAt(t, result.Patch, "broken.jar", patch.KindUpdate)
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := newTestBuilder().Build(context.Background(), &patch.Spec{
		OldRoot: filepath.Join(t.TempDir(), "absent"),
		NewRoot: t.TempDir(),
	})
	if !errors.Is(err, ErrBuild) {
		t.Errorf("expected ErrBuild, got %v", err)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"a.txt": "one"})
	newRoot := writeTree(t, map[string]string{
		"a.txt": "two",
		"b.txt": "fresh",
	})

	outPath := filepath.Join(t.TempDir(), "update.zip")
	built, err := newTestBuilder().WriteFile(context.Background(), &patch.Spec{
		OldRoot: oldRoot,
		NewRoot: newRoot,
		Strict:  true,
	}, outPath)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	r, err := patch.Open(outPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() {
		_ = r.Close()
	}()

	p := r.Patch()
	if !p.Strict {
		t.Error("strict flag lost in serialization")
	}
	if len(p.Actions) != len(built.Actions) {
		t.Fatalf("got %d actions, want %d", len(p.Actions), len(built.Actions))
	}

	_, idx := actionAt(t, p, "b.txt", patch.KindCreate)
	data, err := r.Payload(idx)
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if string(data) != "fresh" {
		t.Errorf("payload = %q, want %q", data, "fresh")
	}
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to create entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}
}
