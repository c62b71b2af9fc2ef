// Package zipdelta diffs and splices entries of zip/jar-like containers.
//
// Patching a container entry-by-entry keeps patches small when a large
// jar changes in only a few classes. The diff compares entry sets by
// name using the per-entry CRC and size already present in the zip
// directory; the splice rewrites the container through a temp file and
// rename so a crash can never leave it half-written.
package zipdelta

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/velistar/treepatch/internal/patch"
)

// container suffixes recognized for entry-level diffing
var archiveSuffixes = []string{".zip", ".jar", ".war", ".ear"}

// IsArchivePath reports whether the path names a container format
// eligible for entry-level diffing.
func IsArchivePath(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// EntryDiff computes the entry-level delta between two containers:
// names only in newPath become adds, names only in oldPath become
// removes, and names in both with differing size or CRC become
// updates. It returns the ordered change list and the new bytes for
// every add/update. A parse failure of either container is returned to
// the caller, which falls back to a whole-file update.
func EntryDiff(oldPath, newPath string) ([]patch.EntryChange, map[string][]byte, error) {
	oldReader, err := zip.OpenReader(oldPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", oldPath, err)
	}
	defer func() {
		_ = oldReader.Close()
	}()
	newReader, err := zip.OpenReader(newPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", newPath, err)
	}
	defer func() {
		_ = newReader.Close()
	}()

	oldEntries := indexEntries(&oldReader.Reader)
	newEntries := indexEntries(&newReader.Reader)

	names := make(map[string]bool, len(oldEntries)+len(newEntries))
	for name := range oldEntries {
		names[name] = true
	}
	for name := range newEntries {
		names[name] = true
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	var changes []patch.EntryChange
	payloads := make(map[string][]byte)

	for _, name := range ordered {
		oldEntry, inOld := oldEntries[name]
		newEntry, inNew := newEntries[name]

		switch {
		case inOld && !inNew:
			changes = append(changes, patch.EntryChange{Name: name, Op: patch.EntryRemove})
		case !inOld && inNew:
			data, err := readEntryBytes(newEntry)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read entry %s: %w", name, err)
			}
			changes = append(changes, patch.EntryChange{Name: name, Op: patch.EntryAdd})
			payloads[name] = data
		default:
			if oldEntry.CRC32 == newEntry.CRC32 && oldEntry.UncompressedSize64 == newEntry.UncompressedSize64 {
				continue
			}
			data, err := readEntryBytes(newEntry)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read entry %s: %w", name, err)
			}
			changes = append(changes, patch.EntryChange{Name: name, Op: patch.EntryUpdate})
			payloads[name] = data
		}
	}

	return changes, payloads, nil
}

// indexEntries indexes a container's file entries by name. Directory
// entries are ignored; only file entries carry content.
func indexEntries(r *zip.Reader) map[string]*zip.File {
	entries := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		entries[f.Name] = f
	}
	return entries
}

func readEntryBytes(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return io.ReadAll(rc)
}

// Splice rewrites the container at path, applying the given entry
// changes. payload returns the new bytes for an added or updated entry
// name. Unrelated entries are carried over byte-identical. The rewrite
// goes through a temp file in the container's directory followed by a
// rename.
func Splice(path string, changes []patch.EntryChange, payload func(name string) ([]byte, error)) error {
	touched := make(map[string]patch.EntryChange, len(changes))
	for _, change := range changes {
		touched[change.Name] = change
	}

	rc, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}
	defer func() {
		if rc != nil {
			_ = rc.Close()
		}
	}()

	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".treepatch-zip-*")
	if err != nil {
		return fmt.Errorf("failed to create temp container: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmpFile)

	// Carry over untouched entries byte-identical (raw copy keeps the
	// original compression).
	for _, f := range rc.File {
		if _, ok := touched[f.Name]; ok {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return fmt.Errorf("failed to carry over entry %s: %w", f.Name, err)
		}
	}

	// Write added and updated entries.
	for _, change := range changes {
		if change.Op == patch.EntryRemove {
			continue
		}
		data, err := payload(change.Name)
		if err != nil {
			return fmt.Errorf("failed to load payload for entry %s: %w", change.Name, err)
		}
		w, err := zw.Create(change.Name)
		if err != nil {
			return fmt.Errorf("failed to create entry %s: %w", change.Name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write entry %s: %w", change.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize container: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync container: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close container: %w", err)
	}

	// Release the source before the rename so the swap works on
	// platforms that refuse to replace an open file.
	_ = rc.Close()
	rc = nil

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace container: %w", err)
	}
	tmpFile = nil
	return nil
}

// EntryNames lists the file entry names of a container, sorted.
func EntryNames(path string) ([]string, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()

	entries := indexEntries(&rc.Reader)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
