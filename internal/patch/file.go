package patch

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Archive layout: manifest.json plus one payload blob per action that
// carries bytes, named payload/<index> (or payload/<index>/<entry> for
// container entry updates).
const (
	manifestName  = "manifest.json"
	payloadPrefix = "payload/"

	// FormatVersion is the manifest format version this build writes
	// and the only version it accepts.
	FormatVersion = 1
)

// manifest is the serialized header of a patch archive.
type manifest struct {
	Version   int       `json:"version"`
	Strict    bool      `json:"strict"`
	CreatedAt time.Time `json:"created_at"`
	Actions   []Action  `json:"actions"`
}

// Writer serializes a patch archive. Actions must be added in apply
// order; payload blobs are keyed by the action's position.
type Writer struct {
	f  *os.File
	zw *zip.Writer
	m  manifest
}

// NewWriter creates the patch archive file at path.
func NewWriter(path string, strict bool, createdAt time.Time) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create patch file: %w", err)
	}
	return &Writer{
		f:  f,
		zw: zip.NewWriter(f),
		m: manifest{
			Version:   FormatVersion,
			Strict:    strict,
			CreatedAt: createdAt.UTC(),
			Actions:   []Action{},
		},
	}, nil
}

// Add appends an action and streams its payload, if the kind carries
// one, into the archive. payload must be non-nil exactly when
// a.HasPayload() is true.
func (w *Writer) Add(a Action, payload io.Reader) error {
	index := len(w.m.Actions)

	if a.HasPayload() {
		if payload == nil {
			return fmt.Errorf("action %d (%s %s) requires a payload", index, a.Kind, a.RelPath)
		}
		blob, err := w.zw.Create(fmt.Sprintf("%s%d", payloadPrefix, index))
		if err != nil {
			return fmt.Errorf("failed to create payload blob: %w", err)
		}
		if _, err := io.Copy(blob, payload); err != nil {
			return fmt.Errorf("failed to write payload for %s: %w", a.RelPath, err)
		}
	} else if payload != nil {
		return fmt.Errorf("action %d (%s %s) does not carry a payload", index, a.Kind, a.RelPath)
	}

	w.m.Actions = append(w.m.Actions, a)
	return nil
}

// AddContainer appends an UpdateZip action. entries maps each added or
// updated entry name to its new bytes; removals appear only in the
// action's change list.
func (w *Writer) AddContainer(a Action, entries map[string][]byte) error {
	if a.Kind != KindUpdateZip {
		return fmt.Errorf("AddContainer requires an %s action, got %s", KindUpdateZip, a.Kind)
	}
	index := len(w.m.Actions)

	for _, change := range a.Entries {
		if change.Op == EntryRemove {
			continue
		}
		data, ok := entries[change.Name]
		if !ok {
			return fmt.Errorf("missing payload for container entry %s in %s", change.Name, a.RelPath)
		}
		blob, err := w.zw.Create(fmt.Sprintf("%s%d/%s", payloadPrefix, index, change.Name))
		if err != nil {
			return fmt.Errorf("failed to create entry payload blob: %w", err)
		}
		if _, err := blob.Write(data); err != nil {
			return fmt.Errorf("failed to write entry payload for %s: %w", a.RelPath, err)
		}
	}

	w.m.Actions = append(w.m.Actions, a)
	return nil
}

// Close writes the manifest and finalizes the archive. The writer is
// unusable afterwards.
func (w *Writer) Close() error {
	data, err := json.MarshalIndent(w.m, "", "  ")
	if err != nil {
		_ = w.zw.Close()
		_ = w.f.Close()
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	blob, err := w.zw.Create(manifestName)
	if err == nil {
		_, err = blob.Write(data)
	}
	if err != nil {
		_ = w.zw.Close()
		_ = w.f.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := w.zw.Close(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close patch file: %w", err)
	}
	return nil
}

// Abort closes and removes a partially written archive.
func (w *Writer) Abort() {
	_ = w.zw.Close()
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}

// Reader provides access to a patch archive's action list and payloads.
// The caller owns the reader for the duration of a validate/apply pass
// and must close it on every exit path.
type Reader struct {
	rc    *zip.ReadCloser
	p     *Patch
	blobs map[string]*zip.File
}

// Open reads and schema-checks the manifest of the patch archive at
// path. Payload blobs are read lazily.
func Open(path string) (*Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open patch file: %w", err)
	}

	r := &Reader{rc: rc, blobs: make(map[string]*zip.File)}
	var manifestFile *zip.File
	for _, f := range rc.File {
		if f.Name == manifestName {
			manifestFile = f
			continue
		}
		r.blobs[f.Name] = f
	}
	if manifestFile == nil {
		_ = rc.Close()
		return nil, fmt.Errorf("patch file has no %s", manifestName)
	}

	raw, err := readZipFile(manifestFile)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := validateManifest(raw); err != nil {
		_ = rc.Close()
		return nil, err
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version != FormatVersion {
		_ = rc.Close()
		return nil, fmt.Errorf("unsupported patch format version %d", m.Version)
	}

	r.p = &Patch{Strict: m.Strict, Actions: m.Actions}
	return r, nil
}

// Patch returns the deserialized action list.
func (r *Reader) Patch() *Patch {
	return r.p
}

// Payload returns the whole-file payload bytes for the action at index.
func (r *Reader) Payload(index int) ([]byte, error) {
	f, ok := r.blobs[fmt.Sprintf("%s%d", payloadPrefix, index)]
	if !ok {
		return nil, fmt.Errorf("patch file has no payload for action %d", index)
	}
	return readZipFile(f)
}

// EntryPayload returns the bytes for one container entry of the
// UpdateZip action at index.
func (r *Reader) EntryPayload(index int, name string) ([]byte, error) {
	f, ok := r.blobs[fmt.Sprintf("%s%d/%s", payloadPrefix, index, name)]
	if !ok {
		return nil, fmt.Errorf("patch file has no payload for entry %s of action %d", name, index)
	}
	return readZipFile(f)
}

// Close releases the underlying archive.
func (r *Reader) Close() error {
	return r.rc.Close()
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return io.ReadAll(rc)
}
