// Package digest computes fast content signatures for files and trees.
//
// A Signature is a (size, CRC-32) pair: enough to detect drift between
// a patched tree and its expected baseline without full byte
// comparison. It is not a security property. The package provides a
// real implementation backed by the filesystem and a fake for testing.
package digest

import (
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Signature is a fast content fingerprint: file size plus CRC-32 (IEEE).
type Signature struct {
	Size int64  `json:"size"`
	CRC  uint32 `json:"crc32"`
}

// Equal reports whether two signatures match.
func (s Signature) Equal(other Signature) bool {
	return s.Size == other.Size && s.CRC == other.CRC
}

// String renders the signature as "<size>:<crc32 hex>".
func (s Signature) String() string {
	return fmt.Sprintf("%d:%08x", s.Size, s.CRC)
}

// Digester provides an abstraction for computing file signatures.
type Digester interface {
	// File computes the signature of the file at the given path.
	File(path string) (Signature, error)
}

// SigDigester implements Digester by streaming file contents.
type SigDigester struct{}

// NewSigDigester creates a new SigDigester.
func NewSigDigester() *SigDigester {
	return &SigDigester{}
}

// File computes the size and CRC-32 of the file at the given path.
func (d *SigDigester) File(path string) (Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	h := crc32.NewIEEE()
	n, err := io.Copy(h, f)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to read file: %w", err)
	}

	return Signature{Size: n, CRC: h.Sum32()}, nil
}

// Bytes computes the signature of an in-memory buffer.
func Bytes(data []byte) Signature {
	return Signature{Size: int64(len(data)), CRC: crc32.ChecksumIEEE(data)}
}

// Tree walks root recursively and returns a map from slash-separated
// relative path to signature for every regular file. Paths listed in
// ignored (exact relative match) are skipped, as is everything below
// an ignored directory. Directories themselves carry no signature;
// keys, not positions, carry meaning.
func Tree(d Digester, root string, ignored []string) (map[string]Signature, error) {
	skip := make(map[string]bool, len(ignored))
	for _, p := range ignored {
		skip[filepath.ToSlash(p)] = true
	}

	result := make(map[string]Signature)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
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
			return nil
		}
		sig, err := d.File(path)
		if err != nil {
			return fmt.Errorf("failed to digest %s: %w", rel, err)
		}
		result[rel] = sig
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}

	return result, nil
}

// FakeDigester implements Digester with predetermined signatures for testing.
type FakeDigester struct {
	sigs map[string]Signature
}

// NewFakeDigester creates a new FakeDigester.
func NewFakeDigester() *FakeDigester {
	return &FakeDigester{
		sigs: make(map[string]Signature),
	}
}

// SetSignature sets the signature for a specific path (for testing).
func (d *FakeDigester) SetSignature(path string, sig Signature) {
	d.sigs[path] = sig
}

// File returns the predetermined signature for the given path.
func (d *FakeDigester) File(path string) (Signature, error) {
	if sig, ok := d.sigs[path]; ok {
		return sig, nil
	}
	// Default signature if not set
	return Signature{Size: 1, CRC: 0xfa4e}, nil
}
