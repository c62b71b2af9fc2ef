package digest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBytesMatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("signature test content")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	fromFile, err := NewSigDigester().File(path)
	if err != nil {
		t.Fatalf("File() failed: %v", err)
	}
	fromBytes := Bytes(content)

	if !fromFile.Equal(fromBytes) {
		t.Errorf("File() = %s, Bytes() = %s", fromFile, fromBytes)
	}
	if fromFile.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", fromFile.Size, len(content))
	}
}

func TestSignatureEqual(t *testing.T) {
	a := Signature{Size: 10, CRC: 0xdeadbeef}
	b := Signature{Size: 10, CRC: 0xdeadbeef}
	c := Signature{Size: 10, CRC: 0xcafebabe}
	d := Signature{Size: 11, CRC: 0xdeadbeef}

	if !a.Equal(b) {
		t.Error("identical signatures should be equal")
	}
	if a.Equal(c) {
		t.Error("signatures with different CRC should differ")
	}
	if a.Equal(d) {
		t.Error("signatures with different size should differ")
	}
}

func TestFileMissing(t *testing.T) {
	_, err := NewSigDigester().File(filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTree(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a.txt":          "alpha",
		"lib/b.txt":      "beta",
		"lib/deep/c.txt": "gamma",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}

	sigs, err := Tree(NewSigDigester(), root, nil)
	if err != nil {
		t.Fatalf("Tree() failed: %v", err)
	}

	if len(sigs) != len(files) {
		t.Fatalf("got %d signatures, want %d", len(sigs), len(files))
	}
	for rel, content := range files {
		sig, ok := sigs[rel]
		if !ok {
			t.Errorf("missing signature for %s", rel)
			continue
		}
		if !sig.Equal(Bytes([]byte(content))) {
			t.Errorf("%s: signature mismatch", rel)
		}
	}
}

func TestTreeIgnored(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"keep.txt", "skip.txt", "cache/one.txt", "cache/two.txt"} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(rel), 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}

	sigs, err := Tree(NewSigDigester(), root, []string{"skip.txt", "cache"})
	if err != nil {
		t.Fatalf("Tree() failed: %v", err)
	}

	if len(sigs) != 1 {
		t.Fatalf("got %d signatures, want 1: %v", len(sigs), sigs)
	}
	if _, ok := sigs["keep.txt"]; !ok {
		t.Error("keep.txt should survive the ignore list")
	}
}

func TestFakeDigester(t *testing.T) {
	fake := NewFakeDigester()
	want := Signature{Size: 42, CRC: 0x1234}
	fake.SetSignature("/some/file", want)

	got, err := fake.File("/some/file")
	if err != nil {
		t.Fatalf("File() failed: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}
