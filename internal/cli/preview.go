package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aymanbagabas/go-udiff"

	"github.com/velistar/treepatch/internal/patch"
)

// diffMaxLines caps the rendered unified diff per conflicted file.
const diffMaxLines = 40

// buildDiffPreviews renders a unified diff between the target's current
// bytes and the patch payload for every conflicted path that carries
// one. Binary files and payload-less actions get a short placeholder
// instead of a diff.
func buildDiffPreviews(patchPath, targetRoot string, findings []patch.Finding) (map[string]string, error) {
	conflicts := patch.Conflicts(findings)
	if len(conflicts) == 0 {
		return nil, nil
	}

	r, err := patch.Open(patchPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	byPath := make(map[string]int)
	for i, a := range r.Patch().Actions {
		if a.HasPayload() {
			byPath[a.RelPath] = i
		}
	}

	previews := make(map[string]string, len(conflicts))
	for _, f := range conflicts {
		index, ok := byPath[f.RelPath]
		if !ok {
			previews[f.RelPath] = "(no replacement content in patch)\n"
			continue
		}
		preview, err := renderPreview(r, index, f.RelPath, targetRoot)
		if err != nil {
			return nil, err
		}
		previews[f.RelPath] = preview
	}
	return previews, nil
}

func renderPreview(r *patch.Reader, index int, rel, targetRoot string) (string, error) {
	current, err := os.ReadFile(filepath.Join(targetRoot, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			current = nil
		} else {
			return "", fmt.Errorf("failed to read %s: %w", rel, err)
		}
	}
	replacement, err := r.Payload(index)
	if err != nil {
		return "", err
	}

	if !looksText(current) || !looksText(replacement) {
		return "(binary file; no diff preview)\n", nil
	}

	diff := udiff.Unified(rel+" (current)", rel+" (patch)", string(current), string(replacement))
	return truncateDiff(diff, diffMaxLines), nil
}

// truncateDiff caps a rendered diff at maxLines, noting the cut.
func truncateDiff(diff string, maxLines int) string {
	trimmed := strings.TrimRight(diff, "\n")
	if trimmed == "" {
		return "(no textual changes)\n"
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= maxLines {
		return trimmed + "\n"
	}
	lines = lines[:maxLines]
	lines = append(lines, fmt.Sprintf("... (truncated to %d lines)", maxLines))
	return strings.Join(lines, "\n") + "\n"
}

// looksText applies the same heuristic as most pagers: no NUL byte in
// the leading chunk means text.
func looksText(data []byte) bool {
	const sniffLen = 8000
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return !bytes.ContainsRune(data, 0)
}
