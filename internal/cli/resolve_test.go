package cli

import (
	"errors"
	"testing"

	"github.com/velistar/treepatch/internal/patch"
)

// scriptedUI answers prompts from a fixed list of choices.
type scriptedUI struct {
	answers []string
	titles  []string
	err     error
}

func (ui *scriptedUI) Select(title string, options []string, value *string) error {
	if ui.err != nil {
		return ui.err
	}
	ui.titles = append(ui.titles, title)
	if len(ui.answers) == 0 {
		return errors.New("no scripted answer left")
	}
	*value = ui.answers[0]
	ui.answers = ui.answers[1:]
	return nil
}

func TestResolveConflicts(t *testing.T) {
	findings := []patch.Finding{
		{Kind: patch.FindingConflict, RelPath: "conf.xml", Message: "file was modified", Default: patch.OptionReplace},
		{Kind: patch.FindingError, RelPath: "core.dll", Message: "critical file is missing"},
		{Kind: patch.FindingConflict, RelPath: "plugin.so", Message: "unexpected file at target", Default: patch.OptionDelete},
	}

	ui := &scriptedUI{answers: []string{"ignore", "delete"}}
	resolutions, err := resolveConflicts(ui, findings)
	if err != nil {
		t.Fatalf("resolveConflicts failed: %v", err)
	}

	// Only the two conflicts prompt; the error is not resolvable.
	if len(ui.titles) != 2 {
		t.Fatalf("prompted %d times, want 2: %v", len(ui.titles), ui.titles)
	}
	if resolutions["conf.xml"] != patch.OptionIgnore {
		t.Errorf("conf.xml = %s", resolutions["conf.xml"])
	}
	if resolutions["plugin.so"] != patch.OptionDelete {
		t.Errorf("plugin.so = %s", resolutions["plugin.so"])
	}
}

func TestResolveConflictsAbort(t *testing.T) {
	findings := []patch.Finding{
		{Kind: patch.FindingConflict, RelPath: "conf.xml", Default: patch.OptionReplace},
	}

	ui := &scriptedUI{answers: []string{resolveAbortLabel}}
	if _, err := resolveConflicts(ui, findings); !errors.Is(err, errResolveAborted) {
		t.Errorf("expected errResolveAborted, got %v", err)
	}
}

func TestParseOption(t *testing.T) {
	for _, s := range []string{"ignore", "delete", "replace"} {
		opt, err := parseOption(s)
		if err != nil || string(opt) != s {
			t.Errorf("parseOption(%q) = %s, %v", s, opt, err)
		}
	}
	if _, err := parseOption("nuke"); err == nil {
		t.Error("unknown option should be rejected")
	}
	if _, err := parseOption("none"); err == nil {
		t.Error("none is not a caller-selectable option")
	}
}
