package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/velistar/treepatch/internal/patch"
)

// errResolveAborted signals that the user backed out of the resolver.
var errResolveAborted = errors.New("conflict resolution aborted")

const resolveAbortLabel = "abort"

// ConflictUI renders a single-choice prompt for one conflict. Extracted
// as an interface so command tests can script answers.
type ConflictUI interface {
	Select(title string, options []string, value *string) error
}

// HuhUI implements ConflictUI using charmbracelet/huh.
type HuhUI struct{}

// Select renders a single-choice prompt.
func (ui *HuhUI) Select(title string, options []string, value *string) error {
	opts := make([]huh.Option[string], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o, o)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Options(opts...).
				Value(value),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errResolveAborted
		}
		return err
	}
	return nil
}

// resolveConflicts prompts for each conflict in order and returns the
// chosen resolutions. The conflict's default option is preselected;
// choosing abort cancels the whole application.
func resolveConflicts(ui ConflictUI, findings []patch.Finding) (patch.ResolutionMap, error) {
	resolutions := make(patch.ResolutionMap)
	options := []string{
		string(patch.OptionReplace),
		string(patch.OptionIgnore),
		string(patch.OptionDelete),
		resolveAbortLabel,
	}

	for _, f := range patch.Conflicts(findings) {
		choice := string(f.Default)
		title := fmt.Sprintf("%s: %s", f.RelPath, f.Message)
		if err := ui.Select(title, options, &choice); err != nil {
			return nil, err
		}
		if choice == resolveAbortLabel {
			return nil, errResolveAborted
		}
		opt, err := parseOption(choice)
		if err != nil {
			return nil, err
		}
		resolutions[f.RelPath] = opt
	}
	return resolutions, nil
}

// parseOption converts a user-supplied option name into a resolution.
func parseOption(s string) (patch.Option, error) {
	switch patch.Option(s) {
	case patch.OptionIgnore, patch.OptionDelete, patch.OptionReplace:
		return patch.Option(s), nil
	default:
		return patch.OptionNone, fmt.Errorf("unknown resolution option %q (want ignore, delete or replace)", s)
	}
}
