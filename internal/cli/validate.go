package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velistar/treepatch/internal/engine"
	"github.com/velistar/treepatch/internal/patch"
)

var validateShowDiff bool

var validateCmd = &cobra.Command{
	Use:   "validate <patch-file> <target-root>",
	Short: "Check a patch against a target tree without mutating it",
	Long: `Validate inspects the target tree and reports, per action, whether the
patch can be applied cleanly. Errors block application entirely;
conflicts can be resolved at apply time (see 'apply --resolve').`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := newEngine()

		result, err := eng.Validate(context.Background(), &engine.ValidateRequest{
			PatchPath:  args[0],
			TargetRoot: args[1],
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]interface{}{
				"actions":  len(result.Patch.Actions),
				"findings": result.Findings,
			})
		}

		printFindings(result.Findings)

		if validateShowDiff && len(patch.Conflicts(result.Findings)) > 0 {
			previews, err := buildDiffPreviews(args[0], args[1], result.Findings)
			if err != nil {
				return err
			}
			printDiffPreviews(result.Findings, previews)
		}

		if patch.HasErrors(result.Findings) {
			return fmt.Errorf("validation found blocking errors")
		}
		if len(result.Findings) == 0 {
			PrintSuccess(fmt.Sprintf("Patch is clean (%s)", PrintCount(len(result.Patch.Actions), "action", "actions")))
		}
		return nil
	},
}

// printFindings renders validation findings in action order.
func printFindings(findings []patch.Finding) {
	if len(findings) == 0 {
		return
	}
	PrintSection("Findings")
	for _, f := range findings {
		switch f.Kind {
		case patch.FindingError:
			PrintError(f.String())
		default:
			PrintWarning(fmt.Sprintf("%s (default: %s)", f.String(), f.Default))
		}
	}
	fmt.Println()
}

func printDiffPreviews(findings []patch.Finding, previews map[string]string) {
	for _, f := range patch.Conflicts(findings) {
		diff, ok := previews[f.RelPath]
		if !ok {
			continue
		}
		PrintSection(f.RelPath)
		fmt.Print(diff)
	}
}

func init() {
	validateCmd.Flags().BoolVar(&validateShowDiff, "diff", false, "Show a unified diff preview for each conflicted file")
}
