package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velistar/treepatch/internal/engine"
	"github.com/velistar/treepatch/internal/patch"
)

var (
	applyBackup      string
	applyNoBackup    bool
	applyResolve     []string
	applyInteractive bool
	applyForce       bool
	applyDryRun      bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <patch-file> <target-root>",
	Short: "Apply a patch to a target tree",
	Long: `Apply validates the patch against the target, resolves conflicts, then
performs every action in order. Application is all-or-nothing: if any
action fails, every performed action is rolled back before returning.

Conflicts must be resolved before anything is mutated. Pass explicit
choices with --resolve path=option, accept every conflict's default
with --force, or answer interactively with --interactive.

Unless --no-backup is given, the pre-application state is kept in a
backup store so 'revert' can undo the patch later.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patchPath, targetRoot := args[0], args[1]
		eng := newEngine()
		ctx := context.Background()

		vres, err := eng.Validate(ctx, &engine.ValidateRequest{
			PatchPath:  patchPath,
			TargetRoot: targetRoot,
		})
		if err != nil {
			return err
		}

		if patch.HasErrors(vres.Findings) {
			printFindings(vres.Findings)
			return fmt.Errorf("patch cannot be applied: validation found blocking errors")
		}

		resolutions, err := gatherResolutions(vres.Findings)
		if err != nil {
			return err
		}

		if applyDryRun {
			return printDryRun(vres, resolutions)
		}

		backupRoot, err := resolveBackupRoot(eng)
		if err != nil {
			return err
		}

		result, err := eng.Apply(ctx, &engine.ApplyRequest{
			PatchPath:   patchPath,
			TargetRoot:  targetRoot,
			Findings:    vres.Findings,
			Resolutions: resolutions,
			BackupRoot:  backupRoot,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]interface{}{
				"applied": len(result.Applied),
				"skipped": result.Skipped,
				"backup":  result.BackupRoot,
			})
		}

		PrintSuccess(fmt.Sprintf("Applied %s (%d skipped)", PrintCount(len(result.Applied), "action", "actions"), result.Skipped))
		if result.BackupRoot != "" {
			PrintLabelValue("Backup", result.BackupRoot)
			PrintInfo(fmt.Sprintf("Revert with: treepatch revert %s --backup %s", targetRoot, result.BackupRoot))
		}
		return nil
	},
}

// gatherResolutions combines --resolve flags, interactive answers and
// --force defaults into one resolution map. Every conflict must end up
// resolved one way or another.
func gatherResolutions(findings []patch.Finding) (patch.ResolutionMap, error) {
	conflicts := patch.Conflicts(findings)

	resolutions := make(patch.ResolutionMap)
	for _, pair := range applyResolve {
		rel, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --resolve %q (want path=option)", pair)
		}
		opt, err := parseOption(val)
		if err != nil {
			return nil, err
		}
		resolutions[rel] = opt
	}

	var unresolved []patch.Finding
	for _, f := range conflicts {
		if _, ok := resolutions[f.RelPath]; !ok {
			unresolved = append(unresolved, f)
		}
	}
	if len(unresolved) == 0 {
		return resolutions, nil
	}

	if applyInteractive {
		answered, err := resolveConflicts(&HuhUI{}, unresolved)
		if err != nil {
			return nil, err
		}
		for rel, opt := range answered {
			resolutions[rel] = opt
		}
		return resolutions, nil
	}

	if applyForce {
		for rel, opt := range patch.DefaultResolutions(unresolved) {
			resolutions[rel] = opt
		}
		return resolutions, nil
	}

	printFindings(unresolved)
	return nil, fmt.Errorf("%s unresolved; pass --resolve, --interactive or --force",
		PrintCount(len(unresolved), "conflict is", "conflicts are"))
}

// resolveBackupRoot picks the backup destination: the explicit flag, a
// fresh timestamped store under the data root, or none at all.
func resolveBackupRoot(eng *engine.Engine) (string, error) {
	if applyNoBackup {
		return "", nil
	}
	if applyBackup != "" {
		return applyBackup, nil
	}
	paths, err := defaultPaths()
	if err != nil {
		return "", err
	}
	return paths.BackupDir(eng.NewBackupID()), nil
}

func printDryRun(vres *engine.ValidateResult, resolutions patch.ResolutionMap) error {
	if jsonOutput {
		return outputJSON(map[string]interface{}{
			"actions":     vres.Patch.Actions,
			"findings":    vres.Findings,
			"resolutions": resolutions,
		})
	}

	PrintSection("Dry Run")
	items := make([]string, 0, len(vres.Patch.Actions))
	for _, a := range vres.Patch.Actions {
		line := fmt.Sprintf("%s: %s", a.Kind, a.RelPath)
		if opt, ok := resolutions[a.RelPath]; ok {
			line += fmt.Sprintf(" (resolution: %s)", opt)
		}
		items = append(items, line)
	}
	PrintList(items, 1)
	PrintInfo(fmt.Sprintf("Would apply %s", PrintCount(len(vres.Patch.Actions), "action", "actions")))
	return nil
}

func init() {
	applyCmd.Flags().StringVar(&applyBackup, "backup", "", "Directory to store pre-application state for a later revert")
	applyCmd.Flags().BoolVar(&applyNoBackup, "no-backup", false, "Skip the persistent backup (rollback-on-failure still works)")
	applyCmd.Flags().StringArrayVar(&applyResolve, "resolve", nil, "Conflict resolution as path=option (repeatable)")
	applyCmd.Flags().BoolVarP(&applyInteractive, "interactive", "i", false, "Resolve conflicts with interactive prompts")
	applyCmd.Flags().BoolVarP(&applyForce, "force", "f", false, "Accept every conflict's default resolution")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Show what would be applied without applying")
}
