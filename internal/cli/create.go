package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velistar/treepatch/internal/config"
	"github.com/velistar/treepatch/internal/patch"
)

var (
	createSpecFile string
	createStrict   bool
	createCritical []string
	createOptional []string
	createIgnore   []string
)

var createCmd = &cobra.Command{
	Use:   "create [old-root] [new-root] <patch-file>",
	Short: "Build a patch archive from two versions of a tree",
	Long: `Create a patch archive that transforms the old tree into the new tree.

The two roots can be given as arguments or through a YAML spec file
(--spec), in which case only the patch file argument is required.
Paths listed as critical must survive validation on every target;
optional paths may be absent without error; ignored paths are excluded
from the diff entirely.`,
	Args: cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, outPath, err := resolveCreateSpec(args)
		if err != nil {
			return err
		}

		builder := newBuilder()
		p, err := builder.WriteFile(context.Background(), spec, outPath)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]interface{}{
				"patch":   outPath,
				"strict":  p.Strict,
				"actions": p.Actions,
			})
		}

		PrintSuccess(fmt.Sprintf("Created %s with %s", outPath, PrintCount(len(p.Actions), "action", "actions")))
		PrintLabelValue("Old root", spec.OldRoot)
		PrintLabelValue("New root", spec.NewRoot)
		if spec.Strict {
			PrintInfo("Strict mode: modified target files will block application")
		}
		return nil
	},
}

// resolveCreateSpec merges positional arguments with the optional YAML
// spec file. With --spec, the single argument is the output path;
// without it, old root, new root and output path are all positional.
func resolveCreateSpec(args []string) (*patch.Spec, string, error) {
	if createSpecFile != "" {
		if len(args) != 1 {
			return nil, "", fmt.Errorf("with --spec, exactly one argument (the patch file) is expected")
		}
		bs, err := config.LoadBuildSpec(createSpecFile)
		if err != nil {
			return nil, "", err
		}
		spec := bs.PatchSpec()
		// Flags layer on top of the file.
		if createStrict {
			spec.Strict = true
		}
		spec.CriticalPaths = append(spec.CriticalPaths, createCritical...)
		spec.OptionalPaths = append(spec.OptionalPaths, createOptional...)
		spec.IgnoredPaths = append(spec.IgnoredPaths, createIgnore...)
		return spec, args[0], nil
	}

	if len(args) != 3 {
		return nil, "", fmt.Errorf("expected <old-root> <new-root> <patch-file> (or --spec with a patch file)")
	}
	return &patch.Spec{
		OldRoot:       args[0],
		NewRoot:       args[1],
		Strict:        createStrict,
		CriticalPaths: createCritical,
		OptionalPaths: createOptional,
		IgnoredPaths:  createIgnore,
	}, args[2], nil
}

func init() {
	createCmd.Flags().StringVar(&createSpecFile, "spec", "", "YAML build-spec file describing the two roots")
	createCmd.Flags().BoolVar(&createStrict, "strict", false, "Escalate drift conflicts to errors at validation time")
	createCmd.Flags().StringArrayVar(&createCritical, "critical", nil, "Path that must exist and apply on every target (repeatable)")
	createCmd.Flags().StringArrayVar(&createOptional, "optional", nil, "Path that may be absent without error (repeatable)")
	createCmd.Flags().StringArrayVar(&createIgnore, "ignore", nil, "Path to exclude from the diff (repeatable)")
}
