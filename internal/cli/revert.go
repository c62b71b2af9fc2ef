package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velistar/treepatch/internal/engine"
)

var revertBackup string

var revertCmd = &cobra.Command{
	Use:   "revert <target-root>",
	Short: "Undo a previous patch application",
	Long: `Revert restores the target tree from the backup store recorded during
'apply'. Applied actions are undone in reverse order; the journal is
cleared afterwards, so running revert twice is a harmless no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := newEngine()

		result, err := eng.Revert(context.Background(), &engine.RevertRequest{
			TargetRoot: args[0],
			BackupRoot: revertBackup,
		})
		if err != nil {
			if errors.Is(err, engine.ErrNoJournal) {
				return fmt.Errorf("no apply journal found in %s: %w", revertBackup, err)
			}
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]interface{}{
				"restored": result.Restored,
			})
		}

		if result.Restored == 0 {
			PrintEmptyState("Nothing to revert (journal is empty)")
			return nil
		}
		PrintSuccess(fmt.Sprintf("Reverted %s", PrintCount(result.Restored, "action", "actions")))
		return nil
	},
}

func init() {
	revertCmd.Flags().StringVar(&revertBackup, "backup", "", "Backup store written by 'apply' (required)")
	_ = revertCmd.MarkFlagRequired("backup")
}
