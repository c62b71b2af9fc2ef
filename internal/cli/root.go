package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
)

// rootCmd is the root command for treepatch.
var rootCmd = &cobra.Command{
	Use:     "treepatch",
	Version: "dev",
	Short:   "Binary update patches for installation trees",
	Long: `treepatch builds and applies binary update patches between two versions
of a software installation tree.

A patch archive describes the minimal set of filesystem changes (creations,
deletions, replacements, and entry-level deltas inside jar/zip containers)
needed to transform an older tree into the newer one. Application is
transactional: a failed or cancelled apply leaves the target byte-identical
to its pre-application state, and a backed-up apply can be reverted later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// SetVersion overrides the build-time version string.
func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// Define command groups
	rootCmd.AddGroup(&cobra.Group{
		ID:    "patch-lifecycle",
		Title: "Patch Lifecycle:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "inspection",
		Title: "Inspection:",
	})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the treepatch CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(os.Stdout, rootCmd.Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	// Patch Lifecycle commands
	createCmd.GroupID = "patch-lifecycle"
	applyCmd.GroupID = "patch-lifecycle"
	revertCmd.GroupID = "patch-lifecycle"
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(revertCmd)

	// Inspection commands
	validateCmd.GroupID = "inspection"
	digestCmd.GroupID = "inspection"
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(digestCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
