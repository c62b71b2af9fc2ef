package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/velistar/treepatch/internal/digest"
)

var digestIgnore []string

var digestCmd = &cobra.Command{
	Use:   "digest <root>",
	Short: "Print the signature of every file in a tree",
	Long: `Digest walks the tree and prints each file's signature (size plus
CRC-32 checksum), the same fingerprint patches use to detect drift.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sigs, err := digest.Tree(digest.NewSigDigester(), args[0], digestIgnore)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(sigs)
		}

		paths := make([]string, 0, len(sigs))
		for rel := range sigs {
			paths = append(paths, rel)
		}
		sort.Strings(paths)

		for _, rel := range paths {
			fmt.Printf("%s  %s\n", sigs[rel], rel)
		}
		PrintInfo(PrintCount(len(paths), "file", "files"))
		return nil
	},
}

func init() {
	digestCmd.Flags().StringArrayVar(&digestIgnore, "ignore", nil, "Path to exclude from the walk (repeatable)")
}
