package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/store"
)

var (
	mergeOutput   string
	mergeName     string
	mergeComplete bool
)

func init() {
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "Merged dataset file (required)")
	mergeCmd.Flags().StringVarP(&mergeName, "name", "n", "", "Name of the merged dataset (default: first input's)")
	mergeCmd.Flags().BoolVar(&mergeComplete, "complete", false, "Mark the result complete regardless of the inputs")
	_ = mergeCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(mergeCmd)
}

var mergeCmd = &cobra.Command{
	Use:   "merge [dataset] [dataset...]",
	Short: "Merge dataset files of the same format into one",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts dataset.MergeOptions
		if cmd.Flags().Changed("complete") {
			opts.Complete = &mergeComplete
		}

		out, err := loadDataset(args[0])
		if err != nil {
			return err
		}
		var conflicts []*dataset.Conflict
		for _, path := range args[1:] {
			next, err := loadDataset(path)
			if err != nil {
				return err
			}
			report, err := out.Merge(next, opts)
			if err != nil {
				return fmt.Errorf("merge %s: %w", path, err)
			}
			for _, c := range report.Conflicts {
				log.Warnw("merge conflict", "input", path, "run", c.Key.String(), "error", c.Error())
			}
			conflicts = append(conflicts, report.Conflicts...)
		}
		if mergeName != "" {
			out.Name = mergeName
		}
		if err := store.SaveDataset(out, mergeOutput); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Merged %d datasets into %s (%d subjects, %d conflicts).\n",
			len(args), mergeOutput, out.Len(), len(conflicts))
		return nil
	},
}
