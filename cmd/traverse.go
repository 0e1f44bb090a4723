package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/agentic-research/mrds/internal/dataset"
)

func init() {
	traverseCmd.AddCommand(horizontalCmd, verticalCmd, subjectsCmd, sequencesCmd)
	rootCmd.AddCommand(traverseCmd)
}

var traverseCmd = &cobra.Command{
	Use:   "traverse",
	Short: "Walk a dataset file across subjects or across sequences",
}

var horizontalCmd = &cobra.Command{
	Use:   "horizontal [dataset] [sequence]",
	Short: "List every run of one sequence across all subjects and sessions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadDataset(args[0])
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Subject", "Session", "Run", "Echo time", "Files"})
		table.SetAutoFormatHeaders(false)
		for h := range ds.TraverseHorizontal(args[1]) {
			table.Append([]string{
				h.Subject.Name,
				h.Session.Name,
				h.Run.Name,
				formatEcho(h.Run.EchoTime),
				strconv.Itoa(len(h.Run.Files)),
			})
		}
		table.Render()
		return nil
	},
}

var verticalCmd = &cobra.Command{
	Use:   "vertical [dataset] [sequence] [sequence...]",
	Short: "List every combination of runs of the given sequences within each session",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadDataset(args[0])
		if err != nil {
			return err
		}
		seqs := args[1:]
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader(append([]string{"Subject", "Session"}, seqs...))
		table.SetAutoFormatHeaders(false)
		for v := range ds.TraverseVerticalMulti(seqs...) {
			row := []string{v.Subject.Name, v.Session.Name}
			for _, r := range v.Runs {
				row = append(row, r.Name)
			}
			table.Append(row)
		}
		table.Render()
		return nil
	},
}

var subjectsCmd = &cobra.Command{
	Use:   "subjects [dataset]",
	Short: "Print subject names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printNames(cmd, args[0], (*dataset.Dataset).SubjectIDs)
	},
}

var sequencesCmd = &cobra.Command{
	Use:   "sequences [dataset]",
	Short: "Print the distinct sequence names across all subjects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printNames(cmd, args[0], (*dataset.Dataset).SequenceIDs)
	},
}

func printNames(cmd *cobra.Command, path string, names func(*dataset.Dataset) []string) error {
	ds, err := loadDataset(path)
	if err != nil {
		return err
	}
	if ids := names(ds); len(ids) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, "\n"))
	}
	return nil
}

func formatEcho(te float64) string {
	if te == 0 {
		return ""
	}
	return strconv.FormatFloat(te, 'g', -1, 64)
}
