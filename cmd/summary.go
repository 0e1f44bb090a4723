package cmd

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/agentic-research/mrds/internal/dataset"
)

var summaryJSON bool

func init() {
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(summaryCmd)
}

var summaryCmd = &cobra.Command{
	Use:   "summary [dataset]",
	Short: "Show counts per level and subjects per sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadDataset(args[0])
		if err != nil {
			return err
		}
		s := dataset.Summarize(ds)
		w := cmd.OutOrStdout()

		if summaryJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}

		fmt.Fprintf(w, "Name:     %s\n", s.Name)
		fmt.Fprintf(w, "Format:   %s\n", s.Format)
		fmt.Fprintf(w, "Source:   %s\n", strings.Join(s.DataSource, ", "))
		fmt.Fprintf(w, "Complete: %t\n", s.Complete)
		fmt.Fprintf(w, "Subjects: %d  Sessions: %d  Sequences: %d  Runs: %d\n\n",
			s.Subjects, s.Sessions, s.Sequences, s.Runs)

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Sequence", "Subjects", "Multi-echo"})
		table.SetAutoFormatHeaders(false)
		for _, name := range ds.SequenceIDs() {
			multi := ""
			if slices.Contains(s.MultiEcho, name) {
				multi = "yes"
			}
			table.Append([]string{name, strconv.Itoa(s.PerSequence[name]), multi})
		}
		table.Render()
		return nil
	},
}
