package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/agentic-research/mrds/api"
	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/ingest"
	"github.com/agentic-research/mrds/internal/store"
)

var (
	importFormat      string
	importName        string
	importOutput      string
	importPartitioned bool
	importPartial     bool
	importWorkers     int
	importBegin       string
	importEnd         string
	importExclude     []string
	importParams      []string
	importEchoNumbers bool
	importQuiet       bool
)

func init() {
	f := importCmd.Flags()
	f.StringVarP(&importFormat, "format", "f", "bids", "Source layout: dicom, bids or xnat")
	f.StringVarP(&importName, "name", "n", "", "Dataset name (random when empty)")
	f.StringVarP(&importOutput, "output", "o", "", "Output file, "+store.ExtSQLite+" or "+store.ExtBSON+" (default <name>"+store.ExtSQLite+")")
	f.BoolVar(&importPartitioned, "partitioned", false, "Import each top-level directory in parallel and merge the results")
	f.BoolVar(&importPartial, "partial", false, "Mark the dataset incomplete, for chunks merged later with 'mrds merge --complete'")
	f.IntVarP(&importWorkers, "workers", "j", 4, "Parallel partitions with --partitioned (0 is unlimited)")
	f.StringVar(&importBegin, "begin", "", "First acquisition date kept, "+api.DateLayout)
	f.StringVar(&importEnd, "end", "", "First acquisition date dropped, "+api.DateLayout)
	f.StringSliceVar(&importExclude, "exclude-subject", nil, "Subject to leave out (repeatable)")
	f.StringSliceVar(&importParams, "include-param", nil, "Parameter to keep on each run (repeatable, default all)")
	f.BoolVar(&importEchoNumbers, "use-echonumbers", true, "Name echoes by echo number instead of echo time")
	f.BoolVarP(&importQuiet, "quiet", "q", false, "Hide the progress spinner")
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import [source]",
	Short: "Index a DICOM, BIDS or XNAT directory into a dataset file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if fi, err := os.Stat(source); err != nil {
			return err
		} else if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", source)
		}

		cfg, err := importConfig(cmd)
		if err != nil {
			return err
		}

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetVisibility(!importQuiet),
		)
		engine := ingest.NewEngine(
			ingest.WithLogger(log),
			ingest.WithProgress(func(string) { _ = bar.Add(1) }),
			ingest.WithPartial(importPartial),
		)

		start := time.Now()
		fsys := osfs.New(source)
		var (
			ds  *dataset.Dataset
			res ingest.Result
		)
		if importPartitioned {
			ds, res, err = engine.ImportPartitioned(cmd.Context(), fsys, "/", importFormat, importName, cfg, importWorkers)
		} else {
			ds, res, err = engine.Import(cmd.Context(), fsys, "/", importFormat, importName, cfg)
		}
		_ = bar.Finish()
		if err != nil {
			return err
		}
		ds.DataSource = []string{source}

		output := importOutput
		if output == "" {
			output = ds.Name + store.ExtSQLite
		}
		if output, err = filepath.Abs(output); err != nil {
			return err
		}
		ds.MetadataRoot = filepath.Dir(output)
		if err := store.SaveDataset(ds, output); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d runs from %d files into %s in %v (%d filtered, %d skipped, %d conflicts).\n",
			res.Runs, res.Files, output, time.Since(start).Round(time.Millisecond),
			res.Filtered, len(res.Skipped), len(res.Conflicts))
		return nil
	},
}

// importConfig applies the import flags that were set on top of --config.
func importConfig(cmd *cobra.Command) (*api.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("begin") {
		cfg.Begin = importBegin
	}
	if f.Changed("end") {
		cfg.End = importEnd
	}
	if f.Changed("exclude-subject") {
		cfg.ExcludeSubjects = append(cfg.ExcludeSubjects, importExclude...)
	}
	if f.Changed("include-param") {
		cfg.IncludeParameters = importParams
	}
	if f.Changed("use-echonumbers") {
		cfg.UseEchoNumbers = importEchoNumbers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
