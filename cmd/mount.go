package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/mrds/internal/nfsmount"
)

func init() {
	rootCmd.AddCommand(mountCmd)
}

var mountCmd = &cobra.Command{
	Use:   "mount [dataset] [mountpoint]",
	Short: "Serve a dataset file as a read-only directory tree over NFS",
	Long: `Mount exposes <subject>/<session>/<sequence>/<run>/params.json for every run,
plus /_dataset.json with the dataset summary. The mount stays up until
interrupted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadDataset(args[0])
		if err != nil {
			return err
		}
		mountPoint := args[1]

		fsys, err := nfsmount.NewDatasetFS(ds)
		if err != nil {
			return err
		}
		srv, err := nfsmount.NewServer(fsys, log)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }() // safe to ignore

		fmt.Fprintf(cmd.OutOrStdout(), "Mounting %s at %s (NFS port %d)...\n", ds.Name, mountPoint, srv.Port())
		if err := nfsmount.Mount(srv.Port(), mountPoint); err != nil {
			return err
		}
		log.Infow("dataset mounted", "name", ds.Name, "mountpoint", mountPoint, "port", srv.Port())

		<-cmd.Context().Done()

		fmt.Fprintln(cmd.OutOrStdout(), "Unmounting...")
		return nfsmount.Unmount(mountPoint)
	},
}
