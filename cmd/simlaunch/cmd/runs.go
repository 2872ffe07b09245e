package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeroth-labs/simlaunch/pkg/registry"
)

var runsStatus string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			fail(err, 0)
		}
		defer reg.Close()

		var status *registry.RunStatus
		if runsStatus != "" {
			s := registry.RunStatus(runsStatus)
			status = &s
		}

		records, err := reg.List(ctx, status)
		if err != nil {
			fail(err, 0)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tTASK\tENVS\tIMAGE\tSTATUS\tEXIT\tSTARTED")
		for _, rec := range records {
			exit := "-"
			if rec.ExitCode != nil {
				exit = fmt.Sprintf("%d", *rec.ExitCode)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				rec.ID, rec.Config.Task, rec.Config.NumEnvs, rec.ImageRef,
				rec.Status, exit, rec.StartedAt.Local().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status: in-progress, succeeded, failed, cancelled")
}
