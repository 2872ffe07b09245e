package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zeroth-labs/simlaunch/pkg/registry"
)

var cancelFinalize bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Stop an in-progress run",
	Long: `Cancel sends SIGTERM to the run's container. The launch process that
owns the run observes the exit and finalizes the record with the
cancelled sentinel. If the container is already gone (for example the
owning process crashed), the record is finalized directly.

When the owning process is dead but the container still runs, the signal
alone leaves the record open; pass --finalize to close the record here
as well.`,
	Args: cobra.ExactArgs(1),
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

		rec, err := reg.Get(ctx, args[0])
		if err != nil {
			fail(err, 0)
		}
		if rec.Status.Terminal() {
			return fmt.Errorf("run %s already finished (%s)", rec.ID, rec.Status)
		}

		killed := false
		if rec.ContainerID != "" {
			cli, err := dockerClient()
			if err != nil {
				fail(err, 0)
			}
			defer cli.Close()

			if err := cli.ContainerKill(ctx, rec.ContainerID, "SIGTERM"); err == nil {
				killed = true
				fmt.Printf("Sent SIGTERM to container %s for run %s\n", rec.ContainerID, rec.ID)
			}
			// On kill failure the container is gone; the record is closed
			// below regardless of --finalize.
		}

		if killed && !cancelFinalize {
			// The owner observes the exit and finalizes.
			return nil
		}

		if _, err := reg.Finish(ctx, rec.ID, registry.CancelledExitCode); err != nil {
			fail(err, 0)
		}
		fmt.Printf("Run %s finalized as cancelled\n", rec.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	cancelCmd.Flags().BoolVar(&cancelFinalize, "finalize", false, "close the record here instead of leaving it to the owning launch process")
}
