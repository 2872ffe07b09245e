package cmd

import (
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/spf13/cobra"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown <container-id>",
	Short: "Stop and remove a launched container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := dockerClient()
		if err != nil {
			fail(err, 0)
		}
		defer cli.Close()

		ctx := cmd.Context()
		stopTimeout := 10
		if err := cli.ContainerStop(ctx, args[0], container.StopOptions{Timeout: &stopTimeout}); err != nil {
			return fmt.Errorf("stopping container: %w", err)
		}
		if err := cli.ContainerRemove(ctx, args[0], container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("removing container: %w", err)
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(teardownCmd)
}
