package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Print the console output of a run",
	Args:  cobra.ExactArgs(1),
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
		if rec.LogPath == "" {
			return fmt.Errorf("run %s has no console log", rec.ID)
		}

		data, err := os.ReadFile(rec.LogPath)
		if err != nil {
			return fmt.Errorf("reading console log: %w", err)
		}
		os.Stdout.Write(data)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
