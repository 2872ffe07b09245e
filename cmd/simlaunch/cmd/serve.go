package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
	"github.com/zeroth-labs/simlaunch/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only runs API",
	Long: `Serve exposes the run registry and artifact store over HTTP so
dashboards and teammates can inspect runs without host access. The
listen address comes from SIMLAUNCH_HOST / SIMLAUNCH_PORT (or a .env
file); everything else uses the regular launcher config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		log := logger()
		ctx := cmd.Context()

		env, err := api.LoadEnv()
		if err != nil {
			fail(err, 0)
		}

		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			fail(err, 0)
		}
		defer reg.Close()

		store, err := openArtifacts(ctx, cfg)
		if err != nil {
			fail(err, 0)
		}

		a := api.New()
		api.RegisterRoutes(a.Huma, reg, store)

		log.Info("serving runs API", "addr", env.Addr())
		log.Info("openapi docs", "url", "http://"+env.Addr()+"/docs")

		return http.ListenAndServe(env.Addr(), a.Router)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
