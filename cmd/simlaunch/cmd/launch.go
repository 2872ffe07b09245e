package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeroth-labs/simlaunch/pkg/artifacts"
	"github.com/zeroth-labs/simlaunch/pkg/dispatcher"
	"github.com/zeroth-labs/simlaunch/pkg/launcher"
	"github.com/zeroth-labs/simlaunch/pkg/registry"
	"github.com/zeroth-labs/simlaunch/pkg/resolver"
)

var (
	launchTask       string
	launchNumEnvs    int
	launchFlags      map[string]string
	launchImage      string
	launchMode       string
	launchContext    string
	launchNoGPU      bool
	launchNoDispatch bool
	launchKeep       bool
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Resolve the image, start the container and run a training job",
	Long: `Launch resolves or builds the simulation image, starts a GPU-attached
container, dispatches the training command into it and streams the
output. The process exit code propagates the job's own exit code;
resolver, launcher and dispatcher failures each use a distinct nonzero
range.

Examples:
  # Pull the prebuilt image and train
  simlaunch launch --task stompymicro --num-envs 4

  # Build from a local context instead
  simlaunch launch --mode build-if-missing --context ./docker --task stompymicro --num-envs 4

  # Extra training flags pass through verbatim
  simlaunch launch --task stompymicro --num-envs 4 --flag headless=true

  # Start the container but dispatch nothing (attach a shell by hand)
  simlaunch launch --no-dispatch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		log := logger()
		ctx := cmd.Context()

		// An invalid run config is rejected before any image or container
		// work; only --no-dispatch launches carry no run config at all.
		var runCfg registry.RunConfig
		if !launchNoDispatch {
			runCfg, err = buildRunConfig()
			if err != nil {
				fail(err, 0)
			}
		}

		imageRef := cfg.Image.Ref
		if launchImage != "" {
			imageRef = launchImage
		}
		modeStr := cfg.Image.Mode
		if launchMode != "" {
			modeStr = launchMode
		}
		contextDir := cfg.Image.ContextDir
		if launchContext != "" {
			contextDir = launchContext
		}
		mode, err := resolver.ParseMode(modeStr)
		if err != nil {
			fail(err, 0)
		}

		cli, err := dockerClient()
		if err != nil {
			fail(err, 0)
		}
		defer cli.Close()

		ref, err := resolver.New(cli, log).Resolve(ctx, resolver.ImageSpec{
			Ref:        imageRef,
			ContextDir: contextDir,
			Dockerfile: cfg.Image.Dockerfile,
			Mode:       mode,
		})
		if err != nil {
			fail(err, 0)
		}

		startTimeout, err := time.ParseDuration(cfg.Container.StartTimeout)
		if err != nil {
			return fmt.Errorf("parsing container.start_timeout: %w", err)
		}
		var mounts []launcher.Mount
		for _, m := range cfg.Container.Mounts {
			mounts = append(mounts, launcher.Mount{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
		}

		l := launcher.New(cli, log)
		handle, err := l.Launch(ctx, ref, launcher.Options{
			Name:         cfg.Container.Name,
			Env:          cfg.Container.Env,
			WorkDir:      cfg.Container.WorkDir,
			Mounts:       mounts,
			GPU:          cfg.Container.GPU && !launchNoGPU,
			GPUCount:     cfg.Container.GPUCount,
			StartTimeout: startTimeout,
		})
		if err != nil {
			fail(err, 0)
		}

		if launchNoDispatch {
			// Manual workflow: leave the container up and let the operator
			// exec into it themselves.
			fmt.Printf("Container running: %s\n", handle.ID)
			fmt.Printf("Attach with: docker exec -it %s bash\n", handle.ID)
			fmt.Printf("Tear down with: simlaunch teardown %s\n", handle.ID)
			return nil
		}

		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			handle.Teardown(context.Background())
			fail(err, 0)
		}
		defer reg.Close()

		store, err := openArtifacts(ctx, cfg)
		if err != nil {
			handle.Teardown(context.Background())
			fail(err, 0)
		}

		job, err := dispatcher.New(cli, reg, log).Dispatch(ctx, handle, runCfg, dispatcher.Options{
			Command: cfg.Job.Command,
			WorkDir: cfg.Container.WorkDir,
			LogDir:  cfg.Job.LogDir,
		})
		if err != nil {
			if !launchKeep {
				handle.Teardown(context.Background())
			}
			fail(err, 0)
		}

		log.Info("run started", "run", job.RunID)

		// Operator cancellation: first signal stops the job, the run is
		// finalized with the cancelled sentinel.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			log.Warn("cancelling run", "run", job.RunID)
			if err := job.Cancel(context.Background()); err != nil {
				log.Error("cancel failed", "error", err.Error())
			}
		}()

		for line := range job.Lines() {
			fmt.Println(line)
		}

		exit, jobErr := job.Wait(context.Background())

		if store != nil {
			if rec, err := reg.Get(ctx, job.RunID); err == nil {
				if err := artifacts.PublishRun(ctx, store, rec); err != nil {
					log.Warn("artifact upload failed", "run", job.RunID, "error", err.Error())
				}
			}
		}

		if !launchKeep {
			if err := handle.Teardown(context.Background()); err != nil {
				log.Warn("teardown failed", "container", handle.ID, "error", err.Error())
			}
		}

		switch {
		case jobErr != nil:
			fail(jobErr, exit)
		case exit == registry.CancelledExitCode:
			log.Warn("run cancelled", "run", job.RunID)
			os.Exit(130)
		default:
			log.Info("run succeeded", "run", job.RunID)
		}
		return nil
	},
}

// buildRunConfig assembles the dispatch config from the launch flags and
// validates it.
func buildRunConfig() (registry.RunConfig, error) {
	cfg := registry.RunConfig{
		Task:    launchTask,
		NumEnvs: launchNumEnvs,
		Flags:   launchFlags,
	}
	if err := cfg.Validate(); err != nil {
		return registry.RunConfig{}, err
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(launchCmd)
	launchCmd.Flags().StringVar(&launchTask, "task", "", "task identifier (e.g. stompymicro)")
	launchCmd.Flags().IntVar(&launchNumEnvs, "num-envs", 4, "number of simulation environments")
	launchCmd.Flags().StringToStringVar(&launchFlags, "flag", nil, "extra training flag as key=value (repeatable)")
	launchCmd.Flags().StringVar(&launchImage, "image", "", "image reference (overrides config)")
	launchCmd.Flags().StringVar(&launchMode, "mode", "", "image resolution mode: pull, build-if-missing, always-build")
	launchCmd.Flags().StringVar(&launchContext, "context", "", "build context directory (build modes)")
	launchCmd.Flags().BoolVar(&launchNoGPU, "no-gpu", false, "skip GPU attachment")
	launchCmd.Flags().BoolVar(&launchNoDispatch, "no-dispatch", false, "start the container without dispatching a job")
	launchCmd.Flags().BoolVar(&launchKeep, "keep", false, "leave the container running after the job finishes")
}
