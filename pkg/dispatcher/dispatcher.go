// Package dispatcher executes parameterized training commands inside a
// running container and streams their output. Each dispatch opens exactly
// one audit record in the registry and finalizes it exactly once when the
// job's process exits.
package dispatcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/zeroth-labs/simlaunch/pkg/launcher"
	"github.com/zeroth-labs/simlaunch/pkg/lerr"
	"github.com/zeroth-labs/simlaunch/pkg/registry"
	"github.com/zeroth-labs/simlaunch/pkg/simlog"
)

// DefaultCommand is the training entrypoint run inside the container when
// no override is configured. RunConfig flags are appended to it.
var DefaultCommand = []string{"python3", "sim/train.py"}

// API is the slice of the Docker client the dispatcher needs.
type API interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
}

// Options configures one dispatch.
type Options struct {
	// Command overrides DefaultCommand.
	Command []string
	WorkDir string
	// LogDir is where per-run console logs land; each run gets
	// <LogDir>/<run-id>/console.log. Empty disables file logging.
	LogDir string
}

// Dispatcher runs jobs inside containers started by the launcher.
type Dispatcher struct {
	api API
	reg *registry.Registry
	log *simlog.Logger
}

// New creates a dispatcher over the given Docker client and registry.
func New(api API, reg *registry.Registry, log *simlog.Logger) *Dispatcher {
	if log == nil {
		log = simlog.NewQuiet()
	}
	return &Dispatcher{api: api, reg: reg, log: log}
}

// Dispatch execs the training command for cfg inside the handle's
// container. The returned Job streams output lines until the process
// exits; its record is finalized by the job itself, never by the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, h *launcher.Handle, cfg registry.RunConfig, opts Options) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// A stale handle means the container died between launch and
	// dispatch; there is nothing to exec into.
	inspect, err := d.api.ContainerInspect(ctx, h.ID)
	if err != nil {
		return nil, lerr.New(lerr.CodeJobNotFound, fmt.Errorf("inspecting container %s: %w", h.ID, err))
	}
	if inspect.State == nil || !inspect.State.Running {
		return nil, lerr.Newf(lerr.CodeJobNotFound, "container %s is not running", h.ID)
	}

	rec, err := d.reg.Begin(ctx, cfg, h.ImageRef, registry.BeginOptions{ContainerID: h.ID})
	if err != nil {
		return nil, err
	}

	console := io.Writer(io.Discard)
	var consoleFile *os.File
	if opts.LogDir != "" {
		runDir := filepath.Join(opts.LogDir, rec.ID)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			d.abort(ctx, rec.ID)
			return nil, fmt.Errorf("creating run log dir: %w", err)
		}
		logPath := filepath.Join(runDir, "console.log")
		consoleFile, err = os.Create(logPath)
		if err != nil {
			d.abort(ctx, rec.ID)
			return nil, fmt.Errorf("creating console log: %w", err)
		}
		console = consoleFile
		if err := d.reg.SetLogPath(ctx, rec.ID, logPath); err != nil {
			consoleFile.Close()
			d.abort(ctx, rec.ID)
			return nil, err
		}
	}

	command := opts.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	cmd := append(append([]string{}, command...), cfg.Args()...)

	execResp, err := d.api.ContainerExecCreate(ctx, h.ID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   opts.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if consoleFile != nil {
			consoleFile.Close()
		}
		d.abort(ctx, rec.ID)
		return nil, fmt.Errorf("creating exec for run %s: %w", rec.ID, err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		if consoleFile != nil {
			consoleFile.Close()
		}
		d.abort(ctx, rec.ID)
		return nil, fmt.Errorf("attaching to run %s: %w", rec.ID, err)
	}

	d.log.Info("job dispatched", "run", rec.ID, "cmd", fmt.Sprint(cmd))

	job := &Job{
		RunID:       rec.ID,
		api:         d.api,
		reg:         d.reg,
		containerID: h.ID,
		execID:      execResp.ID,
		lines:       make(chan string, 64),
		done:        make(chan struct{}),
	}
	go job.run(attach, console, consoleFile)
	return job, nil
}

// abort finalizes a record whose job never started executing.
func (d *Dispatcher) abort(ctx context.Context, runID string) {
	if _, err := d.reg.Finish(ctx, runID, 1); err != nil {
		d.log.Warn("finalizing aborted run", "run", runID, "error", err.Error())
	}
}

// Job is one dispatched process. Its output sequence is finite and
// consumed once; a new invocation requires a new Dispatch.
type Job struct {
	RunID string

	api         API
	reg         *registry.Registry
	containerID string
	execID      string

	lines chan string
	done  chan struct{}

	mu        sync.Mutex
	cancelled bool
	exitCode  int
	err       error
}

// sigtermExit is what a process killed by SIGTERM reports (128 + 15).
const sigtermExit = 143

// run drains the multiplexed exec stream into the line channel and the
// console log, then finalizes the record with the process exit code.
func (j *Job) run(attach types.HijackedResponse, console io.Writer, consoleFile *os.File) {
	defer close(j.done)
	defer attach.Close()
	if consoleFile != nil {
		defer consoleFile.Close()
	}

	pr, pw := io.Pipe()
	go func() {
		// Demultiplex stdout/stderr into one interleaved stream, teeing
		// every byte into the console log.
		_, err := stdcopy.StdCopy(io.MultiWriter(pw, console), io.MultiWriter(pw, console), attach.Reader)
		pw.CloseWithError(err)
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		// Consumer-paced: every line reaches whoever ranges Lines. A
		// caller that skips the stream entirely still drains it via Wait.
		j.lines <- scanner.Text()
	}
	close(j.lines)

	exit, err := j.waitExit()

	j.mu.Lock()
	cancelled := j.cancelled
	j.mu.Unlock()
	if cancelled || exit == sigtermExit {
		exit = registry.CancelledExitCode
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, ferr := j.reg.Finish(ctx, j.RunID, exit); ferr != nil && err == nil {
		err = ferr
	}
	if err == nil && exit > 0 {
		err = lerr.Newf(lerr.CodeJobCrashed, "job exited with code %d", exit)
	}

	j.mu.Lock()
	j.exitCode = exit
	j.err = err
	j.mu.Unlock()
}

// waitExit polls the exec until the process is gone and reports its exit
// code. The stream is already at EOF here, so this resolves quickly.
func (j *Job) waitExit() (int, error) {
	for {
		inspect, err := j.api.ContainerExecInspect(context.Background(), j.execID)
		if err != nil {
			return 1, fmt.Errorf("inspecting exec for run %s: %w", j.RunID, err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Lines returns the job's output stream. Sends are paced by the
// consumer, so no line is lost to a slow reader; the channel closes when
// the underlying process exits. The stream is single-consumer: range it
// from one goroutine, or leave it to Wait.
func (j *Job) Lines() <-chan string {
	return j.lines
}

// Wait blocks until the job finishes and its record is finalized. A
// non-zero exit surfaces as JobCrashed; a cancelled job reports the
// cancelled sentinel with no error. Output the caller never consumed is
// discarded here (the console log keeps the complete stream), so a
// Wait-only caller cannot stall the job.
func (j *Job) Wait(ctx context.Context) (int, error) {
	lines := j.lines
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case _, ok := <-lines:
			if !ok {
				lines = nil
			}
		case <-j.done:
			j.mu.Lock()
			defer j.mu.Unlock()
			return j.exitCode, j.err
		}
	}
}

// Cancel sends SIGTERM to the container. The job observes the resulting
// process exit through its stream and finalizes the record with the
// cancelled sentinel; Cancel itself does not finalize anything. The
// sentinel is only armed once the signal is actually delivered, so a
// failed Cancel leaves the job's real outcome intact.
func (j *Job) Cancel(ctx context.Context) error {
	if err := j.api.ContainerKill(ctx, j.containerID, "SIGTERM"); err != nil {
		return fmt.Errorf("signalling run %s: %w", j.RunID, err)
	}

	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
	return nil
}
