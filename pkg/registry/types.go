package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/zeroth-labs/simlaunch/pkg/lerr"
)

// RunStatus represents the lifecycle state of a run record.
type RunStatus string

const (
	// StatusInProgress is the only non-terminal state.
	StatusInProgress RunStatus = "in-progress"

	// Terminal states, derived from the exit code at finalization.
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CancelledExitCode is the sentinel exit code used to finalize a run that
// was stopped by the operator rather than exiting on its own.
const CancelledExitCode = -1

// RunConfig is the parameter set for one training invocation.
type RunConfig struct {
	Task    string            `json:"task"`
	NumEnvs int               `json:"num_envs"`
	Flags   map[string]string `json:"flags,omitempty"`
}

// Validate checks the config before any image or container work is done.
func (c RunConfig) Validate() error {
	if c.Task == "" {
		return lerr.Newf(lerr.CodeInvalidConfig, "task identifier is required")
	}
	if c.NumEnvs <= 0 {
		return lerr.Newf(lerr.CodeInvalidConfig, "num_envs must be > 0, got %d", c.NumEnvs)
	}
	return nil
}

// Args renders the config as command-line arguments for the training
// entrypoint. Extra flags are emitted in sorted order so the rendering
// is deterministic.
func (c RunConfig) Args() []string {
	args := []string{
		fmt.Sprintf("--task=%s", c.Task),
		fmt.Sprintf("--num_envs=%d", c.NumEnvs),
	}
	keys := make([]string, 0, len(c.Flags))
	for k := range c.Flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("--%s=%s", k, c.Flags[k]))
	}
	return args
}

// Fingerprint returns a stable digest of the config. Two configs with the
// same task, env count and flags fingerprint identically regardless of
// flag map ordering.
func (c RunConfig) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "task=%s\nnum_envs=%d\n", c.Task, c.NumEnvs)
	keys := make([]string, 0, len(c.Flags))
	for k := range c.Flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, c.Flags[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RunRecord is the audit entry for one dispatched run. It is created when
// the run begins and finalized exactly once when the job's process exits;
// it is never mutated after finalization. The registry owns all records
// and hands out copies only.
type RunRecord struct {
	ID          string     `json:"id"`
	ImageRef    string     `json:"image_ref"`
	Config      RunConfig  `json:"config"`
	Status      RunStatus  `json:"status"`
	ContainerID string     `json:"container_id,omitempty"`
	LogPath     string     `json:"log_path,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
}

// clone returns a copy safe to hand outside the registry.
func (r *RunRecord) clone() *RunRecord {
	cp := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	if r.ExitCode != nil {
		c := *r.ExitCode
		cp.ExitCode = &c
	}
	if r.Config.Flags != nil {
		cp.Config.Flags = make(map[string]string, len(r.Config.Flags))
		for k, v := range r.Config.Flags {
			cp.Config.Flags[k] = v
		}
	}
	return &cp
}

// statusForExit maps a final exit code to the terminal status.
func statusForExit(exitCode int) RunStatus {
	switch exitCode {
	case 0:
		return StatusSucceeded
	case CancelledExitCode:
		return StatusCancelled
	default:
		return StatusFailed
	}
}
