// Package registry creates, finalizes and queries the audit records of
// dispatched runs. Records persist in an append-only log (JSONL file or a
// Postgres row per run) and an in-progress (image, config) pair is guarded
// by a lease so the same launch cannot be started twice concurrently.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeroth-labs/simlaunch/pkg/kv"
	"github.com/zeroth-labs/simlaunch/pkg/lerr"
)

// Log is the persistence backend for run records. Append is called once
// with the in-progress record and once with the finalized record; Replay
// returns the latest version of every record ever appended.
type Log interface {
	Append(ctx context.Context, rec *RunRecord) error
	Replay(ctx context.Context) ([]*RunRecord, error)
	Close() error
}

// Registry serializes record creation and finalization. It is the sole
// shared resource between concurrent dispatchers.
type Registry struct {
	mu     sync.Mutex
	log    Log
	leases kv.Store
	active map[string]*RunRecord // in-progress records by run id
}

// BeginOptions carries optional metadata recorded at begin time.
type BeginOptions struct {
	ContainerID string
	LogPath     string
}

// Open builds a registry over the given log and lease store and replays
// the log so in-progress records from an interrupted process remain
// finishable and duplicate-guarded.
func Open(ctx context.Context, log Log, leases kv.Store) (*Registry, error) {
	r := &Registry{
		log:    log,
		leases: leases,
		active: make(map[string]*RunRecord),
	}

	records, err := log.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replaying run log: %w", err)
	}
	for _, rec := range records {
		if rec.Status != StatusInProgress {
			continue
		}
		r.active[rec.ID] = rec
		// Re-arm the lease; a lost race here means another process
		// already holds it, which is the state we want anyway.
		if _, err := leases.SetNX(ctx, leaseKey(rec.ImageRef, rec.Config), []byte(rec.ID), 0); err != nil {
			return nil, fmt.Errorf("restoring lease for run %s: %w", rec.ID, err)
		}
	}

	return r, nil
}

func leaseKey(imageRef string, cfg RunConfig) string {
	return "active:" + imageRef + ":" + cfg.Fingerprint()
}

// Begin allocates a new in-progress record for the given config and
// resolved image. It fails with DuplicateRun if an identical (image,
// config) pair is already in progress, and with InvalidConfig before any
// state is touched if the config is malformed.
func (r *Registry) Begin(ctx context.Context, cfg RunConfig, imageRef string, opts BeginOptions) (*RunRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if imageRef == "" {
		return nil, lerr.Newf(lerr.CodeInvalidConfig, "image reference is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}

	acquired, err := r.leases.SetNX(ctx, leaseKey(imageRef, cfg), []byte(id.String()), 0)
	if err != nil {
		return nil, fmt.Errorf("acquiring run lease: %w", err)
	}
	if !acquired {
		return nil, lerr.Newf(lerr.CodeDuplicateRun,
			"an identical run for image %s (task=%s, num_envs=%d) is already in progress",
			imageRef, cfg.Task, cfg.NumEnvs)
	}

	rec := &RunRecord{
		ID:          id.String(),
		ImageRef:    imageRef,
		Config:      cfg,
		Status:      StatusInProgress,
		ContainerID: opts.ContainerID,
		LogPath:     opts.LogPath,
		StartedAt:   time.Now().UTC(),
	}

	if err := r.log.Append(ctx, rec); err != nil {
		// Roll the lease back so the pair is launchable again.
		r.leases.Delete(ctx, leaseKey(imageRef, cfg))
		return nil, fmt.Errorf("recording run start: %w", err)
	}

	r.active[rec.ID] = rec
	return rec.clone(), nil
}

// SetLogPath records where the console stream of an in-progress run is
// written. The path is only known once the run id exists, so it cannot be
// part of Begin. Fails with UnknownRun once the record is finalized.
func (r *Registry) SetLogPath(ctx context.Context, runID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.active[runID]
	if !ok {
		return lerr.Newf(lerr.CodeUnknownRun, "run %s is not in progress", runID)
	}
	rec.LogPath = path
	if err := r.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("recording run log path: %w", err)
	}
	return nil
}

// Finish transitions a record to its terminal state exactly once. It fails
// with UnknownRun if the id was never allocated or is already finalized.
func (r *Registry) Finish(ctx context.Context, runID string, exitCode int) (*RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.active[runID]
	if !ok {
		return nil, lerr.Newf(lerr.CodeUnknownRun, "run %s is not in progress", runID)
	}

	now := time.Now().UTC()
	rec.FinishedAt = &now
	rec.ExitCode = &exitCode
	rec.Status = statusForExit(exitCode)

	if err := r.log.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording run completion: %w", err)
	}

	delete(r.active, runID)
	if err := r.leases.Delete(ctx, leaseKey(rec.ImageRef, rec.Config)); err != nil {
		return nil, fmt.Errorf("releasing run lease: %w", err)
	}

	return rec.clone(), nil
}

// Get returns a copy of a record, in progress or finalized.
func (r *Registry) Get(ctx context.Context, runID string) (*RunRecord, error) {
	r.mu.Lock()
	if rec, ok := r.active[runID]; ok {
		cp := rec.clone()
		r.mu.Unlock()
		return cp, nil
	}
	r.mu.Unlock()

	records, err := r.log.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replaying run log: %w", err)
	}
	for _, rec := range records {
		if rec.ID == runID {
			return rec.clone(), nil
		}
	}
	return nil, lerr.Newf(lerr.CodeUnknownRun, "run %s was never allocated", runID)
}

// List returns copies of all records, newest first, optionally filtered
// by status.
func (r *Registry) List(ctx context.Context, status *RunStatus) ([]*RunRecord, error) {
	records, err := r.log.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replaying run log: %w", err)
	}

	var out []*RunRecord
	for _, rec := range records {
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Close releases the log and lease backends.
func (r *Registry) Close() error {
	if err := r.log.Close(); err != nil {
		return err
	}
	return r.leases.Close()
}
