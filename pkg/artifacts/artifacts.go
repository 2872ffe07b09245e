// Package artifacts persists the outputs of finished runs (console logs,
// run records, checkpoints) in S3-compatible storage.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeroth-labs/simlaunch/pkg/registry"
)

// ErrNotFound is returned when a requested artifact key does not exist.
var ErrNotFound = errors.New("artifact not found")

// Artifact describes one stored object.
type Artifact struct {
	Key          string    `json:"key"`
	Bucket       string    `json:"bucket"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url,omitempty"`
}

// Store is the interface over the artifact backend.
type Store interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (*Artifact, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]*Artifact, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// RunPrefix returns the storage prefix for a run's artifacts.
func RunPrefix(runID string) string {
	return "runs/" + runID + "/"
}

// RunKey returns the full storage key for one file of a run.
func RunKey(runID, filename string) string {
	return RunPrefix(runID) + filename
}

// PublishRun uploads a finalized record and its console log. A missing
// console log is not an error; not every run writes one.
func PublishRun(ctx context.Context, store Store, rec *registry.RunRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record for run %s: %w", rec.ID, err)
	}
	if _, err := store.Upload(ctx, RunKey(rec.ID, "record.json"), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("uploading record for run %s: %w", rec.ID, err)
	}

	if rec.LogPath == "" {
		return nil
	}
	f, err := os.Open(rec.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening console log for run %s: %w", rec.ID, err)
	}
	defer f.Close()

	if _, err := store.Upload(ctx, RunKey(rec.ID, "console.log"), f, "text/plain"); err != nil {
		return fmt.Errorf("uploading console log for run %s: %w", rec.ID, err)
	}
	return nil
}
