package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestJSONLLog_AppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	log, err := OpenJSONLLog(path)
	if err != nil {
		t.Fatalf("OpenJSONLLog failed: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	rec := &RunRecord{
		ID:        "run-1",
		ImageRef:  "zeroth-bot-sim:v1",
		Config:    RunConfig{Task: "stompymicro", NumEnvs: 4},
		Status:    StatusInProgress,
		StartedAt: time.Now().UTC(),
	}

	if err := log.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Finalize and append again: replay must return only the latest version
	now := time.Now().UTC()
	exit := 0
	rec.FinishedAt = &now
	rec.ExitCode = &exit
	rec.Status = StatusSucceeded
	if err := log.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records, err := log.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Status != StatusSucceeded {
		t.Errorf("Expected latest version to win, got status %s", records[0].Status)
	}

	// The file itself stays append-only: two lines for one run
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Count(string(data), "\n")
	if lines != 2 {
		t.Errorf("Expected 2 log lines, got %d", lines)
	}
}

func TestJSONLLog_ReplayKeepsInsertionOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	log, err := OpenJSONLLog(path)
	if err != nil {
		t.Fatalf("OpenJSONLLog failed: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		rec := &RunRecord{
			ID:        id,
			ImageRef:  "zeroth-bot-sim:v1",
			Config:    RunConfig{Task: "stompymicro", NumEnvs: 4},
			Status:    StatusInProgress,
			StartedAt: time.Now().UTC(),
		}
		if err := log.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	records, err := log.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, id := range []string{"a", "b", "c"} {
		if records[i].ID != id {
			t.Errorf("record %d: expected %s, got %s", i, id, records[i].ID)
		}
	}
}

func TestJSONLLog_EmptyFile(t *testing.T) {
	log, err := OpenJSONLLog(filepath.Join(t.TempDir(), "runs.jsonl"))
	if err != nil {
		t.Fatalf("OpenJSONLLog failed: %v", err)
	}
	defer log.Close()

	records, err := log.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
}
