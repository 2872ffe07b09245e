package cmd

import (
	"context"
	"testing"

	"github.com/zeroth-labs/simlaunch/pkg/config"
	"github.com/zeroth-labs/simlaunch/pkg/kv"
	"github.com/zeroth-labs/simlaunch/pkg/registry"
)

// A run orphaned by a dead launch process has no owner left to observe
// the container exit; cancel --finalize must close the record itself.
func TestCancel_OrphanedRunGetsFinalized(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Seed the in-progress record a crashed launch process leaves behind.
	log, err := registry.OpenJSONLLog(cfg.Registry.Path)
	if err != nil {
		t.Fatalf("OpenJSONLLog failed: %v", err)
	}
	reg, err := registry.Open(context.Background(), log, kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rec, err := reg.Begin(context.Background(), registry.RunConfig{Task: "stompymicro", NumEnvs: 4},
		"zeroth-bot-sim:v1", registry.BeginOptions{ContainerID: "c0ffee0000000000"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	reg.Close()

	cancelFinalize = true
	defer func() { cancelFinalize = false }()

	cancelCmd.SetContext(context.WithValue(context.Background(), configContextKey, cfg))
	if err := cancelCmd.RunE(cancelCmd, []string{rec.ID}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	log2, err := registry.OpenJSONLLog(cfg.Registry.Path)
	if err != nil {
		t.Fatalf("Reopening log failed: %v", err)
	}
	reg2, err := registry.Open(context.Background(), log2, kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reg2.Close()

	got, err := reg2.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != registry.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != registry.CancelledExitCode {
		t.Errorf("Expected cancelled sentinel, got %v", got.ExitCode)
	}
}
