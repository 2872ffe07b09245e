package cmd

import (
	"testing"

	"github.com/zeroth-labs/simlaunch/pkg/lerr"
)

// launch validates the run config first, so a bad --num-envs never
// reaches the resolver or the daemon.
func TestBuildRunConfig_RejectsInvalidBeforeAnyWork(t *testing.T) {
	origTask, origNumEnvs, origFlags := launchTask, launchNumEnvs, launchFlags
	defer func() {
		launchTask, launchNumEnvs, launchFlags = origTask, origNumEnvs, origFlags
	}()

	launchTask = "stompymicro"
	launchNumEnvs = 0
	launchFlags = nil

	_, err := buildRunConfig()
	if !lerr.IsCode(err, lerr.CodeInvalidConfig) {
		t.Fatalf("Expected InvalidConfig, got %v", err)
	}
}

func TestBuildRunConfig_CarriesFlags(t *testing.T) {
	origTask, origNumEnvs, origFlags := launchTask, launchNumEnvs, launchFlags
	defer func() {
		launchTask, launchNumEnvs, launchFlags = origTask, origNumEnvs, origFlags
	}()

	launchTask = "stompymicro"
	launchNumEnvs = 4
	launchFlags = map[string]string{"headless": "true"}

	cfg, err := buildRunConfig()
	if err != nil {
		t.Fatalf("buildRunConfig failed: %v", err)
	}
	if cfg.Task != "stompymicro" || cfg.NumEnvs != 4 {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.Flags["headless"] != "true" {
		t.Errorf("Expected headless flag, got %v", cfg.Flags)
	}
}
