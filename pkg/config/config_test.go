package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ProjectConfig(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	projectConfig := `
image:
  ref: zeroth-bot-sim:v1
  mode: pull
container:
  gpu: true
`
	os.WriteFile("simlaunch.yaml", []byte(projectConfig), 0644)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Image.Ref != "zeroth-bot-sim:v1" {
		t.Errorf("Expected image ref zeroth-bot-sim:v1, got %s", cfg.Image.Ref)
	}
	if cfg.Image.Mode != "pull" {
		t.Errorf("Expected mode pull, got %s", cfg.Image.Mode)
	}
	if !cfg.Container.GPU {
		t.Error("Expected gpu true")
	}
}

func TestLoad_LocalOverride(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	projectConfig := `
image:
  ref: zeroth-bot-sim:v1
  mode: pull
`
	os.WriteFile("simlaunch.yaml", []byte(projectConfig), 0644)

	os.MkdirAll(ConfigRoot, 0755)
	localConfig := `
image:
  mode: build-if-missing
  context_dir: ./docker
`
	os.WriteFile(filepath.Join(ConfigRoot, "config.yaml"), []byte(localConfig), 0644)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Local override wins, untouched keys survive the merge
	if cfg.Image.Mode != "build-if-missing" {
		t.Errorf("Expected mode build-if-missing (from local override), got %s", cfg.Image.Mode)
	}
	if cfg.Image.ContextDir != "./docker" {
		t.Errorf("Expected context dir ./docker, got %s", cfg.Image.ContextDir)
	}
	if cfg.Image.Ref != "zeroth-bot-sim:v1" {
		t.Errorf("Expected project image ref to survive, got %s", cfg.Image.Ref)
	}
}

func TestLoad_Defaults(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Image.Mode != "pull" {
		t.Errorf("Expected default mode pull, got %s", cfg.Image.Mode)
	}
	if cfg.Container.StartTimeout != "60s" {
		t.Errorf("Expected default start timeout 60s, got %s", cfg.Container.StartTimeout)
	}
	if cfg.Registry.Backend != "jsonl" {
		t.Errorf("Expected default registry backend jsonl, got %s", cfg.Registry.Backend)
	}
	if cfg.Leases.Backend != "memory" {
		t.Errorf("Expected default lease backend memory, got %s", cfg.Leases.Backend)
	}
	if len(cfg.Job.Command) != 2 || cfg.Job.Command[0] != "python3" {
		t.Errorf("Expected default train command, got %v", cfg.Job.Command)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	t.Setenv("SIMLAUNCH_IMAGE_MODE", "always-build")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Image.Mode != "always-build" {
		t.Errorf("Expected env override always-build, got %s", cfg.Image.Mode)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "other.yaml")
	os.WriteFile(path, []byte("image:\n  ref: sim:dev\n"), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Image.Ref != "sim:dev" {
		t.Errorf("Expected sim:dev, got %s", cfg.Image.Ref)
	}
	if cfg.ConfigFileUsed() != path {
		t.Errorf("Expected config file %s, got %s", path, cfg.ConfigFileUsed())
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}
