package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeroth-labs/simlaunch/pkg/artifacts"
	"github.com/zeroth-labs/simlaunch/pkg/kv"
	"github.com/zeroth-labs/simlaunch/pkg/registry"
)

func newTestServer(t *testing.T, store artifacts.Store) (*registry.Registry, *httptest.Server) {
	t.Helper()
	log, err := registry.OpenJSONLLog(filepath.Join(t.TempDir(), "runs.jsonl"))
	if err != nil {
		t.Fatalf("OpenJSONLLog failed: %v", err)
	}
	reg, err := registry.Open(context.Background(), log, kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	a := New()
	RegisterRoutes(a.Huma, reg, store)
	srv := httptest.NewServer(a.Router)
	t.Cleanup(srv.Close)
	return reg, srv
}

func seedRun(t *testing.T, reg *registry.Registry, task string, exit int) *registry.RunRecord {
	t.Helper()
	rec, err := reg.Begin(context.Background(), registry.RunConfig{Task: task, NumEnvs: 4}, "zeroth-bot-sim:v1", registry.BeginOptions{})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := reg.Finish(context.Background(), rec.ID, exit); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return rec
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, nil)

	var body struct {
		Status string `json:"status"`
	}
	if code := getJSON(t, srv.URL+"/api/health", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body.Status != "ok" {
		t.Errorf("Expected ok, got %s", body.Status)
	}
}

func TestListRuns(t *testing.T) {
	reg, srv := newTestServer(t, nil)
	seedRun(t, reg, "stompymicro", 0)
	seedRun(t, reg, "stompypro", 1)

	var body struct {
		Runs []RunResponse `json:"runs"`
	}
	if code := getJSON(t, srv.URL+"/api/runs", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(body.Runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(body.Runs))
	}

	// Status filter
	if code := getJSON(t, srv.URL+"/api/runs?status=failed", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(body.Runs) != 1 || body.Runs[0].Task != "stompypro" {
		t.Errorf("Expected only the failed run, got %+v", body.Runs)
	}
}

func TestGetRun(t *testing.T) {
	reg, srv := newTestServer(t, nil)
	rec := seedRun(t, reg, "stompymicro", 0)

	var body RunResponse
	if code := getJSON(t, srv.URL+"/api/runs/"+rec.ID, &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body.ID != rec.ID || body.Task != "stompymicro" || body.NumEnvs != 4 {
		t.Errorf("Unexpected run: %+v", body)
	}
	if body.Status != string(registry.StatusSucceeded) {
		t.Errorf("Expected succeeded, got %s", body.Status)
	}

	if code := getJSON(t, srv.URL+"/api/runs/does-not-exist", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", code)
	}
}

func TestGetRunLogs(t *testing.T) {
	reg, srv := newTestServer(t, nil)

	logPath := filepath.Join(t.TempDir(), "console.log")
	if err := os.WriteFile(logPath, []byte("epoch 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	rec, err := reg.Begin(context.Background(), registry.RunConfig{Task: "stompymicro", NumEnvs: 4}, "zeroth-bot-sim:v1", registry.BeginOptions{})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := reg.SetLogPath(context.Background(), rec.ID, logPath); err != nil {
		t.Fatalf("SetLogPath failed: %v", err)
	}
	if _, err := reg.Finish(context.Background(), rec.ID, 0); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	var body struct {
		Logs string `json:"logs"`
	}
	if code := getJSON(t, srv.URL+"/api/runs/"+rec.ID+"/logs", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !strings.Contains(body.Logs, "epoch 1") {
		t.Errorf("Expected console output, got %q", body.Logs)
	}

	// A run with no log path 404s
	other := seedRun(t, reg, "stompypro", 0)
	if code := getJSON(t, srv.URL+"/api/runs/"+other.ID+"/logs", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for logless run, got %d", code)
	}
}

func TestRunArtifacts(t *testing.T) {
	store := artifacts.NewMemoryStore()
	reg, srv := newTestServer(t, store)
	rec := seedRun(t, reg, "stompymicro", 0)

	if _, err := store.Upload(context.Background(), artifacts.RunKey(rec.ID, "console.log"), strings.NewReader("epoch 1\n"), "text/plain"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	var body struct {
		Artifacts []ArtifactResponse `json:"artifacts"`
	}
	if code := getJSON(t, srv.URL+"/api/runs/"+rec.ID+"/artifacts", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(body.Artifacts) != 1 || body.Artifacts[0].Filename != "console.log" {
		t.Fatalf("Unexpected artifacts: %+v", body.Artifacts)
	}

	var urlBody struct {
		URL string `json:"url"`
	}
	if code := getJSON(t, srv.URL+"/api/runs/"+rec.ID+"/artifacts/console.log/url", &urlBody); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if urlBody.URL == "" {
		t.Error("Expected a presigned URL")
	}

	if code := getJSON(t, srv.URL+"/api/runs/"+rec.ID+"/artifacts/missing.bin/url", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing artifact, got %d", code)
	}
}

func TestArtifactsNotConfigured(t *testing.T) {
	reg, srv := newTestServer(t, nil)
	rec := seedRun(t, reg, "stompymicro", 0)

	if code := getJSON(t, srv.URL+"/api/runs/"+rec.ID+"/artifacts", nil); code != http.StatusNotImplemented {
		t.Errorf("Expected 501 without artifact storage, got %d", code)
	}
}
