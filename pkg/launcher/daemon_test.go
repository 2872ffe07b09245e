package launcher

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// TestLaunchAgainstDaemon exercises a real container lifecycle.
// This assumes:
// 1. Docker daemon is running
// 2. alpine:latest is pullable
func TestLaunchAgainstDaemon(t *testing.T) {
	t.Skip("Requires Docker daemon - run manually")

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Fatalf("Failed to create Docker client: %v", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reader, err := cli.ImagePull(ctx, "alpine:latest", image.PullOptions{})
	if err != nil {
		t.Fatalf("Failed to pull alpine: %v", err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	l := New(cli, nil)
	h, err := l.Launch(ctx, "alpine:latest", Options{
		Command:      []string{"sleep", "300"},
		StartTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	t.Logf("Launched container %s", h.ID)

	running, err := h.Running(ctx)
	if err != nil || !running {
		t.Errorf("Expected running container, got running=%v err=%v", running, err)
	}

	if err := h.Teardown(ctx); err != nil {
		t.Errorf("Teardown failed: %v", err)
	}
}
