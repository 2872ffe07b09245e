package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/zeroth-labs/simlaunch/pkg/artifacts"
	"github.com/zeroth-labs/simlaunch/pkg/lerr"
	"github.com/zeroth-labs/simlaunch/pkg/registry"
)

// RunResponse is the wire form of a run record.
type RunResponse struct {
	ID         string            `json:"id" doc:"Run ID"`
	ImageRef   string            `json:"image_ref" doc:"Resolved image reference"`
	Task       string            `json:"task" doc:"Task identifier"`
	NumEnvs    int               `json:"num_envs" doc:"Environment count"`
	Flags      map[string]string `json:"flags,omitempty" doc:"Additional training flags"`
	Status     string            `json:"status" doc:"Run status"`
	StartedAt  string            `json:"started_at" doc:"Start timestamp"`
	FinishedAt *string           `json:"finished_at,omitempty" doc:"Finish timestamp"`
	ExitCode   *int              `json:"exit_code,omitempty" doc:"Exit code (-1 means cancelled)"`
}

// ArtifactResponse is the wire form of a stored artifact.
type ArtifactResponse struct {
	Key         string `json:"key" doc:"Storage key"`
	Filename    string `json:"filename" doc:"Original filename"`
	Size        int64  `json:"size" doc:"Size in bytes"`
	ContentType string `json:"content_type" doc:"MIME type"`
}

type HealthOutput struct {
	Body struct {
		Status string `json:"status" doc:"Service status"`
	}
}

type ListRunsInput struct {
	Status string `query:"status" doc:"Filter by status (in-progress, succeeded, failed, cancelled)" required:"false"`
}

type ListRunsOutput struct {
	Body struct {
		Runs []RunResponse `json:"runs" doc:"List of runs, newest first"`
	}
}

type GetRunInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

type GetRunOutput struct {
	Body RunResponse
}

type GetRunLogsInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

type GetRunLogsOutput struct {
	Body struct {
		Logs string `json:"logs" doc:"Console output of the run"`
	}
}

type ListRunArtifactsInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

type ListRunArtifactsOutput struct {
	Body struct {
		Artifacts []ArtifactResponse `json:"artifacts" doc:"List of artifacts"`
	}
}

type GetArtifactURLInput struct {
	RunID    string `path:"runId" doc:"Run ID"`
	Filename string `path:"filename" doc:"Artifact filename"`
}

type GetArtifactURLOutput struct {
	Body struct {
		URL string `json:"url" doc:"Presigned download URL"`
	}
}

// RegisterRoutes wires the read-only run endpoints. store may be nil when
// artifact storage is not configured.
func RegisterRoutes(h huma.API, reg *registry.Registry, store artifacts.Store) {
	huma.Register(h, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health check",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		resp := &HealthOutput{}
		resp.Body.Status = "ok"
		return resp, nil
	})

	huma.Register(h, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "List runs",
		Description: "Get all recorded runs, newest first",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
		var status *registry.RunStatus
		if input.Status != "" {
			s := registry.RunStatus(input.Status)
			status = &s
		}

		records, err := reg.List(ctx, status)
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("listing runs: %v", err))
		}

		resp := &ListRunsOutput{}
		resp.Body.Runs = make([]RunResponse, 0, len(records))
		for _, rec := range records {
			resp.Body.Runs = append(resp.Body.Runs, toRunResponse(rec))
		}
		return resp, nil
	})

	huma.Register(h, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}",
		Summary:     "Get run details",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *GetRunInput) (*GetRunOutput, error) {
		rec, err := reg.Get(ctx, input.RunID)
		if err != nil {
			if lerr.IsCode(err, lerr.CodeUnknownRun) {
				return nil, huma.Error404NotFound("run not found")
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("fetching run: %v", err))
		}
		return &GetRunOutput{Body: toRunResponse(rec)}, nil
	})

	huma.Register(h, huma.Operation{
		OperationID: "get-run-logs",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/logs",
		Summary:     "Get run console output",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *GetRunLogsInput) (*GetRunLogsOutput, error) {
		rec, err := reg.Get(ctx, input.RunID)
		if err != nil {
			if lerr.IsCode(err, lerr.CodeUnknownRun) {
				return nil, huma.Error404NotFound("run not found")
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("fetching run: %v", err))
		}
		if rec.LogPath == "" {
			return nil, huma.Error404NotFound("run has no console log")
		}

		data, err := os.ReadFile(rec.LogPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, huma.Error404NotFound("console log no longer on disk")
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("reading logs: %v", err))
		}

		resp := &GetRunLogsOutput{}
		resp.Body.Logs = string(data)
		return resp, nil
	})

	huma.Register(h, huma.Operation{
		OperationID: "list-run-artifacts",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/artifacts",
		Summary:     "List run artifacts",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *ListRunArtifactsInput) (*ListRunArtifactsOutput, error) {
		if store == nil {
			return nil, huma.Error501NotImplemented("artifact storage not configured")
		}

		objects, err := store.List(ctx, artifacts.RunPrefix(input.RunID))
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("listing artifacts: %v", err))
		}

		resp := &ListRunArtifactsOutput{}
		resp.Body.Artifacts = make([]ArtifactResponse, 0, len(objects))
		for _, obj := range objects {
			resp.Body.Artifacts = append(resp.Body.Artifacts, ArtifactResponse{
				Key:         obj.Key,
				Filename:    path.Base(obj.Key),
				Size:        obj.Size,
				ContentType: obj.ContentType,
			})
		}
		return resp, nil
	})

	huma.Register(h, huma.Operation{
		OperationID: "get-artifact-url",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/artifacts/{filename}/url",
		Summary:     "Get artifact download URL",
		Description: "Get a presigned URL to download an artifact, valid for one hour",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *GetArtifactURLInput) (*GetArtifactURLOutput, error) {
		if store == nil {
			return nil, huma.Error501NotImplemented("artifact storage not configured")
		}

		url, err := store.PresignedURL(ctx, artifacts.RunKey(input.RunID, input.Filename), time.Hour)
		if err != nil {
			if err == artifacts.ErrNotFound {
				return nil, huma.Error404NotFound("artifact not found")
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("presigning URL: %v", err))
		}

		resp := &GetArtifactURLOutput{}
		resp.Body.URL = url
		return resp, nil
	})
}

func toRunResponse(rec *registry.RunRecord) RunResponse {
	resp := RunResponse{
		ID:        rec.ID,
		ImageRef:  rec.ImageRef,
		Task:      rec.Config.Task,
		NumEnvs:   rec.Config.NumEnvs,
		Flags:     rec.Config.Flags,
		Status:    string(rec.Status),
		StartedAt: rec.StartedAt.Format(time.RFC3339),
		ExitCode:  rec.ExitCode,
	}
	if rec.FinishedAt != nil {
		finishedAt := rec.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finishedAt
	}
	return resp
}
