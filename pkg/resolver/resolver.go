// Package resolver turns an ImageSpec into a local, runnable image
// reference: pulling a prebuilt image, reusing a cached local build, or
// building fresh from a Dockerfile context.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"
	"github.com/zeroth-labs/simlaunch/pkg/lerr"
	"github.com/zeroth-labs/simlaunch/pkg/simlog"
)

// Mode selects how an image is obtained. Exactly one mode is active per run.
type Mode string

const (
	// ModePull fetches the named image from a registry and never builds.
	ModePull Mode = "pull"
	// ModeBuildIfMissing reuses a local image built from an identical
	// context, building only on a cache miss.
	ModeBuildIfMissing Mode = "build-if-missing"
	// ModeAlwaysBuild executes a fresh build, overwriting any cached
	// image with the same tag.
	ModeAlwaysBuild Mode = "always-build"
)

// ParseMode validates a mode string from config or flags.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePull, ModeBuildIfMissing, ModeAlwaysBuild:
		return Mode(s), nil
	default:
		return "", lerr.Newf(lerr.CodeInvalidConfig, "unknown resolution mode %q", s)
	}
}

// ContextHashLabel is stamped onto built images so build-if-missing can
// find a prior build of the identical context without a side database.
const ContextHashLabel = "simlaunch.context-hash"

// ImageSpec identifies a container image and how to obtain it.
type ImageSpec struct {
	// Ref is the image name:tag to pull, or the tag applied to a build.
	Ref string
	// ContextDir is the build context directory (build modes only).
	ContextDir string
	// Dockerfile is the path of the Dockerfile relative to ContextDir.
	// Defaults to "Dockerfile".
	Dockerfile string
	Mode       Mode
}

// Validate enforces that exactly one resolution mode is active and that
// the spec carries what that mode needs.
func (s ImageSpec) Validate() error {
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	if s.Ref == "" {
		return lerr.Newf(lerr.CodeInvalidConfig, "image reference is required")
	}
	switch s.Mode {
	case ModePull:
		if s.ContextDir != "" {
			return lerr.Newf(lerr.CodeInvalidConfig, "pull mode does not take a build context")
		}
	default:
		if s.ContextDir == "" {
			return lerr.Newf(lerr.CodeInvalidConfig, "%s mode requires a build context directory", s.Mode)
		}
	}
	return nil
}

// API is the slice of the Docker client the resolver needs.
type API interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
}

// Resolver resolves ImageSpecs against one Docker daemon.
type Resolver struct {
	api API
	log *simlog.Logger
}

// New creates a resolver over the given Docker client.
func New(api API, log *simlog.Logger) *Resolver {
	if log == nil {
		log = simlog.NewQuiet()
	}
	return &Resolver{api: api, log: log}
}

// Resolve produces a local, runnable image reference for the spec.
// All failures carry the ImageUnavailable code; no run state exists yet
// at this point, so a failure aborts the launch with nothing to clean up.
func (r *Resolver) Resolve(ctx context.Context, spec ImageSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	switch spec.Mode {
	case ModePull:
		return r.pull(ctx, spec)
	case ModeBuildIfMissing:
		hash, err := HashContext(spec.ContextDir)
		if err != nil {
			return "", lerr.New(lerr.CodeImageUnavailable, err)
		}
		if ref, ok, err := r.cached(ctx, hash); err != nil {
			return "", err
		} else if ok {
			r.log.Info("reusing cached image", "ref", ref, "context_hash", hash[:12])
			return ref, nil
		}
		return r.build(ctx, spec, hash)
	case ModeAlwaysBuild:
		hash, err := HashContext(spec.ContextDir)
		if err != nil {
			return "", lerr.New(lerr.CodeImageUnavailable, err)
		}
		return r.build(ctx, spec, hash)
	}

	return "", lerr.Newf(lerr.CodeInvalidConfig, "unknown resolution mode %q", spec.Mode)
}

// pull fetches the named image. Repeated pulls of the same tag are
// idempotent: the daemon no-ops when the layers are already present.
func (r *Resolver) pull(ctx context.Context, spec ImageSpec) (string, error) {
	r.log.Info("pulling image", "ref", spec.Ref)

	reader, err := r.api.ImagePull(ctx, spec.Ref, image.PullOptions{})
	if err != nil {
		return "", lerr.New(lerr.CodeImageUnavailable, fmt.Errorf("pulling %s: %w", spec.Ref, err))
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", lerr.New(lerr.CodeImageUnavailable, fmt.Errorf("pulling %s: %w", spec.Ref, err))
	}

	return spec.Ref, nil
}

// cached looks for a local image built from an identical context.
func (r *Resolver) cached(ctx context.Context, hash string) (string, bool, error) {
	opts := image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", ContextHashLabel+"="+hash)),
	}
	images, err := r.api.ImageList(ctx, opts)
	if err != nil {
		return "", false, lerr.New(lerr.CodeImageUnavailable, fmt.Errorf("checking image cache: %w", err))
	}
	if len(images) == 0 {
		return "", false, nil
	}
	if len(images[0].RepoTags) > 0 {
		return images[0].RepoTags[0], true, nil
	}
	return images[0].ID, true, nil
}

// buildMessage is one line of the daemon's build progress stream.
type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (r *Resolver) build(ctx context.Context, spec ImageSpec, hash string) (string, error) {
	r.log.Info("building image", "ref", spec.Ref, "context", spec.ContextDir)

	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildCtx, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{})
	if err != nil {
		return "", lerr.New(lerr.CodeImageUnavailable, fmt.Errorf("archiving build context: %w", err))
	}
	defer buildCtx.Close()

	resp, err := r.api.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{spec.Ref},
		Dockerfile: dockerfile,
		Remove:     true,
		Labels:     map[string]string{ContextHashLabel: hash},
	})
	if err != nil {
		return "", lerr.New(lerr.CodeImageUnavailable, fmt.Errorf("building %s: %w", spec.Ref, err))
	}
	defer resp.Body.Close()

	// The build runs server-side; failures arrive inside the stream.
	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err == io.EOF {
			break
		} else if err != nil {
			return "", lerr.New(lerr.CodeImageUnavailable, fmt.Errorf("reading build output: %w", err))
		}
		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return "", lerr.Newf(lerr.CodeImageUnavailable, "build failed: %s", detail)
		}
	}

	return spec.Ref, nil
}
