package cmd

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
	"github.com/zeroth-labs/simlaunch/pkg/artifacts"
	"github.com/zeroth-labs/simlaunch/pkg/config"
	"github.com/zeroth-labs/simlaunch/pkg/kv"
	"github.com/zeroth-labs/simlaunch/pkg/registry"
)

// dockerClient connects to the daemon from the standard environment
// (DOCKER_HOST etc.) with version negotiation.
func dockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating Docker client: %w", err)
	}
	return cli, nil
}

// openRegistry builds the run registry from the configured record and
// lease backends.
func openRegistry(ctx context.Context, cfg *config.Config) (*registry.Registry, error) {
	var log registry.Log
	switch cfg.Registry.Backend {
	case "jsonl", "":
		l, err := registry.OpenJSONLLog(cfg.Registry.Path)
		if err != nil {
			return nil, err
		}
		log = l
	case "postgres":
		l, err := registry.OpenBunLog(ctx, registry.PostgresConfig{
			Host:     cfg.Registry.Host,
			Port:     cfg.Registry.Port,
			User:     cfg.Registry.User,
			Password: cfg.Registry.Password,
			Database: cfg.Registry.Database,
			SSLMode:  cfg.Registry.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		log = l
	default:
		return nil, fmt.Errorf("unknown registry backend %q (want jsonl or postgres)", cfg.Registry.Backend)
	}

	var leases kv.Store
	switch cfg.Leases.Backend {
	case "memory", "":
		leases = kv.NewMemoryStore()
	case "valkey":
		s, err := kv.NewValkeyStore(ctx, kv.ValkeyConfig{Addr: cfg.Leases.Addr})
		if err != nil {
			log.Close()
			return nil, err
		}
		leases = s
	default:
		log.Close()
		return nil, fmt.Errorf("unknown lease backend %q (want memory or valkey)", cfg.Leases.Backend)
	}

	reg, err := registry.Open(ctx, log, leases)
	if err != nil {
		log.Close()
		leases.Close()
		return nil, err
	}
	return reg, nil
}

// openArtifacts returns the configured artifact store, or nil when
// artifact upload is disabled.
func openArtifacts(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	if !cfg.Artifacts.Enabled {
		return nil, nil
	}
	return artifacts.NewS3Store(ctx, artifacts.S3Config{
		Endpoint:  cfg.Artifacts.Endpoint,
		AccessKey: cfg.Artifacts.AccessKey,
		SecretKey: cfg.Artifacts.SecretKey,
		Bucket:    cfg.Artifacts.Bucket,
		Region:    cfg.Artifacts.Region,
		UseSSL:    cfg.Artifacts.UseSSL,
	})
}
