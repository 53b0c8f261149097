package storage

import (
	"context"
	"fmt"

	"m365gate/internal/config"
	"m365gate/pkg/logging"
)

// New builds the Store selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	sealer, err := NewSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch cfg.Backend {
	case config.StorageMemory, "":
		backend = NewMemoryBackend()
	case config.StorageFile:
		backend, err = NewFileBackend(cfg.Dir)
	case config.StorageRedis:
		backend, err = NewRedisBackend(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
	case config.StorageKubernetes:
		c, kerr := NewKubernetesClient(cfg.Kubernetes.Kubeconfig)
		if kerr != nil {
			return nil, kerr
		}
		backend = NewKubernetesBackend(c, cfg.Kubernetes.Namespace)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if sealer != nil {
		logging.Info("Storage", "Using %s storage backend with encryption at rest (AES-256-GCM)", cfg.Backend)
	} else {
		logging.Warn("Storage", "Using %s storage backend without encryption at rest", cfg.Backend)
	}
	return NewStore(backend, sealer), nil
}
