package storage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/bagqueue/internal/server/config"
)

// NewBackendFromConfig creates a Backend for one tier. S3 credentials and
// endpoint are shared across tiers and come from cfg.
func NewBackendFromConfig(ctx context.Context, name string, bc config.BackendConfig, cfg *config.Config) (Backend, error) {
	switch bc.Type {
	case "memory":
		return NewMemoryBackend(name, bc.CapacityBytes, bc.CapacityInodes), nil
	case "filesystem":
		if bc.Root == "" {
			return nil, fmt.Errorf("filesystem backend %s requires root to be set", name)
		}
		return NewFilesystemBackend(name, bc.Root)
	case "s3":
		if bc.Bucket == "" {
			return nil, fmt.Errorf("s3 backend %s requires bucket to be set", name)
		}
		return NewS3Backend(ctx, name, S3Options{
			Region:         cfg.S3Region,
			AccessKey:      cfg.S3RootUser,
			SecretKey:      cfg.S3RootPassword,
			BaseEndpoint:   cfg.S3BaseEndpoint,
			Bucket:         bc.Bucket,
			CapacityBytes:  bc.CapacityBytes,
			CapacityInodes: bc.CapacityInodes,
		})
	default:
		return nil, fmt.Errorf("unknown backend type: %s", bc.Type)
	}
}
