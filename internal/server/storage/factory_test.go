package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/bagqueue/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackendFromConfig(t *testing.T) {
	cfg := &config.Config{}
	ctx := context.Background()

	b, err := NewBackendFromConfig(ctx, "working", config.BackendConfig{Type: "memory", CapacityBytes: 5}, cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = NewBackendFromConfig(ctx, "durable", config.BackendConfig{Type: "filesystem", Root: filepath.Join(t.TempDir(), "d")}, cfg)
	require.NoError(t, err)
	assert.IsType(t, &FilesystemBackend{}, b)

	_, err = NewBackendFromConfig(ctx, "durable", config.BackendConfig{Type: "filesystem"}, cfg)
	assert.ErrorContains(t, err, "requires root")

	_, err = NewBackendFromConfig(ctx, "working", config.BackendConfig{Type: "s3"}, cfg)
	assert.ErrorContains(t, err, "requires bucket")

	_, err = NewBackendFromConfig(ctx, "working", config.BackendConfig{Type: "tape"}, cfg)
	assert.ErrorContains(t, err, "unknown backend type")
}
