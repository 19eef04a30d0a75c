package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestLoad_OverlaysJSON(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"server_endpoint_addr": "queue.example:9000",
		"access_token":         "tok",
		"request_timeout":      "10s",
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "queue.example:9000", cfg.ServerEndpointAddr)
	assert.Equal(t, "tok", cfg.AccessToken)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}

func TestLoad_PartialJSONKeepsDefaults(t *testing.T) {
	path := writeTempJSON(t, map[string]any{"access_token": "tok"})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)
}
