package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "node-01", cfg.GatewayID)
	assert.Equal(t, 8080, cfg.GatewayPort)
	assert.Equal(t, 8081, cfg.HTTPPort)
	assert.Equal(t, 2*time.Second, cfg.ScriptTimeout)
	assert.Equal(t, "fms", cfg.SubjectPrefix)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gateway_id: edge-7
gateway_port: 9000
script_timeout: 500ms
default_protocol: modbus
`), 0o600))

	t.Setenv("GATEWAY_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "edge-7", cfg.GatewayID)
	assert.Equal(t, 9100, cfg.GatewayPort)
	assert.Equal(t, 500*time.Millisecond, cfg.ScriptTimeout)
	assert.Equal(t, "modbus", cfg.DefaultProtocol)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("HTTP_PORT", "8080")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
