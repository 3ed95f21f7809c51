package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireloop/wireloop/config"
)

func TestDefaultPassesValidation(t *testing.T) {
	assert.NoError(t, config.Validate(config.Default()))
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 70000
	assert.Error(t, config.Validate(cfg))
}

func TestValidateRejectsUnknownCodec(t *testing.T) {
	cfg := config.Default()
	cfg.SupportedCodecs = []string{"snappy"}
	assert.Error(t, config.Validate(cfg))
}

func TestLoadAppliesFileOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\nenable_reflection: false\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.EnableReflection)
	assert.Equal(t, config.Default().Host, cfg.Host)
}

func TestLoadAppliesEnvOverridesOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0o600))

	t.Setenv("WIRELOOP_PORT", "9091")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9091, cfg.Port)
}

func TestLoadRejectsInvalidResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: -1\n"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}
