package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, "5.1-preview", cfg.ADOAPIVersion)
	assert.False(t, cfg.ADOInsecureSkipVerify)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, int64(5*1024*1024), cfg.LogMaxBytes)
	assert.Equal(t, 3, cfg.LogBackupCount)
	assert.Equal(t, time.Duration(0), cfg.IdentityCacheTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ADO_ORGANIZATION_URL", "https://ado.example.com/DefaultCollection")
	t.Setenv("ADO_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("LOG_MAX_BYTES", "1024")
	t.Setenv("IDENTITY_CACHE_TTL", "30m")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "https://ado.example.com/DefaultCollection", cfg.ADOOrganizationURL)
	assert.True(t, cfg.ADOInsecureSkipVerify)
	assert.Equal(t, int64(1024), cfg.LogMaxBytes)
	assert.Equal(t, 30*time.Minute, cfg.IdentityCacheTTL)
}

func TestFromEnv_TTLAcceptsBareSeconds(t *testing.T) {
	t.Setenv("IDENTITY_CACHE_TTL", "600")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.IdentityCacheTTL)
}

func TestFromEnv_BadValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFileName), []byte("ADO_PAT=file-pat\n"), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })
	t.Setenv("ADO_PAT", "") // isolate from the ambient environment
	os.Unsetenv("ADO_PAT")

	path, err := LoadEnvFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, EnvFileName), path)
	assert.Equal(t, "file-pat", os.Getenv("ADO_PAT"))
}

func TestLoadEnvFile_MissingIsNotAnError(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(cwd) })

	path, err := LoadEnvFile()
	require.NoError(t, err)
	assert.Empty(t, path)
}
