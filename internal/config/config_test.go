package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaults(t *testing.T) {
	t.Setenv(CfgEnv, "")
	dir := t.TempDir()

	cfg, err := Load(dir, BaseDefaults)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, CfgFile))
	assert.Equal(t, 20*time.Second, cfg.ScanDuration())
	assert.Equal(t, 20*time.Second, cfg.WriteTimeout())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())

	bt := cfg.Bluetooth()
	assert.Equal(t, 50, bt.WriteDelayMs)
	assert.Equal(t, 20, bt.DefaultMTU)
	assert.Equal(t, PayloadCommands, bt.ClassicPayload)

	opts := cfg.RendererOptions()
	assert.Equal(t, 32, opts.Width)
	assert.Equal(t, 8, opts.TransactionDigits)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	t.Setenv(CfgEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, CfgFile)

	data := []byte(`config_schema = 1

[store]
name = "Kopi Kenangan"
location = "Jl. Sudirman 1"

[bluetooth]
write_delay_ms = 80
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(dir, BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, "Kopi Kenangan", cfg.Store().Name)
	assert.Equal(t, "Jl. Sudirman 1", cfg.Store().Location)
	assert.Equal(t, 80, cfg.Bluetooth().WriteDelayMs)
	assert.Equal(t, 20, cfg.Bluetooth().DefaultMTU)
	assert.Equal(t, 32, cfg.RendererOptions().Width)
}

func TestLoadSchemaMismatch(t *testing.T) {
	t.Setenv(CfgEnv, "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CfgFile), []byte("config_schema = 99\n"), 0o600))

	_, err := Load(dir, BaseDefaults)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version mismatch")
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom", "printer.toml")
	t.Setenv(CfgEnv, path)

	cfg, err := Load(t.TempDir(), BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path())
	assert.FileExists(t, path)
	assert.Equal(t, filepath.Join(dir, "custom", "printers.json"), cfg.RegistryPath())
	assert.Equal(t, filepath.Join(dir, "custom", "jobs.db"), cfg.JobsPath())
}

func TestSaveRoundTripsSetters(t *testing.T) {
	t.Setenv(CfgEnv, "")
	dir := t.TempDir()

	cfg, err := Load(dir, BaseDefaults)
	require.NoError(t, err)

	cfg.SetDebugLogging(true)
	cfg.SetScanDuration(5 * time.Second)
	require.NoError(t, cfg.Save())

	again, err := Load(dir, BaseDefaults)
	require.NoError(t, err)
	assert.True(t, again.DebugLogging())
	assert.Equal(t, 5*time.Second, again.ScanDuration())
}

func TestDurationFallsBackOnZero(t *testing.T) {
	t.Setenv(CfgEnv, "")
	dir := t.TempDir()
	data := []byte("config_schema = 1\n\n[bluetooth]\nwrite_timeout_ms = 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, CfgFile), data, 0o600))

	cfg, err := Load(dir, BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.WriteTimeout())
}

func TestPacingDelays(t *testing.T) {
	t.Setenv(CfgEnv, "")
	dir := t.TempDir()
	data := []byte("config_schema = 1\n\n[bluetooth]\nwrite_delay_ms = 75\nchunk_delay_ms = 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, CfgFile), data, 0o600))

	cfg, err := Load(dir, BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, 75*time.Millisecond, cfg.WriteDelay())
	assert.Equal(t, 20*time.Millisecond, cfg.ChunkDelay())
}
