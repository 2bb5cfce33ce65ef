package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.MaxSeqLen)
	assert.Equal(t, 4, cfg.TokenizeWorkers)
	assert.Equal(t, "last_hidden_state", cfg.EncoderOutput)
	assert.Equal(t, 8001, cfg.Port)
	assert.False(t, cfg.UseS3())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("MAX_SEQ_LEN=64\nLOG_LEVEL=debug\nS3_ENDPOINT_URL=http://localhost:9000\nTOKENIZE_WORKERS=0\n"), 0o644))

	// godotenv does not override variables that are already set.
	for _, key := range []string{"MAX_SEQ_LEN", "LOG_LEVEL", "S3_ENDPOINT_URL", "TOKENIZE_WORKERS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.MaxSeqLen)
	assert.Equal(t, 1, cfg.TokenizeWorkers)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.True(t, cfg.UseS3())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	t.Setenv("MAX_SEQ_LEN", "1")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	chdir(t, t.TempDir())
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "MAX_SEQ_LEN")
}
