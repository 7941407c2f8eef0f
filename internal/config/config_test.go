package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "phony.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadMergesOverDefaults(t *testing.T) {
	p := writeFile(t, `
name = "Crank"
pin = "1234"
visibility_timeout = 120
volume = 60
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "Crank", cfg.Name)
	assert.Equal(t, "1234", cfg.Pin)
	assert.Equal(t, 60, cfg.Volume)
	assert.Equal(t, 50, cfg.MicPlaybackVolume)
	assert.Equal(t, -1, cfg.AudioCardIndex)
	assert.Equal(t, 2*time.Minute, cfg.Visibility())
	assert.Equal(t, 30*time.Second, cfg.AttachWait())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Pin = "12345678901234567"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Volume = 101
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.AttachTimeout = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsBadToml(t *testing.T) {
	_, err := Load(writeFile(t, "name = "))
	assert.Error(t, err)
}
