package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name" env:"SAMPLE_NAME"`
	Inner struct {
		Interval time.Duration `yaml:"interval"`
		Ratio    float64       `yaml:"ratio"`
	} `yaml:"inner"`
	Methods []string `yaml:"methods" env:"SAMPLE_METHODS"`
	Skip    string   `env:"-"`
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: file\ninner:\n  interval: 2s\n  ratio: 0.5\nmethods: [WALLET]\n"), 0o600))

	t.Setenv(defaultConfigPathEnv, path)
	t.Setenv("SAMPLE_NAME", "env")
	t.Setenv("INNER_INTERVAL", "250ms")
	t.Setenv("SAMPLE_METHODS", "WALLET, CASH_ON_SITE ,")

	var cfg sample
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "env", cfg.Name)
	assert.Equal(t, 250*time.Millisecond, cfg.Inner.Interval)
	assert.Equal(t, 0.5, cfg.Inner.Ratio)
	assert.Equal(t, []string{"WALLET", "CASH_ON_SITE"}, cfg.Methods)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	t.Setenv(defaultConfigPathEnv, "")
	t.Setenv("INNER_INTERVAL", "soon")

	var cfg sample
	err := LoadConfig(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INNER_INTERVAL")
}

func TestLoadConfigTargetValidation(t *testing.T) {
	require.Error(t, LoadConfig(nil))
	var notStruct int
	require.Error(t, LoadConfig(&notStruct))
}
