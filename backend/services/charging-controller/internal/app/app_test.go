package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/config"
)

func TestNewWithMemoryStore(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.BaseURL = "http://backend.invalid"
	cfg.Auth.JWTSecret = "secret"
	require.NoError(t, cfg.Validate())

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, a.registry.Len())

	a.Close()
	a.Close()
}

func TestNewFailsWithoutRedis(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.BaseURL = "http://backend.invalid"
	cfg.Auth.JWTSecret = "secret"
	cfg.Store.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
}
