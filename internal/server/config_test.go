package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 0, cfg.Port, "default port asks the OS")
	assert.Equal(t, "info", cfg.LogLevel)
	require.Len(t, cfg.CORSAllowedOrigins, 3)
	assert.Contains(t, cfg.CORSAllowedOrigins, "http://localhost:3000")
	assert.Contains(t, cfg.CORSAllowedOrigins, "http://localhost:3001")
	assert.Contains(t, cfg.CORSAllowedOrigins, "http://localhost:8080")
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8123")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, http://127.0.0.1:5173 ,")

	cfg := LoadConfig()

	assert.Equal(t, 8123, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.CORSAllowedOrigins, 2, "empty entries and whitespace are dropped")
	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173"}, cfg.CORSAllowedOrigins)
}
