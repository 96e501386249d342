// Package server implements the loopback HTTP broker: the single wire
// contract every front-end speaks. Handlers delegate to the provider
// client, the folder cache and the transfer engine; the middleware
// chain owns request ids, CORS, logging and error envelopes.
package server

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/r2browser/r2browser/internal/constants"
)

// DefaultCORSOrigins is the allow-list used when CORS_ALLOWED_ORIGINS
// is unset. Loopback front-ends only.
const DefaultCORSOrigins = "http://localhost:3000,http://localhost:3001,http://localhost:8080"

// Config holds the broker's runtime settings, sourced from the
// environment.
type Config struct {
	// Port to bind on 127.0.0.1. 0 asks the OS for an ephemeral port;
	// the chosen port is announced on stdout for the supervisor.
	Port int

	// CORSAllowedOrigins is the exact-match origin allow-list.
	CORSAllowedOrigins []string

	// LogLevel is a zerolog level name ("debug", "info", "warn", "error").
	LogLevel string
}

// LoadConfig reads the broker configuration from environment variables:
// PORT, CORS_ALLOWED_ORIGINS (comma-separated) and LOG_LEVEL.
func LoadConfig() Config {
	v := viper.New()
	v.SetDefault("port", 0)
	v.SetDefault("cors_allowed_origins", DefaultCORSOrigins)
	v.SetDefault("log_level", "info")
	v.AutomaticEnv()

	origins := make([]string, 0, 4)
	for _, o := range strings.Split(v.GetString("cors_allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		Port:               v.GetInt("port"),
		CORSAllowedOrigins: origins,
		LogLevel:           v.GetString("log_level"),
	}
}

// corsMaxAgeSeconds is the Access-Control-Max-Age value.
func corsMaxAgeSeconds() int {
	return int(constants.CORSMaxAge.Seconds())
}
