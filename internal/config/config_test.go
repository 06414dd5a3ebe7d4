package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	cfg := Default()
	cfg.AppURL = "https://statbus.example"
	cfg.RestURL = "https://statbus.example/rest"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with urls", mutate: func(*Config) {}},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "graphql" },
			wantErr: "Backend",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Transport = "websocket" },
			wantErr: "Transport",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "person" },
			wantErr: "Mode",
		},
		{
			name:    "postgrest needs rest url",
			mutate:  func(c *Config) { c.RestURL = "" },
			wantErr: "rest_url",
		},
		{
			name:    "sse needs app url",
			mutate:  func(c *Config) { c.AppURL = "" },
			wantErr: "app_url",
		},
		{
			name: "listen needs database url",
			mutate: func(c *Config) {
				c.Transport = TransportListen
			},
			wantErr: "database_url",
		},
		{
			name: "postgres backend with listen transport",
			mutate: func(c *Config) {
				c.Backend = BackendPostgres
				c.Transport = TransportListen
				c.AppURL, c.RestURL = "", ""
				c.DatabaseURL = "postgres://statbus@localhost/statbus"
			},
		},
		{
			name:    "malformed url",
			mutate:  func(c *Config) { c.RestURL = "not a url" },
			wantErr: "RestURL",
		},
		{
			name:    "probability out of range",
			mutate:  func(c *Config) { c.Otel.Probability = 1.5 },
			wantErr: "Probability",
		},
		{
			name:    "telemetry needs endpoint",
			mutate:  func(c *Config) { c.Otel.Enabled = true },
			wantErr: "Endpoint",
		},
		{
			name:    "bad debug address",
			mutate:  func(c *Config) { c.DebugAddr = "6060" },
			wantErr: "DebugAddr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
