// Package viperloader loads configuration from an optional file overlaid with
// STATBUS_* environment variables.
package viperloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ahrav/statbus-sync/internal/config"
)

// EnvPrefix prefixes every environment override, e.g. STATBUS_REST_URL or
// STATBUS_OTEL_ENDPOINT.
const EnvPrefix = "STATBUS"

// Loader reads configuration with viper.
type Loader struct {
	path string
}

var _ config.Loader = (*Loader)(nil)

// New creates a Loader. An empty path means environment and defaults only.
func New(path string) *Loader { return &Loader{path: path} }

// Load merges defaults, the file and the environment, in increasing
// precedence, and validates the result.
func (l *Loader) Load(ctx context.Context) (*config.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, config.Default())

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file (path: %s): %w", l.path, err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key, which AutomaticEnv needs to see
// environment-only values during Unmarshal.
func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("app_url", d.AppURL)
	v.SetDefault("rest_url", d.RestURL)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("access_token", d.AccessToken)
	v.SetDefault("backend", string(d.Backend))
	v.SetDefault("transport", string(d.Transport))
	v.SetDefault("mode", d.Mode)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("rate_burst", d.RateBurst)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("freshness_window", d.FreshnessWindow)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("debug_addr", d.DebugAddr)
	v.SetDefault("otel.enabled", d.Otel.Enabled)
	v.SetDefault("otel.endpoint", d.Otel.Endpoint)
	v.SetDefault("otel.service_name", d.Otel.ServiceName)
	v.SetDefault("otel.probability", d.Otel.Probability)
	v.SetDefault("otel.insecure", d.Otel.Insecure)
}
