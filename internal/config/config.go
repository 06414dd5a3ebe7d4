// Package config defines the import sync configuration and its validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Backend selects the data-access implementation.
type Backend string

const (
	BackendPostgREST Backend = "postgrest"
	BackendPostgres  Backend = "postgres"
)

// Transport selects how job change events are received.
type Transport string

const (
	TransportSSE    Transport = "sse"
	TransportListen Transport = "listen"
)

// Config is the top-level configuration.
type Config struct {
	// AppURL is the STATBUS application root serving the event stream route.
	AppURL string `yaml:"app_url" mapstructure:"app_url" validate:"omitempty,url"`
	// RestURL is the PostgREST root.
	RestURL     string `yaml:"rest_url" mapstructure:"rest_url" validate:"omitempty,url"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`

	Backend   Backend   `yaml:"backend" mapstructure:"backend" validate:"oneof=postgrest postgres"`
	Transport Transport `yaml:"transport" mapstructure:"transport" validate:"oneof=sse listen"`
	Mode      string    `yaml:"mode" mapstructure:"mode" validate:"oneof=legal_unit establishment_formal establishment_informal generic_unit legal_relationship"`

	RateLimit       float64       `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" mapstructure:"rate_burst" validate:"gte=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gte=0"`
	FreshnessWindow time.Duration `yaml:"freshness_window" mapstructure:"freshness_window" validate:"gte=0"`

	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
	// DebugAddr serves runtime diagnostics when set, e.g. "localhost:6060".
	DebugAddr string `yaml:"debug_addr" mapstructure:"debug_addr" validate:"omitempty,hostname_port"`

	Otel OtelConfig `yaml:"otel" mapstructure:"otel"`
}

// OtelConfig configures trace and metric export.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name" validate:"required"`
	Probability float64 `yaml:"probability" mapstructure:"probability" validate:"gte=0,lte=1"`
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
}

// Default returns the configuration used for unset keys.
func Default() Config {
	return Config{
		Backend:         BackendPostgREST,
		Transport:       TransportSSE,
		Mode:            "legal_unit",
		RateLimit:       20,
		RateBurst:       10,
		RequestTimeout:  30 * time.Second,
		FreshnessWindow: 5 * time.Second,
		LogLevel:        "info",
		Otel: OtelConfig{
			ServiceName: "statbus-import-sync",
			Probability: 0.1,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the combinations the backends and
// transports require.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch {
	case c.Backend == BackendPostgREST && c.RestURL == "":
		return errors.New("invalid config: rest_url is required for the postgrest backend")
	case c.Transport == TransportSSE && c.AppURL == "":
		return errors.New("invalid config: app_url is required for the sse transport")
	case (c.Backend == BackendPostgres || c.Transport == TransportListen) && c.DatabaseURL == "":
		return errors.New("invalid config: database_url is required for the postgres backend and the listen transport")
	}
	return nil
}

// Loader provides configuration from some source.
type Loader interface {
	// Load returns a validated configuration.
	Load(ctx context.Context) (*Config, error)
}
