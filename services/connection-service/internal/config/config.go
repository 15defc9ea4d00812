package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// OAuth2Mode selects which strategy performs token exchanges.
type OAuth2Mode string

const (
	// OAuth2ModeRelay forwards exchanges to the trusted relay that holds the
	// real client secrets.
	OAuth2ModeRelay OAuth2Mode = "relay"
	// OAuth2ModeDirect exchanges directly with providers using
	// platform-owned client registrations.
	OAuth2ModeDirect OAuth2Mode = "direct"
)

// ConnectionServiceConfig holds the configuration for the connection service.
type ConnectionServiceConfig struct {
	Edition string `env:"EDITION" envDefault:"community"`

	MongoURI      string `env:"MONGO_URI"      envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"flowforge"`

	OAuth2Mode OAuth2Mode `env:"OAUTH2_MODE" envDefault:"direct"`

	// RelayBaseURL is the trusted relay host used in relay mode.
	RelayBaseURL string `env:"OAUTH2_RELAY_BASE_URL" envDefault:"https://secrets.flowforge.dev"`

	// EncryptionKey is the hex-encoded AES key loaded once at startup.
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

// NewConnectionServiceConfig creates the config from environment variables.
func NewConnectionServiceConfig(logger *zerolog.Logger) *ConnectionServiceConfig {
	cfg, err := env.ParseAs[ConnectionServiceConfig]()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse environment variables")
	}

	if err := cfg.validate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to validate connection service configuration")
	}

	return &cfg
}

// validate checks if the connection service configuration is valid.
func (c *ConnectionServiceConfig) validate() error {
	switch c.OAuth2Mode {
	case OAuth2ModeRelay, OAuth2ModeDirect:
	default:
		return fmt.Errorf("unknown OAUTH2_MODE %q", c.OAuth2Mode)
	}

	if c.OAuth2Mode == OAuth2ModeDirect && c.EncryptionKey == "" {
		return fmt.Errorf("missing ENCRYPTION_KEY environment variable")
	}
	if c.OAuth2Mode == OAuth2ModeRelay && c.RelayBaseURL == "" {
		return fmt.Errorf("missing OAUTH2_RELAY_BASE_URL environment variable")
	}

	return nil
}
