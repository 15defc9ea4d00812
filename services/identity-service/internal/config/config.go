package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// IdentityServiceConfig holds the configuration for the identity service.
type IdentityServiceConfig struct {
	Edition string `env:"EDITION" envDefault:"community"`

	MongoURI      string `env:"MONGO_URI"      envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"flowforge"`

	// EncryptionKey is the hex-encoded AES key loaded once at startup.
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// DefaultPassword, when set, is assigned to identities created through
	// federated sign-in instead of a random one.
	DefaultPassword string `env:"DEFAULT_PASSWORD"`

	FrontendURL string `env:"FRONTEND_URL"`

	Token  TokenConfig
	Google GoogleConfig
}

// TokenConfig holds the settings for issued platform tokens.
type TokenConfig struct {
	Secret    string        `env:"TOKEN_SECRET"`
	Issuer    string        `env:"TOKEN_ISSUER"    envDefault:"flowforge"`
	ExpiresIn time.Duration `env:"TOKEN_EXPIRES_IN" envDefault:"168h"`
}

// GoogleConfig holds the Google federated sign-in client registration.
type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `env:"GOOGLE_REDIRECT_URL"`
}

// NewIdentityServiceConfig creates the config from environment variables.
func NewIdentityServiceConfig(logger *zerolog.Logger) *IdentityServiceConfig {
	cfg, err := env.ParseAs[IdentityServiceConfig]()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse environment variables")
	}

	if err := cfg.validate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to validate identity service configuration")
	}

	return &cfg
}

// validate checks if the identity service configuration is valid.
func (c *IdentityServiceConfig) validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("missing ENCRYPTION_KEY environment variable")
	}
	if c.Token.Secret == "" {
		return fmt.Errorf("missing TOKEN_SECRET environment variable")
	}
	return nil
}
