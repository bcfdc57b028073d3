package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"keyward.org/internal/credential"
	"keyward.org/internal/store"
)

// Prefix is prepended to every environment variable name.
const Prefix = "keyward"

// Config holds process configuration read from KEYWARD_* variables.
type Config struct {
	PGDSN             string        `envconfig:"PG_DSN" required:"true" validate:"required"`
	PGMaxOpenConns    int           `envconfig:"PG_MAX_OPEN_CONNS" default:"50" validate:"gte=1"`
	PGMaxIdleConns    int           `envconfig:"PG_MAX_IDLE_CONNS" default:"25" validate:"gte=0,ltefield=PGMaxOpenConns"`
	PGConnMaxLifetime time.Duration `envconfig:"PG_CONN_MAX_LIFETIME" default:"15m"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	SigningModeName string `envconfig:"SIGNING_MODE" default:"symmetric"`
	SigningSecret   string `envconfig:"SIGNING_SECRET"`
	SigningKeyFile  string `envconfig:"SIGNING_KEY_FILE"`
	SigningIssuer   string `envconfig:"SIGNING_ISSUER" default:"keyward"`

	TokenTTLRaw       string `envconfig:"TOKEN_TTL" default:"24h"`
	PasswordMinLength int    `envconfig:"PASSWORD_MIN_LENGTH" default:"8" validate:"gte=1,lte=72"`
	BcryptCost        int    `envconfig:"BCRYPT_COST" default:"10" validate:"gte=4,lte=31"`

	// Resolved by Load.
	SigningMode credential.SigningMode `ignored:"true"`
	SigningKey  []byte                 `ignored:"true"`
	TokenTTL    time.Duration          `ignored:"true"`
}

var validate = validator.New()

// Load reads the environment, applies defaults and resolves the signing key.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	mode, err := credential.ParseSigningMode(c.SigningModeName)
	if err != nil {
		return err
	}
	c.SigningMode = mode

	switch mode {
	case credential.Symmetric:
		if len(c.SigningSecret) < credential.MinSecretLength {
			return fmt.Errorf("config: KEYWARD_SIGNING_SECRET must be at least %d bytes", credential.MinSecretLength)
		}
		c.SigningKey = []byte(c.SigningSecret)
	case credential.Asymmetric:
		if strings.TrimSpace(c.SigningKeyFile) == "" {
			return errors.New("config: KEYWARD_SIGNING_KEY_FILE is required in asymmetric mode")
		}
		key, err := os.ReadFile(c.SigningKeyFile)
		if err != nil {
			return fmt.Errorf("config: read signing key: %w", err)
		}
		c.SigningKey = key
	}

	ttl, err := credential.ParseTTL(c.TokenTTLRaw)
	if err != nil {
		return err
	}
	c.TokenTTL = ttl
	return nil
}

// StoreOptions returns the pool settings for store.Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		MaxOpenConns:    c.PGMaxOpenConns,
		MaxIdleConns:    c.PGMaxIdleConns,
		ConnMaxLifetime: c.PGConnMaxLifetime,
	}
}

// Signer builds the credential signer for the resolved mode.
func (c *Config) Signer() (*credential.Signer, error) {
	return credential.NewSigner(c.SigningMode, c.SigningKey, c.SigningIssuer)
}
