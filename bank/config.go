package bank

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/alovak/bankcards/internal/cardgen"
)

// Config is a configuration for the bankcards application
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"localhost:9090"`

	// RepoBackend is pg or mem. mem keeps everything in process memory and
	// must be enabled explicitly with AllowMemBackend.
	RepoBackend      string        `env:"REPO_BACKEND"         envDefault:"pg"`
	AllowMemBackend  bool          `env:"ALLOW_MEM_BACKEND"    envDefault:"false"`
	DBDSN            string        `env:"DB_DSN"`
	StatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"3s"`
	MigrateOnStart   bool          `env:"DB_MIGRATE_ON_START"  envDefault:"false"`

	PANHashKey    string `env:"PAN_HASH_KEY"        envDefault:"dev-secret-pepper"`
	BIN           string `env:"CARD_BIN"            envDefault:"444455"`
	ValidityYears int    `env:"CARD_VALIDITY_YEARS" envDefault:"4"`
	// ExpiryTZ is an IANA timezone name for expiry computations.
	ExpiryTZ string `env:"CARD_EXPIRY_TZ"`

	// CryptoAlgorithm is aes-gcm, xchacha20-poly1305 or pkcs11.
	CryptoAlgorithm string `env:"CARD_CRYPTO_ALGORITHM" envDefault:"aes-gcm"`
	// CryptoKey is the base64 encoded software key.
	CryptoKey   string `env:"CARD_CRYPTO_KEY"    envDefault:"ZGV2LWNhcmQta2V5LTMyLWJ5dGVzLWxvbmctISEhISE="`
	HSMLibPath  string `env:"HSM_LIB_PATH"`
	HSMSlot     uint   `env:"HSM_SLOT"           envDefault:"0"`
	HSMPin      string `env:"HSM_PIN"`
	HSMKeyLabel string `env:"HSM_KEY_LABEL"      envDefault:"bankcards-pan"`

	TransferCeiling decimal.Decimal `env:"TRANSFER_MAX_AMOUNT" envDefault:"1000000000"`

	KafkaBrokers  []string `env:"KAFKA_BROKERS"        envSeparator:","`
	KafkaGroup    string   `env:"KAFKA_GROUP"          envDefault:"bankcards-group"`
	IdentityTopic string   `env:"KAFKA_IDENTITY_TOPIC" envDefault:"user-registration-topic"`
	BlockTopic    string   `env:"KAFKA_BLOCK_TOPIC"    envDefault:"block-card-topic"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the envDefault values without looking at the
// environment, with the in-memory backend enabled. Used by tests.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	cfg.RepoBackend = "mem"
	cfg.AllowMemBackend = true
	return cfg
}

func (c *Config) Validate() error {
	if err := cardgen.ValidateBIN(c.BIN); err != nil {
		return fmt.Errorf("CARD_BIN: %w", err)
	}
	if c.ValidityYears <= 0 {
		return fmt.Errorf("CARD_VALIDITY_YEARS must be positive")
	}
	if !c.TransferCeiling.IsPositive() {
		return fmt.Errorf("TRANSFER_MAX_AMOUNT must be positive")
	}
	if c.PANHashKey == "" {
		return fmt.Errorf("PAN_HASH_KEY is required")
	}
	return nil
}

// CryptoKeyBytes decodes CryptoKey.
func (c *Config) CryptoKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.CryptoKey)
	if err != nil {
		return nil, fmt.Errorf("CARD_CRYPTO_KEY is not base64: %w", err)
	}
	return key, nil
}
