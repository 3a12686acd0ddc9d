// Package config loads process-wide configuration from the environment.
//
// Keys are read once at startup and never change afterwards; rotating the body key or the
// token secret requires a restart. List values use ';' as separator.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/footprint-labs/footprint/internal/crypto"
)

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Crypto    CryptoConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Database  DatabaseConfig
}

type ServerConfig struct {
	Host              string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port              int           `env:"SERVER_PORT,default=3000"`
	ReadTimeout       time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	ReadHeaderTimeout time.Duration `env:"SERVER_READ_HEADER_TIMEOUT,default=5s"`
	WriteTimeout      time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout   time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	// AuditPath appends boundary rejections as JSONL when set.
	AuditPath string `env:"AUDIT_LOG_PATH"`
	AuditSize int    `env:"AUDIT_LOG_SIZE,default=200"`
}

// CryptoConfig configures the request body cipher.
type CryptoConfig struct {
	Key            string   `env:"FOOTPRINT_ENCRYPT_KEY"`
	Encoding       string   `env:"CRYPTO_ENCODING,default=hex"`
	MaxBodyBytes   int64    `env:"CRYPTO_MAX_BODY_BYTES,default=10485760"`
	DecryptMethods []string `env:"CRYPTO_DECRYPT_METHODS,default=POST;PUT;PATCH"`
	SkipPaths      []string `env:"CRYPTO_SKIP_PATHS"`
}

// Cipher builds the AES-128 body cipher from the configured key and encoding.
func (c CryptoConfig) Cipher() (*crypto.AES128, error) {
	key, err := crypto.ParseKey(c.Key)
	if err != nil {
		return nil, fmt.Errorf("FOOTPRINT_ENCRYPT_KEY: %w", err)
	}
	enc, err := crypto.ParseEncoding(c.Encoding)
	if err != nil {
		return nil, fmt.Errorf("CRYPTO_ENCODING: %w", err)
	}
	return crypto.NewAES128(key, enc)
}

// AuthConfig configures bearer credential verification.
type AuthConfig struct {
	Secret    string        `env:"FOOTPRINT_JWT_SECRET"`
	Header    string        `env:"AUTH_HEADER,default=X-ACCESS-TOKEN"`
	Leeway    time.Duration `env:"AUTH_LEEWAY,default=0s"`
	TokenTTL  time.Duration `env:"AUTH_TOKEN_TTL,default=720h"`
	SkipPaths []string      `env:"AUTH_SKIP_PATHS,default=/health;/metrics;/users/auth/login"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `env:"RATE_LIMIT_RPS,default=20"`
	Burst             int `env:"RATE_LIMIT_BURST,default=40"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// DatabaseConfig selects the account and walk stores. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	Driver          string        `env:"DATABASE_DRIVER,default=postgres"`
	DSN             string        `env:"DATABASE_DSN"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=5m"`
	Migrate         bool          `env:"DATABASE_MIGRATE,default=false"`
}

// Load reads an optional .env file from the working directory, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load() // allow .env for local runs
	return decode()
}

// LoadFile is Load with an explicit env file that must exist.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("load env file %s: %w", path, err)
	}
	return decode()
}

func decode() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	for i, m := range c.Crypto.DecryptMethods {
		c.Crypto.DecryptMethods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	c.Crypto.SkipPaths = trimAll(c.Crypto.SkipPaths)
	c.Auth.SkipPaths = trimAll(c.Auth.SkipPaths)
	c.CORS.AllowedOrigins = trimAll(c.CORS.AllowedOrigins)
	c.Auth.Header = strings.TrimSpace(c.Auth.Header)
}

// Validate checks that both boundary keys are present and usable.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Crypto.Cipher(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("FOOTPRINT_JWT_SECRET is required"))
	}
	if c.Auth.Header == "" {
		errs = append(errs, errors.New("AUTH_HEADER must not be empty"))
	}
	if c.Crypto.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("CRYPTO_MAX_BODY_BYTES must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
