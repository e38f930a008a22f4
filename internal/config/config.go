package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ehr/rips/internal/platform/middleware"
)

type Config struct {
	Port           string        `mapstructure:"PORT" validate:"required,numeric"`
	Env            string        `mapstructure:"ENV" validate:"oneof=development test production"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL" validate:"omitempty,url"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS" validate:"min=1,max=1000"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS" validate:"min=0,ltefield=DBMaxConns"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	Workers        int           `mapstructure:"RIPS_WORKERS" validate:"min=1,max=256"`
	Delimiter      string        `mapstructure:"RIPS_DELIMITER" validate:"required"`
	ASCIIFold      bool          `mapstructure:"RIPS_ASCII_FOLD"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT" validate:"min=1s"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RIPS_WORKERS", "RIPS_DELIMITER", "RIPS_ASCII_FOLD",
	"BODY_LIMIT", "REQUEST_TIMEOUT",
}

// Load reads the environment and an optional .env file. It does not
// validate; call Validate before using the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RIPS_WORKERS", 4)
	v.SetDefault("RIPS_DELIMITER", ",")
	v.SetDefault("RIPS_ASCII_FOLD", false)
	v.SetDefault("BODY_LIMIT", "10M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasDatabase reports whether reference codes come from Postgres rather than
// the built-in catalog.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// Separator is the delimited-output field separator.
func (c *Config) Separator() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	return r
}

// Level is the parsed LOG_LEVEL; unknown values were rejected by Validate.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks ranges with struct tags, then the values tags cannot
// express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if utf8.RuneCountInString(c.Delimiter) != 1 {
		return fmt.Errorf("RIPS_DELIMITER must be a single character, got %q", c.Delimiter)
	}
	if strings.ContainsAny(c.Delimiter, "\r\n\"") {
		return fmt.Errorf("RIPS_DELIMITER %q cannot be a quote or line break", c.Delimiter)
	}
	if _, err := middleware.ParseLimit(c.BodyLimit); err != nil {
		return fmt.Errorf("BODY_LIMIT: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.IsProduction() {
		for _, o := range c.CORSOrigins {
			if o == "*" {
				return fmt.Errorf("CORS_ORIGINS cannot be \"*\" in production")
			}
		}
	}

	return nil
}
