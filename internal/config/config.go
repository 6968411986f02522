package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DBDriver           string        `mapstructure:"DB_DRIVER"`
	DBDSN              string        `mapstructure:"DB_DSN"`
	DBMaxConns         int           `mapstructure:"DB_MAX_CONNS"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	JWTTTL             time.Duration `mapstructure:"JWT_TTL"`
	ResetTTL           time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	FCMCredentialsFile string        `mapstructure:"FCM_CREDENTIALS_FILE"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	LogFormat          string        `mapstructure:"LOG_FORMAT"`
	ElasticsearchURL   string        `mapstructure:"ELASTICSEARCH_URL"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	MasterUsername     string        `mapstructure:"MASTER_USERNAME"`
	MasterEmail        string        `mapstructure:"MASTER_EMAIL"`
	MasterPassword     string        `mapstructure:"MASTER_PASSWORD"`
}

var keys = []string{
	"PORT", "ENV", "DB_DRIVER", "DB_DSN", "DB_MAX_CONNS",
	"JWT_SECRET", "JWT_TTL", "RESET_TOKEN_TTL", "FCM_CREDENTIALS_FILE",
	"LOG_LEVEL", "LOG_FORMAT", "ELASTICSEARCH_URL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ORIGINS",
	"MASTER_USERNAME", "MASTER_EMAIL", "MASTER_PASSWORD",
}

// Load reads .env (if present) into the process environment, then layers
// the environment over the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment only")
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("JWT_TTL", "12h")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MASTER_USERNAME", "master")
	v.SetDefault("MASTER_EMAIL", "master@localhost")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is safe to serve with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql, postgres or sqlite, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		log.Warn().Msg("JWT_SECRET not set, using an insecure development secret")
		c.JWTSecret = "outpatient-dev-secret"
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
