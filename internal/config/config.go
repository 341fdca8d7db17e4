package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Unknown-column policies for panel-result uploads. "warn" reports
// unregistered columns and drops them; "reject" escalates them to a
// syntax error that blocks upload.
const (
	UnknownColumnWarn   = "warn"
	UnknownColumnReject = "reject"
)

type Config struct {
	Port                string `mapstructure:"PORT"`
	Env                 string `mapstructure:"ENV"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir       string `mapstructure:"MIGRATIONS_DIR"`
	UploadMaxBytes      int64  `mapstructure:"UPLOAD_MAX_BYTES"`
	UnknownColumnPolicy string `mapstructure:"UPLOAD_UNKNOWN_COLUMN_POLICY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("UPLOAD_MAX_BYTES", 16<<20)
	v.SetDefault("UPLOAD_UNKNOWN_COLUMN_POLICY", UnknownColumnWarn)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("UPLOAD_MAX_BYTES")
	v.BindEnv("UPLOAD_UNKNOWN_COLUMN_POLICY")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.UnknownColumnPolicy != UnknownColumnWarn && cfg.UnknownColumnPolicy != UnknownColumnReject {
		return nil, fmt.Errorf("UPLOAD_UNKNOWN_COLUMN_POLICY must be %q or %q", UnknownColumnWarn, UnknownColumnReject)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}
