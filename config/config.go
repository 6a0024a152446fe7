/*
Package config loads service configuration.

SOURCES (later wins):
  1. Defaults below (the binary runs with no config at all)
  2. configs/config.yaml, optional
  3. .env file, optional, loaded into the process environment
  4. HARVEST_* environment variables, e.g. HARVEST_DATABASE_DSN,
     HARVEST_SETTLEMENT_SALE_CROPS=french_beans,snow_peas
*/
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	Server struct {
		Port               int           `mapstructure:"port"`
		ReadTimeout        time.Duration `mapstructure:"read_timeout"`
		WriteTimeout       time.Duration `mapstructure:"write_timeout"`
		CorsAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	} `mapstructure:"server"`

	Database struct {
		Driver string `mapstructure:"driver"` // sqlite3 | pgx
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`

	JWT struct {
		// Empty secret disables token auth; identity then comes from headers.
		Secret string `mapstructure:"secret"`
		Issuer string `mapstructure:"issuer"`
	} `mapstructure:"jwt"`

	Logger struct {
		Development bool   `mapstructure:"development"`
		Level       string `mapstructure:"level"`
		Encoding    string `mapstructure:"encoding"`
	} `mapstructure:"logger"`

	Settlement struct {
		SaleCrops []string `mapstructure:"sale_crops"`
	} `mapstructure:"settlement"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	Sweep struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"sweep"`
}

// Load reads configuration from path (may not exist), .env and the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.cors_allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "harvest.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "harvest-ledger")
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("settlement.sale_crops", []string{"french_beans"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", 10*time.Minute)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
