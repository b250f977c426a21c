// Package config loads the margin book engine's configuration from
// built-in defaults, a YAML file, and environment variables, in that
// order of increasing precedence as handled by viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the engine's top-level configuration.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	// Store configures the embedded KV store backing the order books
	// and the archive.
	Store struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	// Params configures the read-only admin/partner parameter store.
	// Rows are read fresh at the top of every trade, never cached
	// across trades.
	Params struct {
		DSN           string `mapstructure:"dsn"`
		SchemaVersion string `mapstructure:"schema_version"`
	} `mapstructure:"params"`

	Events struct {
		NatsURL string `mapstructure:"nats_url"`
		Subject string `mapstructure:"subject"`
	} `mapstructure:"events"`

	Trade struct {
		DefaultFeeBps      uint16 `mapstructure:"default_fee_bps"`
		MaxTokenDifference uint64 `mapstructure:"max_token_difference"`
		MaxCloseIndices    int    `mapstructure:"max_close_indices"`
	} `mapstructure:"trade"`

	Maintenance struct {
		SweepIntervalSeconds int     `mapstructure:"sweep_interval_seconds"`
		SweepRatePerSecond   float64 `mapstructure:"sweep_rate_per_second"`
		Workers              int     `mapstructure:"workers"`
	} `mapstructure:"maintenance"`

	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`

	API struct {
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		JWTSecret      string   `mapstructure:"jwt_secret"`
		RateLimit      string   `mapstructure:"rate_limit"`
	} `mapstructure:"api"`
}

var (
	config *Config
	once   sync.Once
)

// LoadConfig loads the configuration from configPath, falling back to
// defaults and MARGINBOOK_* environment variables for anything unset.
func LoadConfig(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		config = &Config{}
		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/marginbook")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("MARGINBOOK")

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config file: %w", readErr)
				return
			}
		}

		if unmarshalErr := v.Unmarshal(config); unmarshalErr != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
			return
		}
	})

	return config, err
}

// GetConfig returns the process-wide configuration, loading it with
// defaults if LoadConfig has not yet been called.
func GetConfig() *Config {
	if config == nil {
		if _, err := LoadConfig(""); err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return config
}

func setDefaults() {
	config.Server.Host = "0.0.0.0"
	config.Server.Port = 8080

	config.Store.Path = filepath.Join(os.TempDir(), "marginbook.db")

	config.Params.SchemaVersion = "1.0.0"

	config.Events.NatsURL = "nats://127.0.0.1:4222"
	config.Events.Subject = "margin.trades.settled"

	config.Trade.DefaultFeeBps = 100
	config.Trade.MaxTokenDifference = 20
	config.Trade.MaxCloseIndices = 20

	config.Maintenance.SweepIntervalSeconds = 30
	config.Maintenance.SweepRatePerSecond = 5
	config.Maintenance.Workers = 4

	config.Monitoring.PrometheusPort = 9090
	config.Monitoring.LogLevel = "info"

	config.API.AllowedOrigins = []string{"*"}
	config.API.RateLimit = "100-M"
}

// InitLogger builds the process logger according to the configured level.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch cfg.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
