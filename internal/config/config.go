// Package config loads application configuration from an optional YAML
// file and SELLOUT_-prefixed environment variables, and owns the global
// logger setup.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PipelineConfig tunes job processing.
type PipelineConfig struct {
	MinConfidence     float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	BatchSize         int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxInsertAttempts int     `yaml:"max_insert_attempts" mapstructure:"max_insert_attempts"`
	JobTimeoutSecs    int     `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
	ReportingCurrency string  `yaml:"reporting_currency" mapstructure:"reporting_currency"`
	MinYear           int     `yaml:"min_year" mapstructure:"min_year"`
	MaxYear           int     `yaml:"max_year" mapstructure:"max_year"`
	FormatsDir        string  `yaml:"formats_dir" mapstructure:"formats_dir"`
	SpoolDir          string  `yaml:"spool_dir" mapstructure:"spool_dir"`
}

// JobTimeout returns the configured per-job wall clock limit.
func (c PipelineConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSecs) * time.Second
}

// WorkerConfig sizes the in-process worker pool.
type WorkerConfig struct {
	Count      int `yaml:"count" mapstructure:"count"`
	QueueDepth int `yaml:"queue_depth" mapstructure:"queue_depth"`
}

// NotifyConfig configures terminal-event delivery.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int `yaml:"port" mapstructure:"port"`
	MaxUploadBytes int `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SELLOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "sellout.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("pipeline.min_confidence", 0.5)
	v.SetDefault("pipeline.batch_size", 1000)
	v.SetDefault("pipeline.max_insert_attempts", 3)
	v.SetDefault("pipeline.job_timeout_secs", 600)
	v.SetDefault("pipeline.reporting_currency", "EUR")
	v.SetDefault("pipeline.min_year", 2015)
	v.SetDefault("pipeline.spool_dir", "/var/spool/sellout")
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
