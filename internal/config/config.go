package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Collect    CollectConfig    `yaml:"collect" mapstructure:"collect"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig tunes ingestion runs.
type IngestConfig struct {
	Workers            int `yaml:"workers" mapstructure:"workers"`
	QueueSize          int `yaml:"queue_size" mapstructure:"queue_size"`
	MaxAttempts        int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs   int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	RecordTimeoutSecs  int `yaml:"record_timeout_secs" mapstructure:"record_timeout_secs"`
	RunTimeoutMins     int `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
	RetentionDays      int `yaml:"retention_days" mapstructure:"retention_days"`
	StaleLockAfterMins int `yaml:"stale_lock_after_mins" mapstructure:"stale_lock_after_mins"`
}

// CollectConfig points at the sources file.
type CollectConfig struct {
	SourcesFile string `yaml:"sources_file" mapstructure:"sources_file"`
}

// ScheduleConfig holds cron specs (with seconds) for scheduled runs.
type ScheduleConfig struct {
	Specs []string `yaml:"specs" mapstructure:"specs"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// NotionConfig holds Notion API credentials and the manual-entry lead database.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	AbortRateThreshold  float64 `yaml:"abort_rate_threshold" mapstructure:"abort_rate_threshold"`
	SkipRateThreshold   float64 `yaml:"skip_rate_threshold" mapstructure:"skip_rate_threshold"`
	StaleRunHours       int     `yaml:"stale_run_hours" mapstructure:"stale_run_hours"`
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
	v.SetConfigName("leadtool")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADTOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadtool.db")
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_size", 256)
	v.SetDefault("ingest.max_attempts", 4)
	v.SetDefault("ingest.initial_backoff_ms", 50)
	v.SetDefault("ingest.max_backoff_ms", 2000)
	v.SetDefault("ingest.record_timeout_secs", 30)
	v.SetDefault("ingest.run_timeout_mins", 120)
	v.SetDefault("ingest.retention_days", 365)
	v.SetDefault("ingest.stale_lock_after_mins", 360)
	v.SetDefault("collect.sources_file", "sources.yaml")
	v.SetDefault("schedule.specs", []string{"0 0 2 1 * *", "0 0 2 15 * *"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	// Unmarshal only sees env vars for keys viper already knows.
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.lead_db", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24*35)
	v.SetDefault("monitoring.abort_rate_threshold", 0.25)
	v.SetDefault("monitoring.skip_rate_threshold", 0.2)
	v.SetDefault("monitoring.stale_run_hours", 6)
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

// Validate checks the settings a command mode depends on. Modes are "run",
// "serve" and "schedule"; every problem found is reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	if c.Ingest.Workers < 1 || c.Ingest.Workers > 64 {
		problems = append(problems, "ingest.workers must be between 1 and 64")
	}
	if c.Ingest.QueueSize < 1 {
		problems = append(problems, "ingest.queue_size must be > 0")
	}
	if c.Ingest.MaxAttempts < 1 {
		problems = append(problems, "ingest.max_attempts must be > 0")
	}
	if c.Ingest.RetentionDays < 1 {
		problems = append(problems, "ingest.retention_days must be > 0")
	}

	switch mode {
	case "run":
		if c.Collect.SourcesFile == "" {
			problems = append(problems, "collect.sources_file is required")
		}
	case "schedule":
		if c.Collect.SourcesFile == "" {
			problems = append(problems, "collect.sources_file is required")
		}
		if len(c.Schedule.Specs) == 0 {
			problems = append(problems, "schedule.specs must list at least one cron spec")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
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
