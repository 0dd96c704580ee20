package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Datasets  DatasetsConfig  `yaml:"datasets" mapstructure:"datasets"`
	Mirror    MirrorConfig    `yaml:"mirror" mapstructure:"mirror"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Migrate   MigrateConfig   `yaml:"migrate" mapstructure:"migrate"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Runlog    RunlogConfig    `yaml:"runlog" mapstructure:"runlog"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DatasetsConfig holds the two archive/mirror pairs.
type DatasetsConfig struct {
	Primary   DatasetConfig `yaml:"primary" mapstructure:"primary"`
	Secondary DatasetConfig `yaml:"secondary" mapstructure:"secondary"`
}

// DatasetConfig locates one dataset. Mirror is a file path for sqlite and a
// DSN for postgres.
type DatasetConfig struct {
	Label      string `yaml:"label" mapstructure:"label"`
	ArchiveDir string `yaml:"archive_dir" mapstructure:"archive_dir"`
	Mirror     string `yaml:"mirror" mapstructure:"mirror"`
}

// MirrorConfig selects the mirror backend.
type MirrorConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	RetryAttempts int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ReconcileConfig tunes the reconciliation engine.
type ReconcileConfig struct {
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
	TailChunkSize int `yaml:"tail_chunk_size" mapstructure:"tail_chunk_size"`
}

// MigrateConfig configures the external migration executable.
type MigrateConfig struct {
	Binary      string `yaml:"binary" mapstructure:"binary"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	MaxItems int    `yaml:"max_items" mapstructure:"max_items"`
	Format   string `yaml:"format" mapstructure:"format"`
}

// RunlogConfig locates the run history database. An empty path disables it.
type RunlogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// NotifyConfig configures discrepancy alerts. An empty URL disables them.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Dataset returns the settings for ds.
func (c *Config) Dataset(ds model.Dataset) DatasetConfig {
	if ds == model.DatasetSecondary {
		return c.Datasets.Secondary
	}
	return c.Datasets.Primary
}

// Validate checks value ranges that viper cannot express.
func (c *Config) Validate() error {
	var errs []string

	switch c.Mirror.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("mirror.driver must be sqlite or postgres, got %q", c.Mirror.Driver))
	}
	if c.Mirror.RetryAttempts < 1 {
		errs = append(errs, "mirror.retry_attempts must be >= 1")
	}
	if c.Reconcile.Concurrency < 1 || c.Reconcile.Concurrency > 64 {
		errs = append(errs, "reconcile.concurrency must be between 1 and 64")
	}
	if c.Reconcile.TailChunkSize < 1 {
		errs = append(errs, "reconcile.tail_chunk_size must be > 0")
	}
	if c.Migrate.BatchSize < 1 {
		errs = append(errs, "migrate.batch_size must be > 0")
	}
	if c.Migrate.TimeoutSecs < 1 {
		errs = append(errs, "migrate.timeout_secs must be > 0")
	}
	if c.Report.MaxItems < 1 {
		errs = append(errs, "report.max_items must be > 0")
	}
	for _, ds := range model.Datasets() {
		d := c.Dataset(ds)
		if d.ArchiveDir == "" {
			errs = append(errs, fmt.Sprintf("datasets.%s.archive_dir is required", ds))
		}
		if d.Mirror == "" {
			errs = append(errs, fmt.Sprintf("datasets.%s.mirror is required", ds))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MIRRORSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("datasets.primary.label", "VN")
	v.SetDefault("datasets.primary.archive_dir", "market_data")
	v.SetDefault("datasets.primary.mirror", "market_data.db")
	v.SetDefault("datasets.secondary.label", "Crypto")
	v.SetDefault("datasets.secondary.archive_dir", "crypto_data")
	v.SetDefault("datasets.secondary.mirror", "crypto_data.db")
	v.SetDefault("mirror.driver", "sqlite")
	v.SetDefault("mirror.retry_attempts", 3)
	v.SetDefault("reconcile.concurrency", 4)
	v.SetDefault("reconcile.tail_chunk_size", 4096)
	v.SetDefault("migrate.binary", "./target/release/migrate_to_sqlite")
	v.SetDefault("migrate.batch_size", 1000)
	v.SetDefault("migrate.timeout_secs", 300)
	v.SetDefault("report.max_items", 10)
	v.SetDefault("report.format", "text")
	v.SetDefault("runlog.path", ".mirrorsync/runs.db")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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
