package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "VN", cfg.Datasets.Primary.Label)
	assert.Equal(t, "market_data", cfg.Datasets.Primary.ArchiveDir)
	assert.Equal(t, "market_data.db", cfg.Datasets.Primary.Mirror)
	assert.Equal(t, "Crypto", cfg.Datasets.Secondary.Label)
	assert.Equal(t, "crypto_data", cfg.Datasets.Secondary.ArchiveDir)
	assert.Equal(t, "crypto_data.db", cfg.Datasets.Secondary.Mirror)
	assert.Equal(t, "sqlite", cfg.Mirror.Driver)
	assert.Equal(t, 3, cfg.Mirror.RetryAttempts)
	assert.Equal(t, 4, cfg.Reconcile.Concurrency)
	assert.Equal(t, 4096, cfg.Reconcile.TailChunkSize)
	assert.Equal(t, "./target/release/migrate_to_sqlite", cfg.Migrate.Binary)
	assert.Equal(t, 1000, cfg.Migrate.BatchSize)
	assert.Equal(t, 300, cfg.Migrate.TimeoutSecs)
	assert.Equal(t, 10, cfg.Report.MaxItems)
	assert.Equal(t, "text", cfg.Report.Format)
	assert.Equal(t, ".mirrorsync/runs.db", cfg.Runlog.Path)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.Equal(t, 10, cfg.Notify.TimeoutSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
datasets:
  secondary:
    archive_dir: /data/crypto
mirror:
  driver: postgres
reconcile:
  concurrency: 8
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/crypto", cfg.Datasets.Secondary.ArchiveDir)
	assert.Equal(t, "postgres", cfg.Mirror.Driver)
	assert.Equal(t, 8, cfg.Reconcile.Concurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, "Crypto", cfg.Datasets.Secondary.Label)
	assert.Equal(t, 1000, cfg.Migrate.BatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
mirror:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("MIRRORSYNC_MIRROR_DRIVER", "sqlite")
	t.Setenv("MIRRORSYNC_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Mirror.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MIRRORSYNC_DATASETS_PRIMARY_MIRROR", "/var/lib/vn.db")
	t.Setenv("MIRRORSYNC_MIGRATE_TIMEOUT_SECS", "60")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vn.db", cfg.Datasets.Primary.Mirror)
	assert.Equal(t, 60, cfg.Migrate.TimeoutSecs)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("mirror: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestDataset(t *testing.T) {
	cfg := &Config{Datasets: DatasetsConfig{
		Primary:   DatasetConfig{Label: "VN"},
		Secondary: DatasetConfig{Label: "Crypto"},
	}}
	assert.Equal(t, "VN", cfg.Dataset(model.DatasetPrimary).Label)
	assert.Equal(t, "Crypto", cfg.Dataset(model.DatasetSecondary).Label)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Datasets.Primary = DatasetConfig{Label: "VN", ArchiveDir: "market_data", Mirror: "market_data.db"}
	cfg.Datasets.Secondary = DatasetConfig{Label: "Crypto", ArchiveDir: "crypto_data", Mirror: "crypto_data.db"}
	cfg.Mirror = MirrorConfig{Driver: "sqlite", RetryAttempts: 3}
	cfg.Reconcile = ReconcileConfig{Concurrency: 4, TailChunkSize: 4096}
	cfg.Migrate = MigrateConfig{Binary: "migrate", BatchSize: 1000, TimeoutSecs: 300}
	cfg.Report = ReportConfig{MaxItems: 10, Format: "text"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Mirror.Driver = "mysql" }, "mirror.driver must be sqlite or postgres"},
		{"zero retries", func(c *Config) { c.Mirror.RetryAttempts = 0 }, "mirror.retry_attempts"},
		{"zero concurrency", func(c *Config) { c.Reconcile.Concurrency = 0 }, "reconcile.concurrency must be between 1 and 64"},
		{"huge concurrency", func(c *Config) { c.Reconcile.Concurrency = 65 }, "reconcile.concurrency must be between 1 and 64"},
		{"zero chunk", func(c *Config) { c.Reconcile.TailChunkSize = 0 }, "tail_chunk_size"},
		{"zero batch", func(c *Config) { c.Migrate.BatchSize = 0 }, "migrate.batch_size"},
		{"zero timeout", func(c *Config) { c.Migrate.TimeoutSecs = 0 }, "migrate.timeout_secs"},
		{"zero max items", func(c *Config) { c.Report.MaxItems = 0 }, "report.max_items"},
		{"missing archive", func(c *Config) { c.Datasets.Secondary.ArchiveDir = "" }, "datasets.secondary.archive_dir is required"},
		{"missing mirror", func(c *Config) { c.Datasets.Primary.Mirror = "" }, "datasets.primary.mirror is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
