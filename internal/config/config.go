package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Environment string
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	// comma separated list of admin console origins
	AllowedOrigins string `toml:"allowed_origins"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// storage
	RedisHost      string `toml:"redis_host"`
	RedisPort      string `toml:"redis_port"`
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	PostgresUser   string `toml:"postgres_user"`
	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	ACWR ACWR `toml:"acwr"`
}

// ACWR holds the recalculation and integrity knobs.
type ACWR struct {
	DefaultBatchSize           int      `toml:"default_batch_size"`
	DefaultValidationLevel     string   `toml:"default_validation_level"`
	WarningFailureRatio        float64  `toml:"warning_failure_ratio"`
	StrictSampleSize           int      `toml:"strict_sample_size"`
	ParanoidTimeout            Duration `toml:"paranoid_timeout"`
	CheckpointRetentionDays    int      `toml:"checkpoint_retention_days"`
	RollbackAuditRetentionDays int      `toml:"rollback_audit_retention_days"`
	PurgeInterval              Duration `toml:"purge_interval"`
	MetricsCacheTTL            Duration `toml:"metrics_cache_ttl"`
	ConfigCacheSizeMB          int      `toml:"config_cache_size_mb"`
	PreviewRateLimitPerMin     int      `toml:"preview_rate_limit_per_min"`
	MaxConcurrentSeriesLoads   int      `toml:"max_concurrent_series_loads"`
	MigrationLockTTL           Duration `toml:"migration_lock_ttl"`
}

// Duration decodes TOML strings like "90s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (a ACWR) CheckpointRetention() time.Duration {
	return time.Duration(a.CheckpointRetentionDays) * 24 * time.Hour
}

func (a ACWR) RollbackAuditRetention() time.Duration {
	return time.Duration(a.RollbackAuditRetentionDays) * 24 * time.Hour
}

func DefaultACWR() ACWR {
	return ACWR{
		DefaultBatchSize:           1000,
		DefaultValidationLevel:     "standard",
		WarningFailureRatio:        0.05,
		StrictSampleSize:           25,
		ParanoidTimeout:            Duration{2 * time.Minute},
		CheckpointRetentionDays:    30,
		RollbackAuditRetentionDays: 90,
		PurgeInterval:              Duration{6 * time.Hour},
		MetricsCacheTTL:            Duration{5 * time.Minute},
		ConfigCacheSizeMB:          8,
		PreviewRateLimitPerMin:     30,
		MaxConcurrentSeriesLoads:   4,
		MigrationLockTTL:           Duration{10 * time.Minute},
	}
}

type Toml struct {
	Development *Config
	Production  *Config
	DockerDev   *Config `toml:"dockerdev"`
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	case "ddev", "dockerdev":
		cfg = t.DockerDev
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}
	cfg.Environment = strings.ToLower(env)
	return cfg, nil
}

// Load reads the TOML file and returns the section for env, with ACWR
// defaults filled in for missing keys.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return t.resolve(env)
}

// Parse is Load for an in-memory document.
func Parse(env, doc string) (*Config, error) {
	var t Toml
	if _, err := toml.Decode(doc, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return t.resolve(env)
}

func (t *Toml) resolve(env string) (*Config, error) {
	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	cfg.ACWR.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *ACWR) fillDefaults() {
	def := DefaultACWR()
	if a.DefaultBatchSize == 0 {
		a.DefaultBatchSize = def.DefaultBatchSize
	}
	if a.DefaultValidationLevel == "" {
		a.DefaultValidationLevel = def.DefaultValidationLevel
	}
	if a.WarningFailureRatio == 0 {
		a.WarningFailureRatio = def.WarningFailureRatio
	}
	if a.StrictSampleSize == 0 {
		a.StrictSampleSize = def.StrictSampleSize
	}
	if a.ParanoidTimeout.Duration == 0 {
		a.ParanoidTimeout = def.ParanoidTimeout
	}
	if a.CheckpointRetentionDays == 0 {
		a.CheckpointRetentionDays = def.CheckpointRetentionDays
	}
	if a.RollbackAuditRetentionDays == 0 {
		a.RollbackAuditRetentionDays = def.RollbackAuditRetentionDays
	}
	if a.PurgeInterval.Duration == 0 {
		a.PurgeInterval = def.PurgeInterval
	}
	if a.MetricsCacheTTL.Duration == 0 {
		a.MetricsCacheTTL = def.MetricsCacheTTL
	}
	if a.ConfigCacheSizeMB == 0 {
		a.ConfigCacheSizeMB = def.ConfigCacheSizeMB
	}
	if a.PreviewRateLimitPerMin == 0 {
		a.PreviewRateLimitPerMin = def.PreviewRateLimitPerMin
	}
	if a.MaxConcurrentSeriesLoads == 0 {
		a.MaxConcurrentSeriesLoads = def.MaxConcurrentSeriesLoads
	}
	if a.MigrationLockTTL.Duration == 0 {
		a.MigrationLockTTL = def.MigrationLockTTL
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	a := c.ACWR
	if a.DefaultBatchSize < 1 || a.DefaultBatchSize > 10000 {
		errs = append(errs, fmt.Errorf("acwr.default_batch_size out of [1, 10000]: %d", a.DefaultBatchSize))
	}
	switch a.DefaultValidationLevel {
	case "basic", "standard", "strict", "paranoid":
	default:
		errs = append(errs, fmt.Errorf("acwr.default_validation_level unknown: %q", a.DefaultValidationLevel))
	}
	if a.WarningFailureRatio < 0 || a.WarningFailureRatio >= 1 {
		errs = append(errs, fmt.Errorf("acwr.warning_failure_ratio out of [0, 1): %v", a.WarningFailureRatio))
	}
	if a.CheckpointRetentionDays < 0 || a.RollbackAuditRetentionDays < 0 {
		errs = append(errs, errors.New("acwr retention days must not be negative"))
	}
	return errors.Join(errs...)
}

// Origins splits AllowedOrigins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
