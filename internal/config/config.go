// Package config loads and validates the warden configuration tree.
package config

import (
	"fmt"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

// Config is the root configuration structure for warden.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Credits   CreditsConfig   `yaml:"credits"`
	Tools     ToolsConfig     `yaml:"tools"`
	Proactive ProactiveConfig `yaml:"proactive"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Vertex    VertexConfig    `yaml:"vertex"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3".
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	// Enabled switches agent locks and proactive gates to redis. When
	// false a process-local locker is used.
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig bounds one processing run.
type EngineConfig struct {
	// StepBudget caps LLM steps per processing run.
	StepBudget int `yaml:"step_budget"`

	// LockTTL is the per-agent processing lease.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// Workers sizes the processing queue worker pool.
	Workers int `yaml:"workers"`

	// StepTimeout bounds one LLM step including tool dispatch.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// SummarizerTier routes compaction summaries.
	SummarizerTier models.TierKey `yaml:"summarizer_tier"`
}

// CreditsConfig sets the platform-wide daily credit policy. Per-plan rows
// in the database override these.
type CreditsConfig struct {
	SliderMin int64 `yaml:"slider_min"`
	SliderMax int64 `yaml:"slider_max"`

	// HardLimitMultiplier scales the soft target to the hard limit.
	// Fixed-point 6-dp; 2000000 is 2.0x.
	HardLimitMultiplier int64 `yaml:"hard_limit_multiplier"`

	BurnRateThreshold  int64         `yaml:"burn_rate_threshold"`
	BurnRateWindowMins int           `yaml:"burn_rate_window_mins"`
	BurnRateRefresh    time.Duration `yaml:"burn_rate_refresh"`

	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
}

type ToolsConfig struct {
	// HourlyLimits caps tool invocations per agent per hour, keyed by
	// tool name. Zero means unlimited.
	HourlyLimits map[string]int `yaml:"hourly_limits"`

	Browser BrowserConfig `yaml:"browser"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

type BrowserConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type SandboxConfig struct {
	Enabled bool          `yaml:"enabled"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

type ProactiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// TickInterval is the scan cadence.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ScanLimit caps candidates per tick.
	ScanLimit int `yaml:"scan_limit"`

	// Cooldown suppresses proactive triggers after any owner-visible
	// activity.
	Cooldown time.Duration `yaml:"cooldown"`

	// MinInterval floors per-agent proactive intervals.
	MinInterval time.Duration `yaml:"min_interval"`
}

type SweepConfig struct {
	// ExpireAfter is how long a free-plan agent may idle before soft
	// expiration.
	ExpireAfter time.Duration `yaml:"expire_after"`

	// DowngradeGrace delays expiration sweeps after a plan downgrade.
	DowngradeGrace time.Duration `yaml:"downgrade_grace"`

	// CronBackoffBase seeds the failing-schedule throttle.
	CronBackoffBase time.Duration `yaml:"cron_backoff_base"`
	CronBackoffMax  time.Duration `yaml:"cron_backoff_max"`
}

type ArchiveConfig struct {
	// RetentionDays bounds prompt archive age; prune runs drop older rows.
	RetentionDays int `yaml:"retention_days"`
	ChunkSize     int `yaml:"chunk_size"`
}

// VertexConfig supplies process-wide defaults for google-backed providers
// that do not set their own project or location.
type VertexConfig struct {
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HTTPPort:    8080,
			MetricsPort: 9090,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			URL:             "warden.db",
			MaxConnections:  25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Engine: EngineConfig{
			StepBudget:     30,
			LockTTL:        5 * time.Minute,
			Workers:        8,
			StepTimeout:    2 * time.Minute,
			SummarizerTier: models.TierStandard,
		},
		Credits: CreditsConfig{
			SliderMin:           1 * models.CreditUnit,
			SliderMax:           100 * models.CreditUnit,
			HardLimitMultiplier: 2 * models.CreditUnit,
			BurnRateThreshold:   50 * models.CreditUnit,
			BurnRateWindowMins:  60,
			BurnRateRefresh:     5 * time.Minute,
			DuplicateThreshold:  0.97,
		},
		Tools: ToolsConfig{
			HourlyLimits: map[string]int{
				"send_email": 10,
				"send_sms":   10,
			},
			Sandbox: SandboxConfig{IdleTTL: time.Hour},
		},
		Proactive: ProactiveConfig{
			Enabled:      true,
			TickInterval: time.Minute,
			ScanLimit:    50,
			Cooldown:     72 * time.Hour,
			MinInterval:  7 * 24 * time.Hour,
		},
		Sweep: SweepConfig{
			ExpireAfter:     30 * 24 * time.Hour,
			DowngradeGrace:  48 * time.Hour,
			CronBackoffBase: time.Minute,
			CronBackoffMax:  24 * time.Hour,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			ChunkSize:     500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyDefaults backfills zero values from DefaultConfig.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = def.Server.HTTPPort
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = def.Server.MetricsPort
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.URL == "" {
		c.Database.URL = def.Database.URL
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = def.Database.MaxConnections
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = def.Database.ConnMaxLifetime
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Redis.Addr
	}
	if c.Engine.StepBudget == 0 {
		c.Engine.StepBudget = def.Engine.StepBudget
	}
	if c.Engine.LockTTL == 0 {
		c.Engine.LockTTL = def.Engine.LockTTL
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = def.Engine.Workers
	}
	if c.Engine.StepTimeout == 0 {
		c.Engine.StepTimeout = def.Engine.StepTimeout
	}
	if c.Engine.SummarizerTier == "" {
		c.Engine.SummarizerTier = def.Engine.SummarizerTier
	}
	if c.Credits.SliderMin == 0 {
		c.Credits.SliderMin = def.Credits.SliderMin
	}
	if c.Credits.SliderMax == 0 {
		c.Credits.SliderMax = def.Credits.SliderMax
	}
	if c.Credits.HardLimitMultiplier == 0 {
		c.Credits.HardLimitMultiplier = def.Credits.HardLimitMultiplier
	}
	if c.Credits.BurnRateThreshold == 0 {
		c.Credits.BurnRateThreshold = def.Credits.BurnRateThreshold
	}
	if c.Credits.BurnRateWindowMins == 0 {
		c.Credits.BurnRateWindowMins = def.Credits.BurnRateWindowMins
	}
	if c.Credits.BurnRateRefresh == 0 {
		c.Credits.BurnRateRefresh = def.Credits.BurnRateRefresh
	}
	if c.Credits.DuplicateThreshold == 0 {
		c.Credits.DuplicateThreshold = def.Credits.DuplicateThreshold
	}
	if c.Tools.HourlyLimits == nil {
		c.Tools.HourlyLimits = def.Tools.HourlyLimits
	}
	if c.Tools.Sandbox.IdleTTL == 0 {
		c.Tools.Sandbox.IdleTTL = def.Tools.Sandbox.IdleTTL
	}
	if c.Proactive.TickInterval == 0 {
		c.Proactive.TickInterval = def.Proactive.TickInterval
	}
	if c.Proactive.ScanLimit == 0 {
		c.Proactive.ScanLimit = def.Proactive.ScanLimit
	}
	if c.Proactive.Cooldown == 0 {
		c.Proactive.Cooldown = def.Proactive.Cooldown
	}
	if c.Proactive.MinInterval == 0 {
		c.Proactive.MinInterval = def.Proactive.MinInterval
	}
	if c.Sweep.ExpireAfter == 0 {
		c.Sweep.ExpireAfter = def.Sweep.ExpireAfter
	}
	if c.Sweep.DowngradeGrace == 0 {
		c.Sweep.DowngradeGrace = def.Sweep.DowngradeGrace
	}
	if c.Sweep.CronBackoffBase == 0 {
		c.Sweep.CronBackoffBase = def.Sweep.CronBackoffBase
	}
	if c.Sweep.CronBackoffMax == 0 {
		c.Sweep.CronBackoffMax = def.Sweep.CronBackoffMax
	}
	if c.Archive.RetentionDays == 0 {
		c.Archive.RetentionDays = def.Archive.RetentionDays
	}
	if c.Archive.ChunkSize == 0 {
		c.Archive.ChunkSize = def.Archive.ChunkSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks invariants the defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite3, got %q", c.Database.Driver)
	}
	if c.Credits.SliderMin > c.Credits.SliderMax {
		return fmt.Errorf("credits.slider_min %d exceeds slider_max %d", c.Credits.SliderMin, c.Credits.SliderMax)
	}
	if c.Credits.HardLimitMultiplier < models.CreditUnit {
		return fmt.Errorf("credits.hard_limit_multiplier must be >= 1.0, got %v", c.Credits.HardLimitMultiplier)
	}
	if c.Credits.DuplicateThreshold <= 0 || c.Credits.DuplicateThreshold > 1 {
		return fmt.Errorf("credits.duplicate_threshold must be in (0,1], got %v", c.Credits.DuplicateThreshold)
	}
	if c.Engine.StepBudget < 1 {
		return fmt.Errorf("engine.step_budget must be positive, got %d", c.Engine.StepBudget)
	}
	switch c.Engine.SummarizerTier {
	case models.TierStandard, models.TierPremium, models.TierMax:
	default:
		return fmt.Errorf("engine.summarizer_tier must be standard, premium, or max, got %q", c.Engine.SummarizerTier)
	}
	if c.Sweep.CronBackoffBase > c.Sweep.CronBackoffMax {
		return fmt.Errorf("sweep.cron_backoff_base exceeds cron_backoff_max")
	}
	return nil
}

// DailyCreditConfig projects the credits section onto the per-plan model,
// used when no plan row exists in the database.
func (c *Config) DailyCreditConfig() models.DailyCreditConfig {
	return models.DailyCreditConfig{
		SliderMin:            c.Credits.SliderMin,
		SliderMax:            c.Credits.SliderMax,
		HardLimitMultiplier:  c.Credits.HardLimitMultiplier,
		BurnRateThreshold:    c.Credits.BurnRateThreshold,
		BurnRateWindowMins:   c.Credits.BurnRateWindowMins,
		PlanCreditMultiplier: models.CreditUnit,
		DuplicateThreshold:   c.Credits.DuplicateThreshold,
	}
}
