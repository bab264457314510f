// Package config defines the ingestion core's deployment configuration:
// per-chain RPC/starport settings, the ingression parameters of §6, database
// settings, and metrics server settings.
package config

import (
	"fmt"
	"time"

	"github.com/gateway-validator/ingestion-core/internal/common"
)

// Config is the complete configuration for the ingestion core.
type Config struct {
	Chains  []ChainConfig  `yaml:"chains" json:"chains" toml:"chains"`
	Ingress IngressConfig  `yaml:"ingress" json:"ingress" toml:"ingress"`
	Worker  WorkerConfig   `yaml:"worker" json:"worker" toml:"worker"`
	DB      DatabaseConfig `yaml:"db" json:"db" toml:"db"`
	Logging LoggingConfig  `yaml:"logging" json:"logging" toml:"logging"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics" toml:"metrics"`
}

// ChainConfig configures one observed external chain.
type ChainConfig struct {
	// Chain is "eth" or "matic".
	Chain string `yaml:"chain" json:"chain" toml:"chain"`

	// RPCURL is the chain RPC endpoint.
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// Starport is the observed external contract address (opaque to this
	// core).
	Starport string `yaml:"starport" json:"starport" toml:"starport"`
}

// IngressConfig holds the deployment parameters of §6.
type IngressConfig struct {
	// QuotaUSD is INGRESS_QUOTA: USD admitted per ingress_queue round.
	QuotaUSD uint64 `yaml:"quota_usd" json:"quota_usd" toml:"quota_usd"`

	// Slack is INGRESS_SLACK: soft cap on queue length the worker
	// respects when deciding how many successor blocks to fetch.
	Slack int `yaml:"slack" json:"slack" toml:"slack"`

	// LargeUSD is INGRESS_LARGE: the USD stand-in value for governance
	// proposal execution events.
	LargeUSD uint64 `yaml:"large_usd" json:"large_usd" toml:"large_usd"`

	// MinEventBlocks is MIN_EVENT_BLOCKS: the minimum maturity in blocks
	// before an event becomes eligible for ingestion.
	MinEventBlocks uint64 `yaml:"min_event_blocks" json:"min_event_blocks" toml:"min_event_blocks"`

	// MaxEventBlocks is MAX_EVENT_BLOCKS: the maturity at which risk
	// value has fully decayed to zero.
	MaxEventBlocks uint64 `yaml:"max_event_blocks" json:"max_event_blocks" toml:"max_event_blocks"`
}

// WorkerConfig holds worker-loop scheduling parameters.
type WorkerConfig struct {
	// MutexDeadlineSeconds is the named time-bounded mutex deadline
	// (§4.1, §5): 120 seconds per spec.
	MutexDeadlineSeconds int `yaml:"mutex_deadline_seconds" json:"mutex_deadline_seconds" toml:"mutex_deadline_seconds"`

	// PollIntervalSeconds is how often the worker loop attempts a tick.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" json:"poll_interval_seconds" toml:"poll_interval_seconds"`
}

// DatabaseConfig mirrors the teacher's SQLite connection settings.
type DatabaseConfig struct {
	Path               string `yaml:"path" json:"path" toml:"path"`
	JournalMode        string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`
	Synchronous        string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`
	BusyTimeout        int    `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`
	CacheSize          int    `yaml:"cache_size" json:"cache_size" toml:"cache_size"`
	MaxOpenConnections int    `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
	EnableForeignKeys  bool   `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`

	// MemoizeCachePath is the badger directory backing the worker-local
	// memoize cache (§3, §9).
	MemoizeCachePath string `yaml:"memoize_cache_path" json:"memoize_cache_path" toml:"memoize_cache_path"`

	// Maintenance configures periodic WAL checkpointing and VACUUM. Nil
	// disables background maintenance.
	Maintenance *MaintenanceConfig `yaml:"maintenance" json:"maintenance" toml:"maintenance"`
}

// MaintenanceConfig configures the background WAL-checkpoint/VACUUM loop
// that runs against the store's SQLite connection.
type MaintenanceConfig struct {
	Enabled           bool            `yaml:"enabled" json:"enabled" toml:"enabled"`
	CheckInterval     common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
	VacuumOnStartup   bool            `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`
	WALCheckpointMode string          `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// LoggingConfig configures the zap-backed logger.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level" toml:"level"`
	Development bool   `yaml:"development" json:"development" toml:"development"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults fills in zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Ingress.Slack == 0 {
		c.Ingress.Slack = 32
	}
	if c.Ingress.MaxEventBlocks == 0 {
		c.Ingress.MaxEventBlocks = 1000
	}
	if c.Worker.MutexDeadlineSeconds == 0 {
		c.Worker.MutexDeadlineSeconds = 120
	}
	if c.Worker.PollIntervalSeconds == 0 {
		c.Worker.PollIntervalSeconds = 15
	}
	c.DB.ApplyDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics != nil && c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9300"
	}
	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 10
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	if d.MemoizeCachePath == "" {
		d.MemoizeCachePath = "./data/memoize"
	}
	if d.Maintenance != nil && d.Maintenance.CheckInterval.Duration == 0 {
		d.Maintenance.CheckInterval = common.NewDuration(6 * time.Hour)
	}
	if d.Maintenance != nil && d.Maintenance.WALCheckpointMode == "" {
		d.Maintenance.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks the configuration for obvious deployment mistakes.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	seen := make(map[string]struct{})
	for _, cc := range c.Chains {
		if cc.Chain != "eth" && cc.Chain != "matic" {
			return fmt.Errorf("chains[].chain must be one of 'eth' or 'matic', got %q", cc.Chain)
		}
		if _, dup := seen[cc.Chain]; dup {
			return fmt.Errorf("duplicate chain configuration for %q", cc.Chain)
		}
		seen[cc.Chain] = struct{}{}
		if cc.RPCURL == "" {
			return fmt.Errorf("chains[%s].rpc_url is required", cc.Chain)
		}
		if cc.Starport == "" {
			return fmt.Errorf("chains[%s].starport is required", cc.Chain)
		}
	}
	if c.Ingress.MinEventBlocks > c.Ingress.MaxEventBlocks {
		return fmt.Errorf("ingress.min_event_blocks (%d) must be <= ingress.max_event_blocks (%d)",
			c.Ingress.MinEventBlocks, c.Ingress.MaxEventBlocks)
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	return nil
}
