package config

import (
	"testing"

	"github.com/gateway-validator/ingestion-core/pkg/config"
	"github.com/stretchr/testify/require"
)

func validConfig() *config.Config {
	return &config.Config{
		Chains: []config.ChainConfig{
			{Chain: "eth", RPCURL: "https://eth.example.com", Starport: "0x1111111111111111111111111111111111111111"},
		},
		Ingress: config.IngressConfig{
			QuotaUSD:       1_000_000,
			Slack:          32,
			LargeUSD:       100_000,
			MinEventBlocks: 6,
			MaxEventBlocks: 1000,
		},
		DB: config.DatabaseConfig{Path: "./test.db"},
	}
}

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML("../../config.example.yaml")
	require.NoError(t, err)
	validateConfig(t, cfg, "YAML")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON("../../config.example.json")
	require.NoError(t, err)
	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML("../../config.example.toml")
	require.NoError(t, err)
	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.yaml")
	require.NoError(t, err)
	validateConfig(t, cfg, "auto-detected YAML")
}

func TestLoadFromFile_JSON(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.json")
	require.NoError(t, err)
	validateConfig(t, cfg, "auto-detected JSON")
}

func TestLoadFromFile_TOML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.toml")
	require.NoError(t, err)
	validateConfig(t, cfg, "auto-detected TOML")
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.Contains(t, err.Error(), "unsupported config file format")
}

func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	require.NotEmpty(t, cfg.Chains, "[%s] at least one chain should be configured", format)
	for i, cc := range cfg.Chains {
		require.NotEmpty(t, cc.RPCURL, "[%s] chains[%d].rpc_url should not be empty", format, i)
		require.NotEmpty(t, cc.Starport, "[%s] chains[%d].starport should not be empty", format, i)
	}

	require.NotZero(t, cfg.Ingress.MaxEventBlocks, "[%s] ingress.max_event_blocks should have a default applied", format)
	require.NotZero(t, cfg.Ingress.Slack, "[%s] ingress.slack should have a default applied", format)
	require.NotZero(t, cfg.Worker.MutexDeadlineSeconds, "[%s] worker.mutex_deadline_seconds should have a default applied", format)
	require.NotZero(t, cfg.Worker.PollIntervalSeconds, "[%s] worker.poll_interval_seconds should have a default applied", format)

	require.NotEmpty(t, cfg.DB.Path, "[%s] db.path should not be empty", format)
	require.NotEmpty(t, cfg.DB.JournalMode, "[%s] db.journal_mode should have default value", format)
	require.NotEmpty(t, cfg.DB.Synchronous, "[%s] db.synchronous should have default value", format)
}

func TestConfigDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Ingress.Slack = 0
	cfg.Ingress.MaxEventBlocks = 0
	cfg.ApplyDefaults()

	require.Equal(t, 32, cfg.Ingress.Slack)
	require.Equal(t, uint64(1000), cfg.Ingress.MaxEventBlocks)
	require.Equal(t, 120, cfg.Worker.MutexDeadlineSeconds)
	require.Equal(t, 15, cfg.Worker.PollIntervalSeconds)
	require.Equal(t, "WAL", cfg.DB.JournalMode)
	require.Equal(t, "NORMAL", cfg.DB.Synchronous)
	require.Equal(t, 5000, cfg.DB.BusyTimeout)
	require.Equal(t, 10000, cfg.DB.CacheSize)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*config.Config) {}, wantErr: false},
		{
			name: "no chains",
			mutate: func(c *config.Config) {
				c.Chains = nil
			},
			wantErr: true,
		},
		{
			name: "unknown chain kind",
			mutate: func(c *config.Config) {
				c.Chains[0].Chain = "solana"
			},
			wantErr: true,
		},
		{
			name: "missing rpc_url",
			mutate: func(c *config.Config) {
				c.Chains[0].RPCURL = ""
			},
			wantErr: true,
		},
		{
			name: "duplicate chain",
			mutate: func(c *config.Config) {
				c.Chains = append(c.Chains, c.Chains[0])
			},
			wantErr: true,
		},
		{
			name: "min exceeds max event blocks",
			mutate: func(c *config.Config) {
				c.Ingress.MinEventBlocks = c.Ingress.MaxEventBlocks + 1
			},
			wantErr: true,
		},
		{
			name: "missing db path",
			mutate: func(c *config.Config) {
				c.DB.Path = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
