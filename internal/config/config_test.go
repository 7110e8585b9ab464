package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
dry_run: false
store:
  path: /tmp/trades.db
logging:
  level: debug
venue:
  enabled: true
  clob_base_url: https://clob.example.com
  gamma_base_url: https://gamma.example.com
  private_key: abc123
  chain_id: 137
copy_trader:
  enabled: true
  sizing_mode: fixed
  fixed_size: 25
  follow_addresses:
    - "0xwhale"
maintenance:
  cleanup_schedule: "0 3 * * *"
  retention_days: 30
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.Store.Path != "/tmp/trades.db" || cfg.Logging.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Venue.ChainID != 137 || !cfg.Venue.Enabled {
		t.Errorf("venue = %+v", cfg.Venue)
	}
	if cfg.Maintenance.RetentionDays != 30 {
		t.Errorf("retention = %d", cfg.Maintenance.RetentionDays)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "dry_run: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Port != 8080 || cfg.Events.BufferSize != 256 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Maintenance.RetentionDays != 90 {
		t.Errorf("retention default = %d", cfg.Maintenance.RetentionDays)
	}
	if cfg.Whale.DataAPIURL == "" || cfg.Whale.FeedURL == "" {
		t.Errorf("whale defaults = %+v", cfg.Whale)
	}
	if cfg.Portfolio.InitialBalance != 1000 {
		t.Errorf("portfolio default = %v", cfg.Portfolio.InitialBalance)
	}
	if !cfg.DryRun {
		t.Error("dry_run not read")
	}
}

func TestEnvOverridesSensitiveFields(t *testing.T) {
	t.Setenv("TG_PRIVATE_KEY", "from-env")
	t.Setenv("TG_SWARM_KEYS", "k1,k2")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Venue.PrivateKey != "from-env" {
		t.Errorf("private key = %q", cfg.Venue.PrivateKey)
	}
	if len(cfg.Swarm.WalletKeys) != 2 || cfg.Swarm.WalletKeys[1] != "k2" {
		t.Errorf("swarm keys = %v", cfg.Swarm.WalletKeys)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"venue without key",
			func(c *Config) { c.Venue.PrivateKey = "" },
			"venue.private_key",
		},
		{
			"venue without chain",
			func(c *Config) { c.Venue.ChainID = 0 },
			"venue.chain_id",
		},
		{
			"proxy without funder",
			func(c *Config) { c.Venue.SignatureType = 1 },
			"venue.funder_address",
		},
		{
			"bad sizing mode",
			func(c *Config) { c.CopyTrader.SizingMode = "martingale" },
			"sizing_mode",
		},
		{
			"copy trading with nobody to follow",
			func(c *Config) { c.CopyTrader.FollowAddresses = nil },
			"follow_addresses",
		},
		{
			"swarm without keys",
			func(c *Config) { c.Swarm.Enabled = true },
			"swarm.wallet_keys",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleYAML))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
