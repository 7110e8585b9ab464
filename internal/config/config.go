// Package config defines all configuration for the trading gateway.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TG_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Events      EventsConfig      `mapstructure:"events"`
	API         APIConfig         `mapstructure:"api"`
	Venue       VenueConfig       `mapstructure:"venue"`
	Portfolio   PortfolioConfig   `mapstructure:"portfolio"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Whale       WhaleConfig       `mapstructure:"whale"`
	CopyTrader  CopyTraderConfig  `mapstructure:"copy_trader"`
	Swarm       SwarmConfig       `mapstructure:"swarm"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// StoreConfig sets where the trade ledger is persisted (SQLite).
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EventsConfig tunes the internal event bus.
type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// APIConfig controls the operator dashboard server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// VenueConfig holds the Polymarket connection: endpoints, the signing
// wallet, and optional pre-derived L2 credentials. If ApiKey/Secret/
// Passphrase are empty the gateway derives them via L1 auth on startup.
type VenueConfig struct {
	Enabled bool `mapstructure:"enabled"`

	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`

	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`

	ApiKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Passphrase string `mapstructure:"passphrase"`
}

// PortfolioConfig sets the accounting basis for portfolio valuation.
type PortfolioConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
}

// SchedulerConfig tunes the bot manager.
type SchedulerConfig struct {
	// PriceHistorySize bounds the per-market tick history handed to
	// strategies.
	PriceHistorySize int `mapstructure:"price_history_size"`
}

// WhaleConfig controls large-trader tracking.
type WhaleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	FeedURL         string        `mapstructure:"feed_url"`
	DataAPIURL      string        `mapstructure:"data_api_url"`
	TrackAddresses  []string      `mapstructure:"track_addresses"`
	MinTradeSize    float64       `mapstructure:"min_trade_size"`
	MinPositionSize float64       `mapstructure:"min_position_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
	RecentTradeCap  int           `mapstructure:"recent_trade_cap"`
}

// CopyTraderConfig controls whale-trade mirroring.
type CopyTraderConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	FollowAddresses []string `mapstructure:"follow_addresses"`
	ExcludedMarkets []string `mapstructure:"excluded_markets"`

	MinTradeSize    float64 `mapstructure:"min_trade_size"`
	MaxPositionSize float64 `mapstructure:"max_position_size"`

	SizingMode           string  `mapstructure:"sizing_mode"` // fixed | proportional | percentage
	FixedSize            float64 `mapstructure:"fixed_size"`
	ProportionMultiplier float64 `mapstructure:"proportion_multiplier"`
	PortfolioPercentage  float64 `mapstructure:"portfolio_percentage"`

	CopyDelay      time.Duration `mapstructure:"copy_delay"`
	MaxSlippagePct float64       `mapstructure:"max_slippage_pct"`
	StopLossPct    float64       `mapstructure:"stop_loss_pct"`
	TakeProfitPct  float64       `mapstructure:"take_profit_pct"`
	WatchInterval  time.Duration `mapstructure:"watch_interval"`
}

// SwarmConfig controls multi-wallet Solana execution. WalletKeys are
// base58 private keys; in production they come from TG_SWARM_KEYS rather
// than the YAML file.
type SwarmConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	WalletKeys      []string      `mapstructure:"wallet_keys"`
	RPCEndpoint     string        `mapstructure:"rpc_endpoint"`
	JitoURL         string        `mapstructure:"jito_url"`
	JupiterURL      string        `mapstructure:"jupiter_url"`
	SlippageBps     int           `mapstructure:"slippage_bps"`
	MinSolBalance   float64       `mapstructure:"min_sol_balance"`
	BundlingEnabled bool          `mapstructure:"bundling_enabled"`
	TipLamports     uint64        `mapstructure:"tip_lamports"`
	RateLimit       time.Duration `mapstructure:"rate_limit"`
	StaggerMax      time.Duration `mapstructure:"stagger_max"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	RefreshDelay    time.Duration `mapstructure:"refresh_delay"`
}

// MaintenanceConfig drives the cron jobs in the gateway binary.
type MaintenanceConfig struct {
	// CleanupSchedule is a cron expression for ledger cleanup. Empty
	// disables the job.
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
	// RetentionDays: closed trades older than this are deleted.
	RetentionDays int `mapstructure:"retention_days"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// fields use env vars: TG_PRIVATE_KEY, TG_API_KEY, TG_API_SECRET,
// TG_PASSPHRASE, TG_SWARM_KEYS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("TG_PRIVATE_KEY"); key != "" {
		cfg.Venue.PrivateKey = key
	}
	if key := os.Getenv("TG_API_KEY"); key != "" {
		cfg.Venue.ApiKey = key
	}
	if secret := os.Getenv("TG_API_SECRET"); secret != "" {
		cfg.Venue.Secret = secret
	}
	if pass := os.Getenv("TG_PASSPHRASE"); pass != "" {
		cfg.Venue.Passphrase = pass
	}
	if keys := os.Getenv("TG_SWARM_KEYS"); keys != "" {
		cfg.Swarm.WalletKeys = strings.Split(keys, ",")
	}
	if os.Getenv("TG_DRY_RUN") == "true" || os.Getenv("TG_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "data/trades.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 256
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Portfolio.InitialBalance <= 0 {
		c.Portfolio.InitialBalance = 1000
	}
	if c.Whale.FeedURL == "" {
		c.Whale.FeedURL = "wss://ws-live-data.polymarket.com"
	}
	if c.Whale.DataAPIURL == "" {
		c.Whale.DataAPIURL = "https://data-api.polymarket.com"
	}
	if c.Maintenance.RetentionDays <= 0 {
		c.Maintenance.RetentionDays = 90
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Venue.Enabled {
		if c.Venue.PrivateKey == "" {
			return fmt.Errorf("venue.private_key is required (set TG_PRIVATE_KEY)")
		}
		if c.Venue.ChainID == 0 {
			return fmt.Errorf("venue.chain_id is required (137 for Polygon mainnet)")
		}
		if c.Venue.CLOBBaseURL == "" {
			return fmt.Errorf("venue.clob_base_url is required")
		}
		switch c.Venue.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("venue.signature_type must be one of: 0 (EOA), 1 (proxy), 2 (safe)")
		}
		if c.Venue.SignatureType != 0 && c.Venue.FunderAddress == "" {
			return fmt.Errorf("venue.funder_address is required when venue.signature_type is 1 or 2")
		}
	}
	if c.CopyTrader.Enabled {
		switch c.CopyTrader.SizingMode {
		case "fixed", "proportional", "percentage":
		default:
			return fmt.Errorf("copy_trader.sizing_mode must be one of: fixed, proportional, percentage")
		}
		if len(c.CopyTrader.FollowAddresses) == 0 {
			return fmt.Errorf("copy_trader.follow_addresses is required when copy trading is enabled")
		}
	}
	if c.Swarm.Enabled {
		if len(c.Swarm.WalletKeys) == 0 {
			return fmt.Errorf("swarm.wallet_keys is required (set TG_SWARM_KEYS)")
		}
		if c.Swarm.RPCEndpoint == "" {
			return fmt.Errorf("swarm.rpc_endpoint is required")
		}
	}
	return nil
}
