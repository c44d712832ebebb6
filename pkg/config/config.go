// Package config loads the vaultd configuration: a YAML file with defaults,
// overridden by ROUNDVAULT_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/luxfi/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/roundvault/pkg/asset"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ROUNDVAULT_"

// Database backends understood by cmd/vaultd.
const (
	DatabaseBadger = "badgerdb"
	DatabaseMemory = "memory"
)

type Config struct {
	DataDir  string `yaml:"data_dir" env:"DATA_DIR"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Database Database `yaml:"database" envPrefix:"DB_"`
	API      API      `yaml:"api" envPrefix:"API_"`
	Metrics  Metrics  `yaml:"metrics" envPrefix:"METRICS_"`
	Stream   Stream   `yaml:"stream" envPrefix:"STREAM_"`
	NATS     NATS     `yaml:"nats" envPrefix:"NATS_"`
	Keeper   Keeper   `yaml:"keeper" envPrefix:"KEEPER_"`

	// Params apply to every vault unless a vault overrides them.
	Params Params   `yaml:"params" envPrefix:"PARAM_"`
	Tokens []string `yaml:"tokens" env:"TOKENS" envSeparator:","`
	Vaults []Vault  `yaml:"vaults"`
}

type Database struct {
	Type      string `yaml:"type" env:"TYPE"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

type API struct {
	Listen string `yaml:"listen" env:"LISTEN"`
	// Admin enables parameter, faucet and yield methods. Local use only.
	Admin bool `yaml:"admin" env:"ADMIN"`
}

type Metrics struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Namespace string        `yaml:"namespace" env:"NAMESPACE"`
	Interval  time.Duration `yaml:"interval" env:"INTERVAL"`
}

type Stream struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

type NATS struct {
	URL    string `yaml:"url" env:"URL"`
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

type Keeper struct {
	Schedule      string        `yaml:"schedule" env:"SCHEDULE"`
	StartSchedule string        `yaml:"start_schedule" env:"START_SCHEDULE"`
	BatchSize     int           `yaml:"batch_size" env:"BATCH_SIZE"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Scheduled reports whether the keeper has anything to run.
func (k Keeper) Scheduled() bool {
	return k.Schedule != "" || k.StartSchedule != ""
}

// Params are registry parameters in human form. Percentages accept "0.5%",
// "50bps" or a bare fraction such as "0.005".
type Params struct {
	Controller       string `yaml:"controller" env:"CONTROLLER"`
	FeeRecipient     string `yaml:"fee_recipient" env:"FEE_RECIPIENT"`
	WithdrawalFee    string `yaml:"withdrawal_fee" env:"WITHDRAWAL_FEE"`
	InvestRatio      string `yaml:"invest_ratio" env:"INVEST_RATIO"`
	MinInitialAssets string `yaml:"min_initial_assets" env:"MIN_INITIAL_ASSETS"`
	MinInitialRatio  string `yaml:"min_initial_ratio" env:"MIN_INITIAL_RATIO"`
	LockedShares     string `yaml:"locked_shares" env:"LOCKED_SHARES"`
	StartRoundGrace  string `yaml:"start_round_grace" env:"START_ROUND_GRACE"`
}

// Vault declares one vault. Address defaults to the address derived from
// Label.
type Vault struct {
	Label     string   `yaml:"label"`
	Address   string   `yaml:"address"`
	Token     string   `yaml:"token"`
	Cap       string   `yaml:"cap"`
	Params    Params   `yaml:"params"`
	MigrateTo []string `yaml:"migrate_to"`
}

// Default returns a configuration for a local single-node setup.
func Default() *Config {
	return &Config{
		DataDir:  ".roundvault",
		LogLevel: "info",
		Database: Database{Type: DatabaseBadger, Namespace: "roundvault"},
		API:      API{Listen: "127.0.0.1:8545"},
		Metrics:  Metrics{Enabled: true, Namespace: "roundvault", Interval: 15 * time.Second},
		Stream:   Stream{Enabled: true},
		NATS:     NATS{Prefix: "roundvault"},
		Keeper:   Keeper{BatchSize: 100, Timeout: time.Minute},
	}
}

// Load reads path on top of Default and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "read config")
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, "parse config")
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	return cfg, nil
}

// Validate checks the configuration without touching any store.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case DatabaseBadger, DatabaseMemory:
	default:
		return errors.Errorf("database.type %q: want %s or %s", c.Database.Type, DatabaseBadger, DatabaseMemory)
	}
	if _, err := log.ToLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "log_level %q", c.LogLevel)
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		return errors.New("metrics.interval must be positive")
	}
	if c.Keeper.BatchSize < 0 {
		return errors.New("keeper.batch_size must not be negative")
	}
	if c.Keeper.StartSchedule != "" && c.Keeper.StartSchedule == c.Keeper.Schedule {
		return errors.New("keeper.start_schedule must differ from keeper.schedule")
	}
	if _, err := c.Params.registryValues(); err != nil {
		return errors.Wrap(err, "params")
	}

	tokens := make(map[string]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		if t == "" {
			return errors.New("empty token id")
		}
		tokens[t] = true
	}

	seen := make(map[asset.Address]string, len(c.Vaults))
	for i, v := range c.Vaults {
		if v.Label == "" {
			return errors.Errorf("vaults[%d]: label is required", i)
		}
		addr, err := v.VaultAddress()
		if err != nil {
			return errors.Wrapf(err, "vault %s", v.Label)
		}
		if prev, dup := seen[addr]; dup {
			return errors.Errorf("vault %s: address %s already used by %s", v.Label, addr, prev)
		}
		seen[addr] = v.Label
		if !tokens[v.Token] {
			return errors.Errorf("vault %s: unknown token %q", v.Label, v.Token)
		}
		if _, err := v.CapLimit(); err != nil {
			return errors.Wrapf(err, "vault %s", v.Label)
		}
		if _, err := v.Params.registryValues(); err != nil {
			return errors.Wrapf(err, "vault %s params", v.Label)
		}
	}

	for _, v := range c.Vaults {
		for _, to := range v.MigrateTo {
			if _, err := c.Resolve(to); err != nil {
				return errors.Wrapf(err, "vault %s migrate_to", v.Label)
			}
		}
	}
	return nil
}

// VaultAddress returns the configured address, or the one derived from the
// label when none is set.
func (v Vault) VaultAddress() (asset.Address, error) {
	if v.Address == "" {
		return asset.DeriveAddress(v.Label), nil
	}
	return asset.ParseAddress(v.Address)
}

// Resolve finds a vault by label or address.
func (c *Config) Resolve(ref string) (asset.Address, error) {
	for _, v := range c.Vaults {
		addr, err := v.VaultAddress()
		if err != nil {
			return asset.Address{}, err
		}
		if v.Label == ref || strings.EqualFold(addr.Hex(), ref) {
			return addr, nil
		}
	}
	return asset.Address{}, errors.Errorf("unknown vault %q", ref)
}
