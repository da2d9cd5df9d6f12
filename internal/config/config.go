// Package config loads agent settings from defaults, a yaml file, the
// environment, and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/registry"
)

type GlobalFlags struct {
	ConfigPath string
	DryRun     bool
	Timeout    string
	Retries    int
	NoCache    bool
}

type Settings struct {
	Timeout time.Duration
	Retries int
	DryRun  bool

	// Schedule is the cron expression the daemon runs cycles on.
	Schedule string
	// MonitorSchedule is the cron expression for reconcile passes.
	MonitorSchedule string

	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	StorePath     string
	StoreLockPath string

	LiFiAPIKey string

	// RPCOverrides replaces the built-in RPC URL per chain ID.
	RPCOverrides map[int64]string

	Wallets []model.Wallet
	Vaults  []model.Vault
}

type fileConfig struct {
	Timeout         string `yaml:"timeout"`
	Retries         *int   `yaml:"retries"`
	DryRun          *bool  `yaml:"dry_run"`
	Schedule        string `yaml:"schedule"`
	MonitorSchedule string `yaml:"monitor_schedule"`
	Cache           struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Router struct {
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"router"`
	RPC     map[string]string `yaml:"rpc"`
	Wallets []walletConfig    `yaml:"wallets"`
}

type walletConfig struct {
	Address     string `yaml:"address"`
	Preferences struct {
		AllowedChains    []string `yaml:"allowed_chains"`
		AllowedProtocols []string `yaml:"allowed_protocols"`
		MinAPY           *float64 `yaml:"min_apy"`
		MaxRiskTier      string   `yaml:"max_risk_tier"`
		AutoRebalance    *bool    `yaml:"auto_rebalance"`
	} `yaml:"preferences"`
	Vaults []struct {
		Chain   string `yaml:"chain"`
		Address string `yaml:"address"`
		Active  *bool  `yaml:"active"`
	} `yaml:"vaults"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	applyEnv(&settings)
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.Schedule == "" {
		settings.Schedule = "@every 10m"
	}
	if settings.MonitorSchedule == "" {
		settings.MonitorSchedule = "@every 2m"
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Timeout:       15 * time.Second,
		Retries:       2,
		CacheEnabled:  true,
		CachePath:     filepath.Join(dataDir, "cache.db"),
		CacheLockPath: filepath.Join(dataDir, "cache.lock"),
		StorePath:     filepath.Join(dataDir, "records.db"),
		StoreLockPath: filepath.Join(dataDir, "records.lock"),
		RPCOverrides:  map[int64]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "zeusagent", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "zeusagent"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.DryRun != nil {
		settings.DryRun = *cfg.DryRun
	}
	if cfg.Schedule != "" {
		settings.Schedule = cfg.Schedule
	}
	if cfg.MonitorSchedule != "" {
		settings.MonitorSchedule = cfg.MonitorSchedule
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	if cfg.Router.APIKey != "" {
		settings.LiFiAPIKey = cfg.Router.APIKey
	}
	if cfg.Router.APIKeyEnv != "" {
		settings.LiFiAPIKey = os.Getenv(cfg.Router.APIKeyEnv)
	}

	for name, url := range cfg.RPC {
		chainID, ok := registry.ChainIDByName(name)
		if !ok {
			return fmt.Errorf("config rpc: unknown chain %q", name)
		}
		settings.RPCOverrides[chainID] = url
	}

	for _, w := range cfg.Wallets {
		wallet, vaults, err := buildWallet(w)
		if err != nil {
			return err
		}
		settings.Wallets = append(settings.Wallets, wallet)
		settings.Vaults = append(settings.Vaults, vaults...)
	}
	return nil
}

func buildWallet(w walletConfig) (model.Wallet, []model.Vault, error) {
	addr := strings.ToLower(strings.TrimSpace(w.Address))
	if addr == "" {
		return model.Wallet{}, nil, fmt.Errorf("config wallets: missing address")
	}

	// Moving deployed funds is opt-in; omitting auto_rebalance means no.
	prefs := model.Preferences{
		AllowedProtocols: registry.NormalizeProtocols(w.Preferences.AllowedProtocols),
		MinAPY:           w.Preferences.MinAPY,
		MaxRiskTier:      strings.ToLower(strings.TrimSpace(w.Preferences.MaxRiskTier)),
	}
	if w.Preferences.AutoRebalance != nil {
		prefs.AutoRebalance = *w.Preferences.AutoRebalance
	}
	// Unknown chain names are ignored rather than rejected, so a config
	// written for a newer build still loads here.
	for _, name := range w.Preferences.AllowedChains {
		chainID, ok := registry.ChainIDByName(name)
		if !ok {
			continue
		}
		prefs.AllowedChains = append(prefs.AllowedChains, chainID)
	}

	vaults := make([]model.Vault, 0, len(w.Vaults))
	for _, v := range w.Vaults {
		chainID, ok := registry.ChainIDByName(v.Chain)
		if !ok {
			return model.Wallet{}, nil, fmt.Errorf("config wallets: unknown vault chain %q", v.Chain)
		}
		active := true
		if v.Active != nil {
			active = *v.Active
		}
		vaults = append(vaults, model.Vault{
			WalletAddress: addr,
			ChainID:       chainID,
			Address:       strings.ToLower(strings.TrimSpace(v.Address)),
			Active:        active,
		})
	}
	return model.NewWallet(addr, prefs), vaults, nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("ZEUS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("ZEUS_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("ZEUS_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.DryRun = b
		}
	}
	if v := os.Getenv("LIFI_API_KEY"); v != "" {
		settings.LiFiAPIKey = v
	}
	for _, chainID := range registry.SupportedChainIDs() {
		envName := "ZEUS_RPC_" + strings.ToUpper(registry.ChainName(chainID))
		if v := os.Getenv(envName); v != "" {
			settings.RPCOverrides[chainID] = v
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.DryRun {
		settings.DryRun = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	return nil
}

// VaultsFor returns the wallet's configured vaults.
func (s Settings) VaultsFor(wallet string) []model.Vault {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	out := make([]model.Vault, 0, 2)
	for _, v := range s.Vaults {
		if v.WalletAddress == wallet {
			out = append(out, v)
		}
	}
	return out
}
