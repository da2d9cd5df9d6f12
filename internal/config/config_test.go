package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// noFlags leaves every override unset.
func noFlags(configPath string) GlobalFlags {
	return GlobalFlags{ConfigPath: configPath, Retries: -1}
}

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	settings, err := Load(noFlags(filepath.Join(t.TempDir(), "missing.yaml")))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Timeout != 15*time.Second {
		t.Fatalf("timeout = %s, want 15s", settings.Timeout)
	}
	if settings.Retries != 2 {
		t.Fatalf("retries = %d, want 2", settings.Retries)
	}
	if settings.Schedule != "@every 10m" || settings.MonitorSchedule != "@every 2m" {
		t.Fatalf("schedules = %q / %q", settings.Schedule, settings.MonitorSchedule)
	}
	if !settings.CacheEnabled {
		t.Fatal("cache should default to enabled")
	}
	if len(settings.Wallets) != 0 || len(settings.Vaults) != 0 {
		t.Fatal("no config file should mean no wallets")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
timeout: 30s
retries: 5
dry_run: true
schedule: "@every 1h"
monitor_schedule: "@every 5m"
router:
  api_key: file-key
rpc:
  base: https://rpc.example/base
wallets:
  - address: "0xABCDEF0123456789abcdef0123456789ABCDEF01"
    preferences:
      allowed_chains: [base, arbitrum]
      allowed_protocols: [aave, morpho]
      min_apy: 2.5
      max_risk_tier: Medium
      auto_rebalance: false
    vaults:
      - chain: base
        address: "0x1111111111111111111111111111111111111111"
      - chain: arbitrum
        address: "0x2222222222222222222222222222222222222222"
        active: false
`)

	settings, err := Load(noFlags(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Timeout != 30*time.Second || settings.Retries != 5 || !settings.DryRun {
		t.Fatalf("base settings not applied: %+v", settings)
	}
	if settings.Schedule != "@every 1h" || settings.MonitorSchedule != "@every 5m" {
		t.Fatalf("schedules = %q / %q", settings.Schedule, settings.MonitorSchedule)
	}
	if settings.LiFiAPIKey != "file-key" {
		t.Fatalf("api key = %q", settings.LiFiAPIKey)
	}
	if settings.RPCOverrides[8453] != "https://rpc.example/base" {
		t.Fatalf("rpc override = %q", settings.RPCOverrides[8453])
	}

	if len(settings.Wallets) != 1 {
		t.Fatalf("wallets = %d, want 1", len(settings.Wallets))
	}
	w := settings.Wallets[0]
	if w.Address != strings.ToLower("0xABCDEF0123456789abcdef0123456789ABCDEF01") {
		t.Fatalf("wallet address not normalized: %q", w.Address)
	}
	prefs := w.Preferences
	if len(prefs.AllowedChains) != 2 || prefs.AllowedChains[0] != 8453 || prefs.AllowedChains[1] != 42161 {
		t.Fatalf("allowed chains = %v", prefs.AllowedChains)
	}
	if prefs.MinAPY == nil || *prefs.MinAPY != 2.5 {
		t.Fatalf("min apy = %v", prefs.MinAPY)
	}
	if prefs.MaxRiskTier != "medium" {
		t.Fatalf("max risk tier = %q", prefs.MaxRiskTier)
	}
	if prefs.AutoRebalance {
		t.Fatal("auto_rebalance false was not honored")
	}
	// Aliases resolve to canonical protocol IDs.
	if len(prefs.AllowedProtocols) != 2 || prefs.AllowedProtocols[0] != "aave-v3" || prefs.AllowedProtocols[1] != "morpho-v1" {
		t.Fatalf("allowed protocols = %v", prefs.AllowedProtocols)
	}

	vaults := settings.VaultsFor(w.Address)
	if len(vaults) != 2 {
		t.Fatalf("vaults = %d, want 2", len(vaults))
	}
	if vaults[0].ChainID != 8453 || !vaults[0].Active {
		t.Fatalf("first vault = %+v", vaults[0])
	}
	if vaults[1].ChainID != 42161 || vaults[1].Active {
		t.Fatalf("second vault = %+v", vaults[1])
	}
}

func TestUnknownChainIsRejected(t *testing.T) {
	path := writeConfig(t, `
rpc:
  solana: https://rpc.example/solana
`)
	if _, err := Load(noFlags(path)); err == nil {
		t.Fatal("unknown rpc chain must fail loading")
	}

	path = writeConfig(t, `
wallets:
  - address: "0xabc0000000000000000000000000000000000001"
    vaults:
      - chain: mainnet
        address: "0x3333333333333333333333333333333333333333"
`)
	if _, err := Load(noFlags(path)); err == nil {
		t.Fatal("unknown vault chain must fail loading")
	}
}

func TestUnknownAllowedChainNamesAreIgnored(t *testing.T) {
	path := writeConfig(t, `
wallets:
  - address: "0xabc0000000000000000000000000000000000001"
    preferences:
      allowed_chains: [base, solana, mainnet]
    vaults:
      - chain: base
        address: "0x3333333333333333333333333333333333333333"
`)
	settings, err := Load(noFlags(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	prefs := settings.Wallets[0].Preferences
	if len(prefs.AllowedChains) != 1 || prefs.AllowedChains[0] != 8453 {
		t.Fatalf("allowed chains = %v, want only base", prefs.AllowedChains)
	}
}

func TestAutoRebalanceDefaultsToOff(t *testing.T) {
	path := writeConfig(t, `
wallets:
  - address: "0xabc0000000000000000000000000000000000001"
    vaults:
      - chain: base
        address: "0x3333333333333333333333333333333333333333"
`)
	settings, err := Load(noFlags(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Wallets[0].Preferences.AutoRebalance {
		t.Fatal("omitting auto_rebalance must not opt the wallet in")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
timeout: 30s
router:
  api_key: file-key
`)
	t.Setenv("ZEUS_TIMEOUT", "45s")
	t.Setenv("LIFI_API_KEY", "env-key")
	t.Setenv("ZEUS_RPC_BASE", "https://rpc.example/override")

	settings, err := Load(noFlags(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Timeout != 45*time.Second {
		t.Fatalf("timeout = %s, env should win over file", settings.Timeout)
	}
	if settings.LiFiAPIKey != "env-key" {
		t.Fatalf("api key = %q, env should win over file", settings.LiFiAPIKey)
	}
	if settings.RPCOverrides[8453] != "https://rpc.example/override" {
		t.Fatalf("rpc override = %q", settings.RPCOverrides[8453])
	}
}

func TestRouterKeyFromNamedEnvVar(t *testing.T) {
	path := writeConfig(t, `
router:
  api_key_env: MY_ROUTER_KEY
`)
	t.Setenv("MY_ROUTER_KEY", "indirect-key")

	settings, err := Load(noFlags(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.LiFiAPIKey != "indirect-key" {
		t.Fatalf("api key = %q, want the named env var's value", settings.LiFiAPIKey)
	}
}

func TestFlagsOverrideEverything(t *testing.T) {
	path := writeConfig(t, `
timeout: 30s
retries: 5
`)
	t.Setenv("ZEUS_TIMEOUT", "45s")

	flags := GlobalFlags{ConfigPath: path, Timeout: "5s", Retries: 0, DryRun: true, NoCache: true}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Timeout != 5*time.Second {
		t.Fatalf("timeout = %s, flag should win", settings.Timeout)
	}
	if settings.Retries != 0 {
		t.Fatalf("retries = %d, flag should win", settings.Retries)
	}
	if !settings.DryRun {
		t.Fatal("dry-run flag not applied")
	}
	if settings.CacheEnabled {
		t.Fatal("--no-cache not applied")
	}
}

func TestInvalidTimeoutFlag(t *testing.T) {
	flags := noFlags(filepath.Join(t.TempDir(), "missing.yaml"))
	flags.Timeout = "not-a-duration"
	if _, err := Load(flags); err == nil {
		t.Fatal("invalid --timeout must fail loading")
	}
}
