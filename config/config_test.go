package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("rpc address: got %q", cfg.RPCAddress)
	}
	if cfg.PaymentToken.Symbol != "USDT" || cfg.RewardToken.Symbol != "BLOCKS" {
		t.Fatalf("unexpected token defaults: %+v %+v", cfg.PaymentToken, cfg.RewardToken)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	// a second load reads the file it just wrote
	if _, err := Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestLoadParsesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := strings.Join([]string{
		`RPCAddress = ":9090"`,
		`AdminToken = "secret"`,
		`AdminAddress = "0x00000000000000000000000000000000000000ad"`,
		`TreasuryBps = 500`,
		``,
		`[PaymentToken]`,
		`Symbol = "USDC"`,
		`Name = "USD Coin"`,
		`Decimals = 6`,
		``,
		`[Quota]`,
		`MaxPurchasesPerEpoch = 5`,
		`EpochSeconds = 3600`,
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":9090" || cfg.AdminToken != "secret" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.PaymentToken.Symbol != "USDC" {
		t.Fatalf("payment token: %+v", cfg.PaymentToken)
	}
	if cfg.RewardToken.Symbol != "BLOCKS" {
		t.Fatalf("reward token default not applied: %+v", cfg.RewardToken)
	}
	if cfg.Quota.MaxPurchasesPerEpoch != 5 || cfg.Quota.EpochSeconds != 3600 {
		t.Fatalf("quota: %+v", cfg.Quota)
	}
	if cfg.DataDir != "./bcoop-data" {
		t.Fatalf("data dir default not applied: %q", cfg.DataDir)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cases := map[string]string{
		"same tokens": strings.Join([]string{
			`[PaymentToken]`, `Symbol = "BLOCKS"`, `Decimals = 6`,
			`[RewardToken]`, `Symbol = "BLOCKS"`, `Decimals = 18`,
		}, "\n"),
		"bad address": `AdminAddress = "0x1234"`,
		"bps range":   `TreasuryBps = 10001`,
	}
	for name, body := range cases {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected validation failure", name)
		}
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000ff")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr[19] != 0xFF {
		t.Fatalf("unexpected address: %x", addr)
	}
	if _, err := ParseAddress("zz"); err == nil {
		t.Fatalf("expected parse failure")
	}
	if _, err := ParseAddress("0xff"); err == nil {
		t.Fatalf("expected length failure")
	}
}
