package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenConfig declares one of the two tokens the engine trades.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// QuotaConfig bounds per-buyer purchase activity. A zero limit disables that
// limit; a zero EpochSeconds makes the limits lifetime totals that never
// reset.
type QuotaConfig struct {
	MaxPurchasesPerEpoch uint32 `toml:"MaxPurchasesPerEpoch"`
	MaxPaymentPerEpoch   uint64 `toml:"MaxPaymentPerEpoch"`
	EpochSeconds         uint32 `toml:"EpochSeconds"`
}

type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	// AdminToken gates the administrative RPC surface. An empty token
	// disables admin methods entirely.
	AdminToken string `toml:"AdminToken"`

	PaymentToken TokenConfig `toml:"PaymentToken"`
	RewardToken  TokenConfig `toml:"RewardToken"`

	// AdminAddress and TreasuryAddress are hex-encoded 20-byte accounts
	// seeded at genesis.
	AdminAddress    string `toml:"AdminAddress"`
	TreasuryAddress string `toml:"TreasuryAddress"`
	TreasuryBps     uint32 `toml:"TreasuryBps"`

	// PoolAddress is the settlement account of the liquidity pool.
	PoolAddress string `toml:"PoolAddress"`

	Quota QuotaConfig `toml:"Quota"`
}

// Load reads the configuration from path, writing a default file first when
// none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./bcoop-data"
	}
	if cfg.PaymentToken.Symbol == "" {
		cfg.PaymentToken = TokenConfig{Symbol: "USDT", Name: "Tether USD", Decimals: 6}
	}
	if cfg.RewardToken.Symbol == "" {
		cfg.RewardToken = TokenConfig{Symbol: "BLOCKS", Name: "BlockCoop Token", Decimals: 18}
	}
}

// Validate rejects configurations the node cannot start with.
func (cfg *Config) Validate() error {
	if cfg.PaymentToken.Symbol == cfg.RewardToken.Symbol {
		return fmt.Errorf("payment and reward tokens must differ")
	}
	if cfg.PaymentToken.Decimals > 18 || cfg.RewardToken.Decimals > 18 {
		return fmt.Errorf("token decimals must not exceed 18")
	}
	if cfg.TreasuryBps > 10_000 {
		return fmt.Errorf("treasury bps out of range: %d", cfg.TreasuryBps)
	}
	for name, addr := range map[string]string{
		"AdminAddress":    cfg.AdminAddress,
		"TreasuryAddress": cfg.TreasuryAddress,
		"PoolAddress":     cfg.PoolAddress,
	} {
		if addr == "" {
			continue
		}
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// ParseAddress decodes a hex-encoded 20-byte account address. A 0x prefix is
// accepted.
func ParseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("invalid address %q: want 20 bytes, got %d", s, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
