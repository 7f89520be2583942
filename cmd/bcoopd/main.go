package main

import (
	"flag"
	"fmt"
	"os"

	"blockcoop/config"
	"blockcoop/core"
	nativecommon "blockcoop/native/common"
	"blockcoop/native/liquidity"
	"blockcoop/rpc"
	"blockcoop/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	genesis, err := genesisFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid genesis configuration: %v\n", err)
		os.Exit(1)
	}

	node, err := core.NewNode(db, genesis)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize node: %v\n", err)
		os.Exit(1)
	}

	if cfg.PoolAddress != "" {
		poolAddr, err := config.ParseAddress(cfg.PoolAddress)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid pool address: %v\n", err)
			os.Exit(1)
		}
		node.SetPool(liquidity.NewConstantProductPool(poolAddr))
	}
	node.SetQuota(nativecommon.Quota{
		MaxPurchasesPerEpoch: cfg.Quota.MaxPurchasesPerEpoch,
		MaxPaymentPerEpoch:   cfg.Quota.MaxPaymentPerEpoch,
		EpochSeconds:         cfg.Quota.EpochSeconds,
	})

	server := rpc.NewServer(node, cfg.AdminToken)
	if err := server.Start(cfg.RPCAddress); err != nil {
		fmt.Fprintf(os.Stderr, "RPC server stopped: %v\n", err)
		os.Exit(1)
	}
}

// genesisFromConfig maps the on-disk configuration onto the genesis document.
// Only an empty database seeds accounts and roles from it; a node reopening
// existing state still reads the token symbols from the config.
func genesisFromConfig(cfg *config.Config) (*core.Genesis, error) {
	admin, err := config.ParseAddress(cfg.AdminAddress)
	if err != nil {
		return nil, fmt.Errorf("admin address: %w", err)
	}
	treasury, err := config.ParseAddress(cfg.TreasuryAddress)
	if err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}
	return &core.Genesis{
		PaymentToken: core.TokenSpec{
			Symbol:   cfg.PaymentToken.Symbol,
			Name:     cfg.PaymentToken.Name,
			Decimals: cfg.PaymentToken.Decimals,
		},
		RewardToken: core.TokenSpec{
			Symbol:   cfg.RewardToken.Symbol,
			Name:     cfg.RewardToken.Name,
			Decimals: cfg.RewardToken.Decimals,
		},
		Admin:       admin,
		Treasury:    treasury,
		TreasuryBps: cfg.TreasuryBps,
	}, nil
}
