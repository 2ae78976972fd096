// Package config loads and validates the engine's YAML configuration,
// following the teacher's configs/config.go split: a wire struct decoded
// straight off YAML tags, translated into internal Options shaped the way
// each subsystem actually consumes them (time.Duration, common.Address,
// typed chain IDs, basis points).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/arbitrageur-go/engine/internal/domain"
)

// wireConfig mirrors config.yml's shape verbatim — plain YAML-tagged
// fields, no validation, no derived types. Kept separate from Options so
// a YAML-format change never leaks into the rest of the engine.
type wireConfig struct {
	RPCURL     string `yaml:"rpc_url"`
	ChainID    uint64 `yaml:"chain_id"`
	PrivateKey string `yaml:"private_key"`

	// RPCURLs dials additional chains beyond the primary RPCURL/ChainID
	// pair, keyed by chain ID — the Cross-Chain Router (spec.md §4.6) needs
	// at least a source and a target chain to ever produce a Route, so a
	// single-entry deployment leaves it structurally idle.
	RPCURLs map[uint64]string `yaml:"rpc_urls"`

	ExecutorAddress string `yaml:"executor_address"`
	VaultAddress    string `yaml:"vault_address"`

	// ExecutorABIPath/ERC20ABIPath optionally point at a compiled-contract
	// artifact (ExecutorABIPath, Hardhat/Foundry style) or a bare ABI JSON
	// file (ERC20ABIPath) to load instead of the engine's built-in minimal
	// ABIs. Empty uses the built-in ABI.
	ExecutorABIPath string `yaml:"executor_abi_path"`
	ERC20ABIPath    string `yaml:"erc20_abi_path"`

	MaxPositionSize int64 `yaml:"max_position_size"`
	MaxLeverage     int   `yaml:"max_leverage"`
	StopLossPct     int   `yaml:"stop_loss_pct"`
	MaxDrawdownPct  int   `yaml:"max_drawdown"`

	MaxGasPriceGwei  int64 `yaml:"max_gas_price"`
	PriorityFeeGwei  int64 `yaml:"priority_fee"`
	MaxHops          int   `yaml:"max_hops"`

	FlashbotsEnabled bool   `yaml:"flashbots_enabled"`
	FlashbotsRPC     string `yaml:"flashbots_rpc"`
	EdenEnabled      bool   `yaml:"eden_enabled"`
	EdenRPC          string `yaml:"eden_rpc"`

	MarketMakingEnabled bool `yaml:"market_making_enabled"`
	MinSpreadBps        int  `yaml:"min_spread_bps"`
	RebalanceThresholdPct int `yaml:"rebalance_threshold"`

	PoolCachePath string `yaml:"pool_cache_path"`
	MetricsPort   int    `yaml:"metrics_port"`

	// RSSSoftCapBytes is the health loop's memory soft cap (spec.md §5:
	// "default 1 GiB"); 0 falls back to metrics.DefaultRSSSoftCapBytes.
	RSSSoftCapBytes uint64 `yaml:"rss_soft_cap_bytes"`

	MySQLDSN string `yaml:"mysql_dsn"`
}

// Options is the validated, typed configuration every subsystem is
// constructed from.
type Options struct {
	RPCURL     string
	ChainID    domain.Chain
	PrivateKey string // 0x-prefixed hex, kept opaque here; parsed to ecdsa at the composition root

	// AdditionalRPCURLs dials the Cross-Chain Router's other chains,
	// keyed by domain.Chain; may be empty (the Router then only ever sees
	// the primary chain, so FindRoutes never emits a cross-chain Route).
	AdditionalRPCURLs map[domain.Chain]string

	ExecutorAddress common.Address
	VaultAddress    common.Address

	ExecutorABIPath string
	ERC20ABIPath    string

	MaxPositionSize int64 // profit-token base units
	MaxLeverage     int
	StopLossPct     int
	MaxDrawdownPct  int

	MaxGasPriceGwei int64
	PriorityFeeGwei int64
	MaxHops         int

	FlashbotsEnabled bool
	FlashbotsRPC     string
	EdenEnabled      bool
	EdenRPC          string

	MarketMakingEnabled bool
	MinSpreadBps        int
	// RebalanceThresholdBps is the unified bps form of rebalance_threshold
	// (SPEC_FULL.md Open Question: the YAML option is a percent 1-100, we
	// store bps = pct * 100 so every internal consumer shares one scale
	// with min_spread_bps and FeeBps).
	RebalanceThresholdBps int

	PoolCachePath string
	MetricsPort   int

	RSSSoftCapBytes uint64

	MySQLDSN string
}

// Load reads path, parses the YAML, and validates it into Options.
// Returns a *domain.ClassifiedError(KindFatalConfig) on any violation —
// config errors always halt startup (spec.md §7).
func Load(path string) (*Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewClassifiedError(domain.KindFatalConfig, fmt.Errorf("config: read %s: %w", path, err))
	}

	var wire wireConfig
	if err := yaml.Unmarshal(raw, &wire); err != nil {
		return nil, domain.NewClassifiedError(domain.KindFatalConfig, fmt.Errorf("config: parse %s: %w", path, err))
	}

	return validate(&wire)
}

func validate(w *wireConfig) (*Options, error) {
	var problems []string

	if !hasAnyPrefix(w.RPCURL, "ws://", "wss://", "http://", "https://") {
		problems = append(problems, "rpc_url must begin with ws://, wss://, http://, or https://")
	}

	chain := domain.Chain(w.ChainID)
	if !domain.SupportedChains[chain] {
		problems = append(problems, fmt.Sprintf("chain_id %d is not in the supported set", w.ChainID))
	}

	additionalRPCURLs := make(map[domain.Chain]string, len(w.RPCURLs))
	for rawChainID, rpcURL := range w.RPCURLs {
		extraChain := domain.Chain(rawChainID)
		if !domain.SupportedChains[extraChain] {
			problems = append(problems, fmt.Sprintf("rpc_urls: chain %d is not in the supported set", rawChainID))
			continue
		}
		if extraChain == chain {
			problems = append(problems, fmt.Sprintf("rpc_urls: chain %d duplicates the primary chain_id", rawChainID))
			continue
		}
		if !hasAnyPrefix(rpcURL, "ws://", "wss://", "http://", "https://") {
			problems = append(problems, fmt.Sprintf("rpc_urls: chain %d url must begin with ws://, wss://, http://, or https://", rawChainID))
			continue
		}
		additionalRPCURLs[extraChain] = rpcURL
	}

	if !isHexPrivateKey(w.PrivateKey) {
		problems = append(problems, "private_key must be a 0x-prefixed 32-byte hex string")
	}

	if !common.IsHexAddress(w.ExecutorAddress) || common.HexToAddress(w.ExecutorAddress) == (common.Address{}) {
		problems = append(problems, "executor_address must be a non-zero contract address")
	}
	if !common.IsHexAddress(w.VaultAddress) || common.HexToAddress(w.VaultAddress) == (common.Address{}) {
		problems = append(problems, "vault_address must be a non-zero contract address")
	}

	if w.MaxPositionSize < 1 || w.MaxPositionSize > 1_000_000 {
		problems = append(problems, "max_position_size must be in [1, 10^6]")
	}
	if w.MaxLeverage < 1 || w.MaxLeverage > 10 {
		problems = append(problems, "max_leverage must be in [1, 10]")
	}
	if w.StopLossPct < 1 || w.StopLossPct > 100 {
		problems = append(problems, "stop_loss_pct must be in [1, 100]")
	}
	if w.MaxDrawdownPct < 1 || w.MaxDrawdownPct > 100 {
		problems = append(problems, "max_drawdown must be in [1, 100]")
	}
	if w.MaxGasPriceGwei < 1 || w.MaxGasPriceGwei > 500 {
		problems = append(problems, "max_gas_price must be in [1, 500] gwei")
	}
	if w.PriorityFeeGwei < 0 || w.PriorityFeeGwei > 100 {
		problems = append(problems, "priority_fee must be in [0, 100] gwei")
	}
	if w.MaxHops < 1 || w.MaxHops > 5 {
		problems = append(problems, "max_hops must be in [1, 5]")
	}
	if w.FlashbotsEnabled && w.FlashbotsRPC == "" {
		problems = append(problems, "flashbots_rpc is required when flashbots_enabled is true")
	}
	if w.EdenEnabled && w.EdenRPC == "" {
		problems = append(problems, "eden_rpc is required when eden_enabled is true")
	}
	if w.MinSpreadBps < 1 || w.MinSpreadBps > 1000 {
		problems = append(problems, "min_spread_bps must be in [1, 1000]")
	}
	if w.RebalanceThresholdPct < 1 || w.RebalanceThresholdPct > 100 {
		problems = append(problems, "rebalance_threshold must be in [1, 100] percent")
	}

	if len(problems) > 0 {
		return nil, domain.NewClassifiedError(domain.KindFatalConfig, fmt.Errorf("config: %s", strings.Join(problems, "; ")))
	}

	return &Options{
		RPCURL:                w.RPCURL,
		ChainID:               chain,
		PrivateKey:            w.PrivateKey,
		AdditionalRPCURLs:     additionalRPCURLs,
		ExecutorAddress:       common.HexToAddress(w.ExecutorAddress),
		VaultAddress:          common.HexToAddress(w.VaultAddress),
		ExecutorABIPath:       w.ExecutorABIPath,
		ERC20ABIPath:          w.ERC20ABIPath,
		MaxPositionSize:       w.MaxPositionSize,
		MaxLeverage:           w.MaxLeverage,
		StopLossPct:           w.StopLossPct,
		MaxDrawdownPct:        w.MaxDrawdownPct,
		MaxGasPriceGwei:       w.MaxGasPriceGwei,
		PriorityFeeGwei:       w.PriorityFeeGwei,
		MaxHops:               w.MaxHops,
		FlashbotsEnabled:      w.FlashbotsEnabled,
		FlashbotsRPC:          w.FlashbotsRPC,
		EdenEnabled:           w.EdenEnabled,
		EdenRPC:               w.EdenRPC,
		MarketMakingEnabled:   w.MarketMakingEnabled,
		MinSpreadBps:          w.MinSpreadBps,
		RebalanceThresholdBps: w.RebalanceThresholdPct * 100,
		PoolCachePath:         w.PoolCachePath,
		MetricsPort:           w.MetricsPort,
		RSSSoftCapBytes:       w.RSSSoftCapBytes,
		MySQLDSN:              w.MySQLDSN,
	}, nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isHexPrivateKey(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	for _, r := range s[2:] {
		if !isHexDigit(r) {
			return false
		}
	}
	return true
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// The market-making side channel is config-only in this engine: its
// options are MarketMakingEnabled, MinSpreadBps and RebalanceThresholdBps
// above, and no market-maker loop or market-maker config type exists.
