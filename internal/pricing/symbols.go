package pricing

import (
	"strings"

	"github.com/ayo6706/shift-donations/internal/domain"
)

var chainAliases = map[string]string{
	"ethereum":  "ethereum",
	"eth":       "ethereum",
	"arbitrum":  "arbitrum",
	"arb":       "arbitrum",
	"optimism":  "optimism",
	"op":        "optimism",
	"polygon":   "polygon",
	"matic":     "polygon",
	"bsc":       "bsc",
	"avalanche": "avax",
	"avax":      "avax",
	"base":      "base",
	"solana":    "solana",
	"fantom":    "fantom",
}

// nativeSymbols lists the gas token symbols of each chain.
var nativeSymbols = map[string][]string{
	"ethereum": {"eth"},
	"arbitrum": {"eth"},
	"optimism": {"eth"},
	"base":     {"eth"},
	"polygon":  {"matic", "pol"},
	"bsc":      {"bnb"},
	"avax":     {"avax"},
	"fantom":   {"ftm"},
}

// NormalizeChain maps a chain alias to its feed chain name. Unknown names pass through lowercased.
func NormalizeChain(chain string) string {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if mapped, ok := chainAliases[chain]; ok {
		return mapped
	}
	return chain
}

// ParseSymbols turns "eth-ethereum,usdc-base" into feed ids. Native gas tokens map to
// "<chain>:0x000…0"; other symbols become "<chain>:<symbol>".
func ParseSymbols(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		symbol, network, _ := strings.Cut(part, "-")
		chain := NormalizeChain(network)
		if isNative(chain, symbol) {
			ids = append(ids, chain+":"+domain.NativeTokenAddress)
			continue
		}
		ids = append(ids, chain+":"+symbol)
	}
	return ids
}

// ParseIDs splits a comma-separated id list.
func ParseIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

func isNative(chain, symbol string) bool {
	for _, s := range nativeSymbols[chain] {
		if s == symbol {
			return true
		}
	}
	return false
}
