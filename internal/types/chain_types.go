// Package types contains shared type definitions used across multiple packages
package types

import "strings"

// Chain is the canonical lowercase name of a blockchain network.
type Chain string

// Supported blockchain networks
const (
	ChainEthereum  Chain = "ethereum"
	ChainPolygon   Chain = "polygon"
	ChainArbitrum  Chain = "arbitrum"
	ChainOptimism  Chain = "optimism"
	ChainAvalanche Chain = "avalanche"
	ChainBSC       Chain = "bsc"
	ChainBase      Chain = "base"
	ChainUnknown   Chain = "unknown"
)

// chainAliases maps provider-specific network names, including chain-id
// style identifiers, onto the canonical vocabulary.
var chainAliases = map[string]Chain{
	"ethereum": ChainEthereum, "eth": ChainEthereum, "mainnet": ChainEthereum, "1": ChainEthereum,
	"polygon": ChainPolygon, "matic": ChainPolygon, "polygon-pos": ChainPolygon, "137": ChainPolygon,
	"arbitrum": ChainArbitrum, "arbitrum-one": ChainArbitrum, "arb": ChainArbitrum, "42161": ChainArbitrum,
	"optimism": ChainOptimism, "op": ChainOptimism, "op-mainnet": ChainOptimism, "10": ChainOptimism,
	"avalanche": ChainAvalanche, "avax": ChainAvalanche, "43114": ChainAvalanche,
	"bsc": ChainBSC, "binance": ChainBSC, "bnb": ChainBSC, "56": ChainBSC,
	"base": ChainBase, "8453": ChainBase,
}

// NormalizeChain maps a provider-reported network identifier to the
// canonical chain name. Unmapped identifiers pass through lowercased so
// that identity keys stay stable even for networks we do not know.
func NormalizeChain(raw string) Chain {
	key := strings.ToLower(strings.TrimSpace(raw))
	if c, ok := chainAliases[key]; ok {
		return c
	}
	if key == "" {
		return ChainUnknown
	}
	return Chain(key)
}

// BlocksPerDay returns the approximate block production per day for a
// chain, used to locate historical blocks for share-price sampling.
func BlocksPerDay(c Chain) uint64 {
	switch c {
	case ChainEthereum:
		return 7_200 // 12s blocks
	case ChainPolygon:
		return 39_272
	case ChainArbitrum:
		return 345_600
	case ChainOptimism, ChainBase:
		return 43_200 // 2s blocks
	case ChainAvalanche:
		return 43_200
	case ChainBSC:
		return 28_800
	default:
		return 7_200
	}
}

// ProtocolFamily is the closed enumeration of yield calculation families.
// It is resolved once during record normalization instead of repeated
// substring dispatch on free-text protocol names.
type ProtocolFamily int

const (
	// FamilyUnknown covers protocols with no supported calculation method.
	FamilyUnknown ProtocolFamily = iota
	// FamilyLiquidityRate covers liquidity-pool lenders exposing a
	// continuously-compounded per-second rate in ray (1e27) units.
	FamilyLiquidityRate
	// FamilyUtilization covers lenders exposing supplied/borrowed totals
	// and a per-second borrow rate (or a kinked rate model).
	FamilyUtilization
	// FamilyShareVault covers vaults exposing total-assets/total-supply
	// share accounting (ERC-4626 and equivalents).
	FamilyShareVault
)

// String implements fmt.Stringer for log fields.
func (f ProtocolFamily) String() string {
	switch f {
	case FamilyLiquidityRate:
		return "liquidity-rate"
	case FamilyUtilization:
		return "utilization"
	case FamilyShareVault:
		return "share-vault"
	default:
		return "unknown"
	}
}

// protocolSlugs maps provider-specific protocol name variants onto
// canonical lowercase slugs.
var protocolSlugs = map[string]string{
	"aave-v3": "aave-v3", "aave v3": "aave-v3", "aavev3": "aave-v3", "aave3": "aave-v3",
	"aave-v2": "aave-v2", "aave v2": "aave-v2", "aavev2": "aave-v2",
	"compound-v3": "compound-v3", "compound v3": "compound-v3", "compoundv3": "compound-v3", "comet": "compound-v3",
	"compound-v2": "compound-v2", "compound v2": "compound-v2", "compoundv2": "compound-v2",
	"morpho-blue": "morpho-blue", "morpho blue": "morpho-blue", "morpho": "morpho-blue",
	"spark": "spark", "sparklend": "spark",
	"yearn": "yearn", "yearn-v3": "yearn", "yearn finance": "yearn",
	"fluid": "fluid", "fluid-lending": "fluid",
	"euler-v2": "euler-v2", "euler": "euler-v2",
	"pendle": "pendle",
	"curve": "curve", "curve-dex": "curve",
	"convex": "convex", "convex-finance": "convex",
}

// protocolFamilies assigns each canonical slug to its calculation family.
var protocolFamilies = map[string]ProtocolFamily{
	"aave-v3":     FamilyLiquidityRate,
	"aave-v2":     FamilyLiquidityRate,
	"spark":       FamilyLiquidityRate,
	"compound-v3": FamilyUtilization,
	"compound-v2": FamilyUtilization,
	"fluid":       FamilyUtilization,
	"morpho-blue": FamilyShareVault,
	"yearn":       FamilyShareVault,
	"euler-v2":    FamilyShareVault,
	"pendle":      FamilyShareVault,
}

// NormalizeProtocol maps a provider-reported protocol name to its
// canonical slug. Unmapped names are slugified (lowercase, spaces to
// hyphens) so they remain usable as identity components.
func NormalizeProtocol(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "_", "-")
	if slug, ok := protocolSlugs[key]; ok {
		return slug
	}
	return strings.ReplaceAll(key, " ", "-")
}

// ClassifyProtocol resolves the calculation family for a canonical slug.
func ClassifyProtocol(slug string) ProtocolFamily {
	if f, ok := protocolFamilies[slug]; ok {
		return f
	}
	return FamilyUnknown
}
