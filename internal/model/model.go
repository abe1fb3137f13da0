// Package model defines the core data structures for the vault yield resolver.
package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// contractAddressRe matches the fixed-length hex shape of a real contract
// address. Provider-issued opaque identifiers do not match it.
var contractAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// DataConfidence classifies how much on-chain corroboration backs a record.
type DataConfidence string

// Data confidence tiers, mapped from the validation score.
const (
	ConfidenceHigh       DataConfidence = "high"
	ConfidenceMediumHigh DataConfidence = "medium-high"
	ConfidenceMedium     DataConfidence = "medium"
	ConfidenceMediumLow  DataConfidence = "medium-low"
	ConfidenceLow        DataConfidence = "low"
	// ConfidenceAPIOnly marks records whose on-chain cross-check failed;
	// only provider-reported figures back them.
	ConfidenceAPIOnly DataConfidence = "api_only"
)

// VaultRecord is the canonical description of one vault on one chain.
// Records are pure values: merge and enrichment stages never mutate a
// record in place, they produce a new value layering additional fields
// onto the original.
type VaultRecord struct {
	// VaultAddress is the contract address, or a provider-issued opaque
	// identifier when the provider does not expose the address.
	VaultAddress string `json:"vault_address"`

	// Chain is the canonical lowercase network name.
	Chain types.Chain `json:"chain"`

	// Protocol is the canonical lowercase protocol slug.
	Protocol string `json:"protocol"`

	// Family is the calculation family resolved at normalization time.
	Family types.ProtocolFamily `json:"-"`

	Name        string `json:"name"`
	AssetSymbol string `json:"asset_symbol"`

	// APY is the provider-reported annual yield as a fraction (0.05 = 5%).
	APY float64 `json:"apy"`

	// TVLUSD is total value locked in whole US dollars.
	TVLUSD int64 `json:"tvl_usd"`

	// DataSource is the provenance tag of the provider that produced
	// this record.
	DataSource string `json:"data_source"`

	// CollectedAt is the Unix timestamp when the record was collected.
	CollectedAt int64 `json:"collected_at"`

	// RiskScore is set once the risk scorer has assessed the record.
	RiskScore *float64 `json:"risk_score,omitempty"`

	// ValidationScore and DataConfidence are set by on-chain validation.
	ValidationScore *float64       `json:"validation_score,omitempty"`
	DataConfidence  DataConfidence `json:"data_confidence,omitempty"`

	// CalculatedAPY carries the authoritative yield estimate chosen by
	// the resolver, with its method and confidence.
	CalculatedAPY     *float64 `json:"calculated_apy,omitempty"`
	CalculationMethod string   `json:"calculation_method,omitempty"`
	ConfidenceScore   float64  `json:"confidence_score,omitempty"`
}

// Identity returns the case-insensitive identity key: at most one
// canonical record exists per identity after reconciliation.
func (r VaultRecord) Identity() string {
	return strings.ToLower(r.VaultAddress) + ":" + strings.ToLower(string(r.Chain))
}

// HasContractAddress reports whether the vault address has the shape of a
// real contract address rather than an opaque provider identifier.
func (r VaultRecord) HasContractAddress() bool {
	return contractAddressRe.MatchString(r.VaultAddress)
}

// IsValid performs basic sanity validation on the record.
func (r VaultRecord) IsValid() bool {
	return r.VaultAddress != "" &&
		r.APY >= 0 &&
		r.TVLUSD >= 0 &&
		r.DataSource != ""
}

// WithRiskScore returns a copy of the record carrying the risk score.
func (r VaultRecord) WithRiskScore(score float64) VaultRecord {
	r.RiskScore = &score
	return r
}

// WithValidation returns a copy of the record enriched with the outcome
// of an on-chain cross-check.
func (r VaultRecord) WithValidation(score float64, confidence DataConfidence) VaultRecord {
	r.ValidationScore = &score
	r.DataConfidence = confidence
	return r
}

// WithEstimate returns a copy of the record carrying a calculated APY.
func (r VaultRecord) WithEstimate(e YieldEstimate) VaultRecord {
	apy := e.CalculatedAPY
	r.CalculatedAPY = &apy
	r.CalculationMethod = string(e.Method)
	r.ConfidenceScore = e.ConfidenceScore
	return r
}

// CheckResult is the outcome of one independent validation check.
type CheckResult struct {
	Passed bool    `json:"passed"`
	Points float64 `json:"points"`
}

// ValidationResult holds the five independent checks computed during one
// on-chain cross-check. It is purely derived and never persisted
// independently of the record it enriches.
type ValidationResult struct {
	AddressReal    CheckResult `json:"address_real"`
	SymbolMatch    CheckResult `json:"symbol_match"`
	NameSimilar    CheckResult `json:"name_similar"`
	TVLPlausible   CheckResult `json:"tvl_plausible"`
	FreshnessBonus float64     `json:"freshness_bonus"`

	Score      float64        `json:"score"`
	Confidence DataConfidence `json:"confidence"`
	CheckedAt  time.Time      `json:"checked_at"`
}

// CalculationMethod identifies the strategy that produced a yield estimate.
type CalculationMethod string

// Yield calculation methods.
const (
	MethodLiquidityRate  CalculationMethod = "liquidity_rate"
	MethodUtilization    CalculationMethod = "utilization_rate"
	MethodSharePrice7d   CalculationMethod = "share_price_7d"
	MethodSharePrice30d  CalculationMethod = "share_price_30d"
	MethodGenericERC4626 CalculationMethod = "generic_erc4626"
	MethodHeuristicBand  CalculationMethod = "heuristic_band"
)

// YieldEstimate is one realized-APY estimate for a vault. A vault may
// have several competing estimates; the resolver picks at most one as
// authoritative per ranking pass.
type YieldEstimate struct {
	CalculatedAPY   float64                `json:"calculated_apy"`
	Method          CalculationMethod      `json:"method"`
	ConfidenceScore float64                `json:"confidence_score"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// RiskCategory buckets a risk score into tolerance bands.
type RiskCategory string

// Risk categories, highest score first.
const (
	RiskLow        RiskCategory = "low"
	RiskMediumLow  RiskCategory = "medium-low"
	RiskMedium     RiskCategory = "medium"
	RiskMediumHigh RiskCategory = "medium-high"
	RiskHigh       RiskCategory = "high"
)

// RiskBreakdown holds the per-factor sub-scores behind a risk assessment.
type RiskBreakdown struct {
	ProtocolReputation float64 `json:"protocol_reputation"`
	TVLMagnitude       float64 `json:"tvl_magnitude"`
	APYPlausibility    float64 `json:"apy_plausibility"`
	ChainMaturity      float64 `json:"chain_maturity"`
	SourceReliability  float64 `json:"source_reliability"`
}

// RiskAssessment is the scored risk profile of one record.
type RiskAssessment struct {
	Score     int           `json:"score"`
	Category  RiskCategory  `json:"category"`
	Breakdown RiskBreakdown `json:"breakdown"`
}
