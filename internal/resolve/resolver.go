// Package resolve filters risk-scored vault records by tolerance and
// ranks the survivors by confidence-gated risk-adjusted yield.
package resolve

import (
	"sort"

	"github.com/yourorg/vault-yield-resolver/internal/model"
)

// DefaultConfidenceThreshold gates when a calculated APY replaces the
// provider-reported one in the risk-adjusted yield.
const DefaultConfidenceThreshold = 0.7

// confidenceGap is the validation-confidence difference above which
// confidence dominates yield in the ranking comparator.
const confidenceGap = 20.0

// toleranceFloors maps a caller's risk tolerance to the minimum
// acceptable risk score. A high tolerance accepts everything.
var toleranceFloors = map[model.RiskCategory]int{
	model.RiskLow:        85,
	model.RiskMediumLow:  70,
	model.RiskMedium:     55,
	model.RiskMediumHigh: 40,
	model.RiskHigh:       0,
}

// Floor returns the minimum risk score admitted by a tolerance.
// Unrecognized tolerances fall back to the medium floor.
func Floor(tolerance model.RiskCategory) int {
	if floor, ok := toleranceFloors[tolerance]; ok {
		return floor
	}
	return toleranceFloors[model.RiskMedium]
}

// Resolver ranks records for a risk tolerance.
type Resolver struct {
	confidenceThreshold float64
}

// New creates a Resolver. A non-positive threshold selects the default.
func New(confidenceThreshold float64) *Resolver {
	if confidenceThreshold <= 0 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	return &Resolver{confidenceThreshold: confidenceThreshold}
}

// Rank filters records below the tolerance floor and sorts the survivors
// best-first. The input slice is not modified. An empty result means no
// vault satisfies the tolerance; the caller decides how to report that.
func (r *Resolver) Rank(records []model.VaultRecord, tolerance model.RiskCategory) []model.VaultRecord {
	floor := Floor(tolerance)

	survivors := make([]model.VaultRecord, 0, len(records))
	for _, record := range records {
		if riskScore(record) >= float64(floor) {
			survivors = append(survivors, record)
		}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return r.better(survivors[i], survivors[j])
	})
	return survivors
}

// SelectBest returns the top-ranked record, or false when the tolerance
// admits nothing.
func (r *Resolver) SelectBest(records []model.VaultRecord, tolerance model.RiskCategory) (model.VaultRecord, bool) {
	ranked := r.Rank(records, tolerance)
	if len(ranked) == 0 {
		return model.VaultRecord{}, false
	}
	return ranked[0], true
}

// better is the ranking comparator: when two records differ widely in
// confidence the more corroborated one wins regardless of yield;
// otherwise the higher risk-adjusted yield wins.
func (r *Resolver) better(a, b model.VaultRecord) bool {
	confA, confB := confidence(a), confidence(b)
	diff := confA - confB
	if diff > confidenceGap {
		return true
	}
	if diff < -confidenceGap {
		return false
	}
	return r.RiskAdjustedYield(a) > r.RiskAdjustedYield(b)
}

// RiskAdjustedYield scales the effective APY by the risk score fraction.
func (r *Resolver) RiskAdjustedYield(record model.VaultRecord) float64 {
	return r.EffectiveAPY(record) * riskScore(record) / 100
}

// EffectiveAPY prefers the calculated APY when its confidence clears the
// threshold, and falls back to the provider-reported figure.
func (r *Resolver) EffectiveAPY(record model.VaultRecord) float64 {
	if record.CalculatedAPY != nil && record.ConfidenceScore > r.confidenceThreshold {
		return *record.CalculatedAPY
	}
	return record.APY
}

// confidence is the 0-100 comparator input: the validation score when
// the record was cross-checked, else the calculator confidence scaled to
// the same range.
func confidence(record model.VaultRecord) float64 {
	if record.ValidationScore != nil {
		return *record.ValidationScore
	}
	return record.ConfidenceScore * 100
}

// riskScore treats an unscored record as neutral rather than excluding
// it outright.
func riskScore(record model.VaultRecord) float64 {
	if record.RiskScore != nil {
		return *record.RiskScore
	}
	return 50
}
