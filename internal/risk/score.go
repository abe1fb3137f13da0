// Package risk grades vault records on a 0-100 scale from protocol
// reputation, TVL depth, APY plausibility, chain maturity and data
// source reliability.
package risk

import (
	"context"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-yield-resolver/internal/cache"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// Factor weights. Reputation dominates: a battle-tested protocol with
// modest TVL outranks an unknown protocol with deep pockets.
const (
	weightReputation = 0.40
	weightTVL        = 0.25
	weightAPY        = 0.20
	weightChain      = 0.10
	weightSource     = 0.05
	neutralRiskScore = 50
)

// reputationTiers groups protocols by track record. Unlisted protocols
// score 25.
var reputationTiers = map[string]float64{
	"aave-v3": 95, "aave-v2": 95, "spark": 95, "morpho-blue": 95,
	"yearn": 80, "curve": 80, "convex": 80, "fluid": 80,
	"compound-v3": 55, "compound-v2": 55, "euler-v2": 55, "pendle": 55,
}

const reputationUnknown = 25

// Scorer computes memoized risk assessments.
type Scorer struct {
	memo *cache.Memoizer
}

// NewScorer creates a Scorer. The memoizer may be nil, in which case
// every call recomputes.
func NewScorer(memo *cache.Memoizer) *Scorer {
	return &Scorer{memo: memo}
}

// Assess returns the risk assessment for a record, memoized by
// (address, protocol, TVL) so repeated resolutions reuse the grade while
// a TVL change invalidates it.
func (s *Scorer) Assess(ctx context.Context, record model.VaultRecord) model.RiskAssessment {
	if s.memo == nil {
		return Score(record)
	}

	key := cache.Key("risk", record.VaultAddress, record.Protocol, formatTVL(record.TVLUSD))
	var assessment model.RiskAssessment
	err := s.memo.Do(ctx, key, cache.TTLRisk, &assessment, func(context.Context) (interface{}, error) {
		return Score(record), nil
	})
	if err != nil {
		return Score(record)
	}
	return assessment
}

// Score computes the weighted risk assessment. A panic inside the factor
// tables degrades to a neutral medium grade instead of taking down the
// resolution.
func Score(record model.VaultRecord) (assessment model.RiskAssessment) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Risk scorer panic for %s, using neutral score: %v", record.VaultAddress, r)
			assessment = model.RiskAssessment{
				Score:    neutralRiskScore,
				Category: model.RiskMedium,
			}
		}
	}()

	breakdown := model.RiskBreakdown{
		ProtocolReputation: reputationScore(record.Protocol),
		TVLMagnitude:       tvlScore(record.TVLUSD),
		APYPlausibility:    apyScore(record.APY),
		ChainMaturity:      chainScore(record.Chain),
		SourceReliability:  sourceScore(record.DataSource),
	}

	weighted := breakdown.ProtocolReputation*weightReputation +
		breakdown.TVLMagnitude*weightTVL +
		breakdown.APYPlausibility*weightAPY +
		breakdown.ChainMaturity*weightChain +
		breakdown.SourceReliability*weightSource

	score := int(math.Round(weighted))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return model.RiskAssessment{
		Score:     score,
		Category:  Categorize(score),
		Breakdown: breakdown,
	}
}

// Categorize maps a risk score to its tolerance category.
func Categorize(score int) model.RiskCategory {
	switch {
	case score >= 85:
		return model.RiskLow
	case score >= 70:
		return model.RiskMediumLow
	case score >= 55:
		return model.RiskMedium
	case score >= 40:
		return model.RiskMediumHigh
	default:
		return model.RiskHigh
	}
}

func formatTVL(tvlUSD int64) string {
	return strconv.FormatInt(tvlUSD, 10)
}

func reputationScore(protocol string) float64 {
	if score, ok := reputationTiers[protocol]; ok {
		return score
	}
	return reputationUnknown
}

func tvlScore(tvlUSD int64) float64 {
	switch {
	case tvlUSD >= 1_000_000_000:
		return 100
	case tvlUSD >= 250_000_000:
		return 90
	case tvlUSD >= 50_000_000:
		return 65
	case tvlUSD >= 10_000_000:
		return 55
	case tvlUSD >= 1_000_000:
		return 40
	default:
		return 15
	}
}

// apyScore penalizes implausibly high advertised yields.
func apyScore(apy float64) float64 {
	switch {
	case apy <= 0.05:
		return 100
	case apy <= 0.10:
		return 85
	case apy <= 0.20:
		return 65
	case apy <= 0.50:
		return 40
	case apy <= 1.0:
		return 20
	default:
		return 5
	}
}

func chainScore(chain types.Chain) float64 {
	switch chain {
	case types.ChainEthereum:
		return 100
	case types.ChainArbitrum, types.ChainOptimism, types.ChainPolygon:
		return 85
	case types.ChainBase, types.ChainAvalanche:
		return 75
	case types.ChainBSC:
		return 60
	default:
		return 40
	}
}

func sourceScore(source string) float64 {
	switch source {
	case "onchain":
		return 100
	case "vaultsfyi":
		return 80
	case "defillama":
		return 70
	default:
		return 50
	}
}
