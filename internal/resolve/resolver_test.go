package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

func scored(addr string, apy float64, risk float64, validation float64) model.VaultRecord {
	r := model.VaultRecord{
		VaultAddress: addr,
		Chain:        types.ChainEthereum,
		AssetSymbol:  "USDC",
		APY:          apy,
		DataSource:   "vaultsfyi",
	}
	r.RiskScore = &risk
	r.ValidationScore = &validation
	return r
}

func TestRankFiltersBelowToleranceFloor(t *testing.T) {
	records := []model.VaultRecord{
		scored("0x1111111111111111111111111111111111111111", 0.03, 90, 80),
		scored("0x2222222222222222222222222222222222222222", 0.10, 54, 80),
	}

	r := New(0)
	ranked := r.Rank(records, model.RiskMedium)
	require.Len(t, ranked, 1, "a 54 risk score is below the medium floor of 55")
	assert.Equal(t, "0x1111111111111111111111111111111111111111", ranked[0].VaultAddress)

	assert.Len(t, r.Rank(records, model.RiskHigh), 2, "high tolerance admits everything")
}

func TestRankConfidenceDominatesOnWideGap(t *testing.T) {
	// 90 vs 65 validation confidence: gap above 20, so the corroborated
	// record wins even with a lower yield.
	lowYieldTrusted := scored("0x1111111111111111111111111111111111111111", 0.02, 80, 90)
	highYieldShaky := scored("0x2222222222222222222222222222222222222222", 0.12, 80, 65)

	r := New(0)
	ranked := r.Rank([]model.VaultRecord{highYieldShaky, lowYieldTrusted}, model.RiskHigh)
	require.Len(t, ranked, 2)
	assert.Equal(t, lowYieldTrusted.VaultAddress, ranked[0].VaultAddress)
}

func TestRankYieldDecidesWithinConfidenceGap(t *testing.T) {
	// 70 vs 60: within the gap, so risk-adjusted yield decides.
	lowYield := scored("0x1111111111111111111111111111111111111111", 0.02, 80, 70)
	highYield := scored("0x2222222222222222222222222222222222222222", 0.05, 80, 60)

	r := New(0)
	ranked := r.Rank([]model.VaultRecord{lowYield, highYield}, model.RiskHigh)
	require.Len(t, ranked, 2)
	assert.Equal(t, highYield.VaultAddress, ranked[0].VaultAddress)
}

func TestEffectiveAPYConfidenceGate(t *testing.T) {
	r := New(0)

	record := scored("0x1111111111111111111111111111111111111111", 0.04, 80, 80)
	calculated := 0.031
	record.CalculatedAPY = &calculated

	record.ConfidenceScore = 0.95
	assert.Equal(t, 0.031, r.EffectiveAPY(record), "confident calculation replaces the reported APY")

	record.ConfidenceScore = 0.55
	assert.Equal(t, 0.04, r.EffectiveAPY(record), "a low-confidence calculation is ignored")
}

func TestRiskAdjustedYield(t *testing.T) {
	r := New(0)
	record := scored("0x1111111111111111111111111111111111111111", 0.03, 96, 80)
	assert.InDelta(t, 0.0288, r.RiskAdjustedYield(record), 1e-9)
}

func TestSelectBestEmptySurvivors(t *testing.T) {
	r := New(0)
	records := []model.VaultRecord{
		scored("0x1111111111111111111111111111111111111111", 0.5, 20, 80),
	}
	_, ok := r.SelectBest(records, model.RiskLow)
	assert.False(t, ok)
}

func TestFloorUnknownToleranceDefaultsToMedium(t *testing.T) {
	assert.Equal(t, 55, Floor(model.RiskCategory("bogus")))
}
