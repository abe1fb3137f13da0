package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/vault-yield-resolver/internal/cache"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

func TestScoreBlueChipVault(t *testing.T) {
	assessment := Score(model.VaultRecord{
		VaultAddress: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
		Chain:        types.ChainEthereum,
		Protocol:     "aave-v3",
		APY:          0.03,
		TVLUSD:       500_000_000,
		DataSource:   "onchain",
	})

	assert.Equal(t, 96, assessment.Score)
	assert.Equal(t, model.RiskLow, assessment.Category)
	assert.Equal(t, 95.0, assessment.Breakdown.ProtocolReputation)
	assert.Equal(t, 90.0, assessment.Breakdown.TVLMagnitude)
	assert.Equal(t, 100.0, assessment.Breakdown.SourceReliability)
}

func TestScoreMidTierVault(t *testing.T) {
	assessment := Score(model.VaultRecord{
		VaultAddress: "0xc3d688B66703497DAA19211EEdff47f25384cdc3",
		Chain:        types.ChainBase,
		Protocol:     "compound-v3",
		APY:          0.04,
		TVLUSD:       50_000_000,
		DataSource:   "vaultsfyi",
	})

	assert.Equal(t, 70, assessment.Score)
	assert.Equal(t, model.RiskMediumLow, assessment.Category)
}

func TestScoreHighAPYUnknownProtocol(t *testing.T) {
	assessment := Score(model.VaultRecord{
		VaultAddress: "bb81379f-5c63-53cf-b227-719c481fa612",
		Chain:        types.ChainBase,
		Protocol:     "aerodrome-slipstream",
		APY:          13.0,
		TVLUSD:       2_000_000,
		DataSource:   "defillama",
	})

	assert.Equal(t, 32, assessment.Score)
	assert.Equal(t, model.RiskHigh, assessment.Category, "a 1300% APY from an unknown protocol is high risk")
}

func TestCategorizeBoundaries(t *testing.T) {
	assert.Equal(t, model.RiskLow, Categorize(85))
	assert.Equal(t, model.RiskMediumLow, Categorize(84))
	assert.Equal(t, model.RiskMediumLow, Categorize(70))
	assert.Equal(t, model.RiskMedium, Categorize(69))
	assert.Equal(t, model.RiskMedium, Categorize(55))
	assert.Equal(t, model.RiskMediumHigh, Categorize(54))
	assert.Equal(t, model.RiskMediumHigh, Categorize(40))
	assert.Equal(t, model.RiskHigh, Categorize(39))
}

func TestAssessMemoizesByAddressProtocolTVL(t *testing.T) {
	memo := cache.NewMemoizer(cache.NewMemoryCache())
	scorer := NewScorer(memo)
	ctx := context.Background()

	record := model.VaultRecord{
		VaultAddress: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
		Chain:        types.ChainEthereum,
		Protocol:     "aave-v3",
		APY:          0.03,
		TVLUSD:       500_000_000,
		DataSource:   "onchain",
	}

	first := scorer.Assess(ctx, record)
	second := scorer.Assess(ctx, record)
	require.Equal(t, first, second)

	hits, misses := memo.Stats()
	assert.Equal(t, int64(1), hits, "the second assessment must come from the memo")
	assert.Equal(t, int64(1), misses)

	// A TVL change is a different memo key and gets a fresh grade.
	record.TVLUSD = 2_000_000_000
	third := scorer.Assess(ctx, record)
	assert.Equal(t, 98, third.Score)
}

func TestScorerNilMemo(t *testing.T) {
	scorer := NewScorer(nil)
	assessment := scorer.Assess(context.Background(), model.VaultRecord{Protocol: "aave-v3", Chain: types.ChainEthereum, APY: 0.03, TVLUSD: 500_000_000, DataSource: "onchain"})
	assert.Equal(t, model.RiskLow, assessment.Category)
}
