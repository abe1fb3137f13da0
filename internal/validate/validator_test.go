package validate

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/onchain"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// stubReader serves canned contract state keyed by vault address.
type stubReader struct {
	meta     map[string]onchain.TokenMeta
	supplies map[string]*big.Int
	err      error
}

func (s *stubReader) LatestBlock(context.Context, types.Chain) (uint64, error) {
	return 20_000_000, nil
}

func (s *stubReader) TokenMeta(_ context.Context, _ types.Chain, address string) (onchain.TokenMeta, error) {
	if s.err != nil {
		return onchain.TokenMeta{}, s.err
	}
	meta, ok := s.meta[address]
	if !ok {
		return onchain.TokenMeta{}, errors.New("execution reverted")
	}
	return meta, nil
}

func (s *stubReader) TotalSupply(_ context.Context, _ types.Chain, address string) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	supply, ok := s.supplies[address]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return supply, nil
}

func (s *stubReader) LiquidityRate(context.Context, types.Chain, string) (*big.Int, error) {
	return nil, errors.New("not a lending pool")
}

func (s *stubReader) MarketState(context.Context, types.Chain, string) (onchain.MarketState, error) {
	return onchain.MarketState{}, errors.New("not a market")
}

func (s *stubReader) ShareState(context.Context, types.Chain, string, uint64) (onchain.ShareState, error) {
	return onchain.ShareState{}, errors.New("not a vault")
}

const aaveAddr = "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"

// tokens converts a whole-token count into 6-decimal base units.
func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func fixtureRecord(addr string, tvl int64, collectedAt int64) model.VaultRecord {
	return model.VaultRecord{
		VaultAddress: addr,
		Chain:        types.ChainEthereum,
		Protocol:     "aave-v3",
		Name:         "Aave V3 USDC",
		AssetSymbol:  "USDC",
		APY:          0.03,
		TVLUSD:       tvl,
		DataSource:   "vaultsfyi",
		CollectedAt:  collectedAt,
	}
}

func TestSelectCandidates(t *testing.T) {
	v := New(&stubReader{}, DefaultOptions())

	records := []model.VaultRecord{
		fixtureRecord(aaveAddr, 1_200_000_000, 0),
		fixtureRecord("0x1111111111111111111111111111111111111111", 5_000_000, 0),        // below floor
		fixtureRecord("aa70268e-4b52-42bf-a116-608b370f9501", 900_000_000, 0),            // opaque id
		fixtureRecord("0x2222222222222222222222222222222222222222", 2_000_000_000, 0),
	}

	candidates := v.SelectCandidates(records)
	require.Len(t, candidates, 2)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", candidates[0].VaultAddress, "largest TVL first")
	assert.Equal(t, aaveAddr, candidates[1].VaultAddress)
}

func TestSelectCandidatesCap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxCandidates = 1
	v := New(&stubReader{}, opts)

	records := []model.VaultRecord{
		fixtureRecord(aaveAddr, 100_000_000, 0),
		fixtureRecord("0x2222222222222222222222222222222222222222", 200_000_000, 0),
	}
	assert.Len(t, v.SelectCandidates(records), 1)
}

func TestValidateFullScore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reader := &stubReader{
		meta:     map[string]onchain.TokenMeta{aaveAddr: {Symbol: "aEthUSDC", Name: "Aave Ethereum USDC", Decimals: 6}},
		supplies: map[string]*big.Int{aaveAddr: tokens(1_150_000_000)},
	}
	v := New(reader, DefaultOptions())
	v.now = func() time.Time { return now }

	record := fixtureRecord(aaveAddr, 1_200_000_000, now.Add(-time.Minute).Unix())
	result := v.Validate(context.Background(), record)

	assert.True(t, result.AddressReal.Passed)
	assert.True(t, result.SymbolMatch.Passed, "aEthUSDC contains USDC")
	assert.True(t, result.NameSimilar.Passed)
	assert.True(t, result.TVLPlausible.Passed)
	assert.Equal(t, 10.0, result.FreshnessBonus)
	assert.Equal(t, 100.0, result.Score)
	assert.Equal(t, model.ConfidenceHigh, result.Confidence)
}

func TestFreshnessBonusBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reader := &stubReader{
		meta:     map[string]onchain.TokenMeta{aaveAddr: {Symbol: "aEthUSDC", Name: "Aave Ethereum USDC", Decimals: 6}},
		supplies: map[string]*big.Int{aaveAddr: tokens(1_150_000_000)},
	}
	v := New(reader, DefaultOptions())
	v.now = func() time.Time { return now }

	// The bonus measures how old the provider snapshot is at the moment
	// of the on-chain cross-check.
	cases := []struct {
		name        string
		collectedAt int64
		bonus       float64
	}{
		{"under five minutes", now.Add(-time.Minute).Unix(), 10.0},
		{"under an hour", now.Add(-30 * time.Minute).Unix(), 5.0},
		{"older than an hour", now.Add(-2 * time.Hour).Unix(), 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := v.Validate(context.Background(), fixtureRecord(aaveAddr, 1_200_000_000, tc.collectedAt))
			assert.Equal(t, tc.bonus, result.FreshnessBonus)
			assert.Equal(t, now, result.CheckedAt, "the check is timestamped at the read")
		})
	}
}

func TestValidateScoreMonotonicInChecks(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	matching := &stubReader{
		meta:     map[string]onchain.TokenMeta{aaveAddr: {Symbol: "aEthUSDC", Name: "Aave Ethereum USDC", Decimals: 6}},
		supplies: map[string]*big.Int{aaveAddr: tokens(1_150_000_000)},
	}
	mismatched := &stubReader{
		meta:     map[string]onchain.TokenMeta{aaveAddr: {Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18}},
		supplies: map[string]*big.Int{aaveAddr: big.NewInt(1)},
	}

	record := fixtureRecord(aaveAddr, 1_200_000_000, now.Add(-time.Minute).Unix())

	vGood := New(matching, DefaultOptions())
	vGood.now = func() time.Time { return now }
	vBad := New(mismatched, DefaultOptions())
	vBad.now = func() time.Time { return now }

	good := vGood.Validate(context.Background(), record)
	bad := vBad.Validate(context.Background(), record)
	assert.Greater(t, good.Score, bad.Score, "passing more checks must never lower the score")
}

func TestValidateReadFailureDegradesToAPIOnly(t *testing.T) {
	v := New(&stubReader{err: errors.New("rpc timeout")}, DefaultOptions())

	result := v.Validate(context.Background(), fixtureRecord(aaveAddr, 1_200_000_000, 0))
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, model.ConfidenceAPIOnly, result.Confidence)
}

func TestConfidenceTierBoundaries(t *testing.T) {
	assert.Equal(t, model.ConfidenceHigh, confidenceTier(80))
	assert.Equal(t, model.ConfidenceMediumHigh, confidenceTier(79))
	assert.Equal(t, model.ConfidenceMediumHigh, confidenceTier(60))
	assert.Equal(t, model.ConfidenceMedium, confidenceTier(59))
	assert.Equal(t, model.ConfidenceMediumLow, confidenceTier(20))
	assert.Equal(t, model.ConfidenceLow, confidenceTier(19))
}

func TestValidateAllEnrichesOnlyCandidates(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reader := &stubReader{
		meta:     map[string]onchain.TokenMeta{aaveAddr: {Symbol: "aEthUSDC", Name: "Aave Ethereum USDC", Decimals: 6}},
		supplies: map[string]*big.Int{aaveAddr: tokens(1_150_000_000)},
	}
	opts := DefaultOptions()
	opts.BatchDelay = time.Millisecond
	v := New(reader, opts)
	v.now = func() time.Time { return now }

	records := []model.VaultRecord{
		fixtureRecord(aaveAddr, 1_200_000_000, now.Unix()),
		fixtureRecord("aa70268e-4b52-42bf-a116-608b370f9501", 900_000_000, now.Unix()),
	}

	out := v.ValidateAll(context.Background(), records)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].ValidationScore)
	assert.Equal(t, model.ConfidenceHigh, out[0].DataConfidence)
	assert.Nil(t, out[1].ValidationScore, "opaque identifiers never trigger contract reads")
	assert.Empty(t, out[1].DataConfidence)
}

func TestLevenshteinSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("usdc", "usdc"))
	assert.Equal(t, 0, levenshtein("", ""))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("kitten", "mitten"))
	assert.Greater(t, similarity("aave ethereum usdc", "aave v3 usdc"), nameSimilarityThreshold)
}
