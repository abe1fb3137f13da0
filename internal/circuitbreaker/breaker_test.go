package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

func testThresholds() Thresholds {
	return Thresholds{
		MaxAPY:       50.0,
		MaxTVLChange: 0.5,
		MinSources:   2,
	}
}

func batchRecord(addr, source string, apy float64, tvl int64) model.VaultRecord {
	return model.VaultRecord{
		VaultAddress: addr,
		Chain:        types.ChainEthereum,
		Protocol:     "aave-v3",
		AssetSymbol:  "USDC",
		APY:          apy,
		TVLUSD:       tvl,
		DataSource:   source,
		CollectedAt:  time.Now().Unix(),
	}
}

func healthyBatch() []model.VaultRecord {
	return []model.VaultRecord{
		batchRecord("0x1111111111111111111111111111111111111111", "defillama", 0.03, 500_000_000),
		batchRecord("0x2222222222222222222222222222222222222222", "vaultsfyi", 0.04, 300_000_000),
	}
}

func TestBreakerHealthyBatchPasses(t *testing.T) {
	b := New(testThresholds())
	assert.Equal(t, StateClosed, b.GetState())

	require.NoError(t, b.Check(healthyBatch()))
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreakerTripsOnAbsurdAPY(t *testing.T) {
	b := New(testThresholds())

	poisoned := healthyBatch()
	poisoned[1].APY = 120.0 // 12000%

	err := b.Check(poisoned)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APY exceeds maximum threshold")
	assert.Equal(t, StateOpen, b.GetState())
}

func TestBreakerTripsOnSingleSource(t *testing.T) {
	b := New(testThresholds())

	batch := []model.VaultRecord{
		batchRecord("0x1111111111111111111111111111111111111111", "defillama", 0.03, 500_000_000),
		batchRecord("0x2222222222222222222222222222222222222222", "defillama", 0.04, 300_000_000),
	}

	err := b.Check(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient data sources")
}

func TestBreakerTripsOnTVLSwing(t *testing.T) {
	b := New(testThresholds())
	require.NoError(t, b.Check(healthyBatch()))

	collapsed := []model.VaultRecord{
		batchRecord("0x1111111111111111111111111111111111111111", "defillama", 0.03, 100_000_000),
		batchRecord("0x2222222222222222222222222222222222222222", "vaultsfyi", 0.04, 50_000_000),
	}

	err := b.Check(collapsed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TVL swing too drastic")
}

func TestBreakerOpenServesErrUntilCooldown(t *testing.T) {
	b := New(testThresholds()).WithResetDelay(50 * time.Millisecond).WithSuccessThreshold(1)

	poisoned := healthyBatch()
	poisoned[0].APY = 99.0
	require.Error(t, b.Check(poisoned))

	err := b.Check(healthyBatch())
	assert.ErrorIs(t, err, ErrOpen, "open circuit must refuse fresh data before the cooldown")

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Check(healthyBatch()), "half-open probe with healthy data")
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreakerLastGoodRecords(t *testing.T) {
	b := New(testThresholds())
	assert.Nil(t, b.LastGoodRecords())

	require.NoError(t, b.Check(healthyBatch()))

	lastGood := b.LastGoodRecords()
	require.Len(t, lastGood, 2)

	// Mutating the copy must not touch the breaker's snapshot.
	lastGood[0].APY = 999
	assert.Equal(t, 0.03, b.LastGoodRecords()[0].APY)
}

func TestBreakerTripCallback(t *testing.T) {
	done := make(chan string, 1)
	b := New(testThresholds()).WithTripCallback(func(reason string, _ []model.VaultRecord) {
		done <- reason
	})

	poisoned := healthyBatch()
	poisoned[0].APY = 99.0
	require.Error(t, b.Check(poisoned))

	select {
	case reason := <-done:
		assert.Contains(t, reason, "APY exceeds maximum threshold")
	case <-time.After(time.Second):
		t.Fatal("trip callback was not invoked")
	}
}

func TestBreakerManualReset(t *testing.T) {
	b := New(testThresholds())

	poisoned := healthyBatch()
	poisoned[0].APY = 99.0
	require.Error(t, b.Check(poisoned))
	assert.Equal(t, StateOpen, b.GetState())

	b.Reset()
	assert.Equal(t, StateClosed, b.GetState())
	assert.NoError(t, b.Check(healthyBatch()))
}

func TestBreakerEmptyBatch(t *testing.T) {
	b := New(testThresholds())
	err := b.Check(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no records provided")
}
