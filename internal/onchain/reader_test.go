package onchain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

func TestBytes32ToString(t *testing.T) {
	var raw [32]byte
	copy(raw[:], "MKR")

	s, ok := bytes32ToString(raw)
	require.True(t, ok)
	assert.Equal(t, "MKR", s, "trailing zero padding must be stripped")

	_, ok = bytes32ToString(42)
	assert.False(t, ok)
}

func TestAsBigIntCopies(t *testing.T) {
	original := big.NewInt(100)
	got, err := asBigInt(original)
	require.NoError(t, err)

	original.SetInt64(999)
	assert.Equal(t, int64(100), got.Int64(), "returned value must not alias the input")
}

func TestABISingletonsParse(t *testing.T) {
	_, err := erc20StringABIInstance()
	require.NoError(t, err)
	_, err = erc20Bytes32ABIInstance()
	require.NoError(t, err)
	_, err = erc4626ABIInstance()
	require.NoError(t, err)
	_, err = liquidityRateABIInstance()
	require.NoError(t, err)
	_, err = lendingMarketABIInstance()
	require.NoError(t, err)
}

func TestClientSupports(t *testing.T) {
	c := NewClient(map[types.Chain]string{types.ChainEthereum: "http://localhost:8545"})
	assert.True(t, c.Supports(types.ChainEthereum))
	assert.False(t, c.Supports(types.ChainBase))
}

func TestClientCallTimeout(t *testing.T) {
	c := NewClient(nil)
	assert.Equal(t, defaultCallTimeout, c.timeout)

	assert.Equal(t, 5*time.Second, c.WithTimeout(5*time.Second).timeout)
	assert.Equal(t, 5*time.Second, c.WithTimeout(0).timeout, "non-positive timeouts keep the current value")
}
