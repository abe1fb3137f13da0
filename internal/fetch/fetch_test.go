package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

func TestDefiLlamaFetchNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pools", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"data": [
				{"pool": "aa70268e-4b52-42bf-a116-608b370f9501", "chain": "Ethereum", "project": "aave-v3", "symbol": "USDC", "tvlUsd": 1200000000, "apy": 3.2},
				{"pool": "bb81379f-5c63-53cf-b227-719c481fa612", "chain": "Base", "project": "aerodrome-slipstream", "symbol": "USDC", "tvlUsd": 3000000, "apy": 45.0},
				{"pool": "cc92480a-6d74-64df-c338-820d592fb723", "chain": "Ethereum", "project": "compound-v3", "symbol": "WETH", "tvlUsd": 90000000, "apy": 2.1}
			]
		}`))
	}))
	defer server.Close()

	client := NewDefiLlamaClient(server.URL)
	records, err := client.Fetch(context.Background(), FilterParams{AssetSymbol: "usdc"})
	require.NoError(t, err)
	require.Len(t, records, 2, "asset filter is case-insensitive and drops the WETH pool")

	first := records[0]
	assert.Equal(t, "aa70268e-4b52-42bf-a116-608b370f9501", first.VaultAddress)
	assert.False(t, first.HasContractAddress(), "aggregator pool ids are opaque")
	assert.Equal(t, types.ChainEthereum, first.Chain)
	assert.Equal(t, "aave-v3", first.Protocol)
	assert.Equal(t, types.FamilyLiquidityRate, first.Family)
	assert.InDelta(t, 0.032, first.APY, 1e-9, "percent input becomes a fraction")
	assert.Equal(t, int64(1_200_000_000), first.TVLUSD)
	assert.Equal(t, SourceDefiLlama, first.DataSource)
	assert.NotZero(t, first.CollectedAt)

	assert.Equal(t, types.ChainBase, records[1].Chain)
	assert.InDelta(t, 0.45, records[1].APY, 1e-9)
}

func TestDefiLlamaFetchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewDefiLlamaClient(server.URL)
	_, err := client.Fetch(context.Background(), FilterParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestVaultsFyiFetchNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vaults", r.URL.Path)
		assert.Equal(t, "USDC", r.URL.Query().Get("asset"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": [
				{"address": "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2", "network": "mainnet", "protocol": "aave_v3", "name": "Aave V3 USDC", "asset": "USDC", "tvlUsd": 1200000000, "apy": 0.03},
				{"address": "0xc3d688B66703497DAA19211EEdff47f25384cdc3", "network": "mainnet", "protocol": "compound-v3", "name": "Compound USDC Comet", "asset": "USDC", "tvlUsd": 450000000, "apy": 0.04}
			]
		}`))
	}))
	defer server.Close()

	client := NewVaultsFyiClient(server.URL, "test-key")
	records, err := client.Fetch(context.Background(), FilterParams{AssetSymbol: "USDC"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.True(t, first.HasContractAddress())
	assert.Equal(t, types.ChainEthereum, first.Chain, "mainnet alias normalizes to ethereum")
	assert.Equal(t, "aave-v3", first.Protocol, "protocol slug variants normalize")
	assert.InDelta(t, 0.03, first.APY, 1e-9, "fractional input stays a fraction")
	assert.Equal(t, SourceVaultsFyi, first.DataSource)
}

func TestMatchesFilterMinTVL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"address": "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2", "network": "ethereum", "protocol": "aave-v3", "name": "Big", "asset": "USDC", "tvlUsd": 50000000, "apy": 0.03},
			{"address": "0x1111111111111111111111111111111111111111", "network": "ethereum", "protocol": "aave-v3", "name": "Dust", "asset": "USDC", "tvlUsd": 900, "apy": 0.9}
		]}`))
	}))
	defer server.Close()

	client := NewVaultsFyiClient(server.URL, "")
	records, err := client.Fetch(context.Background(), FilterParams{MinTVLUSD: 10_000})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Big", records[0].Name)
}
