package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// SourceVaultsFyi is the provenance tag for the vault-specific provider.
const SourceVaultsFyi = "vaultsfyi"

// VaultsFyiClient collects vault-level data from the vaults.fyi API.
// Unlike the aggregator feed it reports real contract addresses, so its
// records are eligible for on-chain validation and yield recalculation.
type VaultsFyiClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewVaultsFyiClient creates a new vaults.fyi API client. The API key is
// optional; without one the public rate-limited tier is used.
func NewVaultsFyiClient(baseURL, apiKey string) *VaultsFyiClient {
	return &VaultsFyiClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: newRetryClient(),
	}
}

// Name implements Provider.
func (c *VaultsFyiClient) Name() string { return SourceVaultsFyi }

// fyiVault matches one entry of the vaults.fyi /vaults response.
type fyiVault struct {
	Address  string  `json:"address"`
	Network  string  `json:"network"`
	Protocol string  `json:"protocol"`
	Name     string  `json:"name"`
	Asset    string  `json:"asset"`
	TVLUSD   float64 `json:"tvlUsd"`
	// APY is already a fraction (0.05 = 5%).
	APY float64 `json:"apy"`
}

// Fetch implements Provider.
func (c *VaultsFyiClient) Fetch(ctx context.Context, filter FilterParams) ([]model.VaultRecord, error) {
	endpoint := c.baseURL + "/vaults"
	if filter.AssetSymbol != "" {
		endpoint += "?asset=" + url.QueryEscape(filter.AssetSymbol)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	logrus.Debugf("Fetching vaults from vaults.fyi: %s", endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching data from vaults.fyi: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vaults.fyi API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Data []fyiVault `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	collectedAt := time.Now().Unix()
	records := make([]model.VaultRecord, 0, len(response.Data))
	for _, vault := range response.Data {
		record := c.normalize(vault, collectedAt)
		if record.IsValid() && matchesFilter(record, filter) {
			records = append(records, record)
		}
	}

	logrus.Debugf("Received %d matching records from vaults.fyi", len(records))
	return records, nil
}

func (c *VaultsFyiClient) normalize(vault fyiVault, collectedAt int64) model.VaultRecord {
	protocol := types.NormalizeProtocol(vault.Protocol)
	return model.VaultRecord{
		VaultAddress: vault.Address,
		Chain:        types.NormalizeChain(vault.Network),
		Protocol:     protocol,
		Family:       types.ClassifyProtocol(protocol),
		Name:         vault.Name,
		AssetSymbol:  vault.Asset,
		APY:          vault.APY,
		TVLUSD:       int64(vault.TVLUSD),
		DataSource:   SourceVaultsFyi,
		CollectedAt:  collectedAt,
	}
}
