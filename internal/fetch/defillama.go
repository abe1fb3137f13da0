package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// SourceDefiLlama is the provenance tag for the yield-aggregator provider.
const SourceDefiLlama = "defillama"

// DefiLlamaClient collects pool-level yield data from the DefiLlama
// yields API. DefiLlama identifies pools by opaque UUIDs, not contract
// addresses, so its records take the heuristic calculation path.
type DefiLlamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDefiLlamaClient creates a new DefiLlama yields API client.
func NewDefiLlamaClient(baseURL string) *DefiLlamaClient {
	return &DefiLlamaClient{
		baseURL:    baseURL,
		httpClient: newRetryClient(),
	}
}

// Name implements Provider.
func (c *DefiLlamaClient) Name() string { return SourceDefiLlama }

// llamaPool matches one entry of the DefiLlama /pools response.
type llamaPool struct {
	Pool    string  `json:"pool"`
	Chain   string  `json:"chain"`
	Project string  `json:"project"`
	Symbol  string  `json:"symbol"`
	TVLUSD  float64 `json:"tvlUsd"`
	// APY is reported in percent (5.0 = 5%), unlike our fractional model.
	APY float64 `json:"apy"`
}

// Fetch implements Provider.
func (c *DefiLlamaClient) Fetch(ctx context.Context, filter FilterParams) ([]model.VaultRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pools", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	logrus.Debugf("Fetching pools from DefiLlama: %s", c.baseURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching data from DefiLlama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("DefiLlama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Status string      `json:"status"`
		Data   []llamaPool `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	collectedAt := time.Now().Unix()
	records := make([]model.VaultRecord, 0, len(response.Data))
	for _, pool := range response.Data {
		record := c.normalize(pool, collectedAt)
		if record.IsValid() && matchesFilter(record, filter) {
			records = append(records, record)
		}
	}

	logrus.Debugf("Received %d matching records from DefiLlama", len(records))
	return records, nil
}

// normalize converts a raw pool entry into a canonical record.
func (c *DefiLlamaClient) normalize(pool llamaPool, collectedAt int64) model.VaultRecord {
	protocol := types.NormalizeProtocol(pool.Project)
	return model.VaultRecord{
		VaultAddress: pool.Pool,
		Chain:        types.NormalizeChain(pool.Chain),
		Protocol:     protocol,
		Family:       types.ClassifyProtocol(protocol),
		Name:         fmt.Sprintf("%s %s", pool.Project, pool.Symbol),
		AssetSymbol:  pool.Symbol,
		APY:          pool.APY / 100, // percent to fraction
		TVLUSD:       int64(pool.TVLUSD),
		DataSource:   SourceDefiLlama,
		CollectedAt:  collectedAt,
	}
}
