// Package fetch provides provider-specific collectors that retrieve and
// normalize vault records from independent yield data sources.
package fetch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// FilterParams narrows a provider fetch to the caller's request.
type FilterParams struct {
	// AssetSymbol filters vaults by deposit asset, case-insensitive.
	AssetSymbol string

	// Chain restricts results to one canonical chain when non-empty.
	Chain types.Chain

	// MinTVLUSD drops dust vaults at the source.
	MinTVLUSD int64
}

// Provider is the interface every data source collector implements.
// A failing provider reports its error; the caller degrades it to an
// empty stream, so one provider never sinks a resolution.
type Provider interface {
	// Name returns the provenance tag stamped on produced records.
	Name() string

	// Fetch retrieves and normalizes vault records matching the filter.
	Fetch(ctx context.Context, filter FilterParams) ([]model.VaultRecord, error)
}

// newRetryClient creates an HTTP client with retry capabilities.
func newRetryClient() *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 30 * time.Second
	c.Logger = nil
	return c.StandardClient()
}

// matchesFilter applies the shared post-normalization filter rules.
func matchesFilter(r model.VaultRecord, filter FilterParams) bool {
	if filter.AssetSymbol != "" && !strings.EqualFold(r.AssetSymbol, filter.AssetSymbol) {
		return false
	}
	if filter.Chain != "" && r.Chain != filter.Chain {
		return false
	}
	if filter.MinTVLUSD > 0 && r.TVLUSD < filter.MinTVLUSD {
		return false
	}
	return true
}
