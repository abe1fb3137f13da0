// Package engine orchestrates the resolution pipeline: collect from
// providers, reconcile, sanity-check, validate on-chain, recalculate
// yield, grade risk, and rank survivors for the caller's tolerance.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-yield-resolver/internal/cache"
	"github.com/yourorg/vault-yield-resolver/internal/circuitbreaker"
	"github.com/yourorg/vault-yield-resolver/internal/fetch"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/reconcile"
	"github.com/yourorg/vault-yield-resolver/internal/resolve"
	"github.com/yourorg/vault-yield-resolver/internal/risk"
	"github.com/yourorg/vault-yield-resolver/internal/types"
	"github.com/yourorg/vault-yield-resolver/internal/validate"
	"github.com/yourorg/vault-yield-resolver/internal/yield"
)

// Criteria bounds for the result limit.
const (
	DefaultLimit = 5
	MaxLimit     = 50
)

// Criteria is a resolution request.
type Criteria struct {
	// AssetSymbol is the deposit asset to resolve for. Required.
	AssetSymbol string `json:"asset"`

	// Chain restricts the search to one network when non-empty.
	Chain types.Chain `json:"chain,omitempty"`

	// RiskTolerance defaults to medium.
	RiskTolerance model.RiskCategory `json:"risk_tolerance,omitempty"`

	// MinTVLUSD drops smaller vaults before reconciliation.
	MinTVLUSD int64 `json:"min_tvl_usd,omitempty"`

	// Limit caps the ranked result, within [1, 50].
	Limit int `json:"limit,omitempty"`

	// Comprehensive includes every competing yield estimate per vault.
	Comprehensive bool `json:"comprehensive,omitempty"`
}

// validTolerances is the closed set of accepted risk tolerances.
var validTolerances = map[model.RiskCategory]struct{}{
	model.RiskLow: {}, model.RiskMediumLow: {}, model.RiskMedium: {},
	model.RiskMediumHigh: {}, model.RiskHigh: {},
}

// Normalize validates the criteria and applies defaults. It runs before
// any I/O so a malformed request never costs an upstream call.
func (c *Criteria) Normalize() error {
	c.AssetSymbol = strings.TrimSpace(c.AssetSymbol)
	if c.AssetSymbol == "" {
		return fmt.Errorf("%w: asset is required", ErrInvalidCriteria)
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Limit < 1 || c.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be within [1, %d], got %d", ErrInvalidCriteria, MaxLimit, c.Limit)
	}
	if c.MinTVLUSD < 0 {
		return fmt.Errorf("%w: min_tvl_usd must not be negative", ErrInvalidCriteria)
	}
	if c.Chain != "" {
		c.Chain = types.NormalizeChain(string(c.Chain))
	}
	if c.RiskTolerance == "" {
		c.RiskTolerance = model.RiskMedium
	}
	if _, ok := validTolerances[c.RiskTolerance]; !ok {
		return fmt.Errorf("%w: unknown risk tolerance %q", ErrInvalidCriteria, c.RiskTolerance)
	}
	return nil
}

// Result is a completed resolution.
type Result struct {
	Best   model.VaultRecord   `json:"best"`
	Ranked []model.VaultRecord `json:"ranked"`

	// Assessments holds the risk breakdown per vault identity.
	Assessments map[string]model.RiskAssessment `json:"assessments"`

	// Estimates holds every competing yield estimate per vault identity
	// when the request was comprehensive.
	Estimates map[string][]model.YieldEstimate `json:"estimates,omitempty"`
}

// Store is the optional persistence collaborator.
type Store interface {
	PersistRecords(ctx context.Context, records []model.VaultRecord) error
	QueryRecentRecords(ctx context.Context, asset string, chain types.Chain, maxAge time.Duration) ([]model.VaultRecord, error)
}

// staleFallbackMaxAge bounds how old persisted records may be when they
// substitute for a total provider outage.
const staleFallbackMaxAge = time.Hour

// Engine wires the pipeline stages together.
type Engine struct {
	providers  []fetch.Provider
	validator  *validate.Validator
	calculator *yield.Calculator
	scorer     *risk.Scorer
	resolver   *resolve.Resolver
	breaker    *circuitbreaker.Breaker
	memo       *cache.Memoizer
	store      Store
}

// New creates an Engine. The breaker and store may be nil; both disable
// their stage without affecting the rest of the pipeline.
func New(
	providers []fetch.Provider,
	validator *validate.Validator,
	calculator *yield.Calculator,
	scorer *risk.Scorer,
	resolver *resolve.Resolver,
	breaker *circuitbreaker.Breaker,
	memo *cache.Memoizer,
	store Store,
) *Engine {
	return &Engine{
		providers:  providers,
		validator:  validator,
		calculator: calculator,
		scorer:     scorer,
		resolver:   resolver,
		breaker:    breaker,
		memo:       memo,
		store:      store,
	}
}

// Resolve runs the full pipeline for the criteria.
func (e *Engine) Resolve(ctx context.Context, criteria Criteria) (*Result, error) {
	if err := criteria.Normalize(); err != nil {
		return nil, err
	}

	merged, err := e.collectAndMerge(ctx, criteria)
	if err != nil {
		stored := e.storedFallback(ctx, criteria)
		if len(stored) == 0 {
			return nil, err
		}
		logrus.Warnf("All providers failed, serving %d persisted records: %v", len(stored), err)
		merged = stored
	}

	if e.breaker != nil {
		if err := e.breaker.Check(merged); err != nil {
			lastGood := e.breaker.LastGoodRecords()
			if len(lastGood) == 0 {
				return nil, fmt.Errorf("%w: %v", ErrAllSourcesFailed, err)
			}
			logrus.Warnf("Serving last known good records: %v", err)
			merged = lastGood
		}
	}

	validated, err := e.validateRecords(ctx, criteria, merged)
	if err != nil {
		// Validation is an enrichment; a cache-layer failure falls back
		// to the unvalidated merged set.
		logrus.Warnf("Validation stage failed, continuing with merged records: %v", err)
		validated = merged
	}

	enriched := make([]model.VaultRecord, 0, len(validated))
	assessments := make(map[string]model.RiskAssessment, len(validated))
	var allEstimates map[string][]model.YieldEstimate
	if criteria.Comprehensive {
		allEstimates = make(map[string][]model.YieldEstimate, len(validated))
	}

	for _, record := range validated {
		estimates := e.yieldEstimates(ctx, record)
		if best, ok := yield.Best(estimates); ok {
			record = record.WithEstimate(best)
		}
		if criteria.Comprehensive {
			allEstimates[record.Identity()] = estimates
		}

		assessment := e.scorer.Assess(ctx, record)
		assessments[record.Identity()] = assessment
		enriched = append(enriched, record.WithRiskScore(float64(assessment.Score)))
	}

	if e.store != nil {
		if err := e.store.PersistRecords(ctx, enriched); err != nil {
			logrus.Warnf("Failed to persist records: %v", err)
		}
	}

	ranked := e.resolver.Rank(enriched, criteria.RiskTolerance)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no %s vault satisfies tolerance %s",
			ErrNoMatchingVault, criteria.AssetSymbol, criteria.RiskTolerance)
	}
	if len(ranked) > criteria.Limit {
		ranked = ranked[:criteria.Limit]
	}

	return &Result{
		Best:        ranked[0],
		Ranked:      ranked,
		Assessments: assessments,
		Estimates:   allEstimates,
	}, nil
}

// GetVault resolves the single canonical record for one vault identity.
// refresh bypasses the provider-page cache.
func (e *Engine) GetVault(ctx context.Context, chain types.Chain, address string, refresh bool) (model.VaultRecord, error) {
	chain = types.NormalizeChain(string(chain))

	if refresh {
		key := e.collectKey(Criteria{Chain: chain})
		if err := e.memo.Cache().Delete(ctx, key); err != nil {
			logrus.Warnf("Failed to invalidate provider cache: %v", err)
		}
	}

	merged, err := e.collectAndMerge(ctx, Criteria{Chain: chain})
	if err != nil {
		return model.VaultRecord{}, err
	}

	wanted := strings.ToLower(address) + ":" + strings.ToLower(string(chain))
	for _, record := range merged {
		if record.Identity() != wanted {
			continue
		}
		estimates := e.yieldEstimates(ctx, record)
		if best, ok := yield.Best(estimates); ok {
			record = record.WithEstimate(best)
		}
		assessment := e.scorer.Assess(ctx, record)
		return record.WithRiskScore(float64(assessment.Score)), nil
	}

	return model.VaultRecord{}, fmt.Errorf("%w: %s on %s", ErrNoMatchingVault, address, chain)
}

// collectKey is the provider-page cache key for a criteria's filter.
func (e *Engine) collectKey(criteria Criteria) string {
	return cache.Key("records", criteria.AssetSymbol, string(criteria.Chain), strconv.FormatInt(criteria.MinTVLUSD, 10))
}

// collectAndMerge fans out to every provider and reconciles the streams.
// The whole stage is memoized, so concurrent resolutions of the same
// criteria share one upstream fan-out.
func (e *Engine) collectAndMerge(ctx context.Context, criteria Criteria) ([]model.VaultRecord, error) {
	var merged []model.VaultRecord
	err := e.memo.Do(ctx, e.collectKey(criteria), cache.TTLRecords, &merged, func(ctx context.Context) (interface{}, error) {
		records, err := e.fetchAll(ctx, fetch.FilterParams{
			AssetSymbol: criteria.AssetSymbol,
			Chain:       criteria.Chain,
			MinTVLUSD:   criteria.MinTVLUSD,
		})
		if err != nil {
			return nil, err
		}
		return reconcile.Merge(records), nil
	})
	if err != nil {
		return nil, err
	}
	restoreFamilies(merged)
	return merged, nil
}

// fetchAll queries every provider concurrently. A provider failure is
// degraded to an empty stream; only all providers failing is an error.
func (e *Engine) fetchAll(ctx context.Context, filter fetch.FilterParams) ([]model.VaultRecord, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		records []model.VaultRecord
		errs    []error
	)

	for _, provider := range e.providers {
		wg.Add(1)
		go func(p fetch.Provider) {
			defer wg.Done()

			fetched, err := p.Fetch(ctx, filter)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				logrus.Warnf("Provider %s failed: %v", p.Name(), err)
				errs = append(errs, err)
				return
			}
			records = append(records, fetched...)
		}(provider)
	}
	wg.Wait()

	if len(records) == 0 && len(errs) == len(e.providers) && len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrAllSourcesFailed, errs[0])
	}
	return records, nil
}

// storedFallback recalls recently persisted records for the criteria when
// every provider is down. A nil store or an empty result disables the
// fallback.
func (e *Engine) storedFallback(ctx context.Context, criteria Criteria) []model.VaultRecord {
	if e.store == nil {
		return nil
	}
	stored, err := e.store.QueryRecentRecords(ctx, criteria.AssetSymbol, criteria.Chain, staleFallbackMaxAge)
	if err != nil {
		logrus.Warnf("Stored-record fallback failed: %v", err)
		return nil
	}
	if criteria.MinTVLUSD > 0 {
		filtered := stored[:0]
		for _, r := range stored {
			if r.TVLUSD >= criteria.MinTVLUSD {
				filtered = append(filtered, r)
			}
		}
		stored = filtered
	}
	return stored
}

// validateRecords runs the memoized on-chain validation stage.
func (e *Engine) validateRecords(ctx context.Context, criteria Criteria, merged []model.VaultRecord) ([]model.VaultRecord, error) {
	key := cache.Key("validation", criteria.AssetSymbol, string(criteria.Chain), strconv.FormatInt(criteria.MinTVLUSD, 10))
	var validated []model.VaultRecord
	err := e.memo.Do(ctx, key, cache.TTLValidation, &validated, func(ctx context.Context) (interface{}, error) {
		return e.validator.ValidateAll(ctx, merged), nil
	})
	if err != nil {
		return nil, err
	}
	restoreFamilies(validated)
	return validated, nil
}

// yieldEstimates runs the memoized yield calculation for one record.
func (e *Engine) yieldEstimates(ctx context.Context, record model.VaultRecord) []model.YieldEstimate {
	key := cache.Key("yield", record.Identity())
	var estimates []model.YieldEstimate
	err := e.memo.Do(ctx, key, cache.TTLYield, &estimates, func(ctx context.Context) (interface{}, error) {
		return e.calculator.Estimates(ctx, record), nil
	})
	if err != nil {
		logrus.Warnf("Yield calculation failed for %s: %v", record.Identity(), err)
		return nil
	}
	return estimates
}

// restoreFamilies re-derives the protocol family after a cache round
// trip, since the family is never serialized.
func restoreFamilies(records []model.VaultRecord) {
	for i := range records {
		records[i].Family = types.ClassifyProtocol(records[i].Protocol)
	}
}

// CacheStats exposes memoizer hit/miss counters for the status surface.
func (e *Engine) CacheStats() (hits, misses int64) {
	return e.memo.Stats()
}
