// Package validate cross-checks provider-reported vault records against
// contract state and grades each record with a weighted validation score.
package validate

import (
	"context"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/onchain"
)

// Check point weights. The score is the sum of passed check points plus
// the freshness bonus, so adding a passed check can never lower it.
const (
	pointsAddressReal  = 30.0
	pointsSymbolMatch  = 25.0
	pointsNameSimilar  = 20.0
	pointsTVLPlausible = 15.0

	freshnessBonusRecent = 10.0
	freshnessBonusStale  = 5.0
	freshnessRecent      = 5 * time.Minute
	freshnessStale       = time.Hour

	nameSimilarityThreshold = 0.3
	tvlRatioThreshold       = 0.5
	tvlLargeSupplyTokens    = 1e5
	tvlLargeFloorUSD        = 10_000_000
)

// Options tunes candidate selection and batch pacing.
type Options struct {
	// TVLFloorUSD excludes small vaults from on-chain validation.
	TVLFloorUSD int64
	// MaxCandidates caps the RPC fan-out per validation pass.
	MaxCandidates int
	// BatchSize is the number of concurrent reads per batch.
	BatchSize int
	// BatchDelay paces consecutive batches.
	BatchDelay time.Duration
}

// DefaultOptions returns the production pacing configuration.
func DefaultOptions() Options {
	return Options{
		TVLFloorUSD:   10_000_000,
		MaxCandidates: 20,
		BatchSize:     4,
		BatchDelay:    1500 * time.Millisecond,
	}
}

// Validator performs batched on-chain cross-checks over vault records.
type Validator struct {
	reader  onchain.Reader
	opts    Options
	limiter *rate.Limiter

	// now is injectable for freshness tests.
	now func() time.Time
}

// New creates a Validator over the given contract reader.
func New(reader onchain.Reader, opts Options) *Validator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 4
	}
	return &Validator{
		reader:  reader,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.BatchDelay), 1),
		now:     time.Now,
	}
}

// SelectCandidates returns the records eligible for on-chain validation:
// contract-shaped address and TVL at or above the floor, ordered by
// descending TVL and capped.
func (v *Validator) SelectCandidates(records []model.VaultRecord) []model.VaultRecord {
	candidates := make([]model.VaultRecord, 0, len(records))
	for _, r := range records {
		if r.HasContractAddress() && r.TVLUSD >= v.opts.TVLFloorUSD {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].TVLUSD > candidates[j].TVLUSD
	})
	if v.opts.MaxCandidates > 0 && len(candidates) > v.opts.MaxCandidates {
		candidates = candidates[:v.opts.MaxCandidates]
	}
	return candidates
}

// ValidateAll cross-checks the candidate subset of records and returns
// the full set with candidates enriched. Non-candidates pass through
// unchanged. Candidates are processed in fixed-size batches with a paced
// delay between batches to avoid hammering RPC endpoints.
func (v *Validator) ValidateAll(ctx context.Context, records []model.VaultRecord) []model.VaultRecord {
	candidates := v.SelectCandidates(records)
	if len(candidates) == 0 {
		return records
	}

	results := make(map[string]model.VaultRecord, len(candidates))
	var mu sync.Mutex

	for start := 0; start < len(candidates); start += v.opts.BatchSize {
		// The limiter starts with one token, so the first batch runs
		// immediately and later batches are paced at BatchDelay.
		if err := v.limiter.Wait(ctx); err != nil {
			break
		}
		end := start + v.opts.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		var wg sync.WaitGroup
		for _, candidate := range candidates[start:end] {
			wg.Add(1)
			go func(r model.VaultRecord) {
				defer wg.Done()
				result := v.Validate(ctx, r)
				mu.Lock()
				results[r.Identity()] = r.WithValidation(result.Score, result.Confidence)
				mu.Unlock()
			}(candidate)
		}
		wg.Wait()
	}

	out := make([]model.VaultRecord, len(records))
	for i, r := range records {
		if enriched, ok := results[r.Identity()]; ok {
			out[i] = enriched
		} else {
			out[i] = r
		}
	}
	return out
}

// Validate performs the five independent checks against contract state.
// A failed contract read degrades the record to api_only with score 0
// rather than failing the pipeline.
func (v *Validator) Validate(ctx context.Context, record model.VaultRecord) model.ValidationResult {
	result := model.ValidationResult{CheckedAt: v.now()}

	meta, err := v.reader.TokenMeta(ctx, record.Chain, record.VaultAddress)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"vault": record.VaultAddress,
			"chain": record.Chain,
		}).Debugf("Token metadata read failed, degrading to api_only: %v", err)
		result.Confidence = model.ConfidenceAPIOnly
		return result
	}

	supply, err := v.reader.TotalSupply(ctx, record.Chain, record.VaultAddress)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"vault": record.VaultAddress,
			"chain": record.Chain,
		}).Debugf("Total supply read failed, degrading to api_only: %v", err)
		result.Confidence = model.ConfidenceAPIOnly
		return result
	}

	// The contract answered ERC-20 reads, so the address is real.
	result.AddressReal = model.CheckResult{Passed: true, Points: pointsAddressReal}
	result.Score += pointsAddressReal

	if symbolMatches(meta.Symbol, record.AssetSymbol) {
		result.SymbolMatch = model.CheckResult{Passed: true, Points: pointsSymbolMatch}
		result.Score += pointsSymbolMatch
	}

	if namesSimilar(meta.Name, record.Name) {
		result.NameSimilar = model.CheckResult{Passed: true, Points: pointsNameSimilar}
		result.Score += pointsNameSimilar
	}

	if tvlPlausible(supply, meta.Decimals, record.TVLUSD) {
		result.TVLPlausible = model.CheckResult{Passed: true, Points: pointsTVLPlausible}
		result.Score += pointsTVLPlausible
	}

	age := v.now().Sub(time.Unix(record.CollectedAt, 0))
	switch {
	case age < freshnessRecent:
		result.FreshnessBonus = freshnessBonusRecent
	case age < freshnessStale:
		result.FreshnessBonus = freshnessBonusStale
	}
	result.Score += result.FreshnessBonus

	result.Confidence = confidenceTier(result.Score)
	return result
}

// confidenceTier maps a validation score onto a confidence tier.
func confidenceTier(score float64) model.DataConfidence {
	switch {
	case score >= 80:
		return model.ConfidenceHigh
	case score >= 60:
		return model.ConfidenceMediumHigh
	case score >= 40:
		return model.ConfidenceMedium
	case score >= 20:
		return model.ConfidenceMediumLow
	default:
		return model.ConfidenceLow
	}
}

// symbolMatches accepts exact matches and wrapped-token containment, so
// an aUSDC share token still matches a USDC record.
func symbolMatches(onchainSymbol, apiSymbol string) bool {
	if onchainSymbol == "" || apiSymbol == "" {
		return false
	}
	a, b := strings.ToLower(onchainSymbol), strings.ToLower(apiSymbol)
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

// namesSimilar compares the on-chain contract name to the API-reported
// vault name, accepting either sufficient edit-distance similarity or a
// shared meaningful token.
func namesSimilar(onchainName, apiName string) bool {
	if onchainName == "" || apiName == "" {
		return false
	}
	a, b := strings.ToLower(onchainName), strings.ToLower(apiName)
	if similarity(a, b) > nameSimilarityThreshold {
		return true
	}
	for _, token := range strings.Fields(b) {
		if len(token) >= 3 && strings.Contains(a, token) {
			return true
		}
	}
	return false
}

// tvlPlausible sanity-checks API TVL against on-chain share supply. The
// comparison is deliberately loose: share tokens are not dollars, so it
// only rejects wild mismatches.
func tvlPlausible(supply *big.Int, decimals uint8, tvlUSD int64) bool {
	if supply == nil || supply.Sign() <= 0 || tvlUSD <= 0 {
		return false
	}

	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	tokens, _ := new(big.Float).Quo(new(big.Float).SetInt(supply), scale).Float64()

	if tokens >= tvlLargeSupplyTokens && tvlUSD >= tvlLargeFloorUSD {
		return true
	}

	ratio := math.Min(tokens, float64(tvlUSD)) / math.Max(tokens, float64(tvlUSD))
	return ratio > tvlRatioThreshold
}

// similarity is 1 minus the normalized Levenshtein distance.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := math.Max(float64(len(a)), float64(len(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/longest
}

// levenshtein computes edit distance with a rolling single-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		current := prev[0]
		prev[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			next := min3(prev[j]+1, prev[j-1]+1, current+cost)
			current = prev[j]
			prev[j] = next
		}
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
