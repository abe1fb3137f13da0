// Package yield recalculates vault APY from contract state instead of
// trusting provider-reported figures. Each protocol family has its own
// calculation strategy; vaults without a real contract address fall back
// to heuristic bands without touching RPC.
package yield

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/onchain"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

const secondsPerYear = 31_536_000

// Strategy confidence levels. Direct rate reads beat modeled rates,
// which beat historical sampling, which beats heuristics.
const (
	confidenceLiquidityRate = 0.95
	confidenceDirectRate    = 0.90
	confidenceKinkedModel   = 0.85
	confidenceSharePrice    = 0.80
	confidenceHeuristic     = 0.55
	confidenceGeneric       = 0.50
)

// Kinked interest model parameters, applied when a market exposes totals
// but no readable rate.
const (
	kinkBaseRate     = 0.02
	kinkSlope        = 0.05
	kinkOptimalUtil  = 0.80
	kinkBonus        = 0.04
	kinkJumpSlope    = 0.60
	marketReserveCut = 0.10
)

var (
	rayUnit = new(big.Float).SetFloat64(1e27)
	wadUnit = new(big.Float).SetFloat64(1e18)
)

// Band is an APY range for vaults that cannot be read on-chain.
type Band struct {
	Min float64
	Max float64
}

// Midpoint returns the band's representative APY.
func (b Band) Midpoint() float64 { return (b.Min + b.Max) / 2 }

// HeuristicBands holds the per-family fallback APY ranges used for
// opaque identifiers. Package-level so deployments can recalibrate them
// without a code change to the calculator.
var HeuristicBands = map[types.ProtocolFamily]Band{
	types.FamilyLiquidityRate: {Min: 0.01, Max: 0.06},
	types.FamilyUtilization:   {Min: 0.01, Max: 0.08},
	types.FamilyShareVault:    {Min: 0.02, Max: 0.10},
	types.FamilyUnknown:       {Min: 0.00, Max: 0.08},
}

// Calculator derives yield estimates from contract state.
type Calculator struct {
	reader onchain.Reader
}

// NewCalculator creates a Calculator over the given contract reader.
func NewCalculator(reader onchain.Reader) *Calculator {
	return &Calculator{reader: reader}
}

// Estimates computes every applicable yield estimate for a record.
// Records without a contract-shaped address never reach RPC: they get
// exactly one heuristic-band estimate. Individual strategy failures are
// logged and skipped, so a partial node outage degrades coverage rather
// than failing the record.
func (c *Calculator) Estimates(ctx context.Context, record model.VaultRecord) []model.YieldEstimate {
	if !record.HasContractAddress() {
		return []model.YieldEstimate{heuristicEstimate(record)}
	}

	var estimates []model.YieldEstimate
	appendEstimate := func(e model.YieldEstimate, err error) {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"vault":  record.VaultAddress,
				"chain":  record.Chain,
				"method": e.Method,
			}).Debugf("Yield strategy failed: %v", err)
			return
		}
		estimates = append(estimates, e)
	}

	switch record.Family {
	case types.FamilyLiquidityRate:
		e, err := c.liquidityRateEstimate(ctx, record)
		appendEstimate(e, err)
	case types.FamilyUtilization:
		e, err := c.utilizationEstimate(ctx, record)
		appendEstimate(e, err)
	case types.FamilyShareVault:
		for _, daysBack := range []int{7, 30} {
			e, err := c.sharePriceEstimate(ctx, record, daysBack, confidenceSharePrice)
			appendEstimate(e, err)
		}
	}

	// Unclassified protocols and failed family strategies both fall back
	// to the generic share-accounting read; many vault contracts answer
	// ERC-4626 calls regardless of slug.
	if len(estimates) == 0 {
		e, err := c.sharePriceEstimate(ctx, record, 7, confidenceGeneric)
		e.Method = model.MethodGenericERC4626
		appendEstimate(e, err)
	}

	return estimates
}

// Best returns the highest-confidence estimate, or false when none exist.
// Estimates are never averaged; one strategy wins outright.
func Best(estimates []model.YieldEstimate) (model.YieldEstimate, bool) {
	if len(estimates) == 0 {
		return model.YieldEstimate{}, false
	}
	best := estimates[0]
	for _, e := range estimates[1:] {
		if e.ConfidenceScore > best.ConfidenceScore {
			best = e
		}
	}
	return best, true
}

// liquidityRateEstimate annualizes the per-second ray supply rate.
func (c *Calculator) liquidityRateEstimate(ctx context.Context, record model.VaultRecord) (model.YieldEstimate, error) {
	rate, err := c.reader.LiquidityRate(ctx, record.Chain, record.VaultAddress)
	if err != nil {
		return model.YieldEstimate{Method: model.MethodLiquidityRate}, err
	}

	perSecond, _ := new(big.Float).Quo(new(big.Float).SetInt(rate), rayUnit).Float64()
	apy := math.Pow(1+perSecond, secondsPerYear) - 1

	return model.YieldEstimate{
		CalculatedAPY:   apy,
		Method:          model.MethodLiquidityRate,
		ConfidenceScore: confidenceLiquidityRate,
		Details: map[string]interface{}{
			"rate_per_second_ray": rate.String(),
		},
	}, nil
}

// utilizationEstimate derives the supply APY from market utilization.
// The borrow rate is read from the contract when exposed; otherwise the
// kinked model approximates it from the utilization alone.
func (c *Calculator) utilizationEstimate(ctx context.Context, record model.VaultRecord) (model.YieldEstimate, error) {
	state, err := c.reader.MarketState(ctx, record.Chain, record.VaultAddress)
	if err != nil {
		return model.YieldEstimate{Method: model.MethodUtilization}, err
	}
	if state.TotalSupply == nil || state.TotalSupply.Sign() <= 0 {
		return model.YieldEstimate{Method: model.MethodUtilization}, fmt.Errorf("market has no supplied assets")
	}

	supplied, _ := new(big.Float).SetInt(state.TotalSupply).Float64()
	borrowed := 0.0
	if state.TotalBorrow != nil {
		borrowed, _ = new(big.Float).SetInt(state.TotalBorrow).Float64()
	}
	utilization := borrowed / supplied

	confidence := confidenceDirectRate
	var apy float64
	switch {
	case state.SupplyRate != nil:
		perSecond, _ := new(big.Float).Quo(new(big.Float).SetInt(state.SupplyRate), wadUnit).Float64()
		apy = math.Pow(1+perSecond, secondsPerYear) - 1
	case state.BorrowRate != nil:
		perSecond, _ := new(big.Float).Quo(new(big.Float).SetInt(state.BorrowRate), wadUnit).Float64()
		borrowAPR := perSecond * secondsPerYear
		apy = borrowAPR * utilization * (1 - marketReserveCut)
	default:
		apy = kinkedBorrowRate(utilization) * utilization * (1 - marketReserveCut)
		confidence = confidenceKinkedModel
	}

	return model.YieldEstimate{
		CalculatedAPY:   apy,
		Method:          model.MethodUtilization,
		ConfidenceScore: confidence,
		Details: map[string]interface{}{
			"utilization": utilization,
		},
	}, nil
}

// kinkedBorrowRate models the borrow APR from utilization with a kink at
// the optimal point.
func kinkedBorrowRate(utilization float64) float64 {
	if utilization <= kinkOptimalUtil {
		return kinkBaseRate + kinkSlope*(utilization/kinkOptimalUtil)
	}
	excess := (utilization - kinkOptimalUtil) / (1 - kinkOptimalUtil)
	return kinkBaseRate + kinkSlope + kinkBonus + kinkJumpSlope*excess
}

// sharePriceEstimate annualizes the growth of price-per-share between a
// historical block and the head.
func (c *Calculator) sharePriceEstimate(ctx context.Context, record model.VaultRecord, daysBack int, confidence float64) (model.YieldEstimate, error) {
	method := model.MethodSharePrice7d
	if daysBack == 30 {
		method = model.MethodSharePrice30d
	}

	head, err := c.reader.LatestBlock(ctx, record.Chain)
	if err != nil {
		return model.YieldEstimate{Method: method}, err
	}

	span := uint64(daysBack) * types.BlocksPerDay(record.Chain)
	if span >= head {
		return model.YieldEstimate{Method: method}, fmt.Errorf("chain shorter than %d-day window", daysBack)
	}

	current, err := c.reader.ShareState(ctx, record.Chain, record.VaultAddress, 0)
	if err != nil {
		return model.YieldEstimate{Method: method}, err
	}
	past, err := c.reader.ShareState(ctx, record.Chain, record.VaultAddress, head-span)
	if err != nil {
		return model.YieldEstimate{Method: method}, err
	}

	currentPPS, err := pricePerShare(current)
	if err != nil {
		return model.YieldEstimate{Method: method}, err
	}
	pastPPS, err := pricePerShare(past)
	if err != nil {
		return model.YieldEstimate{Method: method}, err
	}

	growth := currentPPS/pastPPS - 1
	apy := growth * 365 / float64(daysBack)

	return model.YieldEstimate{
		CalculatedAPY:   apy,
		Method:          method,
		ConfidenceScore: confidence,
		Details: map[string]interface{}{
			"days_back":     daysBack,
			"window_growth": growth,
		},
	}, nil
}

func pricePerShare(state onchain.ShareState) (float64, error) {
	if state.TotalSupply == nil || state.TotalSupply.Sign() <= 0 {
		return 0, fmt.Errorf("vault has no shares outstanding")
	}
	pps, _ := new(big.Float).Quo(
		new(big.Float).SetInt(state.TotalAssets),
		new(big.Float).SetInt(state.TotalSupply),
	).Float64()
	return pps, nil
}

// heuristicEstimate returns the family band midpoint for records that
// carry an opaque provider identifier instead of a contract address.
func heuristicEstimate(record model.VaultRecord) model.YieldEstimate {
	band, ok := HeuristicBands[record.Family]
	if !ok {
		band = HeuristicBands[types.FamilyUnknown]
	}
	return model.YieldEstimate{
		CalculatedAPY:   band.Midpoint(),
		Method:          model.MethodHeuristicBand,
		ConfidenceScore: confidenceHeuristic,
		Details: map[string]interface{}{
			"estimation": true,
			"band_min":   band.Min,
			"band_max":   band.Max,
		},
	}
}
