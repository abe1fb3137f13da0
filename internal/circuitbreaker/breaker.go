// Package circuitbreaker guards resolution against poisoned upstream
// data: implausible APY figures, a collapsed provider set, or an abrupt
// swing in aggregate TVL between consecutive healthy passes.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-yield-resolver/internal/model"
)

// State represents the current state of the circuit breaker.
type State int

// Circuit breaker states.
const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripped, serving last known good data
	StateHalfOpen              // probing recovery
)

// ErrOpen is returned while the breaker refuses fresh data.
var ErrOpen = errors.New("circuit breaker open: serving last known good records")

// Thresholds defines the sanity limits over a merged record set.
type Thresholds struct {
	// MaxAPY is the highest credible reported APY (fraction; 50.0 is
	// 5000%). Anything above it marks the whole batch as poisoned.
	MaxAPY float64 `json:"max_apy"`

	// MaxTVLChange is the largest tolerated swing in aggregate TVL
	// between consecutive healthy checks (0.5 is 50%).
	MaxTVLChange float64 `json:"max_tvl_change"`

	// MinSources is the minimum number of distinct data sources that
	// must be present in the batch.
	MinSources int `json:"min_sources"`
}

// Breaker applies the circuit breaker pattern to merged vault record
// sets before they reach resolution.
type Breaker struct {
	thresholds Thresholds

	mu               sync.RWMutex
	state            State
	lastTrip         time.Time
	resetDelay       time.Duration
	successCount     int
	successThreshold int

	// lastGoodTVL is the aggregate TVL of the previous healthy batch.
	lastGoodTVL     float64
	lastGoodRecords []model.VaultRecord

	onTrip func(reason string, records []model.VaultRecord)
}

// New creates a Breaker with the provided thresholds.
func New(t Thresholds) *Breaker {
	return &Breaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
	}
}

// WithResetDelay sets the open-to-half-open cooldown.
func (b *Breaker) WithResetDelay(delay time.Duration) *Breaker {
	b.resetDelay = delay
	return b
}

// WithSuccessThreshold sets how many healthy half-open checks close the
// circuit.
func (b *Breaker) WithSuccessThreshold(threshold int) *Breaker {
	b.successThreshold = threshold
	return b
}

// WithTripCallback registers a callback invoked on every trip.
func (b *Breaker) WithTripCallback(callback func(reason string, records []model.VaultRecord)) *Breaker {
	b.onTrip = callback
	return b
}

// Check evaluates a merged record set. A nil return means the batch is
// healthy and was recorded as the new last-good set. While the circuit
// is open, ErrOpen is returned until the cooldown elapses.
func (b *Breaker) Check(records []model.VaultRecord) error {
	b.mu.RLock()
	state := b.state
	lastTrip := b.lastTrip
	b.mu.RUnlock()

	if state == StateOpen {
		if time.Since(lastTrip) <= b.resetDelay {
			return ErrOpen
		}
		b.transitionToHalfOpen()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(records) == 0 {
		return errors.New("no records provided to circuit breaker")
	}

	if distinct := countSources(records); distinct < b.thresholds.MinSources {
		reason := fmt.Sprintf("insufficient data sources: got %d, need %d", distinct, b.thresholds.MinSources)
		b.trip(reason, records)
		return errors.New(reason)
	}

	for _, r := range records {
		if r.APY > b.thresholds.MaxAPY {
			reason := fmt.Sprintf("APY exceeds maximum threshold: %f > %f for %s", r.APY, b.thresholds.MaxAPY, r.VaultAddress)
			b.trip(reason, records)
			return errors.New(reason)
		}
	}

	currentTVL := totalTVL(records)
	if b.lastGoodTVL > 1.0 {
		changeRatio := math.Abs(currentTVL-b.lastGoodTVL) / b.lastGoodTVL
		if changeRatio > b.thresholds.MaxTVLChange {
			reason := fmt.Sprintf("aggregate TVL swing too drastic: %.2f%% (threshold: %.2f%%)",
				changeRatio*100, b.thresholds.MaxTVLChange*100)
			b.trip(reason, records)
			return errors.New(reason)
		}
	}

	logrus.Debug("Circuit breaker checks passed")
	b.lastGoodTVL = currentTVL
	b.lastGoodRecords = append(b.lastGoodRecords[:0], records...)

	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.successCount = 0
			logrus.Info("Circuit breaker closed: upstream data has recovered")
		}
	}

	return nil
}

// GetState returns the current breaker state.
func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forcibly closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGoodRecords returns a copy of the most recent healthy record set,
// or nil when no batch has passed yet.
func (b *Breaker) LastGoodRecords() []model.VaultRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.lastGoodRecords) == 0 {
		return nil
	}
	out := make([]model.VaultRecord, len(b.lastGoodRecords))
	copy(out, b.lastGoodRecords)
	return out
}

func (b *Breaker) transitionToHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		b.state = StateHalfOpen
		b.successCount = 0
		logrus.Info("Circuit breaker half-open: probing upstream recovery")
	}
}

func (b *Breaker) trip(reason string, records []model.VaultRecord) {
	b.state = StateOpen
	b.lastTrip = time.Now()
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if b.onTrip != nil {
		go b.onTrip(reason, records)
	}
}

func countSources(records []model.VaultRecord) int {
	seen := make(map[string]struct{}, 4)
	for _, r := range records {
		seen[r.DataSource] = struct{}{}
	}
	return len(seen)
}

func totalTVL(records []model.VaultRecord) float64 {
	var total float64
	for _, r := range records {
		total += float64(r.TVLUSD)
	}
	return total
}
