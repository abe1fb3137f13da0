package engine

import "errors"

// Sentinel errors separating caller mistakes from upstream failures.
// HTTP handlers map these onto status codes.
var (
	// ErrInvalidCriteria marks a malformed resolution request, detected
	// before any I/O happens.
	ErrInvalidCriteria = errors.New("invalid resolution criteria")

	// ErrNoMatchingVault means the pipeline ran but no vault survived
	// the caller's tolerance and filters.
	ErrNoMatchingVault = errors.New("no matching vault")

	// ErrAllSourcesFailed means every data provider failed and no
	// fallback data was available.
	ErrAllSourcesFailed = errors.New("all data sources failed")
)
