// Package cacherr defines the shared error taxonomy returned across
// cachewarm's components, per the propagation policy in the design doc:
// hot-path errors are recorded via metrics/logs rather than returned, while
// constructors and capacity-bounded operations fail fast with these
// sentinels.
package cacherr

import "errors"

var (
	// ErrInvalidKey indicates an empty or otherwise malformed PairID.
	ErrInvalidKey = errors.New("cachewarm: invalid key")

	// ErrInvalidDomainValue indicates a value object failed a domain
	// invariant at construction (out-of-range score, negative count,
	// future timestamp, self-correlation).
	ErrInvalidDomainValue = errors.New("cachewarm: invalid domain value")

	// ErrCapacityViolation indicates an insert that would require eviction
	// was attempted against a store configured to forbid it.
	ErrCapacityViolation = errors.New("cachewarm: capacity violation")

	// ErrCacheRead indicates an underlying cache or store surfaced an error,
	// or returned a value that could not be safely interpreted (a torn L1
	// read or a corrupted L2 payload).
	ErrCacheRead = errors.New("cachewarm: cache read failed")

	// ErrTimeout indicates a deadline expired before an operation completed.
	ErrTimeout = errors.New("cachewarm: timeout")

	// ErrClockSkew indicates a timestamp arrived further in the future than
	// the configured tolerance. It is a soft error: callers record and warn
	// rather than reject.
	ErrClockSkew = errors.New("cachewarm: clock skew")

	// ErrShuttingDown indicates a call was rejected because the component
	// has begun or completed shutdown.
	ErrShuttingDown = errors.New("cachewarm: shutting down")
)
