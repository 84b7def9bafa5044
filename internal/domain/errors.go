package domain

import "errors"

// Pipeline errors are typed so the transport layer can map them to
// responses. None of them is fatal to the pipeline.
var (
	// ErrStaleEvent marks an event whose timestamp precedes the vehicle's
	// stored state. The event is dropped and state is untouched.
	ErrStaleEvent = errors.New("stale event: timestamp precedes stored state")

	// ErrMalformedEvent marks an event missing required fields. Rejected
	// at ingestion, vehicle state untouched.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrAdvisoryTimeout marks an advisory call that exceeded its budget.
	ErrAdvisoryTimeout = errors.New("advisory call timed out")

	// ErrAdvisoryUnavailable marks an advisory call rejected or failed,
	// including circuit-breaker short-circuits.
	ErrAdvisoryUnavailable = errors.New("advisory service unavailable")

	// ErrUnknownVehicle marks a lookup for a vehicle the store has never
	// seen.
	ErrUnknownVehicle = errors.New("unknown vehicle")

	// ErrInvalidQR marks a cargo QR payload that cannot be decoded.
	ErrInvalidQR = errors.New("invalid cargo QR payload")
)
