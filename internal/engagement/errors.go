package engagement

import "errors"

// Sentinel errors returned by the ingestion service. HTTP handlers map these
// to status codes; everything else is treated as an internal error.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadySigned    = errors.New("proposal already signed")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrInvalidTimeSpent = errors.New("time spent must be a positive number")
	ErrInvalidInput     = errors.New("invalid input")
)
