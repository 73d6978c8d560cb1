package core

import "errors"

var (
	// ErrValidation marks a malformed ingestion payload.
	ErrValidation = errors.New("invalid fnol payload")
	// ErrExtraction marks a failed call to the extraction model. The
	// raw-response fallback is not an extraction failure.
	ErrExtraction = errors.New("fnol field extraction failed")
	// ErrTimeout marks an external call that exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)
