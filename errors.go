package jobservice

import "errors"

var (
	// Store errors.
	ErrNoStore              = errors.New("jobservice: no store configured")
	ErrStoreClosed          = errors.New("jobservice: store closed")
	ErrUnsupportedOperation = errors.New("jobservice: operation not supported by this storage backend")

	// Not found errors. A missing job or byte array means it was completed
	// or deleted elsewhere, not that the store is corrupt.
	ErrJobNotFound       = errors.New("jobservice: job not found")
	ErrByteArrayNotFound = errors.New("jobservice: byte array not found")

	// Conflict errors.
	ErrJobAlreadyExists     = errors.New("jobservice: job already exists")
	ErrConcurrentUpdate     = errors.New("jobservice: entity was updated concurrently")
	ErrDuplicateCorrelation = errors.New("jobservice: correlation id already in use")

	// Configuration errors.
	ErrEngineNotRegistered = errors.New("jobservice: no engine registered for byte-array storage")
)
