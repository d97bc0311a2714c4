// Package store defines the aggregate persistence interface of the job
// service. The job entity family and byte-array subsystems each define
// their own store contract; the composite Store composes them. Backends:
// Postgres, MongoDB, and Memory.
package store

import (
	"context"

	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/job"
)

// Store is the aggregate persistence interface. A single backend
// implements both subsystem contracts plus lifecycle operations.
type Store interface {
	job.Store
	bytearray.Store

	// Migrate creates or upgrades the backend schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
