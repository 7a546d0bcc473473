// Package store defines the aggregate persistence interface implemented by
// every backend.
package store

import (
	"context"

	"github.com/xraph/jobq/job"
)

// Store is the aggregate persistence interface. A backend implements the
// job.Store queue contract plus its own lifecycle.
type Store interface {
	job.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection if the store owns it.
	Close() error
}
