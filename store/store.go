package store

import (
	"context"

	"github.com/xraph/sdlq/letter"
)

// Store is the aggregate persistence interface.
type Store interface {
	letter.Store

	// Migrate creates or upgrades the backend schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
