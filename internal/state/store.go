package state

import (
	"context"
	"time"
)

// Store is the expiring key/value collaborator backing self-write markers,
// last-applied event timestamps and zero-transition audit records.
type Store interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key Key) (string, bool, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key Key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
}
