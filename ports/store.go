package ports

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store lookups when the key does not exist or
// has expired. Adapters map their backend's miss sentinel onto this.
var ErrNotFound = errors.New("store: key not found")

// Store is the shared keyed store every protocol component sits on:
// challenges, the revocation denylist, rate-limit counters, lockout state
// and the per-address session index. Entries carry a TTL so the store stays
// bounded by concurrent activity, never by historical volume.
//
// All operations must complete within the caller's context deadline;
// adapters surface backend failures so callers can fail closed.
type Store interface {
	// Set stores a value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get retrieves a value, returning ErrNotFound on a miss.
	Get(ctx context.Context, key string) (string, error)

	// GetDel atomically retrieves and deletes a value. Of two concurrent
	// callers for the same key, at most one receives the value. This is the
	// check-and-set primitive challenge consumption relies on.
	GetDel(ctx context.Context, key string) (string, error)

	// SetNX stores a value only if the key does not already exist, reporting
	// whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr increments a counter, starting a fresh window with the given TTL
	// when the key is created. Returns the post-increment count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// AddToSet adds a member to the set at key and extends the set's TTL.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error

	// SetMembers returns all members of the set at key, empty on a miss.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// RemoveFromSet removes a member from the set at key.
	RemoveFromSet(ctx context.Context, key, member string) error
}
