package state

import "context"

// Store is the small durable kv surface the scheduler and dispatcher share:
// pair fault counts and suspensions survive restarts, and dispatch
// idempotency keys prevent double submission after a crash.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}
