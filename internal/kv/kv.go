// Package kv provides the durable key-value backends used by the
// persistence gateway. The contract is deliberately minimal: get, set,
// remove. No transactions or range scans are assumed, so any backend
// that can store an opaque string per key qualifies.
package kv

import "context"

// Store is the minimal key-value contract required by the gateway.
// Get reports presence separately from errors so a missing key is not
// an error condition.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}
