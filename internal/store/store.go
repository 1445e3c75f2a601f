package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned for a missing key, and by LPop on an empty list.
var ErrNotFound = errors.New("store: not found")

// Store is the durable record store the pipeline runs on. The contract
// mirrors the primitives the backing store guarantees atomic: single-key
// get/set, set membership, list push/pop, and a cursored key scan. Everything
// layered on top (ordered id lists, counters) is a re-derivable projection.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	// SetNX writes the key only if it does not already exist and reports
	// whether this call claimed it. The claim is atomic under concurrent
	// writers, which is what idempotent creates hang off.
	SetNX(ctx context.Context, key, value string) (bool, error)

	Delete(ctx context.Context, keys ...string) error

	// Atomic set membership. SAdd/SRem on the same key never lose members
	// under concurrent writers.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// FIFO list used as the processing queue: RPush appends, LPop claims the
	// head atomically (a single consumer wins).
	RPush(ctx context.Context, key string, values ...string) error
	LPop(ctx context.Context, key string) (string, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Scan walks keys matching pattern in bounded pages. cursor=0 starts a
	// scan; a returned cursor of 0 means the scan is complete.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error)
}
