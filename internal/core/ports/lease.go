package ports

import "context"

// PublisherLease is held for the lifetime of a broadcast so that two
// instances never publish to the same targets at once.
type PublisherLease interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}
