package queue

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("queued request not found")

// Store is the durable home of queued requests. Every method is atomic on
// its own; All returns records in insertion (timestamp) order.
type Store interface {
	Put(ctx context.Context, rec QueuedRequest) error
	// Update overwrites an existing record and returns ErrNotFound if it
	// was deleted meanwhile.
	Update(ctx context.Context, rec QueuedRequest) error
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]QueuedRequest, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
