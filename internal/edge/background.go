package edge

import (
	"context"
	"sync"
	"time"
)

// background runs detached work bounded by a semaphore. Work outlives the
// request that started it but not the service: stop cancels it and waits
// for it to return.
type background struct {
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func newBackground(limit int) *background {
	ctx, cancel := context.WithCancel(context.Background())
	return &background{sem: make(chan struct{}, limit), ctx: ctx, cancel: cancel}
}

// Go starts fn unless the pool is full or stopped. timeout <= 0 means no
// deadline beyond the service lifetime.
func (b *background) Go(timeout time.Duration, fn func(ctx context.Context)) bool {
	select {
	case b.sem <- struct{}{}:
	default:
		return false
	}
	release := func() { <-b.sem }
	if !b.add() {
		release()
		return false
	}
	ctx, cancel := b.ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(b.ctx, timeout)
	}
	go func() {
		defer b.wg.Done()
		defer release()
		defer cancel()
		fn(ctx)
	}()
	return true
}

// Spawn runs fn with the service lifetime context. It does not take a
// semaphore slot, so it is never refused while the service runs.
func (b *background) Spawn(fn func(ctx context.Context)) {
	if !b.add() {
		return
	}
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

func (b *background) add() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *background) stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
}
