// Package admission bounds how many conversions may run the external engine
// concurrently. The pool is the single piece of shared mutable state in the
// orchestrator; everything else is per-operation.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattwade/papermill/internal/log"
)

// DefaultMaxConcurrency reflects the resource cost of one engine instance.
const DefaultMaxConcurrency = 2

// ErrPoolExhausted is returned by TryAcquire when no slot frees within the
// caller's budget.
var ErrPoolExhausted = errors.New("admission: no permit available")

// Permit represents one occupied concurrency slot. It is owned exclusively by
// the caller that acquired it until released, and is the only legal argument
// to Release.
type Permit struct {
	pool     *Pool
	released atomic.Bool
}

// Pool is a counting permit pool sized at construction.
type Pool struct {
	slots  chan struct{}
	logger *slog.Logger
}

// NewPool creates a pool with the given ceiling. Non-positive sizes fall back
// to DefaultMaxConcurrency.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultMaxConcurrency
	}
	return &Pool{
		slots:  make(chan struct{}, size),
		logger: log.WithComponent("admission"),
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned permit
// must be released exactly once. A caller whose ctx is already done never
// receives a permit, even when a slot is free.
func (p *Pool) Acquire(ctx context.Context) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case p.slots <- struct{}{}:
		return &Permit{pool: p}, nil
	default:
	}

	p.logger.Debug("waiting for permit", "in_use", p.InUse(), "capacity", p.Capacity())
	select {
	case p.slots <- struct{}{}:
		return &Permit{pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire waits at most timeout for a slot. It returns ErrPoolExhausted
// instead of suspending indefinitely, for callers that need bounded latency.
func (p *Pool) TryAcquire(timeout time.Duration) (*Permit, error) {
	select {
	case p.slots <- struct{}{}:
		return &Permit{pool: p}, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
		return &Permit{pool: p}, nil
	case <-timer.C:
		return nil, ErrPoolExhausted
	}
}

// Release returns the permit's slot to the pool. A released slot becomes
// immediately available to the next waiter. A second release of the same
// permit is a caller bug; it is logged and ignored so it cannot corrupt the
// count.
func (p *Pool) Release(permit *Permit) {
	if permit == nil || permit.pool != p {
		p.logger.Error("release of permit not issued by this pool")
		return
	}
	if !permit.released.CompareAndSwap(false, true) {
		p.logger.Error("double release of admission permit")
		return
	}
	<-p.slots
}

// InUse returns the number of currently occupied slots.
func (p *Pool) InUse() int {
	return len(p.slots)
}

// Capacity returns the concurrency ceiling.
func (p *Pool) Capacity() int {
	return cap(p.slots)
}
