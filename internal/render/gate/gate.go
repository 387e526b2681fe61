// Package gate bounds the number of render sessions that run at once.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edgecomet/pdfrender/internal/render/renderr"
)

// ErrClosed is the cause attached to acquisitions refused by a closed gate.
var ErrClosed = errors.New("gate is closed")

// Gate is a bounded permit pool. Waiters are served in the order of the
// underlying semaphore's wait queue; the number of waiters is not bounded.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int

	inUse   atomic.Int32
	waiting atomic.Int32

	closedCtx context.Context
	closeFn   context.CancelFunc
}

// Stats is a point-in-time view of the gate.
type Stats struct {
	Capacity int
	InUse    int
	Waiting  int
}

// Permit authorizes one active render session.
type Permit struct {
	gate    *Gate
	once    sync.Once
	waited  time.Duration
	granted time.Time
}

// New creates a gate with the given number of slots.
func New(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("gate capacity must be positive, got %d", capacity)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		sem:       semaphore.NewWeighted(int64(capacity)),
		capacity:  capacity,
		closedCtx: ctx,
		closeFn:   cancel,
	}, nil
}

// Acquire blocks until a slot is free, ctx is done or the gate is closed.
// A closed gate yields a renderr.KindResource error; ctx expiry returns the
// context error unchanged so the caller can classify it.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if g.closedCtx.Err() != nil {
		return nil, renderr.New(renderr.KindResource, "acquire slot", ErrClosed)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.closedCtx, cancel)
	defer stop()

	start := time.Now()
	g.waiting.Add(1)
	err := g.sem.Acquire(waitCtx, 1)
	g.waiting.Add(-1)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, renderr.New(renderr.KindResource, "acquire slot", ErrClosed)
	}

	// Close raced with a successful acquisition.
	if g.closedCtx.Err() != nil {
		g.sem.Release(1)
		return nil, renderr.New(renderr.KindResource, "acquire slot", ErrClosed)
	}

	g.inUse.Add(1)
	return &Permit{gate: g, waited: time.Since(start), granted: time.Now()}, nil
}

// Close refuses new acquisitions and wakes every waiter. Held permits stay
// valid and may still be released.
func (g *Gate) Close() {
	g.closeFn()
}

// Stats returns current gate statistics
func (g *Gate) Stats() Stats {
	return Stats{
		Capacity: g.capacity,
		InUse:    int(g.inUse.Load()),
		Waiting:  int(g.waiting.Load()),
	}
}

// Capacity returns the number of slots.
func (g *Gate) Capacity() int {
	return g.capacity
}

// Release returns the slot to the gate. Only the first call has an effect.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.gate.inUse.Add(-1)
		p.gate.sem.Release(1)
	})
}

// Waited is how long Acquire blocked before the permit was granted.
func (p *Permit) Waited() time.Duration {
	return p.waited
}

// Held is how long the permit has been held.
func (p *Permit) Held() time.Duration {
	return time.Since(p.granted)
}
