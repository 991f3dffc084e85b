// Package gate bounds how many file reads run at once.
//
// Callers past the ceiling wait in strict arrival order; every release admits
// exactly the next waiter. A caller arriving while others are queued queues
// behind them even if a slot happens to be free, so admission order always
// matches arrival order.
package gate

import (
	"container/list"
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCeiling is the number of concurrent reads admitted when no ceiling
// is configured.
const DefaultCeiling = 30

// Gate is a FIFO admission gate with a fixed ceiling.
type Gate struct {
	mu       sync.Mutex
	ceiling  int
	inFlight int
	waiters  list.List // of chan struct{}

	inFlightGauge prometheus.Gauge
	waitingGauge  prometheus.Gauge
}

// Option configures a Gate.
type Option func(*Gate)

// WithRegisterer registers the gate's gauges with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gate) {
		reg.MustRegister(g.inFlightGauge, g.waitingGauge)
	}
}

// New creates a gate admitting at most ceiling concurrent holders. A ceiling
// below one falls back to DefaultCeiling.
func New(ceiling int, opts ...Option) *Gate {
	if ceiling < 1 {
		ceiling = DefaultCeiling
	}
	g := &Gate{
		ceiling: ceiling,
		inFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "slicesync",
			Subsystem: "gate",
			Name:      "in_flight",
			Help:      "File reads currently admitted by the gate.",
		}),
		waitingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "slicesync",
			Subsystem: "gate",
			Name:      "waiting",
			Help:      "File reads queued behind the gate ceiling.",
		}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ceiling returns the configured ceiling.
func (g *Gate) Ceiling() int { return g.ceiling }

// Acquire blocks until the caller is admitted or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.inFlight < g.ceiling && g.waiters.Len() == 0 {
		g.inFlight++
		g.observeLocked()
		g.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := g.waiters.PushBack(ready)
	g.observeLocked()
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		err := ctx.Err()
		g.mu.Lock()
		select {
		case <-ready:
			// Admitted while cancelling: hand the slot to the next waiter.
			g.inFlight--
			g.admitLocked()
		default:
			g.waiters.Remove(elem)
		}
		g.observeLocked()
		g.mu.Unlock()
		return err
	}
}

// Release frees a slot and admits the next waiter, if any.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == 0 {
		panic("gate: release without acquire")
	}
	g.inFlight--
	g.admitLocked()
	g.observeLocked()
}

// Do runs fn while holding a slot.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// InFlight returns the number of admitted holders.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Waiting returns the number of queued callers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

func (g *Gate) admitLocked() {
	for g.inFlight < g.ceiling {
		front := g.waiters.Front()
		if front == nil {
			return
		}
		g.waiters.Remove(front)
		g.inFlight++
		close(front.Value.(chan struct{}))
	}
}

func (g *Gate) observeLocked() {
	g.inFlightGauge.Set(float64(g.inFlight))
	g.waitingGauge.Set(float64(g.waiters.Len()))
}
