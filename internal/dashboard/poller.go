package dashboard

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Simplici0/quickprint/internal/api"
)

const refreshTimeout = 30 * time.Second

// OrderLister is the part of the API client the dashboard reads from.
type OrderLister interface {
	ListShopOrders(ctx context.Context, shopID int64) ([]api.Order, error)
}

// Snapshot is the last successfully fetched order list plus refresh status.
type Snapshot struct {
	Orders     []api.Order
	FetchedAt  time.Time
	LastError  string
	Refreshing bool
}

// Poller keeps a shop's order list fresh while it is started.
//
// Refreshes are single-flight: concurrent callers share one fetch and the
// snapshot is replaced as a whole, never merged.
type Poller struct {
	orders   OrderLister
	shopID   int64
	interval time.Duration
	logger   *zap.Logger

	group    singleflight.Group
	inFlight atomic.Bool

	mu        sync.RWMutex
	snapshot  []api.Order
	fetchedAt time.Time
	lastErr   error

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller returns a stopped poller for shopID.
func NewPoller(orders OrderLister, shopID int64, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{orders: orders, shopID: shopID, interval: interval, logger: logger}
}

// Start refreshes immediately and then every interval until Stop or ctx ends.
// Starting a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx, p.done)
}

// Stop halts polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refreshLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.inFlight.Load() {
				continue
			}
			p.refreshLogged(ctx)
		}
	}
}

func (p *Poller) refreshLogged(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("refresh shop orders", zap.Int64("shop_id", p.shopID), zap.Error(err))
	}
}

// Refresh fetches the order list now, joining a fetch that is already running.
// The shared fetch outlives any single caller: a caller whose ctx ends stops
// waiting, but the fetch completes for everyone else. On failure the previous
// snapshot is kept.
func (p *Poller) Refresh(ctx context.Context) error {
	ch := p.group.DoChan("orders", func() (any, error) {
		p.inFlight.Store(true)
		defer p.inFlight.Store(false)

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		orders, err := p.orders.ListShopOrders(fetchCtx, p.shopID)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.lastErr = err
		if err != nil {
			return nil, err
		}
		p.snapshot = orders
		p.fetchedAt = time.Now()
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refreshing reports whether a fetch is in flight.
func (p *Poller) Refreshing() bool {
	return p.inFlight.Load()
}

// Snapshot returns a copy of the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		Orders:     slices.Clone(p.snapshot),
		FetchedAt:  p.fetchedAt,
		Refreshing: p.inFlight.Load(),
	}
	if p.lastErr != nil {
		snap.LastError = p.lastErr.Error()
	}
	return snap
}
