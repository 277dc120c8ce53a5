// Package board is the kitchen-board synchronization engine. It keeps a
// client's view of one restaurant's orders consistent with the
// authoritative store while the client mutates order status optimistically,
// the change feed delivers authoritative deltas, and the connection drops
// and recovers underneath.
//
// All state lives in the local store and counter aggregator; the engine is
// their single writer. Feed callbacks and user actions interleave through
// one mutex with short, non-blocking critical sections; network calls
// always happen outside the lock.
package board

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/platewise/boardsync/internal/bulk"
	"github.com/platewise/boardsync/internal/conn"
	"github.com/platewise/boardsync/internal/counts"
	"github.com/platewise/boardsync/internal/enum"
	"github.com/platewise/boardsync/internal/feed"
	"github.com/platewise/boardsync/internal/model"
	"github.com/platewise/boardsync/internal/status"
	"github.com/platewise/boardsync/internal/store"
)

// Errors returned by the engine. Invalid moves are expected, frequent
// conditions and come back as values, never panics.
var (
	ErrUnknownOrder      = errors.New("order not in local cache")
	ErrInvalidTransition = errors.New("transition not allowed")
	ErrCannotCancel      = errors.New("order cannot be cancelled")
	ErrUnknownAction     = errors.New("unknown bulk action")
	ErrMissingGateway    = errors.New("gateway is required")
)

// DefaultStaleAfter is how old a seeded snapshot may get before the
// projections report themselves stale.
const DefaultStaleAfter = 5 * time.Minute

// Gateway is the persistence surface the engine consumes. Implementations
// must make SetOrderStatus idempotent: issuing it twice with the same
// target status is safe.
type Gateway interface {
	FetchActiveOrders(ctx context.Context, restaurantID uuid.UUID) ([]model.Order, error)
	SetOrderStatus(ctx context.Context, orderID uuid.UUID, status string) error
	CancelOrder(ctx context.Context, orderID uuid.UUID) error
}

// Config configures an Engine.
type Config struct {
	RestaurantID uuid.UUID
	Gateway      Gateway
	// Dial opens the change-feed channel. Nil disables the live feed;
	// the engine then works in manual-refresh mode only.
	Dial          conn.DialFunc
	RetryInterval time.Duration
	MaxAttempts   int
	StaleAfter    time.Duration
}

// Engine owns one client's synchronized view of the kitchen board.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	store    *store.Store
	counts   *counts.Aggregator
	lastSeed store.Cached[int]
	closed   bool

	mgr     *conn.Manager
	updates chan struct{}
}

// New creates an Engine. Call Start to seed it and go live.
func New(cfg Config) (*Engine, error) {
	if cfg.Gateway == nil {
		return nil, ErrMissingGateway
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	e := &Engine{
		cfg:     cfg,
		store:   store.New(),
		counts:  counts.New(),
		updates: make(chan struct{}, 1),
	}
	if cfg.Dial != nil {
		e.mgr = conn.NewManager(conn.Config{
			Dial:          cfg.Dial,
			RetryInterval: cfg.RetryInterval,
			MaxAttempts:   cfg.MaxAttempts,
			OnChange:      e.handleChange,
			OnStateChange: func(conn.Snapshot) { e.signal() },
		})
	}
	return e, nil
}

// Start seeds the store and counters from an authoritative snapshot and
// connects the live feed. A seed failure leaves the engine stopped.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Refresh(ctx); err != nil {
		return err
	}
	if e.mgr != nil {
		e.mgr.Connect()
	}
	return nil
}

// Stop tears the engine down. Any persistence call still in flight
// becomes a no-op on return: it can no longer mutate discarded state.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if e.mgr != nil {
		e.mgr.Stop()
	}
}

// Refresh forces a full re-fetch and reseeds both the store and the
// counters. This is the designated drift-correction mechanism and works
// with or without a live feed.
func (e *Engine) Refresh(ctx context.Context) error {
	orders, err := e.cfg.Gateway.FetchActiveOrders(ctx, e.cfg.RestaurantID)
	if err != nil {
		return fmt.Errorf("fetch active orders: %w", err)
	}
	now := time.Now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.store.Seed(orders, now)
	e.counts.Seed(orders)
	e.lastSeed = store.NewCached(len(orders), now)
	e.mu.Unlock()

	e.signal()
	return nil
}

// MoveOrder applies a kitchen-board move: validate, mutate locally, then
// persist. An illegal move is rejected with no state change and no
// network call. A persistence failure rolls the local value back to what
// it was when the move was applied.
func (e *Engine) MoveOrder(ctx context.Context, id uuid.UUID, target string) error {
	e.mu.Lock()
	cur, ok := e.store.Get(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if !status.ValidateTransition(cur.Status, target) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, target)
	}
	next := cur
	next.Status = target
	mut := e.store.ApplyLocal(next)
	e.mu.Unlock()
	e.signal()

	if err := e.cfg.Gateway.SetOrderStatus(ctx, id, target); err != nil {
		e.rollback(mut)
		return fmt.Errorf("set order status: %w", err)
	}
	return nil
}

// cancelOrder is the per-item body of a bulk cancel.
func (e *Engine) cancelOrder(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	cur, ok := e.store.Get(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if !status.CanCancel(cur.Status) {
		e.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrCannotCancel, cur.Status)
	}
	next := cur
	next.Status = enum.OrderStatusCancelled
	mut := e.store.ApplyLocal(next)
	e.mu.Unlock()
	e.signal()

	if err := e.cfg.Gateway.CancelOrder(ctx, id); err != nil {
		e.rollback(mut)
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// rollback reverts one optimistic mutation, unless the engine was stopped
// or an authoritative event already overwrote the value.
func (e *Engine) rollback(mut store.Mutation[model.Order]) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	reverted := e.store.RevertLocal(mut)
	e.mu.Unlock()
	if reverted {
		e.signal()
	}
}

// BulkApply applies one action to every selected order. Per-item failures
// do not abort the sweep; the local store ends up reflecting exactly the
// subset that succeeded.
func (e *Engine) BulkApply(ctx context.Context, ids []uuid.UUID, action bulk.Action) (bulk.Result, error) {
	switch action.Kind {
	case enum.BulkActionSetStatus:
		if !status.IsValid(action.Status) {
			return bulk.Result{}, fmt.Errorf("%w: %q", ErrInvalidTransition, action.Status)
		}
		return bulk.Run(ctx, ids, func(ctx context.Context, id uuid.UUID) error {
			return e.MoveOrder(ctx, id, action.Status)
		}), nil
	case enum.BulkActionCancel:
		return bulk.Run(ctx, ids, e.cancelOrder), nil
	default:
		return bulk.Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, action.Kind)
	}
}

// handleChange reconciles one feed notification into the store and the
// counters. Runs on the feed's delivery goroutine, so it stays short.
func (e *Engine) handleChange(ev feed.Change) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if ev.Table == enum.TableOrders {
		if e.foreignOrderEvent(ev) {
			e.mu.Unlock()
			return
		}
		e.applyOrderCountsLocked(ev)
	}
	if err := e.store.Reconcile(ev); err != nil {
		log.Printf("board: reconcile %s %s: %v", ev.Type, ev.Table, err)
	}
	e.mu.Unlock()
	e.signal()
}

// applyOrderCountsLocked feeds one order event's deltas to the counter
// aggregator, before the store overwrites its cached copy.
func (e *Engine) applyOrderCountsLocked(ev feed.Change) {
	switch ev.Type {
	case enum.EventInsert:
		o, err := feed.DecodeOrder(ev.New)
		if err != nil {
			return
		}
		e.counts.ApplyInsert(o)

	case enum.EventUpdate:
		next, err := feed.DecodeOrder(ev.New)
		if err != nil {
			return
		}
		if len(ev.Old) > 0 {
			if prev, err := feed.DecodeOrder(ev.Old); err == nil {
				e.counts.ApplyUpdate(prev, next)
				return
			}
		}
		// No usable old record: fall back to the cached copy; a full
		// cache miss counts as an insert.
		if prev, ok := e.store.Get(next.ID); ok {
			e.counts.ApplyUpdate(prev, next)
		} else {
			e.counts.ApplyInsert(next)
		}

	case enum.EventDelete:
		prev, err := feed.DecodeOrder(ev.Old)
		if err != nil {
			return
		}
		e.counts.ApplyDelete(prev)
	}
}

// foreignOrderEvent guards against cross-restaurant leakage: an orders
// event scoped to another restaurant touches neither the store nor the
// counters. Checked once per event, before any state is mutated.
func (e *Engine) foreignOrderEvent(ev feed.Change) bool {
	raw := ev.New
	if ev.Type == enum.EventDelete {
		raw = ev.Old
	}
	o, err := feed.DecodeOrder(raw)
	if err != nil {
		return false
	}
	if o.RestaurantID != uuid.Nil && o.RestaurantID != e.cfg.RestaurantID {
		log.Printf("board: dropping event for foreign restaurant %s", o.RestaurantID)
		return true
	}
	return false
}

// signal coalesces change notifications for Updates subscribers.
func (e *Engine) signal() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

// --- Read-only projections ---

// Updates yields a (coalesced) tick whenever any projection may have
// changed: a reconciled event, a local mutation, a connection change.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Orders returns every cached order, oldest first.
func (e *Engine) Orders() []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Orders()
}

// BoardOrders returns only the orders shown on the kitchen board
// (pending, preparing, ready). Served orders have left the board but are
// still active for billing.
func (e *Engine) BoardOrders() []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.Order
	for _, o := range e.store.Orders() {
		switch o.Status {
		case enum.OrderStatusPending, enum.OrderStatusPreparing, enum.OrderStatusReady:
			out = append(out, o)
		}
	}
	return out
}

// Order returns one cached order by id.
func (e *Engine) Order(id uuid.UUID) (model.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

// Items returns the cached items for an order.
func (e *Engine) Items(orderID uuid.UUID) []model.OrderItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ItemsFor(orderID)
}

// Payments returns the cached payments for an order.
func (e *Engine) Payments(orderID uuid.UUID) []model.Payment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.PaymentsFor(orderID)
}

// Counts returns the live per-status counts.
func (e *Engine) Counts() counts.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts.Snapshot()
}

// Connection returns the connection state for the live/offline indicator.
// Without a configured feed it is permanently disconnected.
func (e *Engine) Connection() conn.Snapshot {
	if e.mgr == nil {
		return conn.Snapshot{State: conn.StateDisconnected}
	}
	return e.mgr.State()
}

// StaleAt reports whether the last seeded snapshot is older than the
// configured staleness budget. UIs use it to prompt a manual refresh when
// the feed is down.
func (e *Engine) StaleAt(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeed.StaleAt(e.cfg.StaleAfter, now)
}
