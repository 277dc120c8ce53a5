// Package store is the in-memory, normalized, per-client cache of orders.
// Optimistic local mutations apply immediately and reconcile against the
// change feed by idempotent overwrite: an incoming record always replaces
// the cached one wholesale, never field by field.
//
// The store is not safe for concurrent use; its single owner (the board
// engine) serializes every mutation.
package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/platewise/boardsync/internal/enum"
	"github.com/platewise/boardsync/internal/feed"
	"github.com/platewise/boardsync/internal/model"
)

// Store caches orders, order items and payments keyed by id. It never
// assumes it holds the complete authoritative set: a seed fetch populates
// it and subsequent operation is delta-only.
type Store struct {
	orders   map[uuid.UUID]model.Order
	items    map[uuid.UUID]model.OrderItem
	payments map[uuid.UUID]model.Payment

	fetchedAt time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		orders:   make(map[uuid.UUID]model.Order),
		items:    make(map[uuid.UUID]model.OrderItem),
		payments: make(map[uuid.UUID]model.Payment),
	}
}

// Seed replaces the cached order set with an authoritative snapshot.
// Item and payment caches reset too; they repopulate from deltas.
func (s *Store) Seed(orders []model.Order, now time.Time) {
	s.orders = make(map[uuid.UUID]model.Order, len(orders))
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	s.items = make(map[uuid.UUID]model.OrderItem)
	s.payments = make(map[uuid.UUID]model.Payment)
	s.fetchedAt = now
}

// FetchedAt returns when the store was last seeded. Zero before any seed.
func (s *Store) FetchedAt() time.Time {
	return s.fetchedAt
}

// Get returns the cached order, if present.
func (s *Store) Get(id uuid.UUID) (model.Order, bool) {
	o, ok := s.orders[id]
	return o, ok
}

// Orders returns all cached orders, oldest first. The result is a copy;
// callers cannot mutate the cache through it.
func (s *Store) Orders() []model.Order {
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// ItemsFor returns the cached items belonging to an order.
func (s *Store) ItemsFor(orderID uuid.UUID) []model.OrderItem {
	var out []model.OrderItem
	for _, it := range s.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// PaymentsFor returns the cached payments belonging to an order.
func (s *Store) PaymentsFor(orderID uuid.UUID) []model.Payment {
	var out []model.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// ApplyLocal overwrites the cached order with an optimistic value and
// returns the rollback record for RevertLocal.
func (s *Store) ApplyLocal(next model.Order) Mutation[model.Order] {
	return applyMutation(s.orders, next.ID, next)
}

// RevertLocal rolls an optimistic mutation back after its persistence call
// failed. If an authoritative event already overwrote the optimistic value
// the rollback is skipped: reconciliation has moved past it.
func (s *Store) RevertLocal(mu Mutation[model.Order]) bool {
	return revertMutation(s.orders, mu, sameOrder)
}

// sameOrder reports whether cur is still the value an optimistic mutation
// wrote. Optimistic moves change only Status, so status plus the
// authoritative UpdatedAt stamp identifies the write.
func sameOrder(cur, applied model.Order) bool {
	return cur.ID == applied.ID &&
		cur.Status == applied.Status &&
		cur.UpdatedAt.Equal(applied.UpdatedAt)
}

// Reconcile applies one change notification. It is idempotent: applying
// the same event twice cannot corrupt state, because every apply is a
// wholesale overwrite keyed by id. An update for an id the store has never
// seen is a cache miss, not an error; the record is inserted.
func (s *Store) Reconcile(ev feed.Change) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Table {
	case enum.TableOrders:
		if ev.Type == enum.EventDelete {
			o, err := feed.DecodeOrder(ev.Old)
			if err != nil {
				return err
			}
			delete(s.orders, o.ID)
			return nil
		}
		o, err := feed.DecodeOrder(ev.New)
		if err != nil {
			return err
		}
		s.orders[o.ID] = o
		return nil

	case enum.TableOrderItems:
		if ev.Type == enum.EventDelete {
			it, err := feed.DecodeOrderItem(ev.Old)
			if err != nil {
				return err
			}
			delete(s.items, it.ID)
			return nil
		}
		it, err := feed.DecodeOrderItem(ev.New)
		if err != nil {
			return err
		}
		s.items[it.ID] = it
		return nil

	case enum.TablePayments:
		if ev.Type == enum.EventDelete {
			p, err := feed.DecodePayment(ev.Old)
			if err != nil {
				return err
			}
			delete(s.payments, p.ID)
			return nil
		}
		p, err := feed.DecodePayment(ev.New)
		if err != nil {
			return err
		}
		s.payments[p.ID] = p
		return nil
	}
	return fmt.Errorf("unknown table %q", ev.Table)
}
