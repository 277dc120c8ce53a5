// Package counts maintains live per-status counts of orders without
// re-scanning the full order set on every event. It is seeded from one
// authoritative snapshot and kept current by incremental deltas; the
// deltas are an optimization over re-fetch, not a replacement for the
// periodic full reseed that corrects any drift.
//
// Not safe for concurrent use; the board engine serializes access.
package counts

import (
	"github.com/platewise/boardsync/internal/model"
	"github.com/platewise/boardsync/internal/status"
)

// Snapshot is a read-only copy of the current counts. Total is the number
// of active orders and always equals the sum of the active-status buckets.
type Snapshot struct {
	ByStatus map[string]int
	Total    int
}

// Aggregator tracks one bucket per status, including the terminal ones.
type Aggregator struct {
	byStatus map[string]int
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{byStatus: make(map[string]int)}
}

// Seed resets every bucket from an authoritative snapshot.
func (a *Aggregator) Seed(orders []model.Order) {
	a.byStatus = make(map[string]int)
	for _, o := range orders {
		a.byStatus[o.Status]++
	}
}

// ApplyInsert credits the new order's status bucket.
func (a *Aggregator) ApplyInsert(o model.Order) {
	a.byStatus[o.Status]++
}

// ApplyUpdate moves one order between buckets using the event's old/new
// record pair. A duplicate or reordered delivery can try to drain an
// already-empty bucket; counts clamp at zero rather than going negative.
func (a *Aggregator) ApplyUpdate(prev, next model.Order) {
	if prev.Status == next.Status {
		return
	}
	a.decrement(prev.Status)
	a.byStatus[next.Status]++
}

// ApplyDelete drains the bucket matching the deleted record's last known
// status.
func (a *Aggregator) ApplyDelete(old model.Order) {
	a.decrement(old.Status)
}

func (a *Aggregator) decrement(s string) {
	if a.byStatus[s] > 0 {
		a.byStatus[s]--
	}
}

// Count returns the bucket for one status.
func (a *Aggregator) Count(s string) int {
	return a.byStatus[s]
}

// Snapshot returns a copy of all buckets plus the active total.
func (a *Aggregator) Snapshot() Snapshot {
	by := make(map[string]int, len(a.byStatus))
	total := 0
	for s, n := range a.byStatus {
		by[s] = n
		if status.IsActive(s) {
			total += n
		}
	}
	return Snapshot{ByStatus: by, Total: total}
}
