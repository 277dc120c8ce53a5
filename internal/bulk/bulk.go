// Package bulk applies one action to a selected set of entity ids,
// tracking per-item success and failure. Bulk operations are never
// all-or-nothing: one item's failure must not abort the rest.
package bulk

import (
	"context"

	"github.com/google/uuid"
)

// Action is what to do to every selected order.
type Action struct {
	Kind   string // enum.BulkActionSetStatus or enum.BulkActionCancel
	Status string // target status for set_status
}

// Failure records why one id could not be processed.
type Failure struct {
	ID     uuid.UUID
	Reason string
}

// Result is the aggregate outcome of a bulk operation: which ids succeeded
// and which failed, with reasons. Callers report "N succeeded, M failed"
// rather than a single boolean.
type Result struct {
	Succeeded []uuid.UUID
	Failed    []Failure
}

// Run applies fn to each id in order. A failing item is recorded and
// processing continues with the remaining ids. Context cancellation stops
// the sweep; unprocessed ids are recorded as failed with the context's
// error so the summary stays complete.
func Run(ctx context.Context, ids []uuid.UUID, fn func(ctx context.Context, id uuid.UUID) error) Result {
	var res Result
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			for _, rest := range ids[i:] {
				res.Failed = append(res.Failed, Failure{ID: rest, Reason: err.Error()})
			}
			return res
		}
		if err := fn(ctx, id); err != nil {
			res.Failed = append(res.Failed, Failure{ID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}
