// Package feed implements the typed change-feed client: a stream of
// insert/update/delete notifications for orders, order items and payments,
// multiplexed over one WebSocket connection.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/platewise/boardsync/internal/enum"
	"github.com/platewise/boardsync/internal/model"
)

var ErrMissingRecord = errors.New("event carries no record for its type")

// Change is a single change notification. New is absent on DELETE,
// Old is absent on INSERT. Records are kept raw so the channel stays
// agnostic of which table the subscriber cares about.
type Change struct {
	Type  string          `json:"type"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Validate checks the event shape against its type.
func (c Change) Validate() error {
	switch c.Type {
	case enum.EventInsert, enum.EventUpdate:
		if len(c.New) == 0 {
			return fmt.Errorf("%s on %s: %w", c.Type, c.Table, ErrMissingRecord)
		}
	case enum.EventDelete:
		if len(c.Old) == 0 {
			return fmt.Errorf("%s on %s: %w", c.Type, c.Table, ErrMissingRecord)
		}
	default:
		return fmt.Errorf("unknown event type %q", c.Type)
	}
	return nil
}

// DecodeOrder unmarshals raw into an Order.
func DecodeOrder(raw json.RawMessage) (model.Order, error) {
	var o model.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return model.Order{}, fmt.Errorf("decode order record: %w", err)
	}
	return o, nil
}

// DecodeOrderItem unmarshals raw into an OrderItem.
func DecodeOrderItem(raw json.RawMessage) (model.OrderItem, error) {
	var it model.OrderItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return model.OrderItem{}, fmt.Errorf("decode order item record: %w", err)
	}
	return it, nil
}

// DecodePayment unmarshals raw into a Payment.
func DecodePayment(raw json.RawMessage) (model.Payment, error) {
	var p model.Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Payment{}, fmt.Errorf("decode payment record: %w", err)
	}
	return p, nil
}

// Presence is the lightweight "who is viewing what" record a client sends
// on every (re)connect. Operational visibility only, not part of the event
// semantics.
type Presence struct {
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Viewer       string    `json:"viewer"`
	Page         string    `json:"page"`
}
