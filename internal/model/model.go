// Package model holds the shared order domain types. The authoritative copy
// of every record lives in the persistence layer; clients hold cached,
// possibly stale, copies keyed by id.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is a single customer order scoped to one restaurant.
type Order struct {
	ID           uuid.UUID       `json:"id"`
	RestaurantID uuid.UUID       `json:"restaurant_id"`
	OrderNumber  string          `json:"order_number"`
	TableNumber  *string         `json:"table_number"`
	CustomerName *string         `json:"customer_name"`
	Status       string          `json:"status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`
	Notes        *string         `json:"notes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OrderItem belongs to exactly one order. Immutable once created except
// through explicit update events.
type OrderItem struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	MenuItemID uuid.UUID       `json:"menu_item_id"`
	Quantity   int32           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Modifiers  []string        `json:"modifiers"`
	Notes      *string         `json:"notes"`
}

// Payment belongs to exactly one order.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	ProviderRef   *string         `json:"provider_ref"`
	ProcessedAt   time.Time       `json:"processed_at"`
}
