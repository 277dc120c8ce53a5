package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/platewise/boardsync/internal/enum"
	"github.com/platewise/boardsync/internal/model"
	"github.com/platewise/boardsync/internal/status"
)

const orderColumns = `id, restaurant_id, order_number, table_number, customer_name,
	notes, status, total_amount, currency, created_at, updated_at`

// Store runs the gateway's order queries against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	err := row.Scan(
		&o.ID, &o.RestaurantID, &o.OrderNumber, &o.TableNumber, &o.CustomerName,
		&o.Notes, &o.Status, &o.TotalAmount, &o.Currency, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

// ListActiveOrders returns a restaurant's non-terminal orders, oldest first.
func (s *Store) ListActiveOrders(ctx context.Context, restaurantID uuid.UUID) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE restaurant_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC`,
		restaurantID, status.ActiveStatuses(),
	)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetOrder fetches one order scoped to a restaurant.
func (s *Store) GetOrder(ctx context.Context, restaurantID, orderID uuid.UUID) (model.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND restaurant_id = $2`,
		orderID, restaurantID,
	)
	return scanOrder(row)
}

// UpdateOrderStatus moves an order to next with a compare-and-set on the
// status the caller saw. pgx.ErrNoRows means the row changed between the
// caller's read and this write.
func (s *Store) UpdateOrderStatus(ctx context.Context, restaurantID, orderID uuid.UUID, current, next string) (model.Order, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = $4, updated_at = now()
		WHERE id = $1 AND restaurant_id = $2 AND status = $3
		RETURNING `+orderColumns,
		orderID, restaurantID, current, next,
	)
	return scanOrder(row)
}

// CancelOrder cancels an order unless it already reached a terminal
// status. The precondition is enforced atomically in the query;
// pgx.ErrNoRows means the order is missing or already terminal.
func (s *Store) CancelOrder(ctx context.Context, restaurantID, orderID uuid.UUID) (model.Order, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = $3, updated_at = now()
		WHERE id = $1 AND restaurant_id = $2
			AND status NOT IN ($4, $5)
		RETURNING `+orderColumns,
		orderID, restaurantID, enum.OrderStatusCancelled,
		enum.OrderStatusCompleted, enum.OrderStatusCancelled,
	)
	return scanOrder(row)
}
