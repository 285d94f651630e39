package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"triarb/pkg/types"
)

// ErrOrderNotFound is returned when no order exists for a client order id.
var ErrOrderNotFound = errors.New("order not found")

// Orders reads and writes the orders table.
type Orders struct {
	db *sql.DB
}

// NewOrders creates the orders repository.
func NewOrders(db *sql.DB) *Orders {
	return &Orders{db: db}
}

// Put upserts the order. The first write owns created_at_ms, arbitrage_hash8,
// symbol, side and exchange; later writes (typically rebuilt from execution
// reports) refresh the mutable state without zeroing fields they don't carry.
func (r *Orders) Put(ctx context.Context, o *types.Order) error {
	query := `
		INSERT INTO orders (client_order_id, order_id, symbol, side, quantity, price, status, exchange,
			arbitrage_hash8, comment, created_at_ms, updated_at_ms, fired_at_ms, transact_time_ms, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (client_order_id) DO UPDATE SET
			order_id         = CASE WHEN EXCLUDED.order_id <> 0 THEN EXCLUDED.order_id ELSE orders.order_id END,
			quantity         = EXCLUDED.quantity,
			price            = EXCLUDED.price,
			status           = EXCLUDED.status,
			comment          = CASE WHEN EXCLUDED.comment <> '' THEN EXCLUDED.comment ELSE orders.comment END,
			updated_at_ms    = EXCLUDED.updated_at_ms,
			fired_at_ms      = CASE WHEN EXCLUDED.fired_at_ms <> 0 THEN EXCLUDED.fired_at_ms ELSE orders.fired_at_ms END,
			transact_time_ms = CASE WHEN EXCLUDED.transact_time_ms <> 0 THEN EXCLUDED.transact_time_ms ELSE orders.transact_time_ms END,
			raw              = COALESCE(EXCLUDED.raw, orders.raw)`

	updatedAtMs := o.UpdatedAtMs
	if updatedAtMs == 0 {
		updatedAtMs = time.Now().UnixMilli()
	}

	_, err := r.db.ExecContext(ctx, query,
		o.ClientOrderID,
		o.OrderID,
		o.Symbol,
		string(o.Side),
		o.Quantity,
		o.Price,
		string(o.Status),
		o.Exchange,
		o.ArbitrageHash8,
		o.Comment,
		o.CreatedAtMs,
		updatedAtMs,
		o.FiredAtMs,
		o.TransactTimeMs,
		nullableRaw(o.Raw),
	)
	return err
}

// Get returns the order stored for a client order id.
func (r *Orders) Get(ctx context.Context, clientOrderID string) (*types.Order, error) {
	query := `
		SELECT client_order_id, order_id, symbol, side, quantity, price, status, exchange,
			arbitrage_hash8, comment, created_at_ms, updated_at_ms, fired_at_ms, transact_time_ms, raw
		FROM orders
		WHERE client_order_id = $1`

	o := &types.Order{}
	var side, status string
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, clientOrderID).Scan(
		&o.ClientOrderID,
		&o.OrderID,
		&o.Symbol,
		&side,
		&o.Quantity,
		&o.Price,
		&status,
		&o.Exchange,
		&o.ArbitrageHash8,
		&o.Comment,
		&o.CreatedAtMs,
		&o.UpdatedAtMs,
		&o.FiredAtMs,
		&o.TransactTimeMs,
		&raw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	o.Side = types.Side(side)
	o.Status = types.OrderStatus(status)
	if len(raw) > 0 {
		o.Raw = raw
	}
	return o, nil
}

// nullableRaw maps an empty payload to SQL NULL so COALESCE on upsert keeps
// the previous one.
func nullableRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
