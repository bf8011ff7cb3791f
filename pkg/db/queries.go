// Package db is the local ops/debug mirror of order post-images, kept
// queryable for operators without standing in for the external
// persistence service.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrUserIDRequired = errors.New("user_id is required")
	ErrNotFound       = errors.New("record not found")
)

// OrderMirrorQueries provides read/upsert access to the orders_mirror table.
type OrderMirrorQueries struct {
	db *sql.DB
}

// NewOrderMirrorQueries creates a new OrderMirrorQueries instance.
func NewOrderMirrorQueries(db *sql.DB) *OrderMirrorQueries {
	return &OrderMirrorQueries{db: db}
}

// Queries returns an OrderMirrorQueries bound to this Database's handle.
func (d *Database) Queries() *OrderMirrorQueries {
	return NewOrderMirrorQueries(d.DB)
}

// Upsert writes the canonical post-image, replacing any prior mirror row
// for the same order_id (post-images are always applied in full, never
// diffed — the mirror is a point-in-time snapshot, not an audit log).
func (q *OrderMirrorQueries) Upsert(ctx context.Context, o OrderMirror) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders_mirror (
			order_id, user_type, user_id, symbol, side, quantity, entry_price,
			margin_usd, commission_entry, commission_exit, status, close_price,
			realized_pnl_usd, close_reason, created_ts, closed_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			quantity=excluded.quantity, entry_price=excluded.entry_price,
			margin_usd=excluded.margin_usd, commission_entry=excluded.commission_entry,
			commission_exit=excluded.commission_exit, status=excluded.status,
			close_price=excluded.close_price, realized_pnl_usd=excluded.realized_pnl_usd,
			close_reason=excluded.close_reason,
			closed_ts=excluded.closed_ts, mirrored_at=CURRENT_TIMESTAMP
	`, o.OrderID, o.UserType, o.UserID, o.Symbol, o.Side, o.Quantity, o.EntryPrice,
		o.MarginUSD, o.CommissionEntry, o.CommissionExit, o.Status, o.ClosePrice,
		o.RealizedPnLUSD, o.CloseReason, o.CreatedTS, o.ClosedTS)
	if err != nil {
		return fmt.Errorf("upsert order mirror: %w", err)
	}
	return nil
}

// GetByUser returns the mirrored orders for one account, most recent first.
func (q *OrderMirrorQueries) GetByUser(ctx context.Context, userType, userID string, limit int) ([]OrderMirror, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT order_id, user_type, user_id, symbol, side, quantity, entry_price,
		       margin_usd, commission_entry, commission_exit, status,
		       COALESCE(close_price, ''), COALESCE(realized_pnl_usd, ''), COALESCE(close_reason, ''),
		       created_ts, closed_ts, mirrored_at
		FROM orders_mirror
		WHERE user_type = ? AND user_id = ?
		ORDER BY created_ts DESC
		LIMIT ?
	`, userType, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders by user: %w", err)
	}
	defer rows.Close()

	var out []OrderMirror
	for rows.Next() {
		var o OrderMirror
		if err := rows.Scan(&o.OrderID, &o.UserType, &o.UserID, &o.Symbol, &o.Side,
			&o.Quantity, &o.EntryPrice, &o.MarginUSD, &o.CommissionEntry, &o.CommissionExit,
			&o.Status, &o.ClosePrice, &o.RealizedPnLUSD, &o.CloseReason, &o.CreatedTS, &o.ClosedTS, &o.MirroredAt); err != nil {
			return nil, fmt.Errorf("scan order mirror: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetByStatus returns mirrored orders in a given status, for operator
// dashboards watching DLQ/QUEUED backlog.
func (q *OrderMirrorQueries) GetByStatus(ctx context.Context, status string, limit int) ([]OrderMirror, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT order_id, user_type, user_id, symbol, side, quantity, entry_price,
		       margin_usd, commission_entry, commission_exit, status,
		       COALESCE(close_price, ''), COALESCE(realized_pnl_usd, ''), COALESCE(close_reason, ''),
		       created_ts, closed_ts, mirrored_at
		FROM orders_mirror
		WHERE status = ?
		ORDER BY created_ts DESC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders by status: %w", err)
	}
	defer rows.Close()

	var out []OrderMirror
	for rows.Next() {
		var o OrderMirror
		if err := rows.Scan(&o.OrderID, &o.UserType, &o.UserID, &o.Symbol, &o.Side,
			&o.Quantity, &o.EntryPrice, &o.MarginUSD, &o.CommissionEntry, &o.CommissionExit,
			&o.Status, &o.ClosePrice, &o.RealizedPnLUSD, &o.CloseReason, &o.CreatedTS, &o.ClosedTS, &o.MirroredAt); err != nil {
			return nil, fmt.Errorf("scan order mirror: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
