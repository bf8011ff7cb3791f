package db

// schema is the local ops/debug mirror's layout. This database is never
// the system of record — that role belongs to the external persistence
// service reached over order_db_update_queue (spec.md §1); this table
// only makes the canonical post-image locally queryable for operators.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders_mirror (
    order_id TEXT PRIMARY KEY,
    user_type TEXT NOT NULL,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity TEXT NOT NULL,
    entry_price TEXT NOT NULL,
    margin_usd TEXT NOT NULL,
    commission_entry TEXT NOT NULL,
    commission_exit TEXT NOT NULL,
    status TEXT NOT NULL,
    close_price TEXT,
    realized_pnl_usd TEXT,
    close_reason TEXT,
    created_ts INTEGER,
    closed_ts INTEGER,
    mirrored_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_mirror_user ON orders_mirror(user_type, user_id);
CREATE INDEX IF NOT EXISTS idx_orders_mirror_status ON orders_mirror(status);
`
