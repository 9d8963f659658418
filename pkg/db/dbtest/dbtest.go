// Package dbtest opens in-memory sqlite databases carrying the escrow schema
// so repository and service tests can run without Postgres.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// schema mirrors pkg/migrate/migrations with sqlite types. Partial unique
// indexes are kept so reservation and live-return guards behave the same.
var schema = []string{
	`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  title TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'available',
  reserved_by_purchase_id TEXT,
  updated_at DATETIME
);`,
	`CREATE TABLE purchases (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_ref TEXT,
  final_price_cents INTEGER NOT NULL,
  shipping_price_cents INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL,
  delivery_method TEXT,
  ship_name TEXT NOT NULL DEFAULT '',
  ship_street TEXT NOT NULL DEFAULT '',
  ship_city TEXT NOT NULL DEFAULT '',
  ship_postcode TEXT NOT NULL DEFAULT '',
  ship_country TEXT NOT NULL DEFAULT '',
  ship_phone TEXT NOT NULL DEFAULT '',
  version INTEGER NOT NULL DEFAULT 0,
  paid_at DATETIME,
  shipped_at DATETIME,
  delivered_at DATETIME,
  completed_at DATETIME,
  disputed_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_purchases_product_reserving ON purchases (product_id)
  WHERE status IN ('paid', 'shipped', 'delivered', 'disputed');`,
	`CREATE TABLE seller_reputations (
  seller_id TEXT PRIMARY KEY,
  completed_sales INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME
);`,
	`CREATE TABLE shipments (
  id TEXT PRIMARY KEY,
  purchase_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_shipment',
  carrier TEXT,
  tracking_number TEXT,
  tracking_url TEXT,
  price_cents INTEGER NOT NULL DEFAULT 0,
  estimated_days INTEGER,
  estimated_delivery_at DATETIME,
  shipped_at DATETIME,
  in_transit_at DATETIME,
  delivered_at DATETIME,
  confirmed_by TEXT,
  incident_at DATETIME,
  incident_reason TEXT,
  cancelled_at DATETIME,
  buyer_rating INTEGER CHECK (buyer_rating IS NULL OR buyer_rating BETWEEN 1 AND 5),
  buyer_comment TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_shipments_purchase ON shipments (purchase_id);`,
	`CREATE TABLE returns (
  id TEXT PRIMARY KEY,
  purchase_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'requested',
  reason TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  evidence_urls TEXT,
  seller_note TEXT,
  return_carrier TEXT,
  return_tracking TEXT,
  refund_ref TEXT,
  requested_at DATETIME NOT NULL,
  responded_at DATETIME,
  shipped_at DATETIME,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_returns_live_per_purchase ON returns (purchase_id)
  WHERE status IN ('requested', 'accepted', 'return_shipped');`,
	`CREATE TABLE ledger_entries (
  id TEXT PRIMARY KEY,
  purchase_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  gateway_ref TEXT,
  idempotency_key TEXT,
  actor_user_id TEXT,
  metadata BLOB,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_ledger_entries_purchase_kind ON ledger_entries (purchase_id, kind);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME
);`,
	`CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  recipient_id TEXT NOT NULL,
  channel TEXT NOT NULL,
  event_type TEXT NOT NULL,
  purchase_id TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  read_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a fresh database private to t. A single pooled connection keeps
// the in-memory database alive and serializes writers.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
