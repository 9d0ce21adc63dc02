// Package dbtest opens throwaway sqlite databases carrying the escrow schema for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS platform_wallets (
  id INTEGER PRIMARY KEY,
  escrow_balance TEXT NOT NULL DEFAULT '0',
  commission_balance TEXT NOT NULL DEFAULT '0',
  total_received TEXT NOT NULL DEFAULT '0',
  total_transferred TEXT NOT NULL DEFAULT '0',
  total_commissions TEXT NOT NULL DEFAULT '0',
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  balance TEXT NOT NULL DEFAULT '0',
  pending_balance TEXT NOT NULL DEFAULT '0',
  total_earned TEXT NOT NULL DEFAULT '0',
  total_withdrawn TEXT NOT NULL DEFAULT '0',
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  wallet_id TEXT,
  type TEXT NOT NULL,
  status TEXT NOT NULL,
  amount TEXT NOT NULL,
  hold_ref TEXT,
  transfer_ref TEXT,
  refund_ref TEXT,
  campaign_id TEXT,
  session_id TEXT,
  ugc_id TEXT,
  description TEXT NOT NULL DEFAULT '',
  metadata TEXT,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS campaigns (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  title TEXT NOT NULL,
  status TEXT NOT NULL,
  total_slots INTEGER NOT NULL,
  offer_expected_price TEXT NOT NULL DEFAULT '0',
  offer_shipping_cost TEXT NOT NULL DEFAULT '0',
  offer_bonus TEXT NOT NULL DEFAULT '0',
  offer_quantity INTEGER NOT NULL DEFAULT 1,
  escrow_amount TEXT NOT NULL DEFAULT '0',
  per_tester_cost TEXT NOT NULL DEFAULT '0',
  hold_ref TEXT,
  charge_ref TEXT,
  payment_authorized_at DATETIME,
  payment_captured_at DATETIME,
  activation_grace_period_ends_at DATETIME,
  cancelled_at DATETIME,
  cancellation_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS test_sessions (
  id TEXT PRIMARY KEY,
  campaign_id TEXT NOT NULL,
  tester_id TEXT NOT NULL,
  status TEXT NOT NULL,
  product_price TEXT,
  shipping_cost TEXT,
  completed_at DATETIME,
  reward_paid_at DATETIME,
  reward_transaction_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS ugc_requests (
  id TEXT PRIMARY KEY,
  campaign_id TEXT NOT NULL,
  session_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  tester_id TEXT NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  is_paid INTEGER NOT NULL DEFAULT 0,
  requested_bonus TEXT NOT NULL DEFAULT '0',
  commission TEXT NOT NULL DEFAULT '0',
  paid_bonus TEXT,
  hold_ref TEXT,
  charge_ref TEXT,
  hold_captured_at DATETIME,
  content_url TEXT,
  media_id TEXT,
  rejection_count INTEGER NOT NULL DEFAULT 0,
  rejection_reason TEXT,
  dispute_reason TEXT,
  disputed_by TEXT,
  resolution TEXT,
  resolution_notes TEXT,
  resolved_by TEXT,
  resolved_at DATETIME,
  submitted_at DATETIME,
  validated_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS payout_accounts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  account_ref TEXT NOT NULL UNIQUE,
  payouts_enabled INTEGER NOT NULL DEFAULT 0,
  charges_enabled INTEGER NOT NULL DEFAULT 0,
  details_complete INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS processed_webhook_events (
  event_id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  processed_at DATETIME NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  next_attempt_at DATETIME,
  last_error TEXT
);`, `
CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns an isolated in-memory database with every escrow table created.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}
