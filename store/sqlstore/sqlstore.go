/*
Package sqlstore provides a SQL-backed harvest.TxStore for SQLite and PostgreSQL.

PURPOSE:
  Persists the harvest ledger through sqlx. The same queries run on both
  engines; placeholders are written as ? and rebound per driver.

DRIVERS:
  sqlite3  mattn/go-sqlite3, single connection, WithTx serialized by a mutex
  pgx      jackc/pgx/v5 stdlib, WithTx at SERIALIZABLE, retried on 40001

CONCURRENCY:
  A payout is one read-verify-write of the wallet row. On SQLite every WithTx
  holds the store mutex and the only connection, so transactions never
  interleave. On PostgreSQL two payouts against the same wallet conflict at
  SERIALIZABLE; the loser gets SQLSTATE 40001 and fn is rerun against fresh
  state. After maxRetries the call fails with harvest.ErrConcurrentModification.

KEY TABLES:
  collections, pickers       mutable, derived totals recomputed by the ledger
  weigh_entries              append-only
  payment_batches            append-only, picker ids as JSON
  cash_pools, wallets, wallet_usage   upserted
  harvest_records, sales     emitted on settlement

MONEY AND WEIGHTS:
  Stored as TEXT on SQLite and NUMERIC on PostgreSQL; scanned back into
  decimal.Decimal so nothing passes through float64.

MIGRATION:
  Schema is auto-migrated on open.

SEE ALSO:
  - harvest/store.go: Interface definitions
  - harvest/store/memory.go: In-memory implementation for tests
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/harvest-ledger/harvest"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	maxRetries = 5
)

// Store implements harvest.TxStore and harvest.SalesStore.
type Store struct {
	queries
	db     *sqlx.DB
	driver string

	// mu serializes SQLite transactions.
	mu sync.Mutex
}

// Open connects with the given driver and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// NewSQLite opens a SQLite database. Use ":memory:" for tests.
func NewSQLite(path string) (*Store, error) {
	db, err := sqlx.Open(DriverSQLite, path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps a :memory: database alive and makes SQLite's
	// single writer explicit.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return newStore(db, DriverSQLite)
}

// NewPostgres opens a PostgreSQL database through the pgx stdlib driver.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newStore(db, DriverPostgres)
}

func newStore(db *sqlx.DB, driver string) (*Store, error) {
	s := &Store{queries: queries{q: db}, db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// SCHEMA
// =============================================================================

func (s *Store) migrate(ctx context.Context) error {
	num, ts := "TEXT", "TIMESTAMP"
	if s.driver == DriverPostgres {
		num, ts = "NUMERIC", "TIMESTAMPTZ"
	}
	schema := strings.NewReplacer("{num}", num, "{ts}", ts).Replace(schemaTemplate)
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS collections (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	crop_type TEXT NOT NULL,
	name TEXT NOT NULL,
	harvest_date {ts} NOT NULL,
	price_per_kg_picker {num} NOT NULL,
	price_per_kg_buyer {num},
	total_harvest_kg {num} NOT NULL,
	total_picker_cost {num} NOT NULL,
	total_revenue {num} NOT NULL,
	profit {num} NOT NULL,
	status TEXT NOT NULL,
	pickers_paid BOOLEAN NOT NULL DEFAULT FALSE,
	buyer_paid_at {ts},
	created_by TEXT NOT NULL,
	created_at {ts} NOT NULL,
	updated_at {ts} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_collections_scope
	ON collections(company_id, project_id, crop_type);

CREATE TABLE IF NOT EXISTS pickers (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	collection_id TEXT NOT NULL REFERENCES collections(id),
	picker_number INTEGER NOT NULL,
	picker_name TEXT NOT NULL,
	total_kg {num} NOT NULL,
	total_pay {num} NOT NULL,
	is_paid BOOLEAN NOT NULL DEFAULT FALSE,
	paid_at {ts},
	payment_batch_id TEXT,
	created_at {ts} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pickers_collection
	ON pickers(collection_id, picker_number);

CREATE TABLE IF NOT EXISTS weigh_entries (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	picker_id TEXT NOT NULL REFERENCES pickers(id),
	collection_id TEXT NOT NULL,
	weight_kg {num} NOT NULL,
	trip_number INTEGER NOT NULL,
	recorded_at {ts} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_weigh_entries_picker
	ON weigh_entries(picker_id, recorded_at);

CREATE TABLE IF NOT EXISTS payment_batches (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	picker_ids_json TEXT NOT NULL,
	total_amount {num} NOT NULL,
	paid_at {ts} NOT NULL,
	paid_by TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payment_batches_collection
	ON payment_batches(collection_id, paid_at);

CREATE TABLE IF NOT EXISTS cash_pools (
	collection_id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	crop_type TEXT NOT NULL,
	cash_received {num} NOT NULL,
	total_paid_out {num} NOT NULL,
	remaining_balance {num} NOT NULL,
	source TEXT NOT NULL,
	received_at {ts} NOT NULL,
	received_by TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS wallets (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	crop_type TEXT NOT NULL,
	cash_received_total {num} NOT NULL,
	cash_paid_out_total {num} NOT NULL,
	current_balance {num} NOT NULL,
	last_updated_at {ts} NOT NULL
);

CREATE TABLE IF NOT EXISTS wallet_usage (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	crop_type TEXT NOT NULL,
	wallet_id TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	total_deducted {num} NOT NULL,
	last_updated_at {ts} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wallet_usage_wallet
	ON wallet_usage(wallet_id);

CREATE TABLE IF NOT EXISTS harvest_records (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	crop_type TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	quantity {num} NOT NULL,
	unit TEXT NOT NULL,
	date {ts} NOT NULL,
	created_at {ts} NOT NULL
);

CREATE TABLE IF NOT EXISTS sales (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	crop_type TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	harvest_id TEXT NOT NULL,
	quantity {num} NOT NULL,
	unit TEXT NOT NULL,
	unit_price {num} NOT NULL,
	total_amount {num} NOT NULL,
	status TEXT NOT NULL,
	date {ts} NOT NULL,
	created_at {ts} NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_collection
	ON sales(collection_id)
`

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"sales", "harvest_records", "wallet_usage", "wallets", "cash_pools",
		"payment_batches", "weigh_entries", "pickers", "collections"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS (harvest.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. On PostgreSQL fn is rerun
// when the transaction loses a serialization conflict.
func (s *Store) WithTx(ctx context.Context, fn func(harvest.Store) error) error {
	if s.driver == DriverSQLite {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.runTx(ctx, nil, fn)
	}

	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.runTx(ctx, opts, fn)
		if !isSerializationFailure(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", harvest.ErrConcurrentModification, err)
}

func (s *Store) runTx(ctx context.Context, opts *sql.TxOptions, fn func(harvest.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// =============================================================================
// QUERIES - shared by the store and its transactions
// =============================================================================

// queries runs every statement against either the pool or an open transaction.
type queries struct {
	q sqlx.ExtContext
}

func (r *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.q.Rebind(query), args...)
}

func (r *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r *queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r *queries) named(ctx context.Context, query string, arg any) error {
	_, err := sqlx.NamedExecContext(ctx, r.q, query, arg)
	return err
}

// ---- collections ----

const collectionCols = `id, company_id, project_id, crop_type, name, harvest_date,
	price_per_kg_picker, price_per_kg_buyer, total_harvest_kg, total_picker_cost,
	total_revenue, profit, status, pickers_paid, buyer_paid_at, created_by,
	created_at, updated_at`

func (r *queries) CreateCollection(ctx context.Context, c harvest.Collection) error {
	err := r.named(ctx, `INSERT INTO collections (`+collectionCols+`) VALUES (
		:id, :company_id, :project_id, :crop_type, :name, :harvest_date,
		:price_per_kg_picker, :price_per_kg_buyer, :total_harvest_kg, :total_picker_cost,
		:total_revenue, :profit, :status, :pickers_paid, :buyer_paid_at, :created_by,
		:created_at, :updated_at)`, c)
	if err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}
	return nil
}

func (r *queries) GetCollection(ctx context.Context, id harvest.CollectionID) (*harvest.Collection, error) {
	var c harvest.Collection
	err := r.get(ctx, &c, `SELECT `+collectionCols+` FROM collections WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, harvest.ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", id, err)
	}
	return &c, nil
}

func (r *queries) UpdateCollection(ctx context.Context, c harvest.Collection) error {
	res, err := sqlx.NamedExecContext(ctx, r.q, `UPDATE collections SET
		name = :name, price_per_kg_picker = :price_per_kg_picker,
		price_per_kg_buyer = :price_per_kg_buyer, total_harvest_kg = :total_harvest_kg,
		total_picker_cost = :total_picker_cost, total_revenue = :total_revenue,
		profit = :profit, status = :status, pickers_paid = :pickers_paid,
		buyer_paid_at = :buyer_paid_at, updated_at = :updated_at
		WHERE id = :id`, c)
	if err != nil {
		return fmt.Errorf("failed to update collection %s: %w", c.ID, err)
	}
	return requireRow(res, harvest.ErrCollectionNotFound)
}

func (r *queries) ListCollections(ctx context.Context, scope harvest.Scope) ([]harvest.Collection, error) {
	var out []harvest.Collection
	err := r.selectAll(ctx, &out, `SELECT `+collectionCols+` FROM collections
		WHERE company_id = ? AND project_id = ? AND crop_type = ?
		ORDER BY created_at, id`, scope.CompanyID, scope.ProjectID, scope.CropType)
	return out, err
}

func (r *queries) ListOpenCollections(ctx context.Context) ([]harvest.Collection, error) {
	var out []harvest.Collection
	err := r.selectAll(ctx, &out, `SELECT `+collectionCols+` FROM collections
		WHERE status <> ? ORDER BY created_at, id`, string(harvest.StatusClosed))
	return out, err
}

// ---- pickers ----

const pickerCols = `id, company_id, collection_id, picker_number, picker_name,
	total_kg, total_pay, is_paid, paid_at, payment_batch_id, created_at`

func (r *queries) CreatePicker(ctx context.Context, p harvest.Picker) error {
	err := r.named(ctx, `INSERT INTO pickers (`+pickerCols+`) VALUES (
		:id, :company_id, :collection_id, :picker_number, :picker_name,
		:total_kg, :total_pay, :is_paid, :paid_at, :payment_batch_id, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("failed to insert picker: %w", err)
	}
	return nil
}

func (r *queries) GetPicker(ctx context.Context, id harvest.PickerID) (*harvest.Picker, error) {
	var p harvest.Picker
	err := r.get(ctx, &p, `SELECT `+pickerCols+` FROM pickers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, harvest.ErrPickerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load picker %s: %w", id, err)
	}
	return &p, nil
}

func (r *queries) UpdatePicker(ctx context.Context, p harvest.Picker) error {
	res, err := sqlx.NamedExecContext(ctx, r.q, `UPDATE pickers SET
		picker_name = :picker_name, total_kg = :total_kg, total_pay = :total_pay,
		is_paid = :is_paid, paid_at = :paid_at, payment_batch_id = :payment_batch_id
		WHERE id = :id`, p)
	if err != nil {
		return fmt.Errorf("failed to update picker %s: %w", p.ID, err)
	}
	return requireRow(res, harvest.ErrPickerNotFound)
}

func (r *queries) ListPickers(ctx context.Context, collectionID harvest.CollectionID) ([]harvest.Picker, error) {
	var out []harvest.Picker
	err := r.selectAll(ctx, &out, `SELECT `+pickerCols+` FROM pickers
		WHERE collection_id = ? ORDER BY picker_number, id`, collectionID)
	return out, err
}

// ---- weigh entries (append-only) ----

func (r *queries) AppendWeighEntry(ctx context.Context, e harvest.WeighEntry) error {
	err := r.named(ctx, `INSERT INTO weigh_entries
		(id, company_id, picker_id, collection_id, weight_kg, trip_number, recorded_at)
		VALUES (:id, :company_id, :picker_id, :collection_id, :weight_kg, :trip_number, :recorded_at)`, e)
	if err != nil {
		return fmt.Errorf("failed to append weigh entry: %w", err)
	}
	return nil
}

func (r *queries) ListWeighEntries(ctx context.Context, pickerID harvest.PickerID) ([]harvest.WeighEntry, error) {
	var out []harvest.WeighEntry
	err := r.selectAll(ctx, &out, `SELECT id, company_id, picker_id, collection_id,
		weight_kg, trip_number, recorded_at
		FROM weigh_entries WHERE picker_id = ? ORDER BY recorded_at, id`, pickerID)
	return out, err
}

// ---- payment batches (append-only) ----

type batchRow struct {
	ID            harvest.PaymentBatchID `db:"id"`
	CompanyID     string                 `db:"company_id"`
	CollectionID  harvest.CollectionID   `db:"collection_id"`
	PickerIDsJSON string                 `db:"picker_ids_json"`
	TotalAmount   decimal.Decimal        `db:"total_amount"`
	PaidAt        time.Time              `db:"paid_at"`
	PaidBy        string                 `db:"paid_by"`
}

func (r *queries) CreatePaymentBatch(ctx context.Context, b harvest.PaymentBatch) error {
	ids, err := json.Marshal(b.PickerIDs)
	if err != nil {
		return err
	}
	row := batchRow{
		ID:            b.ID,
		CompanyID:     b.CompanyID,
		CollectionID:  b.CollectionID,
		PickerIDsJSON: string(ids),
		TotalAmount:   b.TotalAmount,
		PaidAt:        b.PaidAt,
		PaidBy:        b.PaidBy,
	}
	err = r.named(ctx, `INSERT INTO payment_batches
		(id, company_id, collection_id, picker_ids_json, total_amount, paid_at, paid_by)
		VALUES (:id, :company_id, :collection_id, :picker_ids_json, :total_amount, :paid_at, :paid_by)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert payment batch: %w", err)
	}
	return nil
}

func (r *queries) ListPaymentBatches(ctx context.Context, collectionID harvest.CollectionID) ([]harvest.PaymentBatch, error) {
	var rows []batchRow
	err := r.selectAll(ctx, &rows, `SELECT id, company_id, collection_id, picker_ids_json,
		total_amount, paid_at, paid_by
		FROM payment_batches WHERE collection_id = ? ORDER BY paid_at, id`, collectionID)
	if err != nil {
		return nil, err
	}
	out := make([]harvest.PaymentBatch, 0, len(rows))
	for _, row := range rows {
		b := harvest.PaymentBatch{
			ID:           row.ID,
			CompanyID:    row.CompanyID,
			CollectionID: row.CollectionID,
			TotalAmount:  row.TotalAmount,
			PaidAt:       row.PaidAt,
			PaidBy:       row.PaidBy,
		}
		if err := json.Unmarshal([]byte(row.PickerIDsJSON), &b.PickerIDs); err != nil {
			return nil, fmt.Errorf("corrupt picker ids on batch %s: %w", row.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// ---- cash pools ----

func (r *queries) GetCashPool(ctx context.Context, collectionID harvest.CollectionID) (*harvest.CashPool, error) {
	var p harvest.CashPool
	err := r.get(ctx, &p, `SELECT collection_id, company_id, project_id, crop_type,
		cash_received, total_paid_out, remaining_balance, source, received_at, received_by
		FROM cash_pools WHERE collection_id = ?`, collectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cash pool %s: %w", collectionID, err)
	}
	return &p, nil
}

func (r *queries) SaveCashPool(ctx context.Context, p harvest.CashPool) error {
	return r.named(ctx, `INSERT INTO cash_pools (collection_id, company_id, project_id, crop_type,
		cash_received, total_paid_out, remaining_balance, source, received_at, received_by)
		VALUES (:collection_id, :company_id, :project_id, :crop_type,
		:cash_received, :total_paid_out, :remaining_balance, :source, :received_at, :received_by)
		ON CONFLICT (collection_id) DO UPDATE SET
		cash_received = excluded.cash_received, total_paid_out = excluded.total_paid_out,
		remaining_balance = excluded.remaining_balance, source = excluded.source,
		received_at = excluded.received_at, received_by = excluded.received_by`, p)
}

// ---- wallets ----

func (r *queries) GetWallet(ctx context.Context, id harvest.WalletID) (*harvest.Wallet, error) {
	var w harvest.Wallet
	err := r.get(ctx, &w, `SELECT id, company_id, project_id, crop_type, cash_received_total,
		cash_paid_out_total, current_balance, last_updated_at
		FROM wallets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet %s: %w", id, err)
	}
	return &w, nil
}

func (r *queries) SaveWallet(ctx context.Context, w harvest.Wallet) error {
	return r.named(ctx, `INSERT INTO wallets (id, company_id, project_id, crop_type,
		cash_received_total, cash_paid_out_total, current_balance, last_updated_at)
		VALUES (:id, :company_id, :project_id, :crop_type,
		:cash_received_total, :cash_paid_out_total, :current_balance, :last_updated_at)
		ON CONFLICT (id) DO UPDATE SET
		cash_received_total = excluded.cash_received_total,
		cash_paid_out_total = excluded.cash_paid_out_total,
		current_balance = excluded.current_balance,
		last_updated_at = excluded.last_updated_at`, w)
}

const usageCols = `id, company_id, project_id, crop_type, wallet_id, collection_id,
	total_deducted, last_updated_at`

func (r *queries) GetUsage(ctx context.Context, id harvest.UsageID) (*harvest.UsageRecord, error) {
	var u harvest.UsageRecord
	err := r.get(ctx, &u, `SELECT `+usageCols+` FROM wallet_usage WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage %s: %w", id, err)
	}
	return &u, nil
}

func (r *queries) SaveUsage(ctx context.Context, u harvest.UsageRecord) error {
	return r.named(ctx, `INSERT INTO wallet_usage (`+usageCols+`)
		VALUES (:id, :company_id, :project_id, :crop_type, :wallet_id, :collection_id,
		:total_deducted, :last_updated_at)
		ON CONFLICT (id) DO UPDATE SET
		total_deducted = excluded.total_deducted,
		last_updated_at = excluded.last_updated_at`, u)
}

func (r *queries) ListUsage(ctx context.Context, walletID harvest.WalletID) ([]harvest.UsageRecord, error) {
	var out []harvest.UsageRecord
	err := r.selectAll(ctx, &out, `SELECT `+usageCols+` FROM wallet_usage
		WHERE wallet_id = ? ORDER BY id`, walletID)
	return out, err
}

// ---- sales ledger (harvest.SalesStore) ----

func (r *queries) AppendHarvestRecord(ctx context.Context, h harvest.HarvestRecord) error {
	return r.named(ctx, `INSERT INTO harvest_records (id, company_id, project_id, crop_type,
		collection_id, quantity, unit, date, created_at)
		VALUES (:id, :company_id, :project_id, :crop_type,
		:collection_id, :quantity, :unit, :date, :created_at)`, h)
}

func (r *queries) AppendSale(ctx context.Context, s harvest.SaleRecord) error {
	return r.named(ctx, `INSERT INTO sales (id, company_id, project_id, crop_type,
		collection_id, harvest_id, quantity, unit, unit_price, total_amount, status, date, created_at)
		VALUES (:id, :company_id, :project_id, :crop_type,
		:collection_id, :harvest_id, :quantity, :unit, :unit_price, :total_amount, :status, :date, :created_at)`, s)
}

func (r *queries) ListSales(ctx context.Context, scope harvest.Scope) ([]harvest.SaleRecord, error) {
	var out []harvest.SaleRecord
	err := r.selectAll(ctx, &out, `SELECT id, company_id, project_id, crop_type,
		collection_id, harvest_id, quantity, unit, unit_price, total_amount, status, date, created_at
		FROM sales WHERE company_id = ? AND project_id = ? AND crop_type = ?
		ORDER BY created_at, id`, scope.CompanyID, scope.ProjectID, scope.CropType)
	return out, err
}

// =============================================================================
// UTILITIES
// =============================================================================

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
