/*
store.go - Persistence interfaces for the harvest ledger

PURPOSE:
  Defines the boundary between ledger logic and the backing store.
  Implementations: store/sqlstore (SQLite or Postgres) and harvest/store
  (in-memory, for tests and demos).

KEY INTERFACES:
  Store:      Record-level reads and writes
  TxStore:    Store + WithTx for all-or-nothing read-verify-write cycles
  SalesStore: Optional capability for the surrounding sales ledger

APPEND-ONLY RECORDS:
  WeighEntry and PaymentBatch have Append/Create methods only. There is no
  Update or Delete for them.

NOT-FOUND CONVENTION:
  GetCollection / GetPicker return ErrCollectionNotFound / ErrPickerNotFound.
  GetWallet, GetUsage and GetCashPool return (nil, nil) when absent because
  absence is a normal state for them.

TRANSACTIONS:
  WithTx must serialize against every other WithTx touching the same wallet.
  A store that detects a conflict may rerun fn; fn must therefore only
  touch the Store it is handed.
*/
package harvest

import "context"

// Store handles persistence of ledger records.
type Store interface {
	CreateCollection(ctx context.Context, c Collection) error
	GetCollection(ctx context.Context, id CollectionID) (*Collection, error)
	UpdateCollection(ctx context.Context, c Collection) error
	ListCollections(ctx context.Context, scope Scope) ([]Collection, error)
	// ListOpenCollections returns every collection not yet closed, across scopes.
	ListOpenCollections(ctx context.Context) ([]Collection, error)

	CreatePicker(ctx context.Context, p Picker) error
	GetPicker(ctx context.Context, id PickerID) (*Picker, error)
	UpdatePicker(ctx context.Context, p Picker) error
	// ListPickers returns pickers ordered by picker number.
	ListPickers(ctx context.Context, collectionID CollectionID) ([]Picker, error)

	AppendWeighEntry(ctx context.Context, e WeighEntry) error
	// ListWeighEntries returns a picker's entries in recording order.
	ListWeighEntries(ctx context.Context, pickerID PickerID) ([]WeighEntry, error)

	CreatePaymentBatch(ctx context.Context, b PaymentBatch) error
	ListPaymentBatches(ctx context.Context, collectionID CollectionID) ([]PaymentBatch, error)

	GetCashPool(ctx context.Context, collectionID CollectionID) (*CashPool, error)
	SaveCashPool(ctx context.Context, p CashPool) error

	GetWallet(ctx context.Context, id WalletID) (*Wallet, error)
	SaveWallet(ctx context.Context, w Wallet) error

	GetUsage(ctx context.Context, id UsageID) (*UsageRecord, error)
	SaveUsage(ctx context.Context, u UsageRecord) error
	ListUsage(ctx context.Context, walletID WalletID) ([]UsageRecord, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// SalesStore is the surrounding sales ledger. Settlement writes to it inside
// the closing transaction when the transactional Store implements it.
type SalesStore interface {
	AppendHarvestRecord(ctx context.Context, h HarvestRecord) error
	AppendSale(ctx context.Context, s SaleRecord) error
	ListSales(ctx context.Context, scope Scope) ([]SaleRecord, error)
}
