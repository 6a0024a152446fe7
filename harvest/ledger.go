/*
ledger.go - Ledger service: construction, collections, pickers and reads

PURPOSE:
  Ledger is the entry point for every harvest operation. It holds its
  collaborators explicitly (store, config, logger, observer, clock, id
  source); there is no package-level state.

OPERATIONS BY FILE:
  ledger.go:     CreateCollection, AddPicker, read APIs
  weigh.go:      RecordWeighEntry, RecomputePicker, RecomputeCollection, Recompute
  wallet.go:     TopUpHarvestWallet, ApplyCashPayment, PayPickersBatch, PayPicker
  cashpool.go:   RegisterHarvestCash, payout mirror
  settlement.go: SetBuyerPriceAndMaybeClose, RefreshCollectionStatus

EXAMPLE:
  ledger := harvest.NewLedger(store, harvest.Config{SaleCrops: []string{"french_beans"}}, logger)

  c, err := ledger.CreateCollection(ctx, harvest.NewCollection{...})
  p, err := ledger.AddPicker(ctx, harvest.NewPicker{CollectionID: c.ID, PickerNumber: 1})
  _, err = ledger.RecordWeighEntry(ctx, p.ID, c.ID, decimal.NewFromInt(12), 1)
*/
package harvest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config carries ledger-wide business settings.
type Config struct {
	// SaleCrops lists crop types whose first closure emits a harvest and a
	// sale record into the sales ledger.
	SaleCrops []string
}

func (c Config) emitsSale(cropType string) bool {
	for _, crop := range c.SaleCrops {
		if strings.EqualFold(crop, cropType) {
			return true
		}
	}
	return false
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store    TxStore
	Config   Config
	Logger   *zap.Logger
	Observer Observer

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

func NewLedger(store TxStore, cfg Config, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		Store:    store,
		Config:   cfg,
		Logger:   logger,
		Observer: NopObserver{},
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    func() string { return uuid.NewString() },
	}
}

// =============================================================================
// COLLECTIONS & PICKERS
// =============================================================================

type NewCollection struct {
	Scope            Scope
	Name             string
	HarvestDate      time.Time
	PricePerKgPicker decimal.Decimal
	By               Actor
}

// CreateCollection opens a picking day in the collecting state.
func (l *Ledger) CreateCollection(ctx context.Context, in NewCollection) (*Collection, error) {
	if err := in.Scope.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}
	if !in.PricePerKgPicker.IsPositive() {
		return nil, &ValidationError{Field: "price_per_kg_picker", Message: "must be positive"}
	}
	harvestDate := in.HarvestDate
	now := l.Now()
	if harvestDate.IsZero() {
		harvestDate = now
	}

	c := Collection{
		ID:               CollectionID(l.NewID()),
		CompanyID:        in.Scope.CompanyID,
		ProjectID:        in.Scope.ProjectID,
		CropType:         in.Scope.CropType,
		Name:             in.Name,
		HarvestDate:      harvestDate,
		PricePerKgPicker: in.PricePerKgPicker,
		TotalHarvestKg:   decimal.Zero,
		TotalPickerCost:  decimal.Zero,
		TotalRevenue:     decimal.Zero,
		Profit:           decimal.Zero,
		Status:           StatusCollecting,
		CreatedBy:        in.By.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.Store.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	l.Logger.Info("collection opened",
		zap.String("collection_id", string(c.ID)),
		zap.String("wallet_id", string(in.Scope.WalletID())),
		zap.String("price_per_kg_picker", c.PricePerKgPicker.String()),
	)
	return &c, nil
}

type NewPicker struct {
	CollectionID CollectionID
	PickerNumber int
	PickerName   string
}

// AddPicker registers a picker on an open collection.
func (l *Ledger) AddPicker(ctx context.Context, in NewPicker) (*Picker, error) {
	if in.CollectionID == "" {
		return nil, &ValidationError{Field: "collection_id", Message: "is required"}
	}
	if in.PickerNumber <= 0 {
		return nil, &ValidationError{Field: "picker_number", Message: "must be positive"}
	}
	c, err := l.Store.GetCollection(ctx, in.CollectionID)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusClosed {
		return nil, ErrCollectionClosed
	}

	p := Picker{
		ID:           PickerID(l.NewID()),
		CompanyID:    c.CompanyID,
		CollectionID: c.ID,
		PickerNumber: in.PickerNumber,
		PickerName:   in.PickerName,
		TotalKg:      decimal.Zero,
		TotalPay:     decimal.Zero,
		CreatedAt:    l.Now(),
	}
	if err := l.Store.CreatePicker(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// READ APIS
// =============================================================================

func (l *Ledger) Collection(ctx context.Context, id CollectionID) (*Collection, error) {
	return l.Store.GetCollection(ctx, id)
}

func (l *Ledger) ListCollections(ctx context.Context, scope Scope) ([]Collection, error) {
	return l.Store.ListCollections(ctx, scope)
}

func (l *Ledger) Picker(ctx context.Context, id PickerID) (*Picker, error) {
	return l.Store.GetPicker(ctx, id)
}

func (l *Ledger) ListPickers(ctx context.Context, collectionID CollectionID) ([]Picker, error) {
	return l.Store.ListPickers(ctx, collectionID)
}

func (l *Ledger) ListWeighEntries(ctx context.Context, pickerID PickerID) ([]WeighEntry, error) {
	return l.Store.ListWeighEntries(ctx, pickerID)
}

func (l *Ledger) ListPaymentBatches(ctx context.Context, collectionID CollectionID) ([]PaymentBatch, error) {
	return l.Store.ListPaymentBatches(ctx, collectionID)
}

// CashPool returns the collection's cash pool, or nil if cash was never registered.
func (l *Ledger) CashPool(ctx context.Context, collectionID CollectionID) (*CashPool, error) {
	return l.Store.GetCashPool(ctx, collectionID)
}

// Wallet returns the scope's wallet, or WalletNotFoundError.
func (l *Ledger) Wallet(ctx context.Context, scope Scope) (*Wallet, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	w, err := l.Store.GetWallet(ctx, scope.WalletID())
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &WalletNotFoundError{WalletID: scope.WalletID()}
	}
	return w, nil
}

func (l *Ledger) WalletUsage(ctx context.Context, scope Scope) ([]UsageRecord, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	return l.Store.ListUsage(ctx, scope.WalletID())
}

// ListSales returns emitted sale records, or nil if the store has no sales ledger.
func (l *Ledger) ListSales(ctx context.Context, scope Scope) ([]SaleRecord, error) {
	sales, ok := l.Store.(SalesStore)
	if !ok {
		return nil, nil
	}
	return sales.ListSales(ctx, scope)
}

// collectionInScope loads a collection and checks it belongs to scope.
func collectionInScope(ctx context.Context, s Store, id CollectionID, scope Scope) (*Collection, error) {
	c, err := s.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Scope() != scope {
		return nil, &ValidationError{Field: "collection_id", Message: "does not belong to " + string(scope.WalletID())}
	}
	return c, nil
}
