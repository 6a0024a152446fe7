/*
Package harvest provides the harvest collection and cash settlement ledger.

PURPOSE:
  Converts picker weigh-ins into payable amounts, funds those payouts from a
  shared cash wallet, and settles a collection against a buyer price once
  every picker has been paid.

KEY CONCEPTS IN THIS FILE (types.go):
  - Scope:        (company, project, crop) key shared by a wallet and its collections
  - Collection:   One day's picking event, the unit of settlement
  - Picker:       A person whose weight is tracked and paid within a collection
  - WeighEntry:   Append-only weight measurement, the source of all totals
  - Wallet:       Shared cash balance funding payouts for one scope
  - UsageRecord:  How much of a wallet one collection has drawn
  - CashPool:     Per-collection display mirror of cash received/paid/remaining
  - PaymentBatch: Immutable audit record of a grouped payout

DESIGN PRINCIPLES:
  1. Derived totals: picker and collection totals are always recomputed from
     the weigh ledger, never incremented
  2. Precision: money and weights use decimal.Decimal
  3. Type Safety: distinct ID types prevent mixing pickers and collections
  4. Forward-only: collections are never deleted, only transitioned forward

SEE ALSO:
  - weigh.go: Weigh ledger and aggregators
  - wallet.go: Transactional payouts
  - settlement.go: Collection state machine
  - store.go: Persistence interfaces
*/
package harvest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CollectionID string
type PickerID string
type WeighEntryID string
type PaymentBatchID string
type WalletID string
type UsageID string

// Scope identifies the (company, project, crop) a wallet belongs to.
// Every collection of that crop draws on the same wallet.
type Scope struct {
	CompanyID string
	ProjectID string
	CropType  string
}

// WalletID returns the deterministic wallet key for the scope.
func (s Scope) WalletID() WalletID {
	return WalletID(fmt.Sprintf("%s_%s_%s", s.CompanyID, s.ProjectID, s.CropType))
}

// UsageID returns the usage record key for a collection drawing on this scope's wallet.
func (s Scope) UsageID(collectionID CollectionID) UsageID {
	return UsageID(fmt.Sprintf("%s_%s", s.WalletID(), collectionID))
}

func (s Scope) validate() error {
	switch {
	case s.CompanyID == "":
		return &ValidationError{Field: "company_id", Message: "is required"}
	case s.ProjectID == "":
		return &ValidationError{Field: "project_id", Message: "is required"}
	case s.CropType == "":
		return &ValidationError{Field: "crop_type", Message: "is required"}
	}
	return nil
}

// Actor is the authenticated caller performing a mutation.
type Actor struct {
	ID   string
	Name string
}

// System is used when no human actor is attached to a write.
var System = Actor{ID: "system", Name: "System"}

// =============================================================================
// COLLECTION SESSION
// =============================================================================

type CollectionStatus string

const (
	StatusCollecting CollectionStatus = "collecting"
	StatusSold       CollectionStatus = "sold"
	StatusClosed     CollectionStatus = "closed"

	// StatusPayoutComplete is never persisted. It is reported when every
	// picker is paid but the buyer has not closed the collection.
	StatusPayoutComplete CollectionStatus = "payout_complete"
)

type Collection struct {
	ID               CollectionID     `db:"id"`
	CompanyID        string           `db:"company_id"`
	ProjectID        string           `db:"project_id"`
	CropType         string           `db:"crop_type"`
	Name             string           `db:"name"`
	HarvestDate      time.Time        `db:"harvest_date"`
	PricePerKgPicker decimal.Decimal  `db:"price_per_kg_picker"`
	PricePerKgBuyer  *decimal.Decimal `db:"price_per_kg_buyer"`

	// Derived from pickers
	TotalHarvestKg  decimal.Decimal `db:"total_harvest_kg"`
	TotalPickerCost decimal.Decimal `db:"total_picker_cost"`

	// Derived at settlement
	TotalRevenue decimal.Decimal `db:"total_revenue"`
	Profit       decimal.Decimal `db:"profit"`

	Status      CollectionStatus `db:"status"`
	PickersPaid bool             `db:"pickers_paid"`
	BuyerPaidAt *time.Time       `db:"buyer_paid_at"`

	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (c *Collection) Scope() Scope {
	return Scope{CompanyID: c.CompanyID, ProjectID: c.ProjectID, CropType: c.CropType}
}

// DisplayStatus reports payout_complete for open collections whose pickers
// were all paid at the last status refresh.
func (c *Collection) DisplayStatus() CollectionStatus {
	if c.Status != StatusClosed && c.PickersPaid {
		return StatusPayoutComplete
	}
	return c.Status
}

// =============================================================================
// PICKER
// =============================================================================

type Picker struct {
	ID             PickerID        `db:"id"`
	CompanyID      string          `db:"company_id"`
	CollectionID   CollectionID    `db:"collection_id"`
	PickerNumber   int             `db:"picker_number"`
	PickerName     string          `db:"picker_name"`
	TotalKg        decimal.Decimal `db:"total_kg"`
	TotalPay       decimal.Decimal `db:"total_pay"`
	IsPaid         bool            `db:"is_paid"`
	PaidAt         *time.Time      `db:"paid_at"`
	PaymentBatchID *PaymentBatchID `db:"payment_batch_id"`
	CreatedAt      time.Time       `db:"created_at"`
}

// =============================================================================
// WEIGH ENTRY - append-only
// =============================================================================

type WeighEntry struct {
	ID           WeighEntryID    `db:"id"`
	CompanyID    string          `db:"company_id"`
	PickerID     PickerID        `db:"picker_id"`
	CollectionID CollectionID    `db:"collection_id"`
	WeightKg     decimal.Decimal `db:"weight_kg"`
	TripNumber   int             `db:"trip_number"`
	RecordedAt   time.Time       `db:"recorded_at"`
}

// =============================================================================
// PAYMENT BATCH - immutable
// =============================================================================

type PaymentBatch struct {
	ID           PaymentBatchID
	CompanyID    string
	CollectionID CollectionID
	PickerIDs    []PickerID
	TotalAmount  decimal.Decimal
	PaidAt       time.Time
	PaidBy       string
}

// =============================================================================
// CASH POOL - per collection display mirror
// =============================================================================

type CashPool struct {
	CollectionID     CollectionID    `db:"collection_id"`
	CompanyID        string          `db:"company_id"`
	ProjectID        string          `db:"project_id"`
	CropType         string          `db:"crop_type"`
	CashReceived     decimal.Decimal `db:"cash_received"`
	TotalPaidOut     decimal.Decimal `db:"total_paid_out"`
	RemainingBalance decimal.Decimal `db:"remaining_balance"`
	Source           string          `db:"source"`
	ReceivedAt       time.Time       `db:"received_at"`
	ReceivedBy       string          `db:"received_by"`
}

func (p *CashPool) recomputeRemaining() {
	p.RemainingBalance = decimal.Max(decimal.Zero, p.CashReceived.Sub(p.TotalPaidOut))
}

// =============================================================================
// WALLET - shared balance per scope
// =============================================================================

type Wallet struct {
	ID                WalletID        `db:"id"`
	CompanyID         string          `db:"company_id"`
	ProjectID         string          `db:"project_id"`
	CropType          string          `db:"crop_type"`
	CashReceivedTotal decimal.Decimal `db:"cash_received_total"`
	CashPaidOutTotal  decimal.Decimal `db:"cash_paid_out_total"`
	CurrentBalance    decimal.Decimal `db:"current_balance"`
	LastUpdatedAt     time.Time       `db:"last_updated_at"`
}

// Revision orders versions of one wallet. Both totals only grow, by a
// positive amount on every commit, so a later commit has a larger sum.
func (w Wallet) Revision() decimal.Decimal {
	return w.CashReceivedTotal.Add(w.CashPaidOutTotal)
}

type UsageRecord struct {
	ID            UsageID         `db:"id"`
	CompanyID     string          `db:"company_id"`
	ProjectID     string          `db:"project_id"`
	CropType      string          `db:"crop_type"`
	WalletID      WalletID        `db:"wallet_id"`
	CollectionID  CollectionID    `db:"collection_id"`
	TotalDeducted decimal.Decimal `db:"total_deducted"`
	LastUpdatedAt time.Time       `db:"last_updated_at"`
}

// =============================================================================
// SALES LEDGER RECORDS - emitted on qualifying settlement
// =============================================================================

const UnitKg = "kg"

const SaleCompleted = "completed"

type HarvestRecord struct {
	ID           string          `db:"id"`
	CompanyID    string          `db:"company_id"`
	ProjectID    string          `db:"project_id"`
	CropType     string          `db:"crop_type"`
	CollectionID CollectionID    `db:"collection_id"`
	Quantity     decimal.Decimal `db:"quantity"`
	Unit         string          `db:"unit"`
	Date         time.Time       `db:"date"`
	CreatedAt    time.Time       `db:"created_at"`
}

type SaleRecord struct {
	ID           string          `db:"id"`
	CompanyID    string          `db:"company_id"`
	ProjectID    string          `db:"project_id"`
	CropType     string          `db:"crop_type"`
	CollectionID CollectionID    `db:"collection_id"`
	HarvestID    string          `db:"harvest_id"`
	Quantity     decimal.Decimal `db:"quantity"`
	Unit         string          `db:"unit"`
	UnitPrice    decimal.Decimal `db:"unit_price"`
	TotalAmount  decimal.Decimal `db:"total_amount"`
	Status       string          `db:"status"`
	Date         time.Time       `db:"date"`
	CreatedAt    time.Time       `db:"created_at"`
}
