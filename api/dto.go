/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON contract. Domain types carry no JSON tags; these types
  rename fields to snake_case and render decimals as strings so amounts
  never pass through float64.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Handlers parse decimals and dates; the ledger validates business rules.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/harvest-ledger/harvest"
)

const dateLayout = "2006-01-02"

// =============================================================================
// COLLECTIONS
// =============================================================================

type CollectionDTO struct {
	ID               string           `json:"id"`
	CompanyID        string           `json:"company_id"`
	ProjectID        string           `json:"project_id"`
	CropType         string           `json:"crop_type"`
	Name             string           `json:"name"`
	HarvestDate      string           `json:"harvest_date"`
	PricePerKgPicker decimal.Decimal  `json:"price_per_kg_picker"`
	PricePerKgBuyer  *decimal.Decimal `json:"price_per_kg_buyer,omitempty"`
	TotalHarvestKg   decimal.Decimal  `json:"total_harvest_kg"`
	TotalPickerCost  decimal.Decimal  `json:"total_picker_cost"`
	TotalRevenue     decimal.Decimal  `json:"total_revenue"`
	Profit           decimal.Decimal  `json:"profit"`
	Status           string           `json:"status"`
	DisplayStatus    string           `json:"display_status"`
	PickersPaid      bool             `json:"pickers_paid"`
	BuyerPaidAt      *time.Time       `json:"buyer_paid_at,omitempty"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type CreateCollectionRequest struct {
	ProjectID        string          `json:"project_id"`
	CropType         string          `json:"crop_type"`
	Name             string          `json:"name"`
	HarvestDate      string          `json:"harvest_date"`
	PricePerKgPicker decimal.Decimal `json:"price_per_kg_picker"`
}

type PickerPriceRequest struct {
	PricePerKgPicker decimal.Decimal `json:"price_per_kg_picker"`
}

type SettlementRequest struct {
	PricePerKgBuyer decimal.Decimal `json:"price_per_kg_buyer"`
	MarkBuyerPaid   bool            `json:"mark_buyer_paid"`
}

type StatusDTO struct {
	CollectionID string `json:"collection_id"`
	Status       string `json:"status"`
}

// =============================================================================
// PICKERS & WEIGH ENTRIES
// =============================================================================

type PickerDTO struct {
	ID             string          `json:"id"`
	CollectionID   string          `json:"collection_id"`
	PickerNumber   int             `json:"picker_number"`
	PickerName     string          `json:"picker_name"`
	TotalKg        decimal.Decimal `json:"total_kg"`
	TotalPay       decimal.Decimal `json:"total_pay"`
	IsPaid         bool            `json:"is_paid"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	PaymentBatchID *string         `json:"payment_batch_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type AddPickerRequest struct {
	PickerNumber int    `json:"picker_number"`
	PickerName   string `json:"picker_name"`
}

type WeighRequest struct {
	PickerID   string          `json:"picker_id"`
	WeightKg   decimal.Decimal `json:"weight_kg"`
	TripNumber int             `json:"trip_number"`
}

type WeighEntryDTO struct {
	ID           string          `json:"id"`
	PickerID     string          `json:"picker_id"`
	CollectionID string          `json:"collection_id"`
	WeightKg     decimal.Decimal `json:"weight_kg"`
	TripNumber   int             `json:"trip_number"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// =============================================================================
// PAYOUTS
// =============================================================================

type PayPickersRequest struct {
	PickerIDs []string `json:"picker_ids"`
}

type PaymentBatchDTO struct {
	ID           string          `json:"id"`
	CollectionID string          `json:"collection_id"`
	PickerIDs    []string        `json:"picker_ids"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PaidAt       time.Time       `json:"paid_at"`
	PaidBy       string          `json:"paid_by"`
}

type SkippedPickerDTO struct {
	PickerID string `json:"picker_id"`
	Reason   string `json:"reason"`
}

type BatchResultDTO struct {
	Batch   *PaymentBatchDTO   `json:"batch"`
	Paid    []string           `json:"paid"`
	Skipped []SkippedPickerDTO `json:"skipped"`
	Wallet  *WalletDTO         `json:"wallet,omitempty"`
}

// =============================================================================
// WALLET & CASH POOL
// =============================================================================

type WalletDTO struct {
	ID                string          `json:"id"`
	ProjectID         string          `json:"project_id"`
	CropType          string          `json:"crop_type"`
	CashReceivedTotal decimal.Decimal `json:"cash_received_total"`
	CashPaidOutTotal  decimal.Decimal `json:"cash_paid_out_total"`
	CurrentBalance    decimal.Decimal `json:"current_balance"`
	LastUpdatedAt     time.Time       `json:"last_updated_at"`
}

type UsageDTO struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	CollectionID  string          `json:"collection_id"`
	TotalDeducted decimal.Decimal `json:"total_deducted"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}

type TopUpRequest struct {
	ProjectID string          `json:"project_id"`
	CropType  string          `json:"crop_type"`
	Amount    decimal.Decimal `json:"amount"`
}

type CashPaymentRequest struct {
	ProjectID    string          `json:"project_id"`
	CropType     string          `json:"crop_type"`
	CollectionID string          `json:"collection_id"`
	Amount       decimal.Decimal `json:"amount"`
}

type CashPoolDTO struct {
	CollectionID     string          `json:"collection_id"`
	CashReceived     decimal.Decimal `json:"cash_received"`
	TotalPaidOut     decimal.Decimal `json:"total_paid_out"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Source           string          `json:"source"`
	ReceivedAt       time.Time       `json:"received_at"`
	ReceivedBy       string          `json:"received_by"`
}

type RegisterCashRequest struct {
	CashReceived decimal.Decimal `json:"cash_received"`
	Source       string          `json:"source"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
}

type SaleDTO struct {
	ID           string          `json:"id"`
	CollectionID string          `json:"collection_id"`
	HarvestID    string          `json:"harvest_id"`
	CropType     string          `json:"crop_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       string          `json:"status"`
	Date         string          `json:"date"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCollectionDTO(c harvest.Collection) CollectionDTO {
	return CollectionDTO{
		ID:               string(c.ID),
		CompanyID:        c.CompanyID,
		ProjectID:        c.ProjectID,
		CropType:         c.CropType,
		Name:             c.Name,
		HarvestDate:      c.HarvestDate.Format(dateLayout),
		PricePerKgPicker: c.PricePerKgPicker,
		PricePerKgBuyer:  c.PricePerKgBuyer,
		TotalHarvestKg:   c.TotalHarvestKg,
		TotalPickerCost:  c.TotalPickerCost,
		TotalRevenue:     c.TotalRevenue,
		Profit:           c.Profit,
		Status:           string(c.Status),
		DisplayStatus:    string(c.DisplayStatus()),
		PickersPaid:      c.PickersPaid,
		BuyerPaidAt:      c.BuyerPaidAt,
		CreatedBy:        c.CreatedBy,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func toPickerDTO(p harvest.Picker) PickerDTO {
	dto := PickerDTO{
		ID:           string(p.ID),
		CollectionID: string(p.CollectionID),
		PickerNumber: p.PickerNumber,
		PickerName:   p.PickerName,
		TotalKg:      p.TotalKg,
		TotalPay:     p.TotalPay,
		IsPaid:       p.IsPaid,
		PaidAt:       p.PaidAt,
		CreatedAt:    p.CreatedAt,
	}
	if p.PaymentBatchID != nil {
		id := string(*p.PaymentBatchID)
		dto.PaymentBatchID = &id
	}
	return dto
}

func toWeighEntryDTO(e harvest.WeighEntry) WeighEntryDTO {
	return WeighEntryDTO{
		ID:           string(e.ID),
		PickerID:     string(e.PickerID),
		CollectionID: string(e.CollectionID),
		WeightKg:     e.WeightKg,
		TripNumber:   e.TripNumber,
		RecordedAt:   e.RecordedAt,
	}
}

func toPaymentBatchDTO(b harvest.PaymentBatch) PaymentBatchDTO {
	ids := make([]string, len(b.PickerIDs))
	for i, id := range b.PickerIDs {
		ids[i] = string(id)
	}
	return PaymentBatchDTO{
		ID:           string(b.ID),
		CollectionID: string(b.CollectionID),
		PickerIDs:    ids,
		TotalAmount:  b.TotalAmount,
		PaidAt:       b.PaidAt,
		PaidBy:       b.PaidBy,
	}
}

func toBatchResultDTO(res *harvest.BatchResult) BatchResultDTO {
	dto := BatchResultDTO{
		Paid:    make([]string, len(res.Paid)),
		Skipped: make([]SkippedPickerDTO, len(res.Skipped)),
	}
	for i, id := range res.Paid {
		dto.Paid[i] = string(id)
	}
	for i, s := range res.Skipped {
		dto.Skipped[i] = SkippedPickerDTO{PickerID: string(s.PickerID), Reason: s.Reason}
	}
	if res.Batch != nil {
		b := toPaymentBatchDTO(*res.Batch)
		dto.Batch = &b
	}
	if res.Wallet != nil {
		w := toWalletDTO(*res.Wallet)
		dto.Wallet = &w
	}
	return dto
}

func toWalletDTO(w harvest.Wallet) WalletDTO {
	return WalletDTO{
		ID:                string(w.ID),
		ProjectID:         w.ProjectID,
		CropType:          w.CropType,
		CashReceivedTotal: w.CashReceivedTotal,
		CashPaidOutTotal:  w.CashPaidOutTotal,
		CurrentBalance:    w.CurrentBalance,
		LastUpdatedAt:     w.LastUpdatedAt,
	}
}

func toUsageDTO(u harvest.UsageRecord) UsageDTO {
	return UsageDTO{
		ID:            string(u.ID),
		WalletID:      string(u.WalletID),
		CollectionID:  string(u.CollectionID),
		TotalDeducted: u.TotalDeducted,
		LastUpdatedAt: u.LastUpdatedAt,
	}
}

func toCashPoolDTO(p harvest.CashPool) CashPoolDTO {
	return CashPoolDTO{
		CollectionID:     string(p.CollectionID),
		CashReceived:     p.CashReceived,
		TotalPaidOut:     p.TotalPaidOut,
		RemainingBalance: p.RemainingBalance,
		Source:           p.Source,
		ReceivedAt:       p.ReceivedAt,
		ReceivedBy:       p.ReceivedBy,
	}
}

func toSaleDTO(s harvest.SaleRecord) SaleDTO {
	return SaleDTO{
		ID:           s.ID,
		CollectionID: string(s.CollectionID),
		HarvestID:    s.HarvestID,
		CropType:     s.CropType,
		Quantity:     s.Quantity,
		Unit:         s.Unit,
		UnitPrice:    s.UnitPrice,
		TotalAmount:  s.TotalAmount,
		Status:       s.Status,
		Date:         s.Date.Format(dateLayout),
	}
}

func mapSlice[T, D any](in []T, f func(T) D) []D {
	out := make([]D, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}
