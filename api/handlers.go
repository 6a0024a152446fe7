/*
handlers.go - HTTP API handlers for the harvest ledger

PURPOSE:
  Exposes harvest.Ledger over REST. Handles HTTP request/response and JSON,
  confines every lookup to the caller's company, and delegates all business
  rules to the ledger.

ENDPOINTS:
  Collections:
    GET    /api/collections?project_id&crop_type   List collections
    POST   /api/collections                        Open a collection
    GET    /api/collections/{id}                   Collection with display status
    POST   /api/collections/{id}/pickers           Add picker
    GET    /api/collections/{id}/pickers           List pickers
    POST   /api/collections/{id}/weigh             Record weigh entry
    POST   /api/collections/{id}/recompute         Re-derive totals
    PUT    /api/collections/{id}/picker-price      Correct picker price
    POST   /api/collections/{id}/payouts           Batch payout
    GET    /api/collections/{id}/payouts           Payment batches
    GET    /api/collections/{id}/cash-pool         Cash pool snapshot
    PUT    /api/collections/{id}/cash-pool         Register harvest cash
    POST   /api/collections/{id}/settlement        Buyer price, optionally close
    POST   /api/collections/{id}/status            Refresh status

  Pickers:
    GET    /api/pickers/{id}/weigh-entries         Weigh ledger for one picker
    POST   /api/pickers/{id}/pay                   Single payout
    POST   /api/pickers/{id}/mark-paid             Mark paid without a draw

  Wallets:
    GET    /api/wallets?project_id&crop_type       Wallet snapshot (cached)
    GET    /api/wallets/usage?project_id&crop_type Per-collection usage
    POST   /api/wallets/top-up                     Add cash
    POST   /api/wallets/payments                   Ad-hoc draw

  Sales:
    GET    /api/sales?project_id&crop_type         Emitted sale records

ERROR HANDLING:
  Ledger errors map to HTTP status in writeLedgerError:
  - 400: validation
  - 404: collection or picker not found (also for another company's records)
  - 409: insufficient funds, unpaid pickers, collection closed
  - 412: wallet not found (add cash first)
  - 500: everything else, including retryable recompute failures

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Caller identity
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/harvest-ledger/cache"
	"github.com/warp/harvest-ledger/harvest"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all stored data. Used by scenario loading.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *harvest.Ledger
	Store  Resetter
	Cache  *cache.WalletCache
	Logger *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. cache may be nil.
func NewHandler(ledger *harvest.Ledger, store Resetter, wallets *cache.WalletCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Ledger: ledger, Store: store, Cache: wallets, Logger: logger}
}

// =============================================================================
// COLLECTION HANDLERS
// =============================================================================

// ListCollections returns the caller's collections for one project and crop.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	cols, err := h.Ledger.ListCollections(r.Context(), scope)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(cols, toCollectionDTO))
}

// CreateCollection opens a new picking day.
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if !decode(w, r, &req) {
		return
	}
	id := identityFrom(r)

	var harvestDate time.Time
	if req.HarvestDate != "" {
		d, err := time.Parse(dateLayout, req.HarvestDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid harvest_date format (use YYYY-MM-DD)", err)
			return
		}
		harvestDate = d
	}

	c, err := h.Ledger.CreateCollection(r.Context(), harvest.NewCollection{
		Scope:            id.Scope(req.ProjectID, req.CropType),
		Name:             req.Name,
		HarvestDate:      harvestDate,
		PricePerKgPicker: req.PricePerKgPicker,
		By:               id.Actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCollectionDTO(*c))
}

// GetCollection returns one collection.
func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(*c))
}

// AddPicker registers a picker on the collection.
func (h *Handler) AddPicker(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	var req AddPickerRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Ledger.AddPicker(r.Context(), harvest.NewPicker{
		CollectionID: c.ID,
		PickerNumber: req.PickerNumber,
		PickerName:   req.PickerName,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPickerDTO(*p))
}

// ListPickers returns the collection's pickers by number.
func (h *Handler) ListPickers(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	pickers, err := h.Ledger.ListPickers(r.Context(), c.ID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(pickers, toPickerDTO))
}

// RecordWeigh appends a weigh entry and returns it. If the entry was stored
// but the totals could not be recomputed, the response is an error carrying
// the entry id; POST /recompute brings the totals up to date.
func (h *Handler) RecordWeigh(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	var req WeighRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.Ledger.RecordWeighEntry(r.Context(), harvest.PickerID(req.PickerID), c.ID, req.WeightKg, req.TripNumber)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWeighEntryDTO(*entry))
}

// Recompute re-derives every picker and the collection from the weigh ledger.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	out, err := h.Ledger.Recompute(r.Context(), c.ID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(*out))
}

// CorrectPickerPrice reprices the collection before any payout.
func (h *Handler) CorrectPickerPrice(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	var req PickerPriceRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.Ledger.CorrectPickerPrice(r.Context(), c.ID, req.PricePerKgPicker)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(*out))
}

// PayPickers pays the listed pickers as one batch. An empty list pays every
// picker of the collection; paid and zero-pay pickers come back as skipped.
func (h *Handler) PayPickers(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	var req PayPickersRequest
	if !decode(w, r, &req) {
		return
	}

	ids := make([]harvest.PickerID, len(req.PickerIDs))
	for i, id := range req.PickerIDs {
		ids[i] = harvest.PickerID(id)
	}
	if len(ids) == 0 {
		pickers, err := h.Ledger.ListPickers(r.Context(), c.ID)
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		for _, p := range pickers {
			ids = append(ids, p.ID)
		}
	}

	res, err := h.Ledger.PayPickersBatch(r.Context(), c.Scope(), c.ID, ids, identityFrom(r).Actor)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Batch == nil {
		status = http.StatusOK
	}
	writeJSON(w, status, toBatchResultDTO(res))
}

// ListPayouts returns the collection's payment batches.
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	batches, err := h.Ledger.ListPaymentBatches(r.Context(), c.ID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(batches, toPaymentBatchDTO))
}

// GetCashPool returns the collection's cash pool.
func (h *Handler) GetCashPool(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	pool, err := h.Ledger.CashPool(r.Context(), c.ID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, "No cash registered for this collection", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCashPoolDTO(*pool))
}

// RegisterCash sets the collection's cash on hand, replacing any earlier figure.
func (h *Handler) RegisterCash(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	var req RegisterCashRequest
	if !decode(w, r, &req) {
		return
	}
	reg := harvest.CashRegistration{
		CollectionID: c.ID,
		CashReceived: req.CashReceived,
		Source:       req.Source,
		ReceivedBy:   identityFrom(r).Actor,
	}
	if req.ReceivedAt != nil {
		reg.ReceivedAt = *req.ReceivedAt
	}
	pool, err := h.Ledger.RegisterHarvestCash(r.Context(), reg)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCashPoolDTO(*pool))
}

// Settle records the buyer price and closes the collection when asked.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	var req SettlementRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.Ledger.SetBuyerPriceAndMaybeClose(r.Context(), c.ID, req.PricePerKgBuyer, req.MarkBuyerPaid)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(*out))
}

// RefreshStatus recomputes the pickers-paid flag and returns the display status.
func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	status, err := h.Ledger.RefreshCollectionStatus(r.Context(), c.ID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{CollectionID: string(c.ID), Status: string(status)})
}

// =============================================================================
// PICKER HANDLERS
// =============================================================================

// ListWeighEntries returns one picker's weigh entries in recording order.
func (h *Handler) ListWeighEntries(w http.ResponseWriter, r *http.Request) {
	p, _, ok := h.loadPicker(w, r)
	if !ok {
		return
	}
	entries, err := h.Ledger.ListWeighEntries(r.Context(), p.ID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toWeighEntryDTO))
}

// PayPicker draws one picker's pay from the wallet.
func (h *Handler) PayPicker(w http.ResponseWriter, r *http.Request) {
	p, c, ok := h.loadPicker(w, r)
	if !ok {
		return
	}
	out, err := h.Ledger.PayPicker(r.Context(), c.Scope(), p.ID, identityFrom(r).Actor)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPickerDTO(*out))
}

// MarkPickerPaid records a picker as paid in cash outside the wallet.
func (h *Handler) MarkPickerPaid(w http.ResponseWriter, r *http.Request) {
	p, _, ok := h.loadPicker(w, r)
	if !ok {
		return
	}
	out, err := h.Ledger.MarkPickerCashPaid(r.Context(), p.ID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPickerDTO(*out))
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetWallet returns the scope's wallet, served from the cache when present.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	if cached, hit := h.Cache.Get(r.Context(), scope.WalletID()); hit {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, toWalletDTO(*cached))
		return
	}

	wallet, err := h.Ledger.Wallet(r.Context(), scope)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.Cache.Set(r.Context(), *wallet)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, toWalletDTO(*wallet))
}

// GetWalletUsage returns how much each collection has drawn from the wallet.
func (h *Handler) GetWalletUsage(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	usage, err := h.Ledger.WalletUsage(r.Context(), scope)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(usage, toUsageDTO))
}

// TopUpWallet adds cash to the scope's wallet.
func (h *Handler) TopUpWallet(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if !decode(w, r, &req) {
		return
	}
	id := identityFrom(r)
	wallet, err := h.Ledger.TopUpHarvestWallet(r.Context(), id.Scope(req.ProjectID, req.CropType), req.Amount, id.Actor)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wallet))
}

// ApplyCashPayment draws an ad-hoc amount for a collection.
func (h *Handler) ApplyCashPayment(w http.ResponseWriter, r *http.Request) {
	var req CashPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	scope := identityFrom(r).Scope(req.ProjectID, req.CropType)
	wallet, err := h.Ledger.ApplyCashPayment(r.Context(), scope, harvest.CollectionID(req.CollectionID), req.Amount)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wallet))
}

// ListSales returns sale records emitted at settlement.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	sales, err := h.Ledger.ListSales(r.Context(), scope)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(sales, toSaleDTO))
}

// =============================================================================
// HELPERS
// =============================================================================

// loadCollection fetches {id} and hides other companies' collections as 404.
func (h *Handler) loadCollection(w http.ResponseWriter, r *http.Request) (*harvest.Collection, bool) {
	id := harvest.CollectionID(chi.URLParam(r, "id"))
	c, err := h.Ledger.Collection(r.Context(), id)
	if err == nil && c.CompanyID != identityFrom(r).CompanyID {
		err = harvest.ErrCollectionNotFound
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return nil, false
	}
	return c, true
}

// loadPicker fetches picker {id} together with its collection.
func (h *Handler) loadPicker(w http.ResponseWriter, r *http.Request) (*harvest.Picker, *harvest.Collection, bool) {
	id := harvest.PickerID(chi.URLParam(r, "id"))
	p, err := h.Ledger.Picker(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return nil, nil, false
	}
	c, err := h.Ledger.Collection(r.Context(), p.CollectionID)
	if err == nil && c.CompanyID != identityFrom(r).CompanyID {
		err = harvest.ErrPickerNotFound
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return nil, nil, false
	}
	return p, c, true
}

func scopeFromQuery(w http.ResponseWriter, r *http.Request) (harvest.Scope, bool) {
	q := r.URL.Query()
	scope := identityFrom(r).Scope(q.Get("project_id"), q.Get("crop_type"))
	if scope.ProjectID == "" || scope.CropType == "" {
		writeError(w, http.StatusBadRequest, "project_id and crop_type are required", nil)
		return scope, false
	}
	return scope, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeCodedError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps ledger errors to HTTP status and a stable code.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *harvest.InsufficientFundsError
		unpaid       *harvest.UnpaidPickersError
	)
	switch {
	case errors.Is(err, harvest.ErrValidation):
		writeCodedError(w, http.StatusBadRequest, "validation", "Invalid request", err)
	case errors.Is(err, harvest.ErrCollectionNotFound):
		writeCodedError(w, http.StatusNotFound, "collection_not_found", "Collection not found", nil)
	case errors.Is(err, harvest.ErrPickerNotFound):
		writeCodedError(w, http.StatusNotFound, "picker_not_found", "Picker not found", nil)
	case errors.Is(err, harvest.ErrWalletNotFound):
		writeCodedError(w, http.StatusPreconditionFailed, "wallet_not_found", "No wallet for this crop: add cash first", err)
	case errors.As(err, &insufficient):
		writeCodedError(w, http.StatusConflict, "insufficient_funds",
			fmt.Sprintf("Insufficient funds: short by %s", insufficient.Shortfall), err)
	case errors.As(err, &unpaid):
		writeCodedError(w, http.StatusConflict, "unpaid_pickers",
			fmt.Sprintf("%d picker(s) still unpaid", len(unpaid.Unpaid)), err)
	case errors.Is(err, harvest.ErrCollectionClosed):
		writeCodedError(w, http.StatusConflict, "collection_closed", "Collection is closed", nil)
	case errors.Is(err, harvest.ErrRecompute):
		h.Logger.Error("recompute failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeCodedError(w, http.StatusInternalServerError, "recompute_failed", "Totals could not be recomputed; retry recompute", err)
	case errors.Is(err, harvest.ErrConcurrentModification):
		h.Logger.Warn("concurrent modification", zap.String("path", r.URL.Path), zap.Error(err))
		writeCodedError(w, http.StatusConflict, "concurrent_modification", "Another update touched the same records; retry the request", err)
	default:
		h.Logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeCodedError(w, http.StatusInternalServerError, "internal", "Internal error", nil)
	}
}
