/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Populates the store with a realistic picking day so the API can be explored
  without typing in weigh-ins by hand. Data is created through the ledger, so
  every derived total is real.

AVAILABLE SCENARIOS:
  harvest-day:      Funded wallet, three pickers weighed, cash registered,
                    first picker paid
  wallet-shortfall: Wallet holds less than the day's picker cost, so a full
                    batch payout is rejected with the shortfall

HOW SCENARIOS WORK:
 1. Reset the store and flush the wallet cache
 2. Top up the wallet for the caller's company
 3. Open a collection and add pickers
 4. Record weigh entries
 5. Optionally register cash and pay

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "harvest-day"}

NOTE:
	Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/harvest-ledger/harvest"
)

const (
	demoProject = "north-field"
	demoCrop    = "french_beans"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "harvest-day",
		Name:        "Harvest Day",
		Description: "Funded wallet, three pickers weighed, cash registered, one picker paid",
	},
	{
		ID:          "wallet-shortfall",
		Name:        "Wallet Shortfall",
		Description: "Picker cost 12000 against a 10000 wallet; a full payout is rejected",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, id Identity) error

var scenarioLoaders = map[string]scenarioLoader{
	"harvest-day":      loadHarvestDayScenario,
	"wallet-shortfall": loadWalletShortfallScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads the requested scenario for the
// caller's company.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	if err := load(ctx, h, identityFrom(r)); err != nil {
		h.Logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Cache.Flush(ctx)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type demoPicker struct {
	number int
	name   string
	trips  []string
}

// seedDay opens a collection at pricePerKg and weighs in each picker.
func seedDay(ctx context.Context, l *harvest.Ledger, id Identity, name, pricePerKg string, pickers []demoPicker) (*harvest.Collection, []harvest.Picker, error) {
	scope := id.Scope(demoProject, demoCrop)
	c, err := l.CreateCollection(ctx, harvest.NewCollection{
		Scope:            scope,
		Name:             name,
		HarvestDate:      time.Now().UTC().Truncate(24 * time.Hour),
		PricePerKgPicker: decimal.RequireFromString(pricePerKg),
		By:               id.Actor,
	})
	if err != nil {
		return nil, nil, err
	}

	out := make([]harvest.Picker, 0, len(pickers))
	for _, dp := range pickers {
		p, err := l.AddPicker(ctx, harvest.NewPicker{CollectionID: c.ID, PickerNumber: dp.number, PickerName: dp.name})
		if err != nil {
			return nil, nil, err
		}
		for trip, kg := range dp.trips {
			if _, err := l.RecordWeighEntry(ctx, p.ID, c.ID, decimal.RequireFromString(kg), trip+1); err != nil {
				return nil, nil, err
			}
		}
		out = append(out, *p)
	}
	return c, out, nil
}

// loadHarvestDayScenario: 5000 in the wallet, 42.5kg picked at 20/kg (850),
// 3000 cash registered, picker #1 paid.
func loadHarvestDayScenario(ctx context.Context, h *Handler, id Identity) error {
	l := h.Ledger
	scope := id.Scope(demoProject, demoCrop)

	if _, err := l.TopUpHarvestWallet(ctx, scope, decimal.NewFromInt(5000), id.Actor); err != nil {
		return err
	}
	c, pickers, err := seedDay(ctx, l, id, "Morning pick", "20", []demoPicker{
		{1, "Wanjiru", []string{"12.5", "8"}},
		{2, "Otieno", []string{"10"}},
		{3, "Akinyi", []string{"7", "5"}},
	})
	if err != nil {
		return err
	}
	if _, err := l.RegisterHarvestCash(ctx, harvest.CashRegistration{
		CollectionID: c.ID,
		CashReceived: decimal.NewFromInt(3000),
		Source:       "farm office",
		ReceivedBy:   id.Actor,
	}); err != nil {
		return err
	}
	_, err = l.PayPicker(ctx, scope, pickers[0].ID, id.Actor)
	return err
}

// loadWalletShortfallScenario: 600kg at 20/kg costs 12000 against a 10000 wallet.
func loadWalletShortfallScenario(ctx context.Context, h *Handler, id Identity) error {
	l := h.Ledger
	scope := id.Scope(demoProject, demoCrop)

	if _, err := l.TopUpHarvestWallet(ctx, scope, decimal.NewFromInt(10000), id.Actor); err != nil {
		return err
	}
	_, _, err := seedDay(ctx, l, id, "Peak day", "20", []demoPicker{
		{1, "Chebet", []string{"150", "150"}},
		{2, "Mutua", []string{"100", "100", "100"}},
	})
	return err
}
