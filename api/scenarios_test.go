package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_HarvestDay(t *testing.T) {
	// GIVEN: Some unrelated data already stored
	// WHEN: harvest-day is loaded
	// THEN: Only the scenario's data remains, with derived totals and one payout

	s := newTestServer(t)
	s.openCollection("99")

	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "harvest-day"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/collections"+walletQuery, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cols := decodeBody[[]CollectionDTO](t, rec)
	require.Len(t, cols, 1)
	assertDec(t, "42.5", cols[0].TotalHarvestKg)
	assertDec(t, "850", cols[0].TotalPickerCost)

	rec = s.do(http.MethodGet, "/api/wallets"+walletQuery, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDec(t, "4590", decodeBody[WalletDTO](t, rec).CurrentBalance)

	rec = s.do(http.MethodGet, "/api/collections/"+cols[0].ID+"/cash-pool", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pool := decodeBody[CashPoolDTO](t, rec)
	assertDec(t, "410", pool.TotalPaidOut)
	assertDec(t, "2590", pool.RemainingBalance)

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "harvest-day", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenarios_WalletShortfall(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "wallet-shortfall"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/collections"+walletQuery, nil)
	cols := decodeBody[[]CollectionDTO](t, rec)
	require.Len(t, cols, 1)

	rec = s.do(http.MethodPost, "/api/collections/"+cols[0].ID+"/payouts", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_funds", body.Code)
	assert.Contains(t, body.Error, "2000")
}

func TestScenarios_UnknownAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), 2)

	s.topUp("100")
	rec = s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/wallets"+walletQuery, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code, "cache flushed with the store")
}
