/*
handlers_test.go - HTTP tests for the harvest API

Tests for:
- A full picking day over HTTP (open, weigh, pay, settle)
- Error mapping (400, 404, 409, 412)
- Company isolation
- Wallet cache-aside reads
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/harvest-ledger/cache"
	"github.com/warp/harvest-ledger/harvest"
	"github.com/warp/harvest-ledger/store/sqlstore"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	ledger *harvest.Ledger
	cache  *cache.WalletCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mr := miniredis.RunT(t)
	wc := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute, nil)
	t.Cleanup(func() { wc.Close() })

	ledger := harvest.NewLedger(st, harvest.Config{SaleCrops: []string{"french_beans"}}, nil)
	ledger.Observer = harvest.Observers{wc}

	h := NewHandler(ledger, st, wc, nil)
	return &testServer{
		t:      t,
		router: NewRouter(h, RouterOptions{Sweeper: NewSweeper(ledger, nil)}),
		ledger: ledger,
		cache:  wc,
	}
}

// do sends a request as company acme unless headers override it.
func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Company-ID", "acme")
	req.Header.Set("X-Actor-ID", "u-7")
	req.Header.Set("X-Actor-Name", "Supervisor")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

const walletQuery = "?project_id=north-field&crop_type=french_beans"

func (s *testServer) openCollection(price string) CollectionDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/collections", map[string]any{
		"project_id":          "north-field",
		"crop_type":           "french_beans",
		"name":                "Morning pick",
		"harvest_date":        "2026-03-02",
		"price_per_kg_picker": price,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[CollectionDTO](s.t, rec)
}

func (s *testServer) addPicker(c CollectionDTO, number int) PickerDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/collections/"+c.ID+"/pickers", map[string]any{
		"picker_number": number,
		"picker_name":   "Picker",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PickerDTO](s.t, rec)
}

func (s *testServer) weigh(c CollectionDTO, p PickerDTO, kg string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/collections/"+c.ID+"/weigh", map[string]any{
		"picker_id": p.ID, "weight_kg": kg, "trip_number": 1,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) topUp(amount string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/wallets/top-up", map[string]any{
		"project_id": "north-field", "crop_type": "french_beans", "amount": amount,
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// FULL DAY
// =============================================================================

func TestAPI_FullPickingDay(t *testing.T) {
	// GIVEN: A 2000 wallet and a 20/kg collection with two pickers (10kg, 20kg)
	// WHEN: Both are paid in one batch and the buyer pays 80/kg
	// THEN: Wallet 1400, collection closed with revenue 2400 and profit 1800,
	//       one sale recorded

	s := newTestServer(t)
	s.topUp("2000")
	c := s.openCollection("20")
	assert.Equal(t, "collecting", c.Status)
	assert.Equal(t, "u-7", c.CreatedBy)

	p1 := s.addPicker(c, 1)
	p2 := s.addPicker(c, 2)
	s.weigh(c, p1, "10")
	s.weigh(c, p2, "12")
	s.weigh(c, p2, "8")

	rec := s.do(http.MethodGet, "/api/pickers/"+p2.ID+"/weigh-entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]WeighEntryDTO](t, rec), 2)

	rec = s.do(http.MethodPost, "/api/collections/"+c.ID+"/payouts", map[string]any{"picker_ids": []string{}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	batch := decodeBody[BatchResultDTO](t, rec)
	require.NotNil(t, batch.Batch)
	assertDec(t, "600", batch.Batch.TotalAmount)
	assert.ElementsMatch(t, []string{p1.ID, p2.ID}, batch.Paid)
	assertDec(t, "1400", batch.Wallet.CurrentBalance)

	rec = s.do(http.MethodPost, "/api/collections/"+c.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payout_complete", decodeBody[StatusDTO](t, rec).Status)

	rec = s.do(http.MethodPost, "/api/collections/"+c.ID+"/settlement", map[string]any{
		"price_per_kg_buyer": "80", "mark_buyer_paid": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[CollectionDTO](t, rec)
	assert.Equal(t, "closed", closed.Status)
	assertDec(t, "2400", closed.TotalRevenue)
	assertDec(t, "1800", closed.Profit)
	require.NotNil(t, closed.BuyerPaidAt)

	rec = s.do(http.MethodGet, "/api/sales"+walletQuery, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sales := decodeBody[[]SaleDTO](t, rec)
	require.Len(t, sales, 1)
	assertDec(t, "30", sales[0].Quantity)
	assertDec(t, "2400", sales[0].TotalAmount)

	rec = s.do(http.MethodGet, "/api/collections/"+c.ID+"/payouts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]PaymentBatchDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/wallets/usage"+walletQuery, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decodeBody[[]UsageDTO](t, rec)
	require.Len(t, usage, 1)
	assertDec(t, "600", usage[0].TotalDeducted)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_InsufficientFundsIs409WithShortfall(t *testing.T) {
	s := newTestServer(t)
	s.topUp("100")
	c := s.openCollection("20")
	p := s.addPicker(c, 1)
	s.weigh(c, p, "10")

	rec := s.do(http.MethodPost, "/api/pickers/"+p.ID+"/pay", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_funds", body.Code)
	assert.Contains(t, body.Error, "100")
}

func TestAPI_WalletMissingIs412(t *testing.T) {
	s := newTestServer(t)
	c := s.openCollection("20")
	p := s.addPicker(c, 1)
	s.weigh(c, p, "10")

	rec := s.do(http.MethodPost, "/api/pickers/"+p.ID+"/pay", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "wallet_not_found", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodGet, "/api/wallets"+walletQuery, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestAPI_CloseWithUnpaidPickersIs409(t *testing.T) {
	s := newTestServer(t)
	c := s.openCollection("20")
	p := s.addPicker(c, 1)
	s.weigh(c, p, "10")

	rec := s.do(http.MethodPost, "/api/collections/"+c.ID+"/settlement", map[string]any{
		"price_per_kg_buyer": "80", "mark_buyer_paid": true,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "unpaid_pickers", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodPost, "/api/pickers/"+p.ID+"/mark-paid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[PickerDTO](t, rec).IsPaid)

	rec = s.do(http.MethodPost, "/api/collections/"+c.ID+"/settlement", map[string]any{
		"price_per_kg_buyer": "80", "mark_buyer_paid": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/collections/"+c.ID+"/pickers", map[string]any{"picker_number": 2})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "collection_closed", decodeBody[ErrorResponse](t, rec).Code)
}

func TestAPI_ValidationAndNotFound(t *testing.T) {
	s := newTestServer(t)
	c := s.openCollection("20")
	p := s.addPicker(c, 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"negative weight", http.MethodPost, "/api/collections/" + c.ID + "/weigh",
			map[string]any{"picker_id": p.ID, "weight_kg": "-1"}, http.StatusBadRequest},
		{"zero top-up", http.MethodPost, "/api/wallets/top-up",
			map[string]any{"project_id": "north-field", "crop_type": "french_beans", "amount": "0"}, http.StatusBadRequest},
		{"bad harvest date", http.MethodPost, "/api/collections",
			map[string]any{"project_id": "p", "crop_type": "c", "name": "n", "harvest_date": "02/03/2026", "price_per_kg_picker": "1"}, http.StatusBadRequest},
		{"missing scope", http.MethodGet, "/api/wallets?project_id=north-field", nil, http.StatusBadRequest},
		{"malformed body", http.MethodPut, "/api/collections/" + c.ID + "/picker-price", "not an object", http.StatusBadRequest},
		{"unknown collection", http.MethodGet, "/api/collections/nope", nil, http.StatusNotFound},
		{"unknown picker", http.MethodPost, "/api/pickers/nope/pay", nil, http.StatusNotFound},
		{"no cash pool", http.MethodGet, "/api/collections/" + c.ID + "/cash-pool", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAPI_MissingCompanyIs401(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/collections"+walletQuery, nil, "X-Company-ID", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// ISOLATION
// =============================================================================

func TestAPI_OtherCompanySeesNotFound(t *testing.T) {
	// GIVEN: A collection owned by acme
	// WHEN: Another company reads or pays against it
	// THEN: 404, and its pickers are invisible too

	s := newTestServer(t)
	c := s.openCollection("20")
	p := s.addPicker(c, 1)

	rec := s.do(http.MethodGet, "/api/collections/"+c.ID, nil, "X-Company-ID", "globex")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/pickers/"+p.ID+"/mark-paid", nil, "X-Company-ID", "globex")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/collections"+walletQuery, nil, "X-Company-ID", "globex")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]CollectionDTO](t, rec))
}

// =============================================================================
// CASH POOL & CACHE
// =============================================================================

func TestAPI_CashPoolMirrorsPayouts(t *testing.T) {
	s := newTestServer(t)
	s.topUp("1000")
	c := s.openCollection("20")
	p := s.addPicker(c, 1)
	s.weigh(c, p, "10")

	rec := s.do(http.MethodPut, "/api/collections/"+c.ID+"/cash-pool", map[string]any{
		"cash_received": "500", "source": "buyer advance",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u-7", decodeBody[CashPoolDTO](t, rec).ReceivedBy)

	rec = s.do(http.MethodPost, "/api/pickers/"+p.ID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/collections/"+c.ID+"/cash-pool", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pool := decodeBody[CashPoolDTO](t, rec)
	assertDec(t, "200", pool.TotalPaidOut)
	assertDec(t, "300", pool.RemainingBalance)
}

func TestAPI_WalletReadsThroughCache(t *testing.T) {
	// GIVEN: A wallet topped up via the API (written through to the cache)
	// WHEN: An ad-hoc payment is applied and the wallet is read
	// THEN: The read is a cache hit reflecting the payment

	s := newTestServer(t)
	s.topUp("1000")
	c := s.openCollection("20")

	rec := s.do(http.MethodPost, "/api/wallets/payments", map[string]any{
		"project_id": "north-field", "crop_type": "french_beans",
		"collection_id": c.ID, "amount": "250",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/wallets"+walletQuery, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assertDec(t, "750", decodeBody[WalletDTO](t, rec).CurrentBalance)

	s.cache.Flush(context.Background())
	rec = s.do(http.MethodGet, "/api/wallets"+walletQuery, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assertDec(t, "750", decodeBody[WalletDTO](t, rec).CurrentBalance)
}

func TestAPI_PriceCorrectionAndRecompute(t *testing.T) {
	s := newTestServer(t)
	c := s.openCollection("20")
	p := s.addPicker(c, 1)
	s.weigh(c, p, "10")

	rec := s.do(http.MethodPut, "/api/collections/"+c.ID+"/picker-price", map[string]any{"price_per_kg_picker": "25"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDec(t, "250", decodeBody[CollectionDTO](t, rec).TotalPickerCost)

	rec = s.do(http.MethodPost, "/api/collections/"+c.ID+"/recompute", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDec(t, "250", decodeBody[CollectionDTO](t, rec).TotalPickerCost)

	rec = s.do(http.MethodGet, "/api/collections/"+c.ID+"/pickers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pickers := decodeBody[[]PickerDTO](t, rec)
	require.Len(t, pickers, 1)
	assertDec(t, "250", pickers[0].TotalPay)
}

func TestAPI_HealthAndSweep(t *testing.T) {
	s := newTestServer(t)
	s.openCollection("20")

	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sweep := decodeBody[SweepDTO](t, rec)
	assert.Equal(t, 1, sweep.Checked)
	assert.Zero(t, sweep.Failed)
	assert.NotNil(t, sweep.LastRun)
}
