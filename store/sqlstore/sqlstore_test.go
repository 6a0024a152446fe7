package sqlstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/harvest-ledger/harvest"
	"github.com/warp/harvest-ledger/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var beans = harvest.Scope{CompanyID: "acme", ProjectID: "north-field", CropType: "french_beans"}

var clerk = harvest.Actor{ID: "clerk-1", Name: "Otieno"}

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestLedger(t *testing.T) (*harvest.Ledger, *sqlstore.Store) {
	t.Helper()
	s := newTestStore(t)
	return harvest.NewLedger(s, harvest.Config{SaleCrops: []string{"french_beans"}}, nil), s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleCollection(id string) harvest.Collection {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	return harvest.Collection{
		ID:               harvest.CollectionID(id),
		CompanyID:        beans.CompanyID,
		ProjectID:        beans.ProjectID,
		CropType:         beans.CropType,
		Name:             "Morning pick",
		HarvestDate:      now,
		PricePerKgPicker: dec("20"),
		TotalHarvestKg:   decimal.Zero,
		TotalPickerCost:  decimal.Zero,
		TotalRevenue:     decimal.Zero,
		Profit:           decimal.Zero,
		Status:           harvest.StatusCollecting,
		CreatedBy:        clerk.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// =============================================================================
// RECORD ROUND TRIPS
// =============================================================================

func TestStore_CollectionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := sampleCollection("c-1")
	require.NoError(t, s.CreateCollection(ctx, c))

	got, err := s.GetCollection(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Morning pick", got.Name)
	assert.True(t, dec("20").Equal(got.PricePerKgPicker))
	assert.Nil(t, got.PricePerKgBuyer)
	assert.Nil(t, got.BuyerPaidAt)
	assert.True(t, c.HarvestDate.Equal(got.HarvestDate))

	price := dec("80.5")
	paidAt := c.CreatedAt.Add(time.Hour)
	got.PricePerKgBuyer = &price
	got.BuyerPaidAt = &paidAt
	got.Status = harvest.StatusClosed
	got.PickersPaid = true
	require.NoError(t, s.UpdateCollection(ctx, *got))

	again, err := s.GetCollection(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, again.PricePerKgBuyer)
	assert.True(t, price.Equal(*again.PricePerKgBuyer))
	require.NotNil(t, again.BuyerPaidAt)
	assert.True(t, paidAt.Equal(*again.BuyerPaidAt))
	assert.Equal(t, harvest.StatusClosed, again.Status)
	assert.True(t, again.PickersPaid)
}

func TestStore_ListOpenCollectionsSpansScopes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open := sampleCollection("c-open")
	other := sampleCollection("c-other")
	other.CompanyID = "globex"
	closed := sampleCollection("c-closed")
	closed.Status = harvest.StatusClosed
	for _, c := range []harvest.Collection{open, other, closed} {
		require.NoError(t, s.CreateCollection(ctx, c))
	}

	got, err := s.ListOpenCollections(ctx)
	require.NoError(t, err)
	ids := make([]harvest.CollectionID, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.ElementsMatch(t, []harvest.CollectionID{"c-open", "c-other"}, ids)
}

func TestStore_NotFoundConventions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCollection(ctx, "missing")
	assert.ErrorIs(t, err, harvest.ErrCollectionNotFound)

	_, err = s.GetPicker(ctx, "missing")
	assert.ErrorIs(t, err, harvest.ErrPickerNotFound)

	err = s.UpdateCollection(ctx, sampleCollection("missing"))
	assert.ErrorIs(t, err, harvest.ErrCollectionNotFound)

	w, err := s.GetWallet(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, w)

	pool, err := s.GetCashPool(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, pool)

	u, err := s.GetUsage(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestStore_PaymentBatchKeepsPickerIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, sampleCollection("c-1")))

	batch := harvest.PaymentBatch{
		ID:           "b-1",
		CompanyID:    "acme",
		CollectionID: "c-1",
		PickerIDs:    []harvest.PickerID{"p-2", "p-1"},
		TotalAmount:  dec("740"),
		PaidAt:       time.Date(2025, time.March, 10, 17, 0, 0, 0, time.UTC),
		PaidBy:       clerk.ID,
	}
	require.NoError(t, s.CreatePaymentBatch(ctx, batch))

	got, err := s.ListPaymentBatches(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []harvest.PickerID{"p-2", "p-1"}, got[0].PickerIDs)
	assert.True(t, dec("740").Equal(got[0].TotalAmount))
	assert.Equal(t, clerk.ID, got[0].PaidBy)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction that writes a wallet and then fails
	// WHEN: WithTx returns
	// THEN: The wallet write is gone

	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx harvest.Store) error {
		require.NoError(t, tx.SaveWallet(ctx, harvest.Wallet{
			ID:                beans.WalletID(),
			CompanyID:         beans.CompanyID,
			ProjectID:         beans.ProjectID,
			CropType:          beans.CropType,
			CashReceivedTotal: dec("100"),
			CashPaidOutTotal:  decimal.Zero,
			CurrentBalance:    dec("100"),
			LastUpdatedAt:     time.Now().UTC(),
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := s.GetWallet(ctx, beans.WalletID())
	require.NoError(t, err)
	assert.Nil(t, w)
}

// =============================================================================
// LEDGER FLOWS ON SQLITE
// =============================================================================

func TestLedger_FullDayOnSQLite(t *testing.T) {
	// GIVEN: A funded wallet and a collection with two weighed pickers
	// WHEN: Both are paid in one batch and the buyer closes the collection
	// THEN: Totals, wallet, usage, batch and sale are all persisted

	l, s := newTestLedger(t)
	ctx := context.Background()

	_, err := l.TopUpHarvestWallet(ctx, beans, dec("5000"), clerk)
	require.NoError(t, err)
	c, err := l.CreateCollection(ctx, harvest.NewCollection{Scope: beans, Name: "Day 1", PricePerKgPicker: dec("20"), By: clerk})
	require.NoError(t, err)
	p1, err := l.AddPicker(ctx, harvest.NewPicker{CollectionID: c.ID, PickerNumber: 1, PickerName: "Akinyi"})
	require.NoError(t, err)
	p2, err := l.AddPicker(ctx, harvest.NewPicker{CollectionID: c.ID, PickerNumber: 2, PickerName: "Barasa"})
	require.NoError(t, err)

	for _, kg := range []string{"10", "15", "5"} {
		_, err := l.RecordWeighEntry(ctx, p1.ID, c.ID, dec(kg), 1)
		require.NoError(t, err)
	}
	_, err = l.RecordWeighEntry(ctx, p2.ID, c.ID, dec("12.5"), 1)
	require.NoError(t, err)

	col, err := l.Collection(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, dec("42.5").Equal(col.TotalHarvestKg), col.TotalHarvestKg.String())
	assert.True(t, dec("850").Equal(col.TotalPickerCost), col.TotalPickerCost.String())

	res, err := l.PayPickersBatch(ctx, beans, c.ID, []harvest.PickerID{p1.ID, p2.ID}, clerk)
	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	assert.True(t, dec("4150").Equal(res.Wallet.CurrentBalance))

	paid, err := s.GetPicker(ctx, p2.ID)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaymentBatchID)
	assert.Equal(t, res.Batch.ID, *paid.PaymentBatchID)

	closed, err := l.SetBuyerPriceAndMaybeClose(ctx, c.ID, dec("80"), true)
	require.NoError(t, err)
	assert.Equal(t, harvest.StatusClosed, closed.Status)
	assert.True(t, dec("3400").Equal(closed.TotalRevenue))
	assert.True(t, dec("2550").Equal(closed.Profit))

	sales, err := l.ListSales(ctx, beans)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.True(t, dec("3400").Equal(sales[0].TotalAmount))

	usage, err := l.WalletUsage(ctx, beans)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.True(t, dec("850").Equal(usage[0].TotalDeducted))
}

func TestLedger_InsufficientFundsLeavesNoTrace(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	_, err := l.TopUpHarvestWallet(ctx, beans, dec("100"), clerk)
	require.NoError(t, err)
	c, err := l.CreateCollection(ctx, harvest.NewCollection{Scope: beans, Name: "Day 1", PricePerKgPicker: dec("20"), By: clerk})
	require.NoError(t, err)
	p, err := l.AddPicker(ctx, harvest.NewPicker{CollectionID: c.ID, PickerNumber: 1})
	require.NoError(t, err)
	_, err = l.RecordWeighEntry(ctx, p.ID, c.ID, dec("10"), 1)
	require.NoError(t, err)

	_, err = l.PayPickersBatch(ctx, beans, c.ID, []harvest.PickerID{p.ID}, clerk)
	assert.ErrorIs(t, err, harvest.ErrInsufficientFunds)

	got, err := s.GetPicker(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	batches, err := s.ListPaymentBatches(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, batches)
	w, err := l.Wallet(ctx, beans)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(w.CurrentBalance))
}

func TestLedger_ConcurrentPayoutsOnSQLite(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.TopUpHarvestWallet(ctx, beans, dec("1000"), clerk)
	require.NoError(t, err)
	c, err := l.CreateCollection(ctx, harvest.NewCollection{Scope: beans, Name: "Day 1", PricePerKgPicker: dec("20"), By: clerk})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.ApplyCashPayment(ctx, beans, c.ID, dec("300"))
		}()
	}
	wg.Wait()

	w, err := l.Wallet(ctx, beans)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(w.CurrentBalance), w.CurrentBalance.String())
	assert.True(t, dec("900").Equal(w.CashPaidOutTotal))
}

func TestStore_Reset(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	_, err := l.TopUpHarvestWallet(ctx, beans, dec("100"), clerk)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	w, err := s.GetWallet(ctx, beans.WalletID())
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := sqlstore.Open("oracle", "")
	assert.Error(t, err)
}
