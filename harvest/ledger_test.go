package harvest_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/harvest-ledger/harvest"
	"github.com/warp/harvest-ledger/harvest/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var beans = harvest.Scope{CompanyID: "acme", ProjectID: "north-field", CropType: "french_beans"}

var supervisor = harvest.Actor{ID: "sup-1", Name: "Wanjiru"}

func newTestLedger(t *testing.T) (*harvest.Ledger, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	ledger := harvest.NewLedger(mem, harvest.Config{SaleCrops: []string{"french_beans"}}, nil)

	var mu sync.Mutex
	clock := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	seq := 0
	ledger.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return ledger, mem
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, fmt.Sprintf("want %s, got %s", want, got), msgAndArgs...)
	}
}

func openCollection(t *testing.T, l *harvest.Ledger, scope harvest.Scope, price string) *harvest.Collection {
	t.Helper()
	c, err := l.CreateCollection(context.Background(), harvest.NewCollection{
		Scope:            scope,
		Name:             "Morning pick",
		HarvestDate:      time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		PricePerKgPicker: dec(price),
		By:               supervisor,
	})
	require.NoError(t, err)
	return c
}

func addPicker(t *testing.T, l *harvest.Ledger, c *harvest.Collection, number int) *harvest.Picker {
	t.Helper()
	p, err := l.AddPicker(context.Background(), harvest.NewPicker{
		CollectionID: c.ID,
		PickerNumber: number,
		PickerName:   fmt.Sprintf("Picker %d", number),
	})
	require.NoError(t, err)
	return p
}

func weigh(t *testing.T, l *harvest.Ledger, p *harvest.Picker, kgs ...string) {
	t.Helper()
	for i, kg := range kgs {
		_, err := l.RecordWeighEntry(context.Background(), p.ID, p.CollectionID, dec(kg), i+1)
		require.NoError(t, err)
	}
}

func topUp(t *testing.T, l *harvest.Ledger, scope harvest.Scope, amount string) {
	t.Helper()
	_, err := l.TopUpHarvestWallet(context.Background(), scope, dec(amount), supervisor)
	require.NoError(t, err)
}

// =============================================================================
// COLLECTIONS & PICKERS
// =============================================================================

func TestCreateCollection_StartsCollecting(t *testing.T) {
	// GIVEN: A fresh ledger
	// WHEN: A supervisor opens a collection
	// THEN: It is collecting with zero totals and the creator recorded

	l, _ := newTestLedger(t)
	c := openCollection(t, l, beans, "20")

	assert.Equal(t, harvest.StatusCollecting, c.Status)
	assert.Equal(t, harvest.StatusCollecting, c.DisplayStatus())
	assert.Equal(t, "sup-1", c.CreatedBy)
	assertDecimal(t, "0", c.TotalHarvestKg)
	assertDecimal(t, "0", c.TotalPickerCost)
	assert.Nil(t, c.PricePerKgBuyer)
	assert.Nil(t, c.BuyerPaidAt)

	got, err := l.Collection(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestCreateCollection_Validation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    harvest.NewCollection
		field string
	}{
		{"missing company", harvest.NewCollection{Scope: harvest.Scope{ProjectID: "p", CropType: "c"}, Name: "x", PricePerKgPicker: dec("1")}, "company_id"},
		{"missing crop", harvest.NewCollection{Scope: harvest.Scope{CompanyID: "a", ProjectID: "p"}, Name: "x", PricePerKgPicker: dec("1")}, "crop_type"},
		{"blank name", harvest.NewCollection{Scope: beans, Name: "  ", PricePerKgPicker: dec("1")}, "name"},
		{"zero price", harvest.NewCollection{Scope: beans, Name: "x", PricePerKgPicker: decimal.Zero}, "price_per_kg_picker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.CreateCollection(ctx, tt.in)
			var vErr *harvest.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.True(t, harvest.IsClientError(err))
		})
	}
}

func TestListCollections_FiltersByScope(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first := openCollection(t, l, beans, "20")
	second := openCollection(t, l, beans, "25")
	openCollection(t, l, harvest.Scope{CompanyID: "acme", ProjectID: "north-field", CropType: "avocado"}, "10")

	got, err := l.ListCollections(ctx, beans)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}

func TestAddPicker_ListedByNumber(t *testing.T) {
	l, _ := newTestLedger(t)
	c := openCollection(t, l, beans, "20")

	addPicker(t, l, c, 3)
	addPicker(t, l, c, 1)
	addPicker(t, l, c, 2)

	pickers, err := l.ListPickers(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, pickers, 3)
	for i, p := range pickers {
		assert.Equal(t, i+1, p.PickerNumber)
		assert.False(t, p.IsPaid)
	}
}

func TestAddPicker_UnknownCollection(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.AddPicker(context.Background(), harvest.NewPicker{CollectionID: "nope", PickerNumber: 1})

	assert.ErrorIs(t, err, harvest.ErrCollectionNotFound)
	assert.True(t, harvest.IsNotFound(err))
}

func TestWallet_NotFoundBeforeTopUp(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Wallet(context.Background(), beans)

	var wErr *harvest.WalletNotFoundError
	require.ErrorAs(t, err, &wErr)
	assert.Equal(t, harvest.WalletID("acme_north-field_french_beans"), wErr.WalletID)
	assert.ErrorIs(t, err, harvest.ErrWalletNotFound)
}

func TestScope_Keys(t *testing.T) {
	assert.Equal(t, harvest.WalletID("acme_north-field_french_beans"), beans.WalletID())
	assert.Equal(t, harvest.UsageID("acme_north-field_french_beans_c-1"), beans.UsageID("c-1"))
}
