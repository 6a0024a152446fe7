package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/harvest-ledger/harvest"
)

var beans = harvest.Scope{CompanyID: "acme", ProjectID: "north-field", CropType: "french_beans"}

func newTestCache(t *testing.T) (*WalletCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute, nil)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func wallet(balance int64) harvest.Wallet {
	return harvest.Wallet{
		ID:                beans.WalletID(),
		CompanyID:         beans.CompanyID,
		ProjectID:         beans.ProjectID,
		CropType:          beans.CropType,
		CashReceivedTotal: decimal.NewFromInt(5000),
		CashPaidOutTotal:  decimal.NewFromInt(5000 - balance),
		CurrentBalance:    decimal.NewFromInt(balance),
		LastUpdatedAt:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestWalletCache_WriteThroughOnChange(t *testing.T) {
	// GIVEN: An empty cache
	// WHEN: The ledger reports a committed wallet change
	// THEN: The wallet reads back with exact decimals and a TTL set

	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, beans.WalletID())
	assert.False(t, ok)

	c.WalletChanged(ctx, wallet(4150))

	got, ok := c.Get(ctx, beans.WalletID())
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(4150).Equal(got.CurrentBalance))
	assert.True(t, decimal.NewFromInt(850).Equal(got.CashPaidOutTotal))
	assert.Equal(t, "acme", got.CompanyID)
	assert.True(t, got.LastUpdatedAt.Equal(wallet(0).LastUpdatedAt))
	assert.Equal(t, time.Minute, mr.TTL("wallet:"+string(beans.WalletID())))
}

func TestWalletCache_OutOfOrderNotificationsKeepNewest(t *testing.T) {
	// GIVEN: Two payouts commit, leaving 7000 and then 4000
	// WHEN: Their notifications arrive newest first
	// THEN: The cache keeps 4000; the late, older copy is ignored

	c, _ := newTestCache(t)
	ctx := context.Background()

	c.WalletChanged(ctx, wallet(4000))
	c.WalletChanged(ctx, wallet(7000))

	got, ok := c.Get(ctx, beans.WalletID())
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(4000).Equal(got.CurrentBalance), "got %s", got.CurrentBalance)
}

func TestWalletCache_StaleFillAfterCommitIgnored(t *testing.T) {
	// GIVEN: A reader loaded the wallet at 9000, then a payout committed 8000
	//        and its notification filled the cache
	// WHEN: The reader's miss path stores its 9000 copy
	// THEN: The cache still serves 8000

	c, _ := newTestCache(t)
	ctx := context.Background()

	stale := wallet(9000)
	c.WalletChanged(ctx, wallet(8000))
	c.Set(ctx, stale)

	got, ok := c.Get(ctx, beans.WalletID())
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(8000).Equal(got.CurrentBalance), "got %s", got.CurrentBalance)
}

func TestWalletCache_NewerRevisionReplacesAndTopUpsCount(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, wallet(4000))
	topped := wallet(4000)
	topped.CashReceivedTotal = decimal.NewFromInt(6000)
	topped.CurrentBalance = decimal.NewFromInt(5000)
	c.WalletChanged(ctx, topped)

	got, ok := c.Get(ctx, beans.WalletID())
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(5000).Equal(got.CurrentBalance))

	// A corrupt entry never blocks a fresh write.
	require.NoError(t, mr.Set("wallet:"+string(beans.WalletID()), "{not json"))
	c.Set(ctx, wallet(100))
	got, ok = c.Get(ctx, beans.WalletID())
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(got.CurrentBalance))
}

func TestWalletCache_Expiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, wallet(100))
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, beans.WalletID())
	assert.False(t, ok)
}

func TestWalletCache_RejectionInvalidates(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, wallet(100))
	c.PayoutRejected(ctx, beans, harvest.ErrInsufficientFunds)

	_, ok := c.Get(ctx, beans.WalletID())
	assert.False(t, ok)
}

func TestWalletCache_FlushAndGarbage(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	other := wallet(10)
	other.ID = "acme_south_snow_peas"
	c.Set(ctx, wallet(100))
	c.Set(ctx, other)
	require.NoError(t, mr.Set("unrelated", "keep"))

	c.Flush(ctx)

	_, ok := c.Get(ctx, other.ID)
	assert.False(t, ok)
	assert.True(t, mr.Exists("unrelated"))

	require.NoError(t, mr.Set("wallet:"+string(beans.WalletID()), "{not json"))
	_, ok = c.Get(ctx, beans.WalletID())
	assert.False(t, ok)
}

func TestWalletCache_NilIsSafe(t *testing.T) {
	var c *WalletCache
	ctx := context.Background()

	assert.NotPanics(t, func() {
		c.Set(ctx, wallet(1))
		c.WalletChanged(ctx, wallet(1))
		c.Invalidate(ctx, beans.WalletID())
		c.Flush(ctx)
		_, ok := c.Get(ctx, beans.WalletID())
		assert.False(t, ok)
		assert.NoError(t, c.Close())
	})
}

func TestWalletCache_RedisDown(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	c.Set(ctx, wallet(1))
	_, ok := c.Get(ctx, beans.WalletID())
	assert.False(t, ok)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), Options{Addr: addr, TTL: time.Minute}, nil)
	assert.Error(t, err)
}
