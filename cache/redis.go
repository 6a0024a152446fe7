// Package cache keeps a Redis read-through copy of harvest wallets.
//
// Every method is safe on a nil *WalletCache or one built without a client:
// lookups miss and writes are dropped, so the service runs without Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/harvest-ledger/harvest"
)

const walletKeyFmt = "wallet:"

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type WalletCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Connect dials Redis and pings it. On failure the client is closed and the
// error returned; callers typically continue with a nil cache.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*WalletCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return New(client, opts.TTL, logger), nil
}

func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *WalletCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletCache{client: client, ttl: ttl, logger: logger}
}

func (c *WalletCache) enabled() bool {
	return c != nil && c.client != nil
}

func (c *WalletCache) Close() error {
	if !c.enabled() {
		return nil
	}
	return c.client.Close()
}

// cachedWallet is the stored form; decimals travel as strings.
type cachedWallet struct {
	ID                harvest.WalletID `json:"id"`
	CompanyID         string           `json:"company_id"`
	ProjectID         string           `json:"project_id"`
	CropType          string           `json:"crop_type"`
	CashReceivedTotal decimal.Decimal  `json:"cash_received_total"`
	CashPaidOutTotal  decimal.Decimal  `json:"cash_paid_out_total"`
	CurrentBalance    decimal.Decimal  `json:"current_balance"`
	LastUpdatedAt     time.Time        `json:"last_updated_at"`
}

func key(id harvest.WalletID) string {
	return walletKeyFmt + string(id)
}

// Get returns the cached wallet, or false on a miss or any Redis error.
func (c *WalletCache) Get(ctx context.Context, id harvest.WalletID) (*harvest.Wallet, bool) {
	if !c.enabled() {
		return nil, false
	}
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("wallet cache get failed", zap.String("wallet_id", string(id)), zap.Error(err))
		}
		return nil, false
	}
	var cw cachedWallet
	if err := json.Unmarshal(data, &cw); err != nil {
		c.logger.Warn("wallet cache entry unreadable", zap.String("wallet_id", string(id)), zap.Error(err))
		return nil, false
	}
	w := harvest.Wallet(cw)
	return &w, true
}

// setAttempts bounds retries when another writer touches the key between
// WATCH and EXEC.
const setAttempts = 3

// Set stores w unless the cached copy is a later revision of the same wallet.
// Writers race: post-commit notifications arrive in any order, and a read
// miss may fill the cache after a newer commit already has.
func (c *WalletCache) Set(ctx context.Context, w harvest.Wallet) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(cachedWallet(w))
	if err != nil {
		return
	}
	k := key(w.ID)
	guarded := func(tx *redis.Tx) error {
		if cached, ok := decodeWallet(tx.Get(ctx, k).Bytes()); ok && cached.Revision().GreaterThan(w.Revision()) {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, c.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < setAttempts; i++ {
		err = c.client.Watch(ctx, guarded, k)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		c.logger.Debug("wallet cache set failed", zap.String("wallet_id", string(w.ID)), zap.Error(err))
		if errors.Is(err, redis.TxFailedErr) {
			c.Invalidate(ctx, w.ID)
		}
	}
}

// decodeWallet reads a cached entry. A missing or unreadable entry is not ok.
func decodeWallet(data []byte, err error) (harvest.Wallet, bool) {
	if err != nil {
		return harvest.Wallet{}, false
	}
	var cw cachedWallet
	if json.Unmarshal(data, &cw) != nil {
		return harvest.Wallet{}, false
	}
	return harvest.Wallet(cw), true
}

func (c *WalletCache) Invalidate(ctx context.Context, ids ...harvest.WalletID) {
	if !c.enabled() || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	c.client.Del(ctx, keys...)
}

// Flush removes every cached wallet. Used when the store is reset.
func (c *WalletCache) Flush(ctx context.Context) {
	if !c.enabled() {
		return
	}
	iter := c.client.Scan(ctx, 0, walletKeyFmt+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.client.Del(ctx, keys...)
	}
}

// =============================================================================
// harvest.Observer
// =============================================================================

// WalletChanged writes the committed wallet through to Redis. Out-of-order
// notifications are settled by Set's revision check.
func (c *WalletCache) WalletChanged(ctx context.Context, w harvest.Wallet) {
	c.Set(ctx, w)
}

// PayoutRejected drops the cached copy; a rejection may follow a stale read.
func (c *WalletCache) PayoutRejected(ctx context.Context, scope harvest.Scope, _ error) {
	c.Invalidate(ctx, scope.WalletID())
}

func (c *WalletCache) WeighRecorded(context.Context, harvest.WeighEntry) {}
func (c *WalletCache) PayoutCommitted(context.Context, harvest.Scope, harvest.CollectionID, decimal.Decimal, int) {
}
func (c *WalletCache) CollectionSettled(context.Context, harvest.Collection) {}
