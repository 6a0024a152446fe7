/*
cashpool.go - Per-collection cash pool registration and payout mirror

PURPOSE:
  The CashPool is what a supervisor sees for one collection: cash received,
  paid out, remaining. It is a display mirror. The Wallet stays authoritative.

TWO DIFFERENT CASH ACTIONS:
  RegisterHarvestCash  "this is the cash on hand for this collection now".
                       Overwrites CashReceived (latest total wins).
  TopUpHarvestWallet   "here is new cash". Adds to the shared wallet.
  They record different real-world events and stay separate operations.

MIRROR:
  After every committed wallet draw, TotalPaidOut on the collection's pool
  is increased by the drawn amount. If cash was never registered for the
  collection there is no pool and the mirror does nothing, so the pool and
  the wallet can diverge for that collection.
*/
package harvest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CashRegistration struct {
	CollectionID CollectionID
	CashReceived decimal.Decimal
	Source       string
	ReceivedAt   time.Time
	ReceivedBy   Actor
}

// RegisterHarvestCash creates or overwrites the collection's cash pool.
func (l *Ledger) RegisterHarvestCash(ctx context.Context, in CashRegistration) (*CashPool, error) {
	if in.CollectionID == "" {
		return nil, &ValidationError{Field: "collection_id", Message: "is required"}
	}
	if !in.CashReceived.IsPositive() {
		return nil, &ValidationError{Field: "cash_received", Message: "must be positive"}
	}

	var out CashPool
	err := l.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetCollection(ctx, in.CollectionID)
		if err != nil {
			return err
		}
		pool, err := s.GetCashPool(ctx, in.CollectionID)
		if err != nil {
			return err
		}
		if pool == nil {
			pool = &CashPool{
				CollectionID: c.ID,
				CompanyID:    c.CompanyID,
				ProjectID:    c.ProjectID,
				CropType:     c.CropType,
				TotalPaidOut: decimal.Zero,
			}
		}
		receivedAt := in.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = l.Now()
		}
		pool.CashReceived = in.CashReceived
		pool.Source = in.Source
		pool.ReceivedAt = receivedAt
		pool.ReceivedBy = in.ReceivedBy.ID
		pool.recomputeRemaining()
		out = *pool
		return s.SaveCashPool(ctx, *pool)
	})
	if err != nil {
		return nil, err
	}
	l.Logger.Info("harvest cash registered",
		zap.String("collection_id", string(out.CollectionID)),
		zap.String("cash_received", out.CashReceived.String()),
		zap.String("remaining", out.RemainingBalance.String()),
	)
	return &out, nil
}

// mirrorPayout adds a committed wallet draw to the collection's cash pool.
// Failures are logged, never returned.
func (l *Ledger) mirrorPayout(ctx context.Context, collectionID CollectionID, amount decimal.Decimal) {
	err := l.Store.WithTx(ctx, func(s Store) error {
		pool, err := s.GetCashPool(ctx, collectionID)
		if err != nil || pool == nil {
			return err
		}
		pool.TotalPaidOut = pool.TotalPaidOut.Add(amount)
		pool.recomputeRemaining()
		return s.SaveCashPool(ctx, *pool)
	})
	if err != nil {
		l.Logger.Warn("cash pool mirror failed",
			zap.String("collection_id", string(collectionID)),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
	}
}
