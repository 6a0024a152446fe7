package harvest

import (
	"context"

	"github.com/shopspring/decimal"
)

// Observer is notified after a ledger change commits. Implementations must
// not block and must not fail the operation; metrics and caches hang here.
type Observer interface {
	WeighRecorded(ctx context.Context, e WeighEntry)
	WalletChanged(ctx context.Context, w Wallet)
	PayoutCommitted(ctx context.Context, scope Scope, collectionID CollectionID, amount decimal.Decimal, pickers int)
	PayoutRejected(ctx context.Context, scope Scope, err error)
	CollectionSettled(ctx context.Context, c Collection)
}

type NopObserver struct{}

func (NopObserver) WeighRecorded(context.Context, WeighEntry)                                    {}
func (NopObserver) WalletChanged(context.Context, Wallet)                                        {}
func (NopObserver) PayoutCommitted(context.Context, Scope, CollectionID, decimal.Decimal, int) {}
func (NopObserver) PayoutRejected(context.Context, Scope, error)                                  {}
func (NopObserver) CollectionSettled(context.Context, Collection)                                {}

// Observers fans a notification out to each observer in order.
type Observers []Observer

func (o Observers) WeighRecorded(ctx context.Context, e WeighEntry) {
	for _, obs := range o {
		obs.WeighRecorded(ctx, e)
	}
}

func (o Observers) WalletChanged(ctx context.Context, w Wallet) {
	for _, obs := range o {
		obs.WalletChanged(ctx, w)
	}
}

func (o Observers) PayoutCommitted(ctx context.Context, scope Scope, collectionID CollectionID, amount decimal.Decimal, pickers int) {
	for _, obs := range o {
		obs.PayoutCommitted(ctx, scope, collectionID, amount, pickers)
	}
}

func (o Observers) PayoutRejected(ctx context.Context, scope Scope, err error) {
	for _, obs := range o {
		obs.PayoutRejected(ctx, scope, err)
	}
}

func (o Observers) CollectionSettled(ctx context.Context, c Collection) {
	for _, obs := range o {
		obs.CollectionSettled(ctx, c)
	}
}
