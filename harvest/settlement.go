/*
settlement.go - Collection settlement state machine

STATES:
  ┌────────────┐  buyer price   ┌──────┐  buyer paid + all pickers paid  ┌────────┐
  │ collecting │ ─────────────▶ │ sold │ ──────────────────────────────▶ │ closed │
  └────────────┘                └──────┘                                 └────────┘
        │                                                                     ▲
        └──────────────── buyer paid + all pickers paid ──────────────────────┘

  payout_complete is a display status only: every picker paid, buyer not yet
  closed. It is derived from the persisted PickersPaid flag.

TRANSITIONS:
  SetBuyerPriceAndMaybeClose(id, price, false):
    revenue = totalHarvestKg × price, profit = revenue − totalPickerCost,
    status = sold. No picker needs to be paid. May be repeated to correct
    the price while the collection is not closed.
  SetBuyerPriceAndMaybeClose(id, price, true):
    as above, then requires every picker paid (UnpaidPickersError
    otherwise), stamps BuyerPaidAt and sets status = closed.
  closed is terminal: further settlement calls return ErrCollectionClosed.

SALES LEDGER:
  On the first closure of a collection whose crop is in Config.SaleCrops,
  one HarvestRecord and one completed SaleRecord are written in the same
  transaction as the closure. Emission requires BuyerPaidAt to have been
  unset when the transaction read the collection, so it happens once.
*/
package harvest

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SetBuyerPriceAndMaybeClose records the buyer price and, when markBuyerPaid
// is set, closes the collection.
func (l *Ledger) SetBuyerPriceAndMaybeClose(ctx context.Context, collectionID CollectionID, pricePerKgBuyer decimal.Decimal, markBuyerPaid bool) (*Collection, error) {
	if collectionID == "" {
		return nil, &ValidationError{Field: "collection_id", Message: "is required"}
	}
	if !pricePerKgBuyer.IsPositive() {
		return nil, &ValidationError{Field: "price_per_kg_buyer", Message: "must be positive"}
	}

	var (
		out         Collection
		saleEmitted bool
		salesMissed bool
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		saleEmitted, salesMissed = false, false
		now := l.Now()

		c, err := s.GetCollection(ctx, collectionID)
		if err != nil {
			return err
		}
		if c.Status == StatusClosed {
			return ErrCollectionClosed
		}

		if markBuyerPaid {
			pickers, err := s.ListPickers(ctx, collectionID)
			if err != nil {
				return err
			}
			var unpaid []PickerID
			for _, p := range pickers {
				if !p.IsPaid {
					unpaid = append(unpaid, p.ID)
				}
			}
			if len(unpaid) > 0 {
				return &UnpaidPickersError{CollectionID: collectionID, Unpaid: unpaid}
			}
		}

		alreadyPaid := c.BuyerPaidAt != nil
		price := pricePerKgBuyer
		c.PricePerKgBuyer = &price
		c.TotalRevenue = c.TotalHarvestKg.Mul(price)
		c.Profit = c.TotalRevenue.Sub(c.TotalPickerCost)
		c.Status = StatusSold
		c.UpdatedAt = now
		if markBuyerPaid {
			c.Status = StatusClosed
			c.PickersPaid = true
			c.BuyerPaidAt = &now
		}
		if err := s.UpdateCollection(ctx, *c); err != nil {
			return err
		}
		out = *c

		if !markBuyerPaid || alreadyPaid || !l.Config.emitsSale(c.CropType) {
			return nil
		}
		sales, ok := s.(SalesStore)
		if !ok {
			salesMissed = true
			return nil
		}
		if err := l.emitSale(ctx, sales, c, now); err != nil {
			return err
		}
		saleEmitted = true
		return nil
	})
	if err != nil {
		if IsClientError(err) {
			l.Logger.Info("settlement rejected",
				zap.String("collection_id", string(collectionID)),
				zap.Error(err),
			)
		}
		return nil, err
	}

	l.Logger.Info("collection settled",
		zap.String("collection_id", string(out.ID)),
		zap.String("status", string(out.Status)),
		zap.String("revenue", out.TotalRevenue.String()),
		zap.String("profit", out.Profit.String()),
		zap.Bool("sale_emitted", saleEmitted),
	)
	if salesMissed {
		l.Logger.Warn("store has no sales ledger, sale not emitted",
			zap.String("collection_id", string(out.ID)),
		)
	}
	if out.Status == StatusClosed {
		l.Observer.CollectionSettled(ctx, out)
	}
	return &out, nil
}

func (l *Ledger) emitSale(ctx context.Context, sales SalesStore, c *Collection, now time.Time) error {
	harvestRec := HarvestRecord{
		ID:           l.NewID(),
		CompanyID:    c.CompanyID,
		ProjectID:    c.ProjectID,
		CropType:     c.CropType,
		CollectionID: c.ID,
		Quantity:     c.TotalHarvestKg,
		Unit:         UnitKg,
		Date:         c.HarvestDate,
		CreatedAt:    now,
	}
	if err := sales.AppendHarvestRecord(ctx, harvestRec); err != nil {
		return err
	}
	return sales.AppendSale(ctx, SaleRecord{
		ID:           l.NewID(),
		CompanyID:    c.CompanyID,
		ProjectID:    c.ProjectID,
		CropType:     c.CropType,
		CollectionID: c.ID,
		HarvestID:    harvestRec.ID,
		Quantity:     c.TotalHarvestKg,
		Unit:         UnitKg,
		UnitPrice:    *c.PricePerKgBuyer,
		TotalAmount:  c.TotalRevenue,
		Status:       SaleCompleted,
		Date:         c.HarvestDate,
		CreatedAt:    now,
	})
}

// RefreshCollectionStatus persists whether every picker is paid and returns
// the collection's display status. A collection with no pickers is never
// reported as payout_complete.
func (l *Ledger) RefreshCollectionStatus(ctx context.Context, collectionID CollectionID) (CollectionStatus, error) {
	var out Collection
	err := l.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetCollection(ctx, collectionID)
		if err != nil {
			return err
		}
		pickers, err := s.ListPickers(ctx, collectionID)
		if err != nil {
			return err
		}
		allPaid := len(pickers) > 0
		for _, p := range pickers {
			if !p.IsPaid {
				allPaid = false
				break
			}
		}
		out = *c
		if c.Status == StatusClosed || c.PickersPaid == allPaid {
			return nil
		}
		c.PickersPaid = allPaid
		c.UpdatedAt = l.Now()
		out = *c
		return s.UpdateCollection(ctx, *c)
	})
	if err != nil {
		return "", err
	}
	return out.DisplayStatus(), nil
}

func (l *Ledger) refreshAfterPayout(ctx context.Context, collectionID CollectionID) {
	if _, err := l.RefreshCollectionStatus(ctx, collectionID); err != nil {
		l.Logger.Warn("status refresh after payout failed",
			zap.String("collection_id", string(collectionID)),
			zap.Error(err),
		)
	}
}

// SweepReport summarizes one ReconcileOpenCollections pass.
type SweepReport struct {
	Checked int
	Failed  []CollectionID
}

// ReconcileOpenCollections recomputes totals and refreshes the status of
// every open collection. It heals aggregates left stale by a RecomputeError
// and pickers-paid flags left stale by a failed post-payout refresh. One
// collection failing does not stop the sweep.
func (l *Ledger) ReconcileOpenCollections(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	open, err := l.Store.ListOpenCollections(ctx)
	if err != nil {
		return report, err
	}
	for _, c := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		_, err := l.Recompute(ctx, c.ID)
		if errors.Is(err, ErrCollectionClosed) {
			continue
		}
		if err != nil {
			l.Logger.Warn("sweep recompute failed", zap.String("collection_id", string(c.ID)), zap.Error(err))
			report.Failed = append(report.Failed, c.ID)
			continue
		}
		if _, err := l.RefreshCollectionStatus(ctx, c.ID); err != nil {
			l.Logger.Warn("sweep status refresh failed", zap.String("collection_id", string(c.ID)), zap.Error(err))
			report.Failed = append(report.Failed, c.ID)
		}
	}
	return report, nil
}
