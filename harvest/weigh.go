/*
weigh.go - Weigh ledger and picker/collection aggregators

PURPOSE:
  WeighEntry is an event log; picker and collection totals are a view
  materialized from it. Every recompute re-reads the full ledger, so two
  concurrent weigh-ins for the same picker converge on the correct total no
  matter which recompute lands last.

AGGREGATION:
  picker.TotalKg          = Σ entry.WeightKg
  picker.TotalPay         = round(picker.TotalKg × collection.PricePerKgPicker)
  collection.TotalHarvestKg  = Σ picker.TotalKg
  collection.TotalPickerCost = Σ picker.TotalPay
  collection.TotalRevenue    = TotalHarvestKg × PricePerKgBuyer, once priced
  collection.Profit          = TotalRevenue - TotalPickerCost

  The picker price is read from the collection at recompute time, never
  cached on the picker, so a price correction reprices unpaid pickers.

FAILURE SEMANTICS:
  The entry is appended first. Picker and collection aggregates are then
  written together in one transaction. If that transaction fails the entry
  is kept and a RecomputeError is returned; call Recompute to retry.

  Closed collections are frozen. Every recompute transaction re-reads the
  status and returns ErrCollectionClosed rather than touching the totals, so
  a weigh-in that loses a race with closure stays in the log uncounted.
*/
package harvest

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecordWeighEntry appends a weight measurement and recomputes the picker
// and collection totals.
func (l *Ledger) RecordWeighEntry(ctx context.Context, pickerID PickerID, collectionID CollectionID, weightKg decimal.Decimal, tripNumber int) (*WeighEntry, error) {
	if pickerID == "" {
		return nil, &ValidationError{Field: "picker_id", Message: "is required"}
	}
	if collectionID == "" {
		return nil, &ValidationError{Field: "collection_id", Message: "is required"}
	}
	if !weightKg.IsPositive() {
		return nil, &ValidationError{Field: "weight_kg", Message: "must be positive"}
	}
	if tripNumber < 0 {
		return nil, &ValidationError{Field: "trip_number", Message: "must not be negative"}
	}

	c, err := l.Store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusClosed {
		return nil, ErrCollectionClosed
	}
	p, err := l.Store.GetPicker(ctx, pickerID)
	if err != nil {
		return nil, err
	}
	if p.CollectionID != collectionID {
		return nil, &ValidationError{Field: "picker_id", Message: "does not belong to collection " + string(collectionID)}
	}
	if p.IsPaid {
		return nil, &ValidationError{Field: "picker_id", Message: "picker is already paid"}
	}

	entry := WeighEntry{
		ID:           WeighEntryID(l.NewID()),
		CompanyID:    c.CompanyID,
		PickerID:     pickerID,
		CollectionID: collectionID,
		WeightKg:     weightKg,
		TripNumber:   tripNumber,
		RecordedAt:   l.Now(),
	}
	if err := l.Store.AppendWeighEntry(ctx, entry); err != nil {
		return nil, err
	}
	l.Observer.WeighRecorded(ctx, entry)

	if err := l.Store.WithTx(ctx, func(s Store) error {
		return recomputePickerAndCollection(ctx, s, collectionID, pickerID)
	}); err != nil {
		if errors.Is(err, ErrCollectionClosed) {
			l.Logger.Warn("weigh entry landed after closure, totals unchanged",
				zap.String("entry_id", string(entry.ID)),
				zap.String("collection_id", string(collectionID)),
			)
			return &entry, ErrCollectionClosed
		}
		l.Logger.Error("recompute after weigh entry failed",
			zap.String("entry_id", string(entry.ID)),
			zap.String("picker_id", string(pickerID)),
			zap.Error(err),
		)
		return &entry, &RecomputeError{CollectionID: collectionID, PickerID: pickerID, EntryID: entry.ID, Err: err}
	}
	return &entry, nil
}

// RecomputePicker re-derives one picker and its collection from the weigh ledger.
func (l *Ledger) RecomputePicker(ctx context.Context, pickerID PickerID) (*Picker, error) {
	var out *Picker
	err := l.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPicker(ctx, pickerID)
		if err != nil {
			return err
		}
		if err := recomputePickerAndCollection(ctx, s, p.CollectionID, pickerID); err != nil {
			return err
		}
		out, err = s.GetPicker(ctx, pickerID)
		return err
	})
	if err != nil {
		return nil, l.recomputeFailure("", pickerID, err)
	}
	return out, nil
}

// RecomputeCollection re-sums the collection from its pickers' stored totals.
func (l *Ledger) RecomputeCollection(ctx context.Context, collectionID CollectionID) (*Collection, error) {
	var out *Collection
	err := l.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetCollection(ctx, collectionID)
		if err != nil {
			return err
		}
		if c.Status == StatusClosed {
			return ErrCollectionClosed
		}
		out, err = recomputeCollection(ctx, s, c)
		return err
	})
	if err != nil {
		return nil, l.recomputeFailure(collectionID, "", err)
	}
	return out, nil
}

// Recompute re-derives every picker of the collection and then the collection.
// This is the retry path for a RecomputeError.
func (l *Ledger) Recompute(ctx context.Context, collectionID CollectionID) (*Collection, error) {
	var out *Collection
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		out, err = recomputeAll(ctx, s, collectionID)
		return err
	})
	if err != nil {
		return nil, l.recomputeFailure(collectionID, "", err)
	}
	return out, nil
}

// CorrectPickerPrice changes the collection's picker price and reprices every
// picker. Only allowed before any picker has been paid.
func (l *Ledger) CorrectPickerPrice(ctx context.Context, collectionID CollectionID, price decimal.Decimal) (*Collection, error) {
	if !price.IsPositive() {
		return nil, &ValidationError{Field: "price_per_kg_picker", Message: "must be positive"}
	}
	var out *Collection
	err := l.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetCollection(ctx, collectionID)
		if err != nil {
			return err
		}
		if c.Status == StatusClosed {
			return ErrCollectionClosed
		}
		pickers, err := s.ListPickers(ctx, collectionID)
		if err != nil {
			return err
		}
		for _, p := range pickers {
			if p.IsPaid {
				return &ValidationError{Field: "price_per_kg_picker", Message: "cannot change after pickers have been paid"}
			}
		}
		c.PricePerKgPicker = price
		c.UpdatedAt = l.Now()
		if err := s.UpdateCollection(ctx, *c); err != nil {
			return err
		}
		out, err = recomputeAll(ctx, s, collectionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Logger.Info("picker price corrected",
		zap.String("collection_id", string(collectionID)),
		zap.String("price_per_kg_picker", price.String()),
	)
	return out, nil
}

func (l *Ledger) recomputeFailure(collectionID CollectionID, pickerID PickerID, err error) error {
	if IsNotFound(err) || IsClientError(err) {
		return err
	}
	return &RecomputeError{CollectionID: collectionID, PickerID: pickerID, Err: err}
}

// =============================================================================
// AGGREGATORS - pure functions of the weigh ledger, run inside a transaction
// =============================================================================

func recomputePickerAndCollection(ctx context.Context, s Store, collectionID CollectionID, pickerID PickerID) error {
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if c.Status == StatusClosed {
		return ErrCollectionClosed
	}
	if _, err := recomputePicker(ctx, s, c, pickerID); err != nil {
		return err
	}
	_, err = recomputeCollection(ctx, s, c)
	return err
}

func recomputeAll(ctx context.Context, s Store, collectionID CollectionID) (*Collection, error) {
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusClosed {
		return nil, ErrCollectionClosed
	}
	pickers, err := s.ListPickers(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	for _, p := range pickers {
		if _, err := recomputePicker(ctx, s, c, p.ID); err != nil {
			return nil, err
		}
	}
	return recomputeCollection(ctx, s, c)
}

// recomputePicker writes the picker only when a derived field changed.
func recomputePicker(ctx context.Context, s Store, c *Collection, pickerID PickerID) (*Picker, error) {
	p, err := s.GetPicker(ctx, pickerID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ListWeighEntries(ctx, pickerID)
	if err != nil {
		return nil, err
	}

	totalKg := decimal.Zero
	for _, e := range entries {
		totalKg = totalKg.Add(e.WeightKg)
	}
	totalPay := PickerPay(totalKg, c.PricePerKgPicker)

	if p.TotalKg.Equal(totalKg) && p.TotalPay.Equal(totalPay) {
		return p, nil
	}
	p.TotalKg = totalKg
	p.TotalPay = totalPay
	if err := s.UpdatePicker(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

func recomputeCollection(ctx context.Context, s Store, c *Collection) (*Collection, error) {
	pickers, err := s.ListPickers(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	totalKg := decimal.Zero
	totalCost := decimal.Zero
	for _, p := range pickers {
		totalKg = totalKg.Add(p.TotalKg)
		totalCost = totalCost.Add(p.TotalPay)
	}

	revenue, profit := c.TotalRevenue, c.Profit
	if c.PricePerKgBuyer != nil {
		revenue = totalKg.Mul(*c.PricePerKgBuyer)
		profit = revenue.Sub(totalCost)
	}

	if c.TotalHarvestKg.Equal(totalKg) && c.TotalPickerCost.Equal(totalCost) &&
		c.TotalRevenue.Equal(revenue) && c.Profit.Equal(profit) {
		return c, nil
	}
	c.TotalHarvestKg = totalKg
	c.TotalPickerCost = totalCost
	c.TotalRevenue = revenue
	c.Profit = profit
	if err := s.UpdateCollection(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

// PickerPay is round(totalKg × pricePerKg) to whole currency units.
func PickerPay(totalKg, pricePerKg decimal.Decimal) decimal.Decimal {
	return totalKg.Mul(pricePerKg).Round(0)
}
