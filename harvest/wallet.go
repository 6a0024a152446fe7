/*
wallet.go - Shared cash wallet and transactional payouts

PURPOSE:
  One wallet per (company, project, crop) funds picker payouts for every
  collection of that crop. Two supervisors paying from different collections
  at the same moment draw on the same balance, so every draw is a single
  read-verify-write inside TxStore.WithTx.

INVARIANT:
  wallet.CurrentBalance == CashReceivedTotal - CashPaidOutTotal >= 0
  in every committed state. A draw that would break it fails with
  InsufficientFundsError and writes nothing.

OPERATIONS:
  TopUpHarvestWallet:  create-or-increment (additive)
  ApplyCashPayment:    ad-hoc draw for a collection
  PayPickersBatch:     draw the sum of unpaid pickers' pay, write a PaymentBatch,
                       mark each picker paid, all in one transaction
  PayPicker:           draw one picker's pay and mark them paid
  MarkPickerCashPaid:  mark paid without touching the wallet or writing a batch

AFTER COMMIT (best effort, never fails the call):
  - mirror the draw into the collection's CashPool (cashpool.go)
  - refresh the collection's pickers-paid flag (settlement.go)
  - notify the Observer

USAGE RECORDS:
  Each draw also adds to UsageRecord{walletID_collectionID}, answering "how
  much of the shared wallet did this collection consume".
*/
package harvest

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TopUpHarvestWallet adds cash to the scope's wallet, creating it if absent.
func (l *Ledger) TopUpHarvestWallet(ctx context.Context, scope Scope, amount decimal.Decimal, by Actor) (*Wallet, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	var out Wallet
	err := l.Store.WithTx(ctx, func(s Store) error {
		now := l.Now()
		w, err := s.GetWallet(ctx, scope.WalletID())
		if err != nil {
			return err
		}
		if w == nil {
			w = &Wallet{
				ID:                scope.WalletID(),
				CompanyID:         scope.CompanyID,
				ProjectID:         scope.ProjectID,
				CropType:          scope.CropType,
				CashReceivedTotal: decimal.Zero,
				CashPaidOutTotal:  decimal.Zero,
				CurrentBalance:    decimal.Zero,
			}
		}
		w.CashReceivedTotal = w.CashReceivedTotal.Add(amount)
		w.CurrentBalance = w.CurrentBalance.Add(amount)
		w.LastUpdatedAt = now
		out = *w
		return s.SaveWallet(ctx, *w)
	})
	if err != nil {
		return nil, err
	}

	l.Logger.Info("wallet topped up",
		zap.String("wallet_id", string(out.ID)),
		zap.String("amount", amount.String()),
		zap.String("balance", out.CurrentBalance.String()),
		zap.String("by", by.ID),
	)
	l.Observer.WalletChanged(ctx, out)
	return &out, nil
}

// ApplyCashPayment draws amount from the scope's wallet on behalf of a collection.
func (l *Ledger) ApplyCashPayment(ctx context.Context, scope Scope, collectionID CollectionID, amount decimal.Decimal) (*Wallet, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if collectionID == "" {
		return nil, &ValidationError{Field: "collection_id", Message: "is required"}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	var out *Wallet
	err := l.Store.WithTx(ctx, func(s Store) error {
		c, err := collectionInScope(ctx, s, collectionID, scope)
		if err != nil {
			return err
		}
		if c.Status == StatusClosed {
			return ErrCollectionClosed
		}
		out, err = draw(ctx, s, scope, collectionID, amount, l.Now())
		return err
	})
	if err != nil {
		return nil, l.payoutFailed(ctx, scope, collectionID, err)
	}

	l.payoutCommitted(ctx, scope, collectionID, *out, amount, 0)
	return out, nil
}

// SkippedPicker explains why a requested picker was not part of a batch.
type SkippedPicker struct {
	PickerID PickerID
	Reason   string
}

const (
	SkipAlreadyPaid = "already_paid"
	SkipZeroPay     = "zero_pay"
)

// BatchResult reports what a batch payout did. Batch is nil when every
// requested picker was skipped, in which case the wallet was not touched.
type BatchResult struct {
	Batch   *PaymentBatch
	Paid    []PickerID
	Skipped []SkippedPicker
	Wallet  *Wallet
}

// PayPickersBatch pays every unpaid, non-zero picker among pickerIDs as one
// atomic unit. Already-paid and zero-pay pickers are skipped and reported.
func (l *Ledger) PayPickersBatch(ctx context.Context, scope Scope, collectionID CollectionID, pickerIDs []PickerID, by Actor) (*BatchResult, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if collectionID == "" {
		return nil, &ValidationError{Field: "collection_id", Message: "is required"}
	}
	pickerIDs = dedupePickerIDs(pickerIDs)
	if len(pickerIDs) == 0 {
		return nil, &ValidationError{Field: "picker_ids", Message: "at least one picker is required"}
	}

	var result *BatchResult
	err := l.Store.WithTx(ctx, func(s Store) error {
		// Rebuilt on every attempt; the store may rerun fn after a conflict.
		result = &BatchResult{}
		now := l.Now()

		c, err := collectionInScope(ctx, s, collectionID, scope)
		if err != nil {
			return err
		}
		if c.Status == StatusClosed {
			return ErrCollectionClosed
		}

		var payable []Picker
		total := decimal.Zero
		for _, id := range pickerIDs {
			p, err := s.GetPicker(ctx, id)
			if err != nil {
				return err
			}
			if p.CollectionID != collectionID {
				return &ValidationError{Field: "picker_ids", Message: string(id) + " does not belong to collection " + string(collectionID)}
			}
			switch {
			case p.IsPaid:
				result.Skipped = append(result.Skipped, SkippedPicker{PickerID: id, Reason: SkipAlreadyPaid})
			case !p.TotalPay.IsPositive():
				result.Skipped = append(result.Skipped, SkippedPicker{PickerID: id, Reason: SkipZeroPay})
			default:
				payable = append(payable, *p)
				total = total.Add(p.TotalPay)
			}
		}
		if len(payable) == 0 {
			return nil
		}

		w, err := draw(ctx, s, scope, collectionID, total, now)
		if err != nil {
			return err
		}
		result.Wallet = w

		batch := PaymentBatch{
			ID:           PaymentBatchID(l.NewID()),
			CompanyID:    c.CompanyID,
			CollectionID: collectionID,
			TotalAmount:  total,
			PaidAt:       now,
			PaidBy:       by.ID,
		}
		for _, p := range payable {
			batch.PickerIDs = append(batch.PickerIDs, p.ID)
		}
		// The batch exists before any picker points at it.
		if err := s.CreatePaymentBatch(ctx, batch); err != nil {
			return err
		}
		result.Batch = &batch

		for _, p := range payable {
			batchID := batch.ID
			paidAt := now
			p.IsPaid = true
			p.PaidAt = &paidAt
			p.PaymentBatchID = &batchID
			if err := s.UpdatePicker(ctx, p); err != nil {
				return err
			}
			result.Paid = append(result.Paid, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, l.payoutFailed(ctx, scope, collectionID, err)
	}

	if result.Batch == nil {
		l.Logger.Info("batch payout skipped every picker",
			zap.String("collection_id", string(collectionID)),
			zap.Int("skipped", len(result.Skipped)),
		)
		return result, nil
	}

	l.Logger.Info("batch payout committed",
		zap.String("batch_id", string(result.Batch.ID)),
		zap.Int("paid", len(result.Paid)),
		zap.Int("skipped", len(result.Skipped)),
		zap.String("by", by.ID),
	)
	l.payoutCommitted(ctx, scope, collectionID, *result.Wallet, result.Batch.TotalAmount, len(result.Paid))
	return result, nil
}

// PayPicker draws one picker's pay from the wallet and marks them paid.
// A zero-pay picker is marked paid without touching the wallet.
func (l *Ledger) PayPicker(ctx context.Context, scope Scope, pickerID PickerID, by Actor) (*Picker, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if pickerID == "" {
		return nil, &ValidationError{Field: "picker_id", Message: "is required"}
	}

	var (
		out    *Picker
		wallet *Wallet
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		wallet = nil
		now := l.Now()
		p, err := s.GetPicker(ctx, pickerID)
		if err != nil {
			return err
		}
		c, err := collectionInScope(ctx, s, p.CollectionID, scope)
		if err != nil {
			return err
		}
		if c.Status == StatusClosed {
			return ErrCollectionClosed
		}
		if p.IsPaid {
			return &ValidationError{Field: "picker_id", Message: "picker is already paid"}
		}
		if p.TotalPay.IsPositive() {
			if wallet, err = draw(ctx, s, scope, p.CollectionID, p.TotalPay, now); err != nil {
				return err
			}
		}
		p.IsPaid = true
		p.PaidAt = &now
		out = p
		return s.UpdatePicker(ctx, *p)
	})
	if err != nil {
		return nil, l.payoutFailed(ctx, scope, "", err)
	}

	l.Logger.Info("picker paid",
		zap.String("picker_id", string(out.ID)),
		zap.String("amount", out.TotalPay.String()),
		zap.String("by", by.ID),
	)
	if wallet != nil {
		l.payoutCommitted(ctx, scope, out.CollectionID, *wallet, out.TotalPay, 1)
	} else {
		l.refreshAfterPayout(ctx, out.CollectionID)
	}
	return out, nil
}

// MarkPickerCashPaid flags a picker as paid without a wallet draw or batch
// record. Marking an already-paid picker is a no-op.
func (l *Ledger) MarkPickerCashPaid(ctx context.Context, pickerID PickerID) (*Picker, error) {
	if pickerID == "" {
		return nil, &ValidationError{Field: "picker_id", Message: "is required"}
	}
	var out *Picker
	err := l.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPicker(ctx, pickerID)
		if err != nil {
			return err
		}
		out = p
		if p.IsPaid {
			return nil
		}
		now := l.Now()
		p.IsPaid = true
		p.PaidAt = &now
		return s.UpdatePicker(ctx, *p)
	})
	if err != nil {
		return nil, err
	}
	l.refreshAfterPayout(ctx, out.CollectionID)
	return out, nil
}

// =============================================================================
// DRAW - the single read-verify-write; callers run it inside WithTx
// =============================================================================

func draw(ctx context.Context, s Store, scope Scope, collectionID CollectionID, amount decimal.Decimal, now time.Time) (*Wallet, error) {
	w, err := s.GetWallet(ctx, scope.WalletID())
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &WalletNotFoundError{WalletID: scope.WalletID()}
	}
	if w.CurrentBalance.LessThan(amount) {
		return nil, &InsufficientFundsError{
			WalletID:  w.ID,
			Available: w.CurrentBalance,
			Requested: amount,
			Shortfall: amount.Sub(w.CurrentBalance),
		}
	}

	usage, err := s.GetUsage(ctx, scope.UsageID(collectionID))
	if err != nil {
		return nil, err
	}
	if usage == nil {
		usage = &UsageRecord{
			ID:            scope.UsageID(collectionID),
			CompanyID:     scope.CompanyID,
			ProjectID:     scope.ProjectID,
			CropType:      scope.CropType,
			WalletID:      w.ID,
			CollectionID:  collectionID,
			TotalDeducted: decimal.Zero,
		}
	}

	w.CashPaidOutTotal = w.CashPaidOutTotal.Add(amount)
	w.CurrentBalance = w.CashReceivedTotal.Sub(w.CashPaidOutTotal)
	w.LastUpdatedAt = now
	usage.TotalDeducted = usage.TotalDeducted.Add(amount)
	usage.LastUpdatedAt = now

	if err := s.SaveWallet(ctx, *w); err != nil {
		return nil, err
	}
	if err := s.SaveUsage(ctx, *usage); err != nil {
		return nil, err
	}
	return w, nil
}

func (l *Ledger) payoutCommitted(ctx context.Context, scope Scope, collectionID CollectionID, w Wallet, amount decimal.Decimal, pickers int) {
	l.Observer.WalletChanged(ctx, w)
	l.Observer.PayoutCommitted(ctx, scope, collectionID, amount, pickers)
	l.mirrorPayout(ctx, collectionID, amount)
	if pickers > 0 {
		l.refreshAfterPayout(ctx, collectionID)
	}
}

func (l *Ledger) payoutFailed(ctx context.Context, scope Scope, collectionID CollectionID, err error) error {
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrWalletNotFound) {
		l.Logger.Warn("payout rejected",
			zap.String("wallet_id", string(scope.WalletID())),
			zap.String("collection_id", string(collectionID)),
			zap.Error(err),
		)
		l.Observer.PayoutRejected(ctx, scope, err)
	}
	return err
}

func dedupePickerIDs(ids []PickerID) []PickerID {
	seen := make(map[PickerID]bool, len(ids))
	out := make([]PickerID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
