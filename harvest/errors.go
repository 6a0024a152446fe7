/*
errors.go - Error types for the harvest ledger

PURPOSE:
  All error types in one place. Every failure is scoped to the single
  requested operation and each kind implies a distinct corrective action,
  so callers (and the UI) must be able to tell them apart.

ERROR CATEGORIES:
  1. ValidationError        - malformed input, rejected before any write
  2. WalletNotFoundError    - payout against an unfunded scope ("add cash first")
  3. InsufficientFundsError - payout would overdraw the wallet, nothing mutated
  4. UnpaidPickersError     - buyer close attempted with pickers still unpaid
  5. RecomputeError         - weigh entry recorded but totals are stale

USAGE:
  Structured errors unwrap to sentinels, so both forms work:

    if errors.Is(err, harvest.ErrInsufficientFunds) { ... }

    var short *harvest.InsufficientFundsError
    if errors.As(err, &short) {
        fmt.Println(short.Shortfall)
    }
*/
package harvest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrWalletNotFound    = errors.New("wallet not found: add cash first")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnpaidPickers     = errors.New("pickers remain unpaid")
	ErrRecompute         = errors.New("recompute failed")

	ErrCollectionNotFound = errors.New("collection not found")
	ErrPickerNotFound     = errors.New("picker not found")

	// ErrCollectionClosed is returned for any financial mutation on a closed collection.
	ErrCollectionClosed = errors.New("collection is closed")

	// ErrConcurrentModification is returned when a store gives up retrying a
	// conflicting transaction.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type WalletNotFoundError struct {
	WalletID WalletID
}

func (e *WalletNotFoundError) Error() string {
	return fmt.Sprintf("wallet %s not found: add cash first", e.WalletID)
}

func (e *WalletNotFoundError) Unwrap() error { return ErrWalletNotFound }

type InsufficientFundsError struct {
	WalletID  WalletID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in wallet %s: available %s, requested %s, shortfall %s",
		e.WalletID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

type UnpaidPickersError struct {
	CollectionID CollectionID
	Unpaid       []PickerID
}

func (e *UnpaidPickersError) Error() string {
	ids := make([]string, len(e.Unpaid))
	for i, id := range e.Unpaid {
		ids[i] = string(id)
	}
	return fmt.Sprintf("collection %s has %d unpaid picker(s): %s",
		e.CollectionID, len(e.Unpaid), strings.Join(ids, ", "))
}

func (e *UnpaidPickersError) Unwrap() error { return ErrUnpaidPickers }

// RecomputeError means the weigh entry is durable but the totals are stale.
// Retry the recompute, do not resubmit the weight.
type RecomputeError struct {
	CollectionID CollectionID
	PickerID     PickerID
	EntryID      WeighEntryID
	Err          error
}

func (e *RecomputeError) Error() string {
	return fmt.Sprintf("recompute failed for picker %s in collection %s: %v",
		e.PickerID, e.CollectionID, e.Err)
}

func (e *RecomputeError) Unwrap() []error { return []error{ErrRecompute, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can correct the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrUnpaidPickers) ||
		errors.Is(err, ErrCollectionClosed)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrPickerNotFound)
}

// IsRetryable returns true if the same call might succeed unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrRecompute)
}
