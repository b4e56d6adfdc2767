package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order, open item or invoice does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when the caller's expected version no longer
	// matches the stored row. The caller should reload and retry.
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError reports a malformed or missing financial field. It is always
// raised before any state is mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// JurisdictionAmbiguityError means the state/country data cannot decide between
// intra-state (CGST+SGST) and inter-state (IGST) treatment.
type JurisdictionAmbiguityError struct {
	SellerState       string
	CounterpartyState string
	Reason            string
}

func (e *JurisdictionAmbiguityError) Error() string {
	return fmt.Sprintf("cannot determine GST jurisdiction (seller state %q, counterparty state %q): %s",
		e.SellerState, e.CounterpartyState, e.Reason)
}

// ReconciliationConflictError is reported when a payment cannot be applied as
// given: it overshoots the outstanding amount by more than the tolerance, or the
// linked order is in a state that does not permit settlement.
type ReconciliationConflictError struct {
	Kind        ItemKind
	ItemID      int
	Outstanding decimal.Decimal
	Paid        decimal.Decimal
	Tolerance   decimal.Decimal
	Reason      string
}

func (e *ReconciliationConflictError) Error() string {
	return fmt.Sprintf("%s %d cannot be reconciled: %s (outstanding %s, paid %s, tolerance %s)",
		e.Kind, e.ItemID, e.Reason,
		e.Outstanding.StringFixed(2), e.Paid.StringFixed(2), e.Tolerance.StringFixed(2))
}

// InvalidTransitionError is returned for a lifecycle move the state machine forbids.
type InvalidTransitionError struct {
	OrderID int
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// PersistenceError wraps a store failure. Nothing was committed; the caller may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable is always true: the operation left no partial writes behind.
func (e *PersistenceError) Retryable() bool { return true }

// storeErr wraps err as a PersistenceError unless it already carries a domain meaning.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		ce *ReconciliationConflictError
		te *InvalidTransitionError
		je *JurisdictionAmbiguityError
		pe *PersistenceError
	)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict),
		errors.As(err, &ve), errors.As(err, &ce), errors.As(err, &te), errors.As(err, &je), errors.As(err, &pe):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// StaleRateWarning is attached to a payment recorded without a fresh exchange
// rate. It is not fatal; the entry is tagged so reports can flag it.
type StaleRateWarning struct {
	Currency     Currency        `json:"currency"`
	FallbackRate decimal.Decimal `json:"fallback_rate"`
	Source       string          `json:"source"` // "last_payment" or "recorded"
}

func (w *StaleRateWarning) Error() string {
	return fmt.Sprintf("no exchange rate supplied for %s; used %s rate %s",
		w.Currency, w.Source, w.FallbackRate.String())
}
