package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReconcileOutcome is the single effect a reconciliation had on an open item.
type ReconcileOutcome string

const (
	OutcomeSettled        ReconcileOutcome = "settled"
	OutcomeCarriedForward ReconcileOutcome = "carried_forward"
	OutcomeWrittenOff     ReconcileOutcome = "written_off"
	OutcomeRemoved        ReconcileOutcome = "removed" // deleted without payment
)

// ReconcileRequest applies a payment to one open item. It is the confirm step of
// the propose/confirm rate flow: Rate is the rate the finance user confirmed.
type ReconcileRequest struct {
	Kind            ItemKind
	ItemID          int
	AmountPaid      decimal.Decimal  // in the item's currency
	Rate            *decimal.Decimal // nil falls back to the last known rate
	Resolution      Resolution       // required when the payment is partial
	PaidAt          time.Time
	Reason          string
	SettledBy       string
	ExpectedVersion *int
}

// OrderAdjustment is the change a write-off makes to the linked order.
type OrderAdjustment struct {
	OrderID          int             `json:"order_id"`
	PreviousTotal    decimal.Decimal `json:"previous_total"`
	NewTotal         decimal.Decimal `json:"new_total"`
	Breakdown        TaxBreakdown    `json:"breakdown"`
	AdjustmentReason string          `json:"adjustment_reason"`
}

// ReconcilePlan is the staged result of a reconciliation; nothing is written
// until the caller commits it as a whole.
type ReconcilePlan struct {
	Outcome ReconcileOutcome
	Entry   PaymentEntry
	Warning *StaleRateWarning
	// Item is the item after the payment. For settled and written-off outcomes it
	// is the final state recorded in the audit log, and the item is deleted.
	Item OpenItem
	// OrderPaymentStatus is the new payment status of the linked order, if any.
	OrderPaymentStatus PaymentStatus
	OrderAmountPaid    decimal.Decimal
	Adjustment         *OrderAdjustment
}

// Removes reports whether the plan deletes the open item.
func (p ReconcilePlan) Removes() bool {
	return p.Outcome == OutcomeSettled || p.Outcome == OutcomeWrittenOff
}

// ReconcileResult is returned to callers after commit.
type ReconcileResult struct {
	Outcome     ReconcileOutcome  `json:"outcome"`
	Closed      bool              `json:"closed"`
	Item        *OpenItem         `json:"item,omitempty"` // nil when the item was removed
	Entry       PaymentEntry      `json:"entry"`
	FxImpact    decimal.Decimal   `json:"fx_impact"`
	Warning     *StaleRateWarning `json:"stale_rate_warning,omitempty"`
	Adjustment  *OrderAdjustment  `json:"order_adjustment,omitempty"`
	OrderStatus PaymentStatus     `json:"order_payment_status,omitempty"`
}

// PlanReconciliation decides what a payment does to item. order is the linked
// order for receivables (nil when unlinked). Exactly one of settled,
// carried-forward or written-off is planned.
func PlanReconciliation(item OpenItem, order *Order, req ReconcileRequest, tolerance decimal.Decimal) (ReconcilePlan, error) {
	if req.Kind != "" && req.Kind != item.Kind {
		return ReconcilePlan{}, newValidationError("kind", "item %d is a %s, not a %s", item.ID, item.Kind, req.Kind)
	}
	if !req.AmountPaid.IsPositive() {
		return ReconcilePlan{}, newValidationError("amount_paid", "must be positive, got %s", req.AmountPaid.String())
	}
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	outstanding := item.Outstanding()
	conflict := func(reason string) error {
		return &ReconciliationConflictError{
			Kind: item.Kind, ItemID: item.ID,
			Outstanding: outstanding, Paid: req.AmountPaid, Tolerance: tolerance,
			Reason: reason,
		}
	}

	if order != nil && !order.Status.PermitsSettlement() {
		return ReconcilePlan{}, conflict(fmt.Sprintf("linked order %d is %s", order.ID, order.Status))
	}
	if !outstanding.IsPositive() {
		return ReconcilePlan{}, conflict("nothing is outstanding")
	}
	if req.AmountPaid.Sub(outstanding).GreaterThan(tolerance) {
		return ReconcilePlan{}, conflict("payment exceeds the outstanding amount")
	}

	entry, warning, err := RecordPayment(item.Snapshot(), item.Kind, item.PaymentHistory, req.Rate, req.AmountPaid, req.PaidAt)
	if err != nil {
		return ReconcilePlan{}, err
	}

	plan := ReconcilePlan{Entry: entry, Warning: warning}
	next := item
	next.PaymentHistory = item.PaymentHistory.Append(entry)
	paidAt := req.PaidAt
	next.LastPaymentDate = &paidAt

	full := !req.AmountPaid.LessThan(outstanding)
	switch {
	case full:
		plan.Outcome = OutcomeSettled
		next.BalanceAmount = decimal.Zero
		next.Amount = decimal.Zero
		next.Status = PaymentPaid
		plan.OrderPaymentStatus = PaymentPaid

	case req.Resolution == ResolutionCarryForward:
		plan.Outcome = OutcomeCarriedForward
		next.BalanceAmount = outstanding.Sub(req.AmountPaid)
		next.Amount = roundMoney(next.BalanceAmount.Mul(rateOrPar(item.ExchangeRate)))
		next.Status = PaymentPending
		if item.Kind == KindPayable {
			next.Status = PaymentPartial
		}
		plan.OrderPaymentStatus = PaymentPartial

	case req.Resolution == ResolutionWriteOff:
		plan.Outcome = OutcomeWrittenOff
		shortfall := outstanding.Sub(req.AmountPaid)
		next.BalanceAmount = decimal.Zero
		next.Amount = decimal.Zero
		next.Status = PaymentPaid
		if req.Reason != "" {
			next.Notes = req.Reason
		}
		plan.OrderPaymentStatus = PaymentPaid
		if order != nil && item.Kind == KindReceivable {
			adj, err := planWriteOff(order, item, shortfall, req.Reason)
			if err != nil {
				return ReconcilePlan{}, err
			}
			plan.Adjustment = adj
		}

	case req.Resolution == ResolutionNone:
		return ReconcilePlan{}, newValidationError("resolution",
			"payment of %s leaves %s of %s outstanding; choose carry_forward or write_off",
			req.AmountPaid.StringFixed(2), outstanding.Sub(req.AmountPaid).StringFixed(2), outstanding.StringFixed(2))

	default:
		return ReconcilePlan{}, newValidationError("resolution", "unknown resolution %q", req.Resolution)
	}

	if order != nil && item.Kind == KindReceivable {
		plan.OrderAmountPaid = order.AmountPaid.Add(entry.AmountINR.Div(rateOrPar(order.ExchangeRate))).Round(2)
	} else {
		plan.OrderPaymentStatus = ""
	}
	plan.Item = next
	return plan, nil
}

// planWriteOff lowers the order total by the unpaid shortfall (converted from the
// item's INR value into the order currency) and re-derives base and taxes so
// final == base + GST + TCS still holds.
func planWriteOff(order *Order, item OpenItem, shortfall decimal.Decimal, reason string) (*OrderAdjustment, error) {
	shortfallINR := shortfall.Mul(rateOrPar(item.ExchangeRate))
	shortfallOrder := shortfallINR.Div(rateOrPar(order.ExchangeRate))
	previous := order.TotalAmount
	if previous.IsZero() {
		previous = order.FinalAmount
	}
	newTotal := roundMoney(previous.Sub(shortfallOrder))
	if !newTotal.IsPositive() {
		return nil, &ReconciliationConflictError{
			Kind: item.Kind, ItemID: item.ID,
			Outstanding: shortfall, Paid: decimal.Zero,
			Reason: fmt.Sprintf("write-off would reduce order %d total to %s", order.ID, newTotal.StringFixed(2)),
		}
	}
	if reason == "" {
		reason = "Partial payment accepted"
	}
	return &OrderAdjustment{
		OrderID:          order.ID,
		PreviousTotal:    previous,
		NewTotal:         newTotal,
		Breakdown:        RederiveTax(BaseForGross(newTotal, order.Breakdown()), order.Breakdown()),
		AdjustmentReason: reason,
	}, nil
}

// applyAdjustment writes a write-off adjustment onto the order.
func (o *Order) applyAdjustment(adj *OrderAdjustment) {
	if o.OriginalAmount == nil {
		prev := adj.PreviousTotal
		o.OriginalAmount = &prev
	}
	o.AmountAdjusted = true
	o.AdjustmentReason = adj.AdjustmentReason
	o.applyBreakdown(adj.Breakdown)
	o.TotalAmount = adj.NewTotal
}
