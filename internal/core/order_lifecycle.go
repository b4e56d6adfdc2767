package core

import "strings"

// OrderStatus is a lifecycle state of an order.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPendingApproval OrderStatus = "pending_approval"
	StatusApproved        OrderStatus = "approved"
	StatusRejected        OrderStatus = "rejected"
	StatusPaymentReceived OrderStatus = "payment_received"
	StatusCompleted       OrderStatus = "completed"
	StatusDelivered       OrderStatus = "delivered"
	StatusCancelled       OrderStatus = "cancelled"
)

var allStatuses = []OrderStatus{
	StatusNew, StatusPendingApproval, StatusApproved, StatusRejected,
	StatusPaymentReceived, StatusCompleted, StatusDelivered, StatusCancelled,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", newValidationError("status", "unknown order status %q", s)
}

// orderTransitions lists the forward moves out of each status. Cancellation is
// handled separately: every status except cancelled may be cancelled.
// new → payment_received and pending_approval → payment_received exist for
// payment collected against an order that was never approved separately.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusNew:             {StatusPendingApproval, StatusPaymentReceived},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusPaymentReceived},
	StatusApproved:        {StatusPaymentReceived},
	StatusPaymentReceived: {StatusCompleted, StatusDelivered},
	StatusRejected:        nil,
	StatusCompleted:       nil,
	StatusDelivered:       nil,
	StatusCancelled:       nil,
}

// CanTransitionTo reports whether the state machine allows s → next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == StatusCancelled {
		return s != StatusCancelled && s.Valid()
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no forward move exists from s.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// PostApproval reports whether an order in s counts as a confirmed sale.
func (s OrderStatus) PostApproval() bool {
	switch s {
	case StatusApproved, StatusPaymentReceived, StatusCompleted, StatusDelivered:
		return true
	case StatusNew, StatusPendingApproval, StatusRejected, StatusCancelled:
		return false
	}
	return false
}

// PermitsSettlement reports whether payments may still be reconciled against an
// order in s.
func (s OrderStatus) PermitsSettlement() bool {
	switch s {
	case StatusRejected, StatusCancelled:
		return false
	}
	return s.Valid()
}

// Closed reports whether the sale is finished (completed or delivered).
func (s OrderStatus) Closed() bool {
	return s == StatusCompleted || s == StatusDelivered
}

// checkTransition returns an InvalidTransitionError when from → to is forbidden.
func checkTransition(orderID int, from, to OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return &InvalidTransitionError{OrderID: orderID, From: from, To: to}
	}
	return nil
}
