package core

import "context"

// FinanceAssignee is the finance-role user who takes over orders once payment
// has been received.
type FinanceAssignee struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// FinanceDirectory looks up who currently handles finance. User management is
// owned by the surrounding CRM; this is a read-only view of it.
type FinanceDirectory interface {
	// CurrentFinanceAssignee returns the active finance user, or ErrNotFound.
	CurrentFinanceAssignee(ctx context.Context) (*FinanceAssignee, error)
}
