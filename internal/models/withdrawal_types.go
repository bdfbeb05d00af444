package models

import "time"

// Withdrawal statuses. pending moves once to approved or declined.
const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalDeclined = "declined"
)

// WithdrawalRequest lives in data/all_withdrawals.json and in the
// requester's private document.
type WithdrawalRequest struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Username      string    `json:"username"`
	Amount        int       `json:"amount"`
	Method        string    `json:"method"`
	AccountNumber string    `json:"accountNumber"`
	AccountTitle  string    `json:"accountTitle"`
	Status        string    `json:"status"`
	RequestedAt   time.Time `json:"requestedAt"`

	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	ProcessedBy string     `json:"processedBy,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}
