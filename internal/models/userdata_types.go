package models

import "time"

// Activity types recorded in a user's private document.
const (
	ActivityAccountCreated     = "account_created"
	ActivityLogin              = "login"
	ActivityFriendAdded        = "friend_added"
	ActivityFriendVerified     = "friend_verified"
	ActivityFriendDeclined     = "friend_declined"
	ActivityWithdrawalRequest  = "withdrawal_requested"
	ActivityWithdrawalApproved = "withdrawal_approved"
	ActivityWithdrawalDeclined = "withdrawal_declined"
)

// Activity is one line of a user's history feed.
type Activity struct {
	Type    string    `json:"type"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// UserData is the private per-user document (data/users/<userId>.json).
// Friends and Withdrawals mirror the user's entries in the global ledgers.
type UserData struct {
	User        User                `json:"user"`
	Friends     []FriendReferral    `json:"friends"`
	Withdrawals []WithdrawalRequest `json:"withdrawals"`
	Activities  []Activity          `json:"activities"`
}
