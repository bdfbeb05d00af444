package models

import "time"

// Referral statuses. pending moves once to verified or declined.
const (
	ReferralPending  = "pending"
	ReferralVerified = "verified"
	ReferralDeclined = "declined"
)

// FriendReferral is a friend a user signed up under their referral.
// It lives in data/all_friends.json and in the owner's private document.
type FriendReferral struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Password is the referred friend's account password, shown to admins
	// so they can verify the signup.
	Password        string    `json:"password"`
	Whatsapp        string    `json:"whatsapp,omitempty"`
	AddedBy         string    `json:"addedBy"`
	AddedByUsername string    `json:"addedByUsername"`
	Status          string    `json:"status"`
	AddedAt         time.Time `json:"addedAt"`

	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	VerifiedBy string     `json:"verifiedBy,omitempty"`
	DeclinedAt *time.Time `json:"declinedAt,omitempty"`
	DeclinedBy string     `json:"declinedBy,omitempty"`
}
