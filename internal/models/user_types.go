package models

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is one entry of the global users ledger (data/users.json).
type User struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash,omitempty"`
	FullName     string `json:"fullName"`
	Whatsapp     string `json:"whatsapp"`

	// Balance is in whole rupees.
	Balance int `json:"balance"`
	Level   int `json:"level"`

	// TotalFriends is always Verified + Pending + Declined.
	TotalFriends    int `json:"totalFriends"`
	VerifiedFriends int `json:"verifiedFriends"`
	PendingFriends  int `json:"pendingFriends"`
	DeclinedFriends int `json:"declinedFriends"`

	IsAdmin   bool      `json:"isAdmin"`
	Joined    time.Time `json:"joined"`
	LastLogin time.Time `json:"lastLogin"`
}

// Public returns a copy safe to send to clients.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// Password Helper (Standard)
type Password struct {
	Plaintext *string
	Hash      string
}

func (p *Password) Set(plaintextPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.Hash = string(hash)
	p.Plaintext = &plaintextPassword
	return nil
}

// Matches compares in constant time via bcrypt.
func (p *Password) Matches(plaintextPassword string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(p.Hash), []byte(plaintextPassword))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
