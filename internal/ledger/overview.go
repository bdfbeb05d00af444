package ledger

import (
	"context"

	"github.com/01moynul/kidwallet-golang/internal/models"
	"golang.org/x/sync/errgroup"
)

// Overview is the admin console: every user plus the work queues.
type Overview struct {
	Users              []models.User              `json:"users"`
	PendingFriends     []models.FriendReferral    `json:"pendingFriends"`
	PendingWithdrawals []models.WithdrawalRequest `json:"pendingWithdrawals"`
}

// Overview reads the three global documents concurrently.
func (e *Engine) Overview(ctx context.Context) (*Overview, error) {
	var o Overview
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		o.Users, err = e.ListUsers(ctx)
		return err
	})
	g.Go(func() (err error) {
		o.PendingFriends, err = e.ListFriends(ctx, models.ReferralPending)
		return err
	})
	g.Go(func() (err error) {
		o.PendingWithdrawals, err = e.ListWithdrawals(ctx, models.WithdrawalPending)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &o, nil
}
