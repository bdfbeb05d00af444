package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/01moynul/kidwallet-golang/internal/models"
	"go.uber.org/zap"
)

// ApprovalNote is attached to every approved withdrawal.
const ApprovalNote = "Payment will be sent within 72 hours"

// WithdrawalInput is a user's payout request.
type WithdrawalInput struct {
	Amount        int
	Method        string
	AccountNumber string
	AccountTitle  string
}

// RequestWithdrawal files a pending withdrawal for userID. The balance is
// not touched until an admin approves it.
func (e *Engine) RequestWithdrawal(ctx context.Context, userID string, in WithdrawalInput) (*models.WithdrawalRequest, error) {
	in.Method = strings.TrimSpace(in.Method)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.AccountTitle = strings.TrimSpace(in.AccountTitle)
	switch {
	case in.Method == "":
		return nil, invalid("method", "payment method is required")
	case in.AccountNumber == "":
		return nil, invalid("accountNumber", "account number is required")
	case in.AccountTitle == "":
		return nil, invalid("accountTitle", "account title is required")
	case in.Amount <= 0:
		return nil, invalid("amount", "amount is required")
	}

	var created models.WithdrawalRequest
	err := e.do(ctx, "request_withdrawal", func(ctx context.Context) error {
		unlock, err := e.lockUser(ctx, userID)
		if err != nil {
			return err
		}
		defer unlock()

		users, err := e.loadUsers(ctx)
		if err != nil {
			return err
		}
		idx := findUser(users.value, userID)
		if idx < 0 {
			return fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		u := users.value[idx]

		switch {
		case u.Balance < MinWithdrawalBalance:
			return invalid("balance", "balance must be at least Rs. %d", MinWithdrawalBalance)
		case u.VerifiedFriends < MinVerifiedFriends:
			return invalid("verifiedFriends", "you need more than %d verified friends", MinVerifiedFriends-1)
		case in.Amount < MinWithdrawalAmount:
			return invalid("amount", "minimum withdrawal is Rs. %d", MinWithdrawalAmount)
		case in.Amount > u.Balance:
			return invalid("amount", "amount exceeds your balance")
		}

		withdrawals, err := e.loadWithdrawals(ctx)
		if err != nil {
			return err
		}
		friends, err := e.loadFriends(ctx)
		if err != nil {
			return err
		}
		data, err := e.loadUserData(ctx, userID)
		if err != nil {
			return err
		}

		now := e.now()
		w := models.WithdrawalRequest{
			ID:            e.newID(),
			UserID:        u.UserID,
			Username:      u.Username,
			Amount:        in.Amount,
			Method:        in.Method,
			AccountNumber: in.AccountNumber,
			AccountTitle:  in.AccountTitle,
			Status:        models.WithdrawalPending,
			RequestedAt:   now,
		}
		withdrawals.value = append(withdrawals.value, w)

		project(&data.value, u, friends.value, withdrawals.value)
		addActivity(&data.value, models.ActivityWithdrawalRequest,
			fmt.Sprintf("Withdrawal of Rs. %d requested", w.Amount), now)

		t := &txn{}
		stage(t, withdrawals, "New withdrawal request by "+u.Username)
		stage(t, data, fmt.Sprintf("Withdrawal request: Rs. %d", w.Amount))
		if err := e.commit(ctx, "request_withdrawal", t); err != nil {
			return err
		}
		created = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Withdrawal requested",
		zap.String("withdrawalId", created.ID),
		zap.String("userId", userID),
		zap.Int("amount", created.Amount))
	return &created, nil
}

// ListWithdrawals returns withdrawals with the given status, or all of them
// when status is empty.
func (e *Engine) ListWithdrawals(ctx context.Context, status string) ([]models.WithdrawalRequest, error) {
	withdrawals, err := e.loadWithdrawals(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.WithdrawalRequest{}
	for _, w := range withdrawals.value {
		if status == "" || w.Status == status {
			out = append(out, w)
		}
	}
	return out, nil
}

// UserWithdrawals returns userID's withdrawals, newest first.
func (e *Engine) UserWithdrawals(ctx context.Context, userID string) ([]models.WithdrawalRequest, error) {
	withdrawals, err := e.loadWithdrawals(ctx)
	if err != nil {
		return nil, err
	}
	var own []models.WithdrawalRequest
	for _, w := range withdrawals.value {
		if w.UserID == userID {
			own = append(own, w)
		}
	}
	return newestFirst(own, 0), nil
}

// ApproveWithdrawal pays out a pending withdrawal. If the requester's
// balance no longer covers it the request stays pending and
// ErrInsufficientBalance is returned.
func (e *Engine) ApproveWithdrawal(ctx context.Context, admin Principal, withdrawalID string) (*models.WithdrawalRequest, error) {
	var (
		approved models.WithdrawalRequest
		balance  int
	)
	err := e.settleWithdrawal(ctx, "approve_withdrawal", admin, withdrawalID, func(w *models.WithdrawalRequest, u *models.User, data *models.UserData) (bool, string, error) {
		if u.Balance < w.Amount {
			return false, "", fmt.Errorf("%w: balance Rs. %d, requested Rs. %d", ErrInsufficientBalance, u.Balance, w.Amount)
		}

		now := e.now()
		u.Balance -= w.Amount
		w.Status = models.WithdrawalApproved
		w.ProcessedAt = &now
		w.ProcessedBy = admin.UserID
		w.Notes = ApprovalNote

		addActivity(data, models.ActivityWithdrawalApproved,
			fmt.Sprintf("Withdrawal of Rs. %d approved. %s", w.Amount, ApprovalNote), now)

		approved = *w
		balance = u.Balance
		return true, fmt.Sprintf("Withdrawal approved: Rs. %d", w.Amount), nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Withdrawal approved",
		zap.String("withdrawalId", withdrawalID),
		zap.String("userId", approved.UserID),
		zap.Int("amount", approved.Amount),
		zap.Int("balance", balance),
		zap.String("by", admin.UserID))
	return &approved, nil
}

// DeclineWithdrawal rejects a pending withdrawal with a reason shown to the
// user. A blank reason is a validation error and changes nothing.
func (e *Engine) DeclineWithdrawal(ctx context.Context, admin Principal, withdrawalID, reason string) (*models.WithdrawalRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "a reason is required to decline a withdrawal")
	}

	var declined models.WithdrawalRequest
	err := e.settleWithdrawal(ctx, "decline_withdrawal", admin, withdrawalID, func(w *models.WithdrawalRequest, u *models.User, data *models.UserData) (bool, string, error) {
		now := e.now()
		w.Status = models.WithdrawalDeclined
		w.ProcessedAt = &now
		w.ProcessedBy = admin.UserID
		w.Notes = reason

		addActivity(data, models.ActivityWithdrawalDeclined,
			fmt.Sprintf("Withdrawal of Rs. %d declined: %s", w.Amount, reason), now)

		declined = *w
		return false, fmt.Sprintf("Withdrawal declined: Rs. %d", w.Amount), nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Withdrawal declined",
		zap.String("withdrawalId", withdrawalID),
		zap.String("userId", declined.UserID),
		zap.String("reason", reason),
		zap.String("by", admin.UserID))
	return &declined, nil
}

// settleWithdrawal runs a pending → terminal withdrawal transition. apply
// reports whether the users list changed and the commit message; an error
// from apply aborts the transition with nothing written.
func (e *Engine) settleWithdrawal(
	ctx context.Context,
	op string,
	admin Principal,
	withdrawalID string,
	apply func(w *models.WithdrawalRequest, owner *models.User, data *models.UserData) (usersChanged bool, message string, err error),
) error {
	return e.do(ctx, op, func(ctx context.Context) error {
		unlockEntity, err := e.lockEntity(ctx, "withdrawal", withdrawalID)
		if err != nil {
			return err
		}
		defer unlockEntity()

		withdrawals, err := e.loadWithdrawals(ctx)
		if err != nil {
			return err
		}
		wi := findWithdrawal(withdrawals.value, withdrawalID)
		if wi < 0 {
			return fmt.Errorf("%w: withdrawal %s", ErrNotFound, withdrawalID)
		}
		ownerID := withdrawals.value[wi].UserID

		unlockUser, err := e.lockUser(ctx, ownerID)
		if err != nil {
			return err
		}
		defer unlockUser()

		users, err := e.loadUsers(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(users.value, admin); err != nil {
			return err
		}
		w := &withdrawals.value[wi]
		if w.Status != models.WithdrawalPending {
			return fmt.Errorf("%w: withdrawal %s is already %s", ErrInvalidState, withdrawalID, w.Status)
		}
		ui := findUser(users.value, ownerID)
		if ui < 0 {
			return fmt.Errorf("%w: owner %s of withdrawal %s", ErrNotFound, ownerID, withdrawalID)
		}
		owner := &users.value[ui]

		friends, err := e.loadFriends(ctx)
		if err != nil {
			return err
		}
		data, err := e.loadUserData(ctx, ownerID)
		if err != nil {
			return err
		}

		usersChanged, message, err := apply(w, owner, &data.value)
		if err != nil {
			return err
		}
		project(&data.value, *owner, friends.value, withdrawals.value)

		t := &txn{}
		stage(t, withdrawals, message+" for "+owner.Username)
		if usersChanged {
			stage(t, users, message+" for "+owner.Username)
		}
		stage(t, data, message)
		return e.commit(ctx, op, t)
	})
}
