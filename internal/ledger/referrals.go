package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/01moynul/kidwallet-golang/internal/models"
	"go.uber.org/zap"
)

// FriendInput is a friend a user reports having referred.
type FriendInput struct {
	Name     string
	Password string
	Whatsapp string
}

// AddFriend records a pending referral for userID.
func (e *Engine) AddFriend(ctx context.Context, userID string, in FriendInput) (*models.FriendReferral, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Whatsapp = strings.TrimSpace(in.Whatsapp)
	switch {
	case in.Name == "":
		return nil, invalid("name", "friend name is required")
	case in.Password == "":
		return nil, invalid("password", "friend password is required")
	}

	var added models.FriendReferral
	err := e.do(ctx, "add_friend", func(ctx context.Context) error {
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
		owner := &users.value[idx]

		friends, err := e.loadFriends(ctx)
		if err != nil {
			return err
		}
		data, err := e.loadUserData(ctx, userID)
		if err != nil {
			return err
		}

		now := e.now()
		f := models.FriendReferral{
			ID:              e.newID(),
			Name:            in.Name,
			Password:        in.Password,
			Whatsapp:        in.Whatsapp,
			AddedBy:         owner.UserID,
			AddedByUsername: owner.Username,
			Status:          models.ReferralPending,
			AddedAt:         now,
		}
		friends.value = append(friends.value, f)
		owner.TotalFriends++
		owner.PendingFriends++

		project(&data.value, *owner, friends.value, nil)
		if err := e.keepWithdrawals(ctx, data, *owner); err != nil {
			return err
		}
		addActivity(&data.value, models.ActivityFriendAdded, "Friend added: "+f.Name, now)

		t := &txn{}
		stage(t, friends, "New friend added by "+owner.Username)
		stage(t, users, "Friend added for user "+owner.Username)
		stage(t, data, "Friend added: "+f.Name)
		if err := e.commit(ctx, "add_friend", t); err != nil {
			return err
		}
		added = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Friend added",
		zap.String("friendId", added.ID),
		zap.String("userId", userID))
	return &added, nil
}

// keepWithdrawals fills the private document's withdrawals from the global
// ledger for transitions that do not otherwise read it.
func (e *Engine) keepWithdrawals(ctx context.Context, data *snapshot[models.UserData], owner models.User) error {
	withdrawals, err := e.loadWithdrawals(ctx)
	if err != nil {
		return err
	}
	data.value.Withdrawals = []models.WithdrawalRequest{}
	for _, w := range withdrawals.value {
		if w.UserID == owner.UserID {
			data.value.Withdrawals = append(data.value.Withdrawals, w)
		}
	}
	return nil
}

// ListFriends returns referrals with the given status, or all of them when
// status is empty.
func (e *Engine) ListFriends(ctx context.Context, status string) ([]models.FriendReferral, error) {
	friends, err := e.loadFriends(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.FriendReferral{}
	for _, f := range friends.value {
		if status == "" || f.Status == status {
			out = append(out, f)
		}
	}
	return out, nil
}

// UserFriends returns the referrals owned by userID.
func (e *Engine) UserFriends(ctx context.Context, userID string) ([]models.FriendReferral, error) {
	friends, err := e.loadFriends(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.FriendReferral{}
	for _, f := range friends.value {
		if f.AddedBy == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

// VerifyFriend moves a pending referral to verified and credits its owner
// with Rate of their new verified count. It returns the referral and the
// amount credited. A referral that is no longer pending is ErrInvalidState
// and nothing is credited.
func (e *Engine) VerifyFriend(ctx context.Context, admin Principal, friendID string) (*models.FriendReferral, int, error) {
	var (
		verified models.FriendReferral
		earned   int
		owner    models.User
	)
	err := e.settleFriend(ctx, "verify_friend", admin, friendID, func(f *models.FriendReferral, u *models.User, data *models.UserData) (string, string) {
		now := e.now()
		f.Status = models.ReferralVerified
		f.VerifiedAt = &now
		f.VerifiedBy = admin.UserID

		u.VerifiedFriends++
		if u.PendingFriends > 0 {
			u.PendingFriends--
		} else {
			e.log.Warn("Pending counter already zero", zap.String("userId", u.UserID), zap.String("friendId", f.ID))
			u.TotalFriends++
		}
		earned = Rate(u.VerifiedFriends)
		u.Balance += earned
		u.Level = Level(u.Level, u.VerifiedFriends)

		addActivity(data, models.ActivityFriendVerified,
			fmt.Sprintf("Friend %s verified, earned Rs. %d", f.Name, earned), now)

		verified = *f
		owner = *u
		return "Friend verified for user " + u.Username, "Friend verified: " + f.Name
	})
	if err != nil {
		return nil, 0, err
	}

	e.log.Info("Friend verified",
		zap.String("friendId", friendID),
		zap.String("userId", owner.UserID),
		zap.Int("earned", earned),
		zap.Int("balance", owner.Balance),
		zap.Int("verifiedFriends", owner.VerifiedFriends),
		zap.Int("level", owner.Level),
		zap.String("by", admin.UserID))
	return &verified, earned, nil
}

// DeclineFriend moves a pending referral to declined. Balances are untouched.
func (e *Engine) DeclineFriend(ctx context.Context, admin Principal, friendID string) (*models.FriendReferral, error) {
	var declined models.FriendReferral
	err := e.settleFriend(ctx, "decline_friend", admin, friendID, func(f *models.FriendReferral, u *models.User, data *models.UserData) (string, string) {
		now := e.now()
		f.Status = models.ReferralDeclined
		f.DeclinedAt = &now
		f.DeclinedBy = admin.UserID

		u.DeclinedFriends++
		if u.PendingFriends > 0 {
			u.PendingFriends--
		} else {
			e.log.Warn("Pending counter already zero", zap.String("userId", u.UserID), zap.String("friendId", f.ID))
			u.TotalFriends++
		}

		addActivity(data, models.ActivityFriendDeclined, "Friend "+f.Name+" declined", now)

		declined = *f
		return "Friend declined for user " + u.Username, "Friend declined: " + f.Name
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Friend declined",
		zap.String("friendId", friendID),
		zap.String("userId", declined.AddedBy),
		zap.String("by", admin.UserID))
	return &declined, nil
}

// settleFriend runs a pending → terminal referral transition. apply mutates
// the referral, its owner and the owner's private document, and returns the
// commit messages for the users list and the referral documents.
func (e *Engine) settleFriend(
	ctx context.Context,
	op string,
	admin Principal,
	friendID string,
	apply func(f *models.FriendReferral, owner *models.User, data *models.UserData) (usersMsg, friendMsg string),
) error {
	return e.do(ctx, op, func(ctx context.Context) error {
		unlockFriend, err := e.lockEntity(ctx, "friend", friendID)
		if err != nil {
			return err
		}
		defer unlockFriend()

		friends, err := e.loadFriends(ctx)
		if err != nil {
			return err
		}
		fi := findFriend(friends.value, friendID)
		if fi < 0 {
			return fmt.Errorf("%w: friend %s", ErrNotFound, friendID)
		}
		ownerID := friends.value[fi].AddedBy

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
		f := &friends.value[fi]
		if f.Status != models.ReferralPending {
			return fmt.Errorf("%w: friend %s is already %s", ErrInvalidState, friendID, f.Status)
		}
		ui := findUser(users.value, ownerID)
		if ui < 0 {
			return fmt.Errorf("%w: owner %s of friend %s", ErrNotFound, ownerID, friendID)
		}
		owner := &users.value[ui]

		data, err := e.loadUserData(ctx, ownerID)
		if err != nil {
			return err
		}

		usersMsg, friendMsg := apply(f, owner, &data.value)

		project(&data.value, *owner, friends.value, nil)
		if err := e.keepWithdrawals(ctx, data, *owner); err != nil {
			return err
		}

		t := &txn{}
		stage(t, friends, friendMsg)
		stage(t, users, usersMsg)
		stage(t, data, friendMsg)
		return e.commit(ctx, op, t)
	})
}
