package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/01moynul/kidwallet-golang/internal/blobstore"
	"github.com/01moynul/kidwallet-golang/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var adminPrincipal = Principal{UserID: AdminUserID, IsAdmin: true}

var testNow = time.Date(2025, 11, 14, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, store blobstore.Store) *Engine {
	t.Helper()
	e := New(store, zaptest.NewLogger(t), Config{
		MaxRetries:       3,
		RetryBackoff:     time.Millisecond,
		OperationTimeout: 5 * time.Second,
	})
	e.now = func() time.Time { return testNow }

	require.NoError(t, e.Bootstrap(context.Background(), AdminSeed{
		Username: "admin",
		Password: "admin123",
		FullName: "Administrator",
		Whatsapp: "03001234567",
	}))
	return e
}

func registerUser(t *testing.T, e *Engine, username string) *models.User {
	t.Helper()
	u, err := e.Register(context.Background(), SignupInput{
		FullName:        "Test " + username,
		Username:        username,
		Password:        "secret1",
		ConfirmPassword: "secret1",
		Whatsapp:        "03001112223",
	})
	require.NoError(t, err)
	return u
}

// setUser edits a user record directly in the users document.
func setUser(t *testing.T, e *Engine, userID string, edit func(u *models.User)) {
	t.Helper()
	ctx := context.Background()
	users, err := e.loadUsers(ctx)
	require.NoError(t, err)
	idx := findUser(users.value, userID)
	require.GreaterOrEqual(t, idx, 0)
	edit(&users.value[idx])

	tx := &txn{}
	stage(tx, users, "test fixture")
	require.NoError(t, e.commit(ctx, "fixture", tx))
}

func addFriend(t *testing.T, e *Engine, userID, name string) *models.FriendReferral {
	t.Helper()
	f, err := e.AddFriend(context.Background(), userID, FriendInput{Name: name, Password: "pw-" + name, Whatsapp: "03009998887"})
	require.NoError(t, err)
	return f
}

func mustUser(t *testing.T, e *Engine, userID string) *models.User {
	t.Helper()
	u, err := e.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u
}

func assertCounters(t *testing.T, u *models.User) {
	t.Helper()
	assert.Equal(t, u.TotalFriends, u.VerifiedFriends+u.PendingFriends+u.DeclinedFriends, "total friends of %s", u.Username)
	assert.GreaterOrEqual(t, u.PendingFriends, 0)
}

// assertReplicated checks that the private document mirrors the global
// ledgers for userID.
func assertReplicated(t *testing.T, e *Engine, userID string) {
	t.Helper()
	ctx := context.Background()
	data, err := e.loadUserData(ctx, userID)
	require.NoError(t, err)
	require.True(t, data.exists())

	friends, err := e.UserFriends(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, friends, data.value.Friends)

	all, err := e.ListWithdrawals(ctx, "")
	require.NoError(t, err)
	own := []models.WithdrawalRequest{}
	for _, w := range all {
		if w.UserID == userID {
			own = append(own, w)
		}
	}
	assert.Equal(t, own, data.value.Withdrawals)
}

func TestBootstrap_SeedsAdminOnce(t *testing.T) {
	store := blobstore.NewMemoryStore()
	e := newTestEngine(t, store)

	admin := mustUser(t, e, AdminUserID)
	assert.True(t, admin.IsAdmin)
	assert.Equal(t, "admin", admin.Username)
	assert.Empty(t, admin.PasswordHash)

	require.NoError(t, e.Bootstrap(context.Background(), AdminSeed{Username: "other", Password: "x"}))
	users, err := e.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRegister_FirstUserIsAdminWithoutSeed(t *testing.T) {
	e := New(blobstore.NewMemoryStore(), zaptest.NewLogger(t), DefaultConfig())
	require.NoError(t, e.Bootstrap(context.Background(), AdminSeed{}))

	first := registerUser(t, e, "first")
	second := registerUser(t, e, "second")
	assert.True(t, first.IsAdmin)
	assert.False(t, second.IsAdmin)
}

func TestRegister(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "  Alice ")

	assert.Equal(t, "alice", u.Username)
	assert.Len(t, u.UserID, 8)
	assert.Equal(t, 1, u.Level)
	assert.Zero(t, u.Balance)
	assert.False(t, u.IsAdmin)
	assert.Empty(t, u.PasswordHash)

	data, err := e.loadUserData(context.Background(), u.UserID)
	require.NoError(t, err)
	require.Len(t, data.value.Activities, 1)
	assert.Equal(t, models.ActivityAccountCreated, data.value.Activities[0].Type)

	_, err = e.Register(context.Background(), SignupInput{
		FullName: "Dup", Username: "ALICE", Password: "secret1", ConfirmPassword: "secret1", Whatsapp: "03001112223",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "username", verr.Field)
}

func TestRegister_Validation(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	base := SignupInput{FullName: "Bob", Username: "bob", Password: "secret1", ConfirmPassword: "secret1", Whatsapp: "03001112223"}

	cases := map[string]func(in *SignupInput){
		"confirmPassword": func(in *SignupInput) { in.ConfirmPassword = "other1" },
		"password":        func(in *SignupInput) { in.Password, in.ConfirmPassword = "abc", "abc" },
		"username":        func(in *SignupInput) { in.Username = "bo" },
		"digits":          func(in *SignupInput) { in.Username = "12345678" },
		"whatsapp":        func(in *SignupInput) { in.Whatsapp = "123" },
		"fullName":        func(in *SignupInput) { in.FullName = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := e.Register(context.Background(), in)
			assert.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			field := name
			if name == "digits" {
				field = "username"
			}
			assert.Equal(t, field, verr.Field)
		})
	}
}

func TestLogin(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "carol")
	ctx := context.Background()

	later := testNow.Add(time.Hour)
	e.now = func() time.Time { return later }

	byName, err := e.Login(ctx, "CAROL", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, byName.UserID)
	assert.True(t, byName.LastLogin.Equal(later))

	byID, err := e.Login(ctx, u.UserID, "secret1")
	require.NoError(t, err)
	assert.Equal(t, "carol", byID.Username)

	_, err = e.Login(ctx, "carol", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = e.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	activities, err := e.Activities(ctx, u.UserID)
	require.NoError(t, err)
	require.Len(t, activities, 3)
	assert.Equal(t, models.ActivityLogin, activities[0].Type)
}

func TestLogin_UsernameBeatsUserID(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	first := registerUser(t, e, "dana")
	second := registerUser(t, e, "eli")
	ctx := context.Background()

	// A stored username equal to another account's id.
	setUser(t, e, second.UserID, func(u *models.User) { u.Username = first.UserID })

	got, err := e.Login(ctx, first.UserID, "secret1")
	require.NoError(t, err)
	assert.Equal(t, second.UserID, got.UserID)

	// The id still works when no username shadows it.
	got, err = e.Login(ctx, second.UserID, "secret1")
	require.NoError(t, err)
	assert.Equal(t, second.UserID, got.UserID)
}

func TestAuthorize(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "dave")
	ctx := context.Background()

	got, err := e.Authorize(ctx, Principal{UserID: u.UserID})
	require.NoError(t, err)
	assert.Equal(t, "dave", got.Username)

	_, err = e.Authorize(ctx, Principal{UserID: u.UserID, IsAdmin: true})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.Authorize(ctx, Principal{UserID: "12345678"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Authorize(ctx, adminPrincipal)
	assert.NoError(t, err)
}

func TestAddFriend(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "erin")

	f := addFriend(t, e, u.UserID, "Zed")
	assert.Equal(t, models.ReferralPending, f.Status)
	assert.Equal(t, u.UserID, f.AddedBy)
	assert.Equal(t, "erin", f.AddedByUsername)
	assert.NotEmpty(t, f.ID)

	got := mustUser(t, e, u.UserID)
	assert.Equal(t, 1, got.TotalFriends)
	assert.Equal(t, 1, got.PendingFriends)
	assertCounters(t, got)
	assertReplicated(t, e, u.UserID)

	_, err := e.AddFriend(context.Background(), u.UserID, FriendInput{Name: "", Password: "x"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = e.AddFriend(context.Background(), "99999999", FriendInput{Name: "Y", Password: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyFriend_CreditsAndLevelsUp(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "frank")
	f := addFriend(t, e, u.UserID, "Gus")

	// 9 already verified, 1000 in the wallet, this friend pending.
	setUser(t, e, u.UserID, func(u *models.User) {
		u.VerifiedFriends = 9
		u.TotalFriends = 10
		u.Balance = 1000
	})

	verified, earned, err := e.VerifyFriend(context.Background(), adminPrincipal, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, earned)
	assert.Equal(t, models.ReferralVerified, verified.Status)
	assert.Equal(t, AdminUserID, verified.VerifiedBy)
	require.NotNil(t, verified.VerifiedAt)
	assert.True(t, verified.VerifiedAt.Equal(testNow))

	got := mustUser(t, e, u.UserID)
	assert.Equal(t, 10, got.VerifiedFriends)
	assert.Equal(t, 0, got.PendingFriends)
	assert.Equal(t, 1090, got.Balance)
	assert.Equal(t, 2, got.Level)
	assertCounters(t, got)
	assertReplicated(t, e, u.UserID)
}

func TestVerifyFriend_SecondCallIsRejected(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "gina")
	f := addFriend(t, e, u.UserID, "Hal")
	ctx := context.Background()

	_, _, err := e.VerifyFriend(ctx, adminPrincipal, f.ID)
	require.NoError(t, err)
	after := mustUser(t, e, u.UserID)

	_, earned, err := e.VerifyFriend(ctx, adminPrincipal, f.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, earned)

	_, err = e.DeclineFriend(ctx, adminPrincipal, f.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	again := mustUser(t, e, u.UserID)
	assert.Equal(t, after.Balance, again.Balance)
	assert.Equal(t, after.VerifiedFriends, again.VerifiedFriends)
}

func TestVerifyFriend_ConcurrentCallsCreditOnce(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "hank")
	f := addFriend(t, e, u.UserID, "Ivy")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.VerifyFriend(context.Background(), adminPrincipal, f.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvalidState):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, rejected)
	assert.Equal(t, Rate(1), mustUser(t, e, u.UserID).Balance)
}

func TestVerifyFriend_NotFoundAndForbidden(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "iris")
	f := addFriend(t, e, u.UserID, "Jon")
	ctx := context.Background()

	_, _, err := e.VerifyFriend(ctx, adminPrincipal, "no-such-friend")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = e.VerifyFriend(ctx, Principal{UserID: u.UserID, IsAdmin: true}, f.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, mustUser(t, e, u.UserID).Balance)
}

func TestDeclineFriend(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "jack")
	f := addFriend(t, e, u.UserID, "Kim")
	addFriend(t, e, u.UserID, "Lee")

	declined, err := e.DeclineFriend(context.Background(), adminPrincipal, f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralDeclined, declined.Status)
	assert.Equal(t, AdminUserID, declined.DeclinedBy)

	got := mustUser(t, e, u.UserID)
	assert.Equal(t, 1, got.DeclinedFriends)
	assert.Equal(t, 1, got.PendingFriends)
	assert.Equal(t, 2, got.TotalFriends)
	assert.Zero(t, got.Balance)
	assertCounters(t, got)
	assertReplicated(t, e, u.UserID)

	pending, err := e.ListFriends(context.Background(), models.ReferralPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Lee", pending[0].Name)
}

func TestSettleFriend_PendingCounterAlreadyZero(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "lara")
	verifyMe := addFriend(t, e, u.UserID, "Max")
	declineMe := addFriend(t, e, u.UserID, "Nia")
	ctx := context.Background()

	// A record whose pending referrals were never counted.
	setUser(t, e, u.UserID, func(u *models.User) {
		u.PendingFriends = 0
		u.TotalFriends = 0
	})

	_, earned, err := e.VerifyFriend(ctx, adminPrincipal, verifyMe.ID)
	require.NoError(t, err)
	assert.Equal(t, Rate(1), earned)
	got := mustUser(t, e, u.UserID)
	assert.Equal(t, 0, got.PendingFriends)
	assert.Equal(t, 1, got.VerifiedFriends)
	assert.Equal(t, 1, got.TotalFriends)
	assertCounters(t, got)

	_, err = e.DeclineFriend(ctx, adminPrincipal, declineMe.ID)
	require.NoError(t, err)
	got = mustUser(t, e, u.UserID)
	assert.Equal(t, 0, got.PendingFriends)
	assert.Equal(t, 1, got.DeclinedFriends)
	assert.Equal(t, 2, got.TotalFriends)
	assertCounters(t, got)
}

func TestVerifyFriend_RateTiersAcrossMany(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "kate")
	ctx := context.Background()

	// Start just below the 100 tier.
	setUser(t, e, u.UserID, func(u *models.User) {
		u.VerifiedFriends = 98
		u.TotalFriends = 98
		u.Level = 4
	})
	for i := range 3 {
		f := addFriend(t, e, u.UserID, fmt.Sprintf("friend-%d", i))
		_, _, err := e.VerifyFriend(ctx, adminPrincipal, f.ID)
		require.NoError(t, err)
	}

	got := mustUser(t, e, u.UserID)
	// 99 → 130, 100 → 150, 101 → 150
	assert.Equal(t, 130+150+150, got.Balance)
	assert.Equal(t, 5, got.Level)
	assertCounters(t, got)
}

func makeEligible(t *testing.T, e *Engine, userID string, balance, verified int) {
	t.Helper()
	setUser(t, e, userID, func(u *models.User) {
		u.Balance = balance
		u.VerifiedFriends = verified
		u.TotalFriends = verified
	})
}

var payout = WithdrawalInput{Method: "easypaisa", AccountNumber: "03001234567", AccountTitle: "Test User"}

func withAmount(amount int) WithdrawalInput {
	in := payout
	in.Amount = amount
	return in
}

func TestWithdrawal_RequestThenApprove(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "liam")
	makeEligible(t, e, u.UserID, 1550, 11)
	ctx := context.Background()

	w, err := e.RequestWithdrawal(ctx, u.UserID, withAmount(1550))
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.Equal(t, 1550, mustUser(t, e, u.UserID).Balance, "request must not deduct")
	assertReplicated(t, e, u.UserID)

	approved, err := e.ApproveWithdrawal(ctx, adminPrincipal, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalApproved, approved.Status)
	assert.Equal(t, ApprovalNote, approved.Notes)
	assert.Equal(t, AdminUserID, approved.ProcessedBy)
	assert.Equal(t, 0, mustUser(t, e, u.UserID).Balance)
	assertReplicated(t, e, u.UserID)

	_, err = e.ApproveWithdrawal(ctx, adminPrincipal, w.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, mustUser(t, e, u.UserID).Balance)
}

func TestWithdrawal_RequestValidation(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "mia")
	ctx := context.Background()

	cases := []struct {
		name     string
		balance  int
		verified int
		in       WithdrawalInput
		field    string
	}{
		{"amount above balance", 1000, 20, withAmount(2000), "balance"},
		{"balance below minimum", 1549, 20, withAmount(1549), "balance"},
		{"ten friends", 3000, 10, withAmount(1550), "verifiedFriends"},
		{"amount below minimum", 3000, 11, withAmount(1549), "amount"},
		{"amount exceeds balance", 3000, 11, withAmount(3001), "amount"},
		{"missing method", 3000, 11, WithdrawalInput{Amount: 1550, AccountNumber: "1", AccountTitle: "t"}, "method"},
		{"missing account", 3000, 11, WithdrawalInput{Amount: 1550, Method: "m", AccountTitle: "t"}, "accountNumber"},
		{"missing title", 3000, 11, WithdrawalInput{Amount: 1550, Method: "m", AccountNumber: "1"}, "accountTitle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			makeEligible(t, e, u.UserID, tc.balance, tc.verified)

			_, err := e.RequestWithdrawal(ctx, u.UserID, tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.ErrorIs(t, err, ErrValidation)

			all, err := e.ListWithdrawals(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestWithdrawal_ApproveInsufficientBalanceStaysPending(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "noah")
	makeEligible(t, e, u.UserID, 2000, 12)
	ctx := context.Background()

	first, err := e.RequestWithdrawal(ctx, u.UserID, withAmount(1600))
	require.NoError(t, err)
	second, err := e.RequestWithdrawal(ctx, u.UserID, withAmount(1800))
	require.NoError(t, err)

	_, err = e.ApproveWithdrawal(ctx, adminPrincipal, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 400, mustUser(t, e, u.UserID).Balance)

	_, err = e.ApproveWithdrawal(ctx, adminPrincipal, second.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 400, mustUser(t, e, u.UserID).Balance)

	pending, err := e.ListWithdrawals(ctx, models.WithdrawalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestWithdrawal_Decline(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "olga")
	makeEligible(t, e, u.UserID, 1700, 11)
	ctx := context.Background()

	w, err := e.RequestWithdrawal(ctx, u.UserID, withAmount(1600))
	require.NoError(t, err)

	_, err = e.DeclineWithdrawal(ctx, adminPrincipal, w.ID, "   ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reason", verr.Field)

	pending, err := e.ListWithdrawals(ctx, models.WithdrawalPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "blank reason must not change state")

	declined, err := e.DeclineWithdrawal(ctx, adminPrincipal, w.ID, "Account title mismatch")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalDeclined, declined.Status)
	assert.Equal(t, "Account title mismatch", declined.Notes)
	assert.Equal(t, 1700, mustUser(t, e, u.UserID).Balance)
	assertReplicated(t, e, u.UserID)

	_, err = e.ApproveWithdrawal(ctx, adminPrincipal, w.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = e.DeclineWithdrawal(ctx, adminPrincipal, "missing", "reason")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDashboard(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "pete")
	makeEligible(t, e, u.UserID, 20000, 15)
	ctx := context.Background()

	for i := range 7 {
		_, err := e.RequestWithdrawal(ctx, u.UserID, withAmount(1550+i))
		require.NoError(t, err)
	}

	d, err := e.Dashboard(ctx, u.UserID)
	require.NoError(t, err)
	assert.True(t, d.Eligibility.Eligible)
	require.Len(t, d.RecentWithdrawals, recentWithdrawals)
	assert.Equal(t, 1556, d.RecentWithdrawals[0].Amount)
	assert.Equal(t, 15, d.Progress.CurrentFriends)
	assert.Equal(t, models.ActivityWithdrawalRequest, d.Activities[0].Type)

	_, err = e.Dashboard(ctx, "00000001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOverview(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "quinn")
	addFriend(t, e, u.UserID, "Ray")
	makeEligible(t, e, u.UserID, 1550, 11)
	_, err := e.RequestWithdrawal(context.Background(), u.UserID, withAmount(1600))
	require.NoError(t, err)

	o, err := e.Overview(context.Background())
	require.NoError(t, err)
	assert.Len(t, o.Users, 2)
	assert.Len(t, o.PendingFriends, 1)
	assert.Len(t, o.PendingWithdrawals, 1)
}

// faultyStore fails selected Puts a set number of times.
type faultyStore struct {
	blobstore.Store

	mu            sync.Mutex
	fails         map[string]int
	err           error
	failRollbacks map[string]bool
}

// failRollback makes every rollback write to path fail.
func (s *faultyStore) failRollback(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRollbacks == nil {
		s.failRollbacks = map[string]bool{}
	}
	s.failRollbacks[path] = true
}

func (s *faultyStore) remaining(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fails[path]
}

func (s *faultyStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails = map[string]int{}
	s.failRollbacks = nil
}

func (s *faultyStore) failNext(path string, times int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[path] = times
	s.err = err
}

func (s *faultyStore) Put(ctx context.Context, path string, data []byte, expectedVersion, message string) (string, error) {
	s.mu.Lock()
	if s.failRollbacks[path] && strings.HasPrefix(message, "Rollback: ") {
		s.mu.Unlock()
		return "", errors.New("connection reset")
	}
	if s.fails[path] > 0 {
		s.fails[path]--
		err := s.err
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()
	return s.Store.Put(ctx, path, data, expectedVersion, message)
}

func TestVerifyFriend_RetriesAfterConflict(t *testing.T) {
	mem := blobstore.NewMemoryStore()
	store := &faultyStore{Store: mem, fails: map[string]int{}}
	e := newTestEngine(t, store)
	u := registerUser(t, e, "rosa")
	f := addFriend(t, e, u.UserID, "Sam")

	// The referral write lands, then the users write conflicts once.
	store.failNext(usersPath, 1, blobstore.ErrVersionConflict)

	_, earned, err := e.VerifyFriend(context.Background(), adminPrincipal, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, earned)
	assert.Equal(t, 90, mustUser(t, e, u.UserID).Balance, "credited exactly once")
	assertReplicated(t, e, u.UserID)

	assert.True(t, slices.ContainsFunc(mem.Commits(), func(c blobstore.Commit) bool {
		return c.Path == friendsPath && c.Message == "Rollback: Friend verified: Sam"
	}))
}

func TestVerifyFriend_RollsBackOnStoreFailure(t *testing.T) {
	store := &faultyStore{Store: blobstore.NewMemoryStore(), fails: map[string]int{}}
	e := newTestEngine(t, store)
	u := registerUser(t, e, "stan")
	f := addFriend(t, e, u.UserID, "Tia")

	store.failNext(usersPath, 1, errors.New("connection reset"))

	_, _, err := e.VerifyFriend(context.Background(), adminPrincipal, f.ID)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	pending, err := e.ListFriends(context.Background(), models.ReferralPending)
	require.NoError(t, err)
	require.Len(t, pending, 1, "referral write must be rolled back")
	assert.Zero(t, mustUser(t, e, u.UserID).Balance)

	// Once the store recovers the same call goes through.
	_, _, err = e.VerifyFriend(context.Background(), adminPrincipal, f.ID)
	require.NoError(t, err)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	store := &faultyStore{Store: blobstore.NewMemoryStore(), fails: map[string]int{}}
	e := newTestEngine(t, store)
	u := registerUser(t, e, "tom")
	f := addFriend(t, e, u.UserID, "Uma")

	store.failNext(friendsPath, 10, blobstore.ErrVersionConflict)

	_, _, err := e.VerifyFriend(context.Background(), adminPrincipal, f.ID)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Zero(t, mustUser(t, e, u.UserID).Balance)
}

func TestVerifyFriend_FailedRollbackIsNotRetried(t *testing.T) {
	store := &faultyStore{Store: blobstore.NewMemoryStore(), fails: map[string]int{}}
	e := newTestEngine(t, store)
	u := registerUser(t, e, "uri")
	f := addFriend(t, e, u.UserID, "Val")
	ctx := context.Background()

	// The referral write lands, the users write conflicts and the
	// referral cannot be restored.
	store.failNext(usersPath, 10, blobstore.ErrVersionConflict)
	store.failRollback(friendsPath)

	_, _, err := e.VerifyFriend(ctx, adminPrincipal, f.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartiallyApplied)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrVersionConflict)
	assert.NotErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 9, store.remaining(usersPath), "a partial commit must not be retried")

	store.reset()

	// The damage is visible to the admin: verified with nothing credited.
	verified, err := e.ListFriends(ctx, models.ReferralVerified)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Zero(t, mustUser(t, e, u.UserID).Balance)

	_, err = e.Reconcile(ctx, u.UserID)
	require.NoError(t, err)
	assertReplicated(t, e, u.UserID)
}

func TestApproveWithdrawal_FailedRollbackIsNotRetried(t *testing.T) {
	store := &faultyStore{Store: blobstore.NewMemoryStore(), fails: map[string]int{}}
	e := newTestEngine(t, store)
	u := registerUser(t, e, "wyn")
	makeEligible(t, e, u.UserID, 1550, 11)
	ctx := context.Background()

	w, err := e.RequestWithdrawal(ctx, u.UserID, withAmount(1550))
	require.NoError(t, err)

	store.failNext(usersPath, 10, blobstore.ErrVersionConflict)
	store.failRollback(withdrawalsPath)

	_, err = e.ApproveWithdrawal(ctx, adminPrincipal, w.ID)
	assert.ErrorIs(t, err, ErrPartiallyApplied)
	assert.NotErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 9, store.remaining(usersPath))
}

func TestReconcile_RepairsPrivateDocument(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore())
	u := registerUser(t, e, "vera")
	f := addFriend(t, e, u.UserID, "Wes")
	ctx := context.Background()

	// Verify through the global ledger only, leaving the private copy stale.
	friends, err := e.loadFriends(ctx)
	require.NoError(t, err)
	friends.value[findFriend(friends.value, f.ID)].Status = models.ReferralVerified
	tx := &txn{}
	stage(tx, friends, "out of band")
	require.NoError(t, e.commit(ctx, "fixture", tx))

	data, err := e.Reconcile(ctx, u.UserID)
	require.NoError(t, err)
	require.Len(t, data.Friends, 1)
	assert.Equal(t, models.ReferralVerified, data.Friends[0].Status)
	assertReplicated(t, e, u.UserID)

	_, err = e.Reconcile(ctx, "11111111")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	ctx := context.Background()

	unlock, err := k.Lock(ctx, "user:1")
	require.NoError(t, err)

	// Another key is independent.
	other, err := k.Lock(ctx, "user:2")
	require.NoError(t, err)
	other()

	// The held key blocks until the deadline.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(short, "user:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := k.Lock(ctx, "user:1")
	require.NoError(t, err)
	again()

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
