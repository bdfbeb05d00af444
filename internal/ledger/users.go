package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/01moynul/kidwallet-golang/internal/blobstore"
	"github.com/01moynul/kidwallet-golang/internal/models"
	"go.uber.org/zap"
)

// AdminUserID is the id of the seeded administrator.
const AdminUserID = "00000000"

// Signup rules.
const (
	minUsernameLen = 3
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt ignores anything longer
	minWhatsappLen = 10
)

// AdminSeed describes the administrator created on an empty store.
type AdminSeed struct {
	Username string
	Password string
	FullName string
	Whatsapp string
}

// Bootstrap prepares an empty store: the global ledgers and, when a seed
// password is configured, the administrator account. Without a seed the
// first registrant becomes the administrator. It is a no-op on a store that
// is already set up.
func (e *Engine) Bootstrap(ctx context.Context, seed AdminSeed) error {
	return e.do(ctx, "bootstrap", func(ctx context.Context) error {
		for _, path := range []string{friendsPath, withdrawalsPath} {
			if err := e.createIfMissing(ctx, path, []byte("[]"), "Initialize "+path); err != nil {
				return err
			}
		}

		users, err := e.loadUsers(ctx)
		if err != nil {
			return err
		}
		if users.exists() {
			e.log.Debug("Store already bootstrapped", zap.Int("users", len(users.value)))
			return nil
		}

		if seed.Password == "" {
			return e.createIfMissing(ctx, usersPath, []byte("[]"), "Initialize users")
		}

		var password models.Password
		if err := password.Set(seed.Password); err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		now := e.now()
		admin := models.User{
			UserID:       AdminUserID,
			Username:     strings.ToLower(strings.TrimSpace(seed.Username)),
			PasswordHash: password.Hash,
			FullName:     seed.FullName,
			Whatsapp:     seed.Whatsapp,
			Level:        1,
			IsAdmin:      true,
			Joined:       now,
			LastLogin:    now,
		}
		if admin.Username == "" {
			admin.Username = "admin"
		}
		users.value = []models.User{admin}

		data := &snapshot[models.UserData]{path: userDataPath(AdminUserID)}
		project(&data.value, admin, nil, nil)
		addActivity(&data.value, models.ActivityAccountCreated, "Admin account created", now)

		t := &txn{}
		stage(t, users, "Seed admin account")
		stage(t, data, "Create admin data file")
		if err := e.commit(ctx, "bootstrap", t); err != nil {
			return err
		}
		e.log.Info("Seeded admin account", zap.String("username", admin.Username))
		return nil
	})
}

func (e *Engine) createIfMissing(ctx context.Context, path string, data []byte, message string) error {
	_, err := e.store.Put(ctx, path, data, "", message)
	if err == nil || errors.Is(err, blobstore.ErrVersionConflict) {
		return nil
	}
	return storeError(err)
}

// SignupInput is what a new user submits.
type SignupInput struct {
	FullName        string
	Username        string
	Password        string
	ConfirmPassword string
	Whatsapp        string
}

func (in *SignupInput) normalize() error {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Whatsapp = strings.TrimSpace(in.Whatsapp)

	switch {
	case in.FullName == "":
		return invalid("fullName", "full name is required")
	case in.Password != in.ConfirmPassword:
		return invalid("confirmPassword", "passwords do not match")
	case len(in.Password) < minPasswordLen:
		return invalid("password", "password must be at least %d characters", minPasswordLen)
	case len(in.Password) > maxPasswordLen:
		return invalid("password", "password must be at most %d bytes", maxPasswordLen)
	case len(in.Username) < minUsernameLen:
		return invalid("username", "username must be at least %d characters", minUsernameLen)
	case strings.Trim(in.Username, "0123456789") == "":
		return invalid("username", "username cannot be only digits")
	case len(in.Whatsapp) < minWhatsappLen:
		return invalid("whatsapp", "please enter a valid WhatsApp number")
	}
	return nil
}

// maxUserIDAttempts bounds the search for an unused random user id.
const maxUserIDAttempts = 10

// Register creates a user account and its private document.
func (e *Engine) Register(ctx context.Context, in SignupInput) (*models.User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var password models.Password
	if err := password.Set(in.Password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created models.User
	err := e.do(ctx, "register", func(ctx context.Context) error {
		users, err := e.loadUsers(ctx)
		if err != nil {
			return err
		}
		if slices.ContainsFunc(users.value, func(u models.User) bool { return u.Username == in.Username }) {
			return invalid("username", "username already exists")
		}

		userID, err := e.unusedUserID(users.value)
		if err != nil {
			return err
		}

		now := e.now()
		u := models.User{
			UserID:       userID,
			Username:     in.Username,
			PasswordHash: password.Hash,
			FullName:     in.FullName,
			Whatsapp:     in.Whatsapp,
			Level:        1,
			IsAdmin:      len(users.value) == 0,
			Joined:       now,
			LastLogin:    now,
		}
		users.value = append(users.value, u)

		data, err := e.loadUserData(ctx, userID)
		if err != nil {
			return err
		}
		if data.exists() {
			// A stale file under a fresh id; pick another id on retry.
			return fmt.Errorf("%w: data file for %s already exists", ErrVersionConflict, userID)
		}
		project(&data.value, u, nil, nil)
		addActivity(&data.value, models.ActivityAccountCreated, "Account created successfully", now)

		t := &txn{}
		stage(t, users, "New user registered: "+u.Username)
		stage(t, data, "Create data file for "+u.Username)
		if err := e.commit(ctx, "register", t); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("User registered",
		zap.String("userId", created.UserID),
		zap.String("username", created.Username),
		zap.Bool("isAdmin", created.IsAdmin))
	out := created.Public()
	return &out, nil
}

func (e *Engine) unusedUserID(users []models.User) (string, error) {
	for range maxUserIDAttempts {
		id, err := e.newUserID()
		if err != nil {
			return "", err
		}
		if findUser(users, id) < 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no unused user id after %d attempts", ErrVersionConflict, maxUserIDAttempts)
}

// Login checks a username (or user id) and password, and records the login.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := e.do(ctx, "login", func(ctx context.Context) error {
		users, err := e.loadUsers(ctx)
		if err != nil {
			return err
		}
		// An exact username wins over a user id that happens to match.
		lowered := strings.ToLower(identifier)
		idx := slices.IndexFunc(users.value, func(u models.User) bool { return u.Username == lowered })
		if idx < 0 {
			idx = findUser(users.value, identifier)
		}
		if idx < 0 {
			return ErrInvalidCredentials
		}

		userID := users.value[idx].UserID
		unlock, err := e.lockUser(ctx, userID)
		if err != nil {
			return err
		}
		defer unlock()

		// Re-read under the lock; the list may have moved on.
		if users, err = e.loadUsers(ctx); err != nil {
			return err
		}
		if idx = findUser(users.value, userID); idx < 0 {
			return ErrInvalidCredentials
		}
		u := &users.value[idx]

		p := models.Password{Hash: u.PasswordHash}
		ok, err := p.Matches(password)
		if err != nil {
			return fmt.Errorf("compare password: %w", err)
		}
		if !ok {
			return ErrInvalidCredentials
		}

		now := e.now()
		u.LastLogin = now

		data, err := e.loadUserData(ctx, u.UserID)
		if err != nil {
			return err
		}
		if data.exists() {
			data.value.User = u.Public()
			addActivity(&data.value, models.ActivityLogin, "User logged in", now)
		}

		t := &txn{}
		stage(t, users, "Login: "+u.Username)
		if data.exists() {
			stage(t, data, "Login: "+u.Username)
		}
		if err := e.commit(ctx, "login", t); err != nil {
			return err
		}
		user = *u
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := user.Public()
	return &out, nil
}

// Authorize re-reads the principal's user record. It is a freshness check
// on an already authenticated caller: a removed user is ErrNotFound and an
// admin principal whose record lost the flag is ErrForbidden.
func (e *Engine) Authorize(ctx context.Context, p Principal) (*models.User, error) {
	u, err := e.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if p.IsAdmin && !u.IsAdmin {
		return nil, ErrForbidden
	}
	return u, nil
}

// requireAdmin checks p against an already loaded users list.
func requireAdmin(users []models.User, p Principal) error {
	idx := findUser(users, p.UserID)
	if idx < 0 || !users[idx].IsAdmin {
		return ErrForbidden
	}
	return nil
}

func (e *Engine) GetUser(ctx context.Context, userID string) (*models.User, error) {
	users, err := e.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	idx := findUser(users.value, userID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u := users.value[idx].Public()
	return &u, nil
}

// ListUsers returns every user in signup order.
func (e *Engine) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := e.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(users.value))
	for _, u := range users.value {
		out = append(out, u.Public())
	}
	return out, nil
}

// recentWithdrawals is how many withdrawals the dashboard shows.
const recentWithdrawals = 5

// Dashboard is a user's own view of their account.
type Dashboard struct {
	User              models.User                `json:"user"`
	Eligibility       Eligibility                `json:"eligibility"`
	Progress          LevelProgress              `json:"levelProgress"`
	Friends           []models.FriendReferral    `json:"friends"`
	RecentWithdrawals []models.WithdrawalRequest `json:"recentWithdrawals"`
	Activities        []models.Activity          `json:"activities"`
}

func (e *Engine) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	u, err := e.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	data, err := e.loadUserData(ctx, userID)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		User:              *u,
		Eligibility:       CheckEligibility(*u),
		Progress:          Progress(*u),
		Friends:           data.value.Friends,
		RecentWithdrawals: newestFirst(data.value.Withdrawals, recentWithdrawals),
		Activities:        newestFirst(data.value.Activities, 0),
	}
	if d.Friends == nil {
		d.Friends = []models.FriendReferral{}
	}
	return d, nil
}

// Activities returns the user's feed, newest first.
func (e *Engine) Activities(ctx context.Context, userID string) ([]models.Activity, error) {
	if _, err := e.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	data, err := e.loadUserData(ctx, userID)
	if err != nil {
		return nil, err
	}
	return newestFirst(data.value.Activities, 0), nil
}

// newestFirst reverses an append-ordered list, keeping at most limit
// entries when limit is positive.
func newestFirst[T any](items []T, limit int) []T {
	out := make([]T, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, items[i])
	}
	return out
}

// Reconcile rewrites a user's private document from the global ledgers.
// It repairs the copy after a transition that failed part way through.
func (e *Engine) Reconcile(ctx context.Context, userID string) (*models.UserData, error) {
	var out models.UserData
	err := e.do(ctx, "reconcile", func(ctx context.Context) error {
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
		friends, err := e.loadFriends(ctx)
		if err != nil {
			return err
		}
		withdrawals, err := e.loadWithdrawals(ctx)
		if err != nil {
			return err
		}
		data, err := e.loadUserData(ctx, userID)
		if err != nil {
			return err
		}

		project(&data.value, users.value[idx], friends.value, withdrawals.value)
		checkCounters(e.log, users.value[idx], data.value.Friends)

		t := &txn{}
		stage(t, data, "Reconcile data file for "+users.value[idx].Username)
		if err := e.commit(ctx, "reconcile", t); err != nil {
			return err
		}
		out = data.value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// checkCounters logs when a user's friend counters disagree with their
// referrals. Counters are not rewritten; they may predate the ledger.
func checkCounters(log *zap.Logger, u models.User, friends []models.FriendReferral) {
	var verified, pending, declined int
	for _, f := range friends {
		switch f.Status {
		case models.ReferralVerified:
			verified++
		case models.ReferralPending:
			pending++
		case models.ReferralDeclined:
			declined++
		}
	}
	if verified != u.VerifiedFriends || pending != u.PendingFriends || declined != u.DeclinedFriends {
		log.Warn("Friend counters disagree with referrals",
			zap.String("userId", u.UserID),
			zap.Ints("counters", []int{u.VerifiedFriends, u.PendingFriends, u.DeclinedFriends}),
			zap.Ints("referrals", []int{verified, pending, declined}))
	}
}
