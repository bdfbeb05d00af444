// Package ledger owns users, friend referrals and withdrawal requests and
// applies every balance-changing transition to them.
//
// State lives in four kinds of JSON documents in a blobstore.Store: the
// global users list, the global friend and withdrawal ledgers, and one
// private document per user. The private document's friends and
// withdrawals are a projection of the global ledgers and are rewritten
// from them on every transition that touches the user.
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/01moynul/kidwallet-golang/internal/blobstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logical document paths.
const (
	usersPath       = "data/users.json"
	friendsPath     = "data/all_friends.json"
	withdrawalsPath = "data/all_withdrawals.json"
)

func userDataPath(userID string) string {
	return "data/users/" + userID + ".json"
}

// Principal is an already authenticated caller.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Config tunes retries and deadlines.
type Config struct {
	// MaxRetries bounds how often an operation is re-run after a version
	// conflict. Zero disables retries.
	MaxRetries   int
	RetryBackoff time.Duration

	// OperationTimeout caps one engine call including its retries.
	OperationTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		RetryBackoff:     50 * time.Millisecond,
		OperationTimeout: 15 * time.Second,
	}
}

// Engine is the ledger. It is safe for concurrent use.
type Engine struct {
	store blobstore.Store
	log   *zap.Logger
	cfg   Config
	locks *keyedMutex

	now       func() time.Time
	newID     func() string
	newUserID func() (string, error)
}

func New(store blobstore.Store, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultConfig().OperationTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	return &Engine{
		store:     store,
		log:       logger,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		newUserID: randomUserID,
	}
}

// randomUserID returns an 8-digit id in [10000000, 99999999].
func randomUserID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000000))
	if err != nil {
		return "", fmt.Errorf("generate user id: %w", err)
	}
	return fmt.Sprintf("%08d", n.Int64()+10000000), nil
}

// lockUser and lockEntity guard in-process writers. Entity locks are always
// taken before user locks.
func (e *Engine) lockUser(ctx context.Context, userID string) (func(), error) {
	return e.locks.Lock(ctx, "user:"+userID)
}

func (e *Engine) lockEntity(ctx context.Context, kind, id string) (func(), error) {
	return e.locks.Lock(ctx, kind+":"+id)
}
