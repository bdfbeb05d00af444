package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/01moynul/kidwallet-golang/internal/blobstore"
	"github.com/01moynul/kidwallet-golang/internal/models"
	"go.uber.org/zap"
)

// snapshot is a decoded document plus what is needed to write it back or
// restore it.
type snapshot[T any] struct {
	path    string
	value   T
	version string // empty when the document does not exist yet
	raw     []byte
}

func (s *snapshot[T]) exists() bool { return s.version != "" }

func load[T any](ctx context.Context, store blobstore.Store, path string) (*snapshot[T], error) {
	doc, err := store.Get(ctx, path)
	if errors.Is(err, blobstore.ErrNotFound) {
		return &snapshot[T]{path: path}, nil
	}
	if err != nil {
		return nil, storeError(err)
	}

	s := &snapshot[T]{path: path, version: doc.Version, raw: doc.Data}
	if err := json.Unmarshal(doc.Data, &s.value); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, path, err)
	}
	return s, nil
}

func (e *Engine) loadUsers(ctx context.Context) (*snapshot[[]models.User], error) {
	return load[[]models.User](ctx, e.store, usersPath)
}

func (e *Engine) loadFriends(ctx context.Context) (*snapshot[[]models.FriendReferral], error) {
	return load[[]models.FriendReferral](ctx, e.store, friendsPath)
}

func (e *Engine) loadWithdrawals(ctx context.Context) (*snapshot[[]models.WithdrawalRequest], error) {
	return load[[]models.WithdrawalRequest](ctx, e.store, withdrawalsPath)
}

func (e *Engine) loadUserData(ctx context.Context, userID string) (*snapshot[models.UserData], error) {
	return load[models.UserData](ctx, e.store, userDataPath(userID))
}

// storeError lifts a blob store failure into the engine's error kinds.
func storeError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrVersionConflict):
		return fmt.Errorf("%w: %w", ErrVersionConflict, err)
	case errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// txn is an ordered set of document writes applied as one unit.
type txn struct {
	writes []pendingWrite
}

type pendingWrite struct {
	path     string
	expected string
	previous []byte
	value    any
	message  string
}

// stage queues s.value to be written back over the version it was read at.
func stage[T any](t *txn, s *snapshot[T], message string) {
	t.writes = append(t.writes, pendingWrite{
		path:     s.path,
		expected: s.version,
		previous: s.raw,
		value:    s.value,
		message:  message,
	})
}

type appliedWrite struct {
	pendingWrite
	version string
}

// commit applies the writes in order. When one fails, the writes already
// applied are restored to their previous content before the error is
// returned, so a failed commit leaves the store as it was read.
func (e *Engine) commit(ctx context.Context, op string, t *txn) error {
	applied := make([]appliedWrite, 0, len(t.writes))
	for _, w := range t.writes {
		data, err := json.MarshalIndent(w.value, "", "  ")
		if err == nil {
			var version string
			version, err = e.store.Put(ctx, w.path, data, w.expected, w.message)
			if err == nil {
				applied = append(applied, appliedWrite{pendingWrite: w, version: version})
				continue
			}
			err = storeError(err)
		} else {
			err = fmt.Errorf("encode %s: %w", w.path, err)
		}

		if rbErr := e.compensate(ctx, op, applied); rbErr != nil {
			// The cause is flattened so a conflict here is not retried.
			e.log.Error("Commit partially applied",
				zap.String("op", op), zap.NamedError("cause", err), zap.NamedError("rollback", rbErr))
			return fmt.Errorf("%s: %w: %v (rollback failed: %v)", op, ErrPartiallyApplied, err, rbErr)
		}
		return err
	}
	return nil
}

func (e *Engine) compensate(ctx context.Context, op string, applied []appliedWrite) error {
	if len(applied) == 0 {
		return nil
	}

	// Rollback must run even when the caller gave up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OperationTimeout)
	defer cancel()

	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		w := applied[i]
		if w.previous == nil {
			// Freshly created documents cannot be removed through the store.
			// Only private documents are created mid-transition; Reconcile rebuilds them.
			e.log.Warn("Cannot roll back created document",
				zap.String("op", op), zap.String("path", w.path))
			continue
		}
		if _, err := e.store.Put(ctx, w.path, w.previous, w.version, "Rollback: "+w.message); err != nil {
			e.log.Error("Rollback failed",
				zap.String("op", op), zap.String("path", w.path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.path, err))
			continue
		}
		e.log.Info("Rolled back write", zap.String("op", op), zap.String("path", w.path))
	}
	return errors.Join(errs...)
}

// do runs fn under the operation deadline and re-runs it with growing
// backoff while it fails on a version conflict. fn must re-read everything
// it writes, so a retried transition sees the outcome of the one it lost to.
func (e *Engine) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()

	backoff := e.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrPartiallyApplied) || attempt >= e.cfg.MaxRetries {
			return err
		}

		wait := backoff + rand.N(backoff/2+1)
		e.log.Warn("Version conflict, retrying",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
}

func findUser(users []models.User, userID string) int {
	for i := range users {
		if users[i].UserID == userID {
			return i
		}
	}
	return -1
}

func findFriend(friends []models.FriendReferral, id string) int {
	for i := range friends {
		if friends[i].ID == id {
			return i
		}
	}
	return -1
}

func findWithdrawal(ws []models.WithdrawalRequest, id string) int {
	for i := range ws {
		if ws[i].ID == id {
			return i
		}
	}
	return -1
}

// maxActivities bounds the feed kept in a private document.
const maxActivities = 500

// project rewrites a private document from the global state for its owner.
func project(data *models.UserData, u models.User, friends []models.FriendReferral, withdrawals []models.WithdrawalRequest) {
	data.User = u.Public()

	data.Friends = []models.FriendReferral{}
	for _, f := range friends {
		if f.AddedBy == u.UserID {
			data.Friends = append(data.Friends, f)
		}
	}

	data.Withdrawals = []models.WithdrawalRequest{}
	for _, w := range withdrawals {
		if w.UserID == u.UserID {
			data.Withdrawals = append(data.Withdrawals, w)
		}
	}

	if data.Activities == nil {
		data.Activities = []models.Activity{}
	}
}

func addActivity(data *models.UserData, kind, message string, at time.Time) {
	data.Activities = append(data.Activities, models.Activity{Type: kind, Date: at, Message: message})
	if n := len(data.Activities); n > maxActivities {
		data.Activities = append([]models.Activity(nil), data.Activities[n-maxActivities:]...)
	}
}
