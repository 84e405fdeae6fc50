// Package votes applies up and down votes to posts while keeping each post's score
// equal to the sum of its votes.
package votes

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cppla/jellyfish/common"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
)

const (
	NoVote    = 0
	Upvoted   = 1
	Downvoted = -1
)

// Normalize maps any requested value to a vote: -1 stays a downvote, everything else is an upvote.
func Normalize(value int) int {
	if value == Downvoted {
		return Downvoted
	}
	return Upvoted
}

// Transition computes the next state and score delta for a voter in state current asking for desired.
// changed is false when nothing has to be written.
func Transition(current, desired int) (next, delta int, changed bool) {
	desired = Normalize(desired)
	switch current {
	case desired:
		return current, 0, false
	case NoVote:
		return desired, desired, true
	default:
		return desired, desired - current, true
	}
}

type Engine struct {
	store store.Store
	log   *zap.Logger
}

func NewEngine(s store.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, log: log}
}

// CastVote records voterID's vote on postID and adjusts the post score in the same transaction.
// Re-sending the current vote is a no-op that still reports success.
func (e *Engine) CastVote(ctx context.Context, voterID, postID uint, value int) (bool, error) {
	if voterID == 0 {
		return false, common.ErrUnauthorized
	}
	desired := Normalize(value)

	err := e.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.Posts().GetByIDForUpdate(ctx, postID); err != nil {
			return err
		}

		current := NoVote
		existing, err := tx.Votes().Get(ctx, voterID, postID)
		switch {
		case err == nil:
			current = existing.Value
		case !errors.Is(err, common.ErrNotFound):
			return err
		}

		next, delta, changed := Transition(current, desired)
		if !changed {
			return nil
		}
		if current == NoVote {
			err = tx.Votes().Create(ctx, &models.Vote{UserID: voterID, PostID: postID, Value: next})
		} else {
			err = tx.Votes().UpdateValue(ctx, voterID, postID, next)
		}
		if err != nil {
			return err
		}
		return tx.Posts().AddScore(ctx, postID, delta)
	})
	if err != nil {
		e.logFailure("cast vote", voterID, postID, err)
		return false, err
	}
	return true, nil
}

// Retract removes voterID's vote on postID, if any, and takes its value back out of the score.
func (e *Engine) Retract(ctx context.Context, voterID, postID uint) (bool, error) {
	if voterID == 0 {
		return false, common.ErrUnauthorized
	}

	err := e.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.Posts().GetByIDForUpdate(ctx, postID); err != nil {
			return err
		}
		existing, err := tx.Votes().Get(ctx, voterID, postID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Votes().Delete(ctx, voterID, postID); err != nil {
			return err
		}
		return tx.Posts().AddScore(ctx, postID, -existing.Value)
	})
	if err != nil {
		e.logFailure("retract vote", voterID, postID, err)
		return false, err
	}
	return true, nil
}

func (e *Engine) logFailure(op string, voterID, postID uint, err error) {
	if errors.Is(err, common.ErrStoreFailure) {
		e.log.Error(op+" failed", zap.Uint("user_id", voterID), zap.Uint("post_id", postID), zap.Error(err))
	}
}
