// Package store defines the repositories the services read and write through,
// together with the gorm implementation used in production and tests.
package store

import (
	"context"
	"time"

	"github.com/cppla/jellyfish/models"
)

// Store bundles the repositories and opens transactions spanning all of them.
type Store interface {
	Users() UserRepository
	Posts() PostRepository
	Votes() VoteRepository
	// WithTx runs fn inside one transaction. The Store passed to fn is bound to it;
	// returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id uint, hash string) error
}

type PostRepository interface {
	Create(ctx context.Context, p *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	// GetByIDForUpdate reads the post and holds a row lock until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uint) (*models.Post, error)
	// ListBefore returns up to limit posts strictly older than cursor in (created_at, id) descending order.
	// A nil cursor starts from the newest post.
	ListBefore(ctx context.Context, cursor *PostCursor, limit int) ([]models.Post, error)
	UpdateTitle(ctx context.Context, id uint, title string) error
	Delete(ctx context.Context, id uint) error
	AddScore(ctx context.Context, id uint, delta int) error
	// Score reads only the current score column.
	Score(ctx context.Context, id uint) (int, error)
}

type VoteRepository interface {
	Get(ctx context.Context, userID, postID uint) (*models.Vote, error)
	Create(ctx context.Context, v *models.Vote) error
	UpdateValue(ctx context.Context, userID, postID uint, value int) error
	Delete(ctx context.Context, userID, postID uint) error
	SumForPost(ctx context.Context, postID uint) (int, error)
}

// PostCursor is a position in the feed ordering. ID zero means "any post created before CreatedAt".
type PostCursor struct {
	CreatedAt time.Time
	ID        uint
}
