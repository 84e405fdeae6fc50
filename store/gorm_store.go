package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/jellyfish/common"
	"github.com/cppla/jellyfish/models"
)

// GormStore implements Store on top of a gorm connection or transaction.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. The same value is safe for concurrent use by many requests.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Users() UserRepository { return &userRepo{db: s.db} }
func (s *GormStore) Posts() PostRepository { return &postRepo{db: s.db} }
func (s *GormStore) Votes() VoteRepository { return &voteRepo{db: s.db} }

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// translate maps driver and gorm errors onto the common error set.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return common.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isDuplicateMessage(err):
		return fmt.Errorf("%w: %w", common.ErrConflict, err)
	default:
		return fmt.Errorf("%w: %w", common.ErrStoreFailure, err)
	}
}

// isDuplicateMessage catches unique violations from drivers that do not implement gorm's error translation.
func isDuplicateMessage(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}

type userRepo struct {
	db *gorm.DB
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	return translate(r.db.WithContext(ctx).Create(u).Error)
}

func (r *userRepo) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *userRepo) GetByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, translate(err)
	}
	return users, nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id uint, hash string) error {
	res := r.db.WithContext(ctx).Model(&models.User{ID: id}).Update("password_hash", hash)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

type postRepo struct {
	db *gorm.DB
}

func (r *postRepo) Create(ctx context.Context, p *models.Post) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *postRepo) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var p models.Post
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *postRepo) GetByIDForUpdate(ctx context.Context, id uint) (*models.Post, error) {
	q := r.db.WithContext(ctx)
	// sqlite has no row locks; its single writer already serializes the transaction
	if q.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.Post
	if err := q.First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *postRepo) ListBefore(ctx context.Context, cursor *PostCursor, limit int) ([]models.Post, error) {
	posts := []models.Post{}
	if limit <= 0 {
		return posts, nil
	}
	q := r.db.WithContext(ctx).Model(&models.Post{})
	if cursor != nil {
		at := cursor.CreatedAt.UTC()
		if cursor.ID == 0 {
			q = q.Where("created_at < ?", at)
		} else {
			q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, cursor.ID)
		}
	}
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, translate(err)
	}
	return posts, nil
}

func (r *postRepo) UpdateTitle(ctx context.Context, id uint, title string) error {
	res := r.db.WithContext(ctx).Model(&models.Post{ID: id}).Update("title", title)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Delete removes the post and every vote cast on it.
func (r *postRepo) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Post{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return translate(err)
}

func (r *postRepo) AddScore(ctx context.Context, id uint, delta int) error {
	res := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).
		Updates(map[string]any{"score": gorm.Expr("score + ?", delta)})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *postRepo) Score(ctx context.Context, id uint) (int, error) {
	var p models.Post
	if err := r.db.WithContext(ctx).Select("id", "score").First(&p, id).Error; err != nil {
		return 0, translate(err)
	}
	return p.Score, nil
}

type voteRepo struct {
	db *gorm.DB
}

func (r *voteRepo) Get(ctx context.Context, userID, postID uint) (*models.Vote, error) {
	var v models.Vote
	err := r.db.WithContext(ctx).Where("user_id = ? AND post_id = ?", userID, postID).First(&v).Error
	if err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (r *voteRepo) Create(ctx context.Context, v *models.Vote) error {
	return translate(r.db.WithContext(ctx).Create(v).Error)
}

func (r *voteRepo) UpdateValue(ctx context.Context, userID, postID uint, value int) error {
	res := r.db.WithContext(ctx).Model(&models.Vote{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Update("value", value)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *voteRepo) Delete(ctx context.Context, userID, postID uint) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Vote{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *voteRepo) SumForPost(ctx context.Context, postID uint) (int, error) {
	var sum int
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Where("post_id = ?", postID).
		Select("COALESCE(SUM(value), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, translate(err)
	}
	return sum, nil
}
