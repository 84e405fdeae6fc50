// Package feed serves posts newest first in cursor bounded pages.
package feed

import (
	"context"
	"time"

	"github.com/cppla/jellyfish/loader"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
)

const (
	MaxPageSize   = 50
	SnippetLength = 50
)

type ListRequest struct {
	Limit    int
	Cursor   string
	ViewerID uint // zero for anonymous callers
}

// PublicUser is the creator profile attached to a post. Email is only filled in for the creator themself.
type PublicUser struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PostView struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Text        string     `json:"text"`
	TextSnippet string     `json:"text_snippet"`
	Score       int        `json:"score"`
	CreatorID   uint       `json:"creator_id"`
	Creator     PublicUser `json:"creator"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Page struct {
	Posts      []PostView `json:"posts"`
	HasMore    bool       `json:"has_more"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type Paginator struct {
	posts store.PostRepository
}

func NewPaginator(posts store.PostRepository) *Paginator {
	return &Paginator{posts: posts}
}

// EffectiveLimit clamps a requested page size into [0, MaxPageSize].
func EffectiveLimit(requested int) int {
	switch {
	case requested < 0:
		return 0
	case requested > MaxPageSize:
		return MaxPageSize
	default:
		return requested
	}
}

// ListPosts returns the page after req.Cursor. It asks the store for one row more than the page
// holds; getting it back means another page exists.
func (p *Paginator) ListPosts(ctx context.Context, req ListRequest, users *loader.UserLoader) (*Page, error) {
	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}
	limit := EffectiveLimit(req.Limit)

	rows, err := p.posts.ListBefore(ctx, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	page := &Page{Posts: make([]PostView, 0, limit)}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	if len(rows) == 0 {
		return page, nil
	}

	creators := make([]uint, len(rows))
	for i, r := range rows {
		creators[i] = r.CreatorID
	}
	thunks := users.LoadMany(creators)
	for i, r := range rows {
		creator, found, err := thunks[i]()
		if err != nil {
			return nil, err
		}
		if !found {
			creator = models.User{ID: r.CreatorID}
		}
		page.Posts = append(page.Posts, Project(r, creator, req.ViewerID))
	}
	page.NextCursor = EncodeCursor(rows[len(rows)-1])
	return page, nil
}

// Project builds the read model of post as seen by viewerID.
func Project(post models.Post, creator models.User, viewerID uint) PostView {
	return PostView{
		ID:          post.ID,
		Title:       post.Title,
		Text:        post.Text,
		TextSnippet: Snippet(post.Text),
		Score:       post.Score,
		CreatorID:   post.CreatorID,
		Creator:     PublicProfile(creator, viewerID),
		CreatedAt:   post.CreatedAt,
		UpdatedAt:   post.UpdatedAt,
	}
}

// PublicProfile hides u's email from everyone but u.
func PublicProfile(u models.User, viewerID uint) PublicUser {
	pu := PublicUser{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
	if viewerID != 0 && viewerID == u.ID {
		pu.Email = u.Email
	}
	return pu
}

// Snippet returns the first SnippetLength characters of text.
func Snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= SnippetLength {
		return text
	}
	return string(runes[:SnippetLength])
}
