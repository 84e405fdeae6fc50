package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/jellyfish/common"
	"github.com/cppla/jellyfish/feed"
	"github.com/cppla/jellyfish/middleware"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
	"github.com/cppla/jellyfish/utils"
	"github.com/cppla/jellyfish/votes"
)

const (
	defaultPageSize = 10
	postCachePrefix = "cache:post:"
	// second eviction after title edits and deletes
	cacheRedeleteDelay = time.Second
)

// PostController serves the feed, single posts, post editing and voting.
type PostController struct {
	store     store.Store
	paginator *feed.Paginator
	votes     *votes.Engine
	cache     *utils.Cache
	log       *zap.Logger
}

// NewPostController creates a new PostController instance.
func NewPostController(s store.Store, p *feed.Paginator, v *votes.Engine, c *utils.Cache, log *zap.Logger) *PostController {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostController{store: s, paginator: p, votes: v, cache: c, log: log}
}

// ListPosts returns one feed page, newest first.
func (p *PostController) ListPosts(ctx *gin.Context) {
	limit := defaultPageSize
	if raw := strings.TrimSpace(ctx.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondFieldErrors(ctx, common.FieldErrors{{Field: "limit", Message: "limit must be an integer"}})
			return
		}
		limit = n
	}

	req := feed.ListRequest{
		Limit:    limit,
		Cursor:   ctx.Query("cursor"),
		ViewerID: middleware.ViewerID(ctx),
	}
	page, err := p.paginator.ListPosts(ctx.Request.Context(), req, middleware.UserLoaderFrom(ctx, p.store.Users()))
	if err != nil {
		respondError(ctx, p.log, err, 50022, "failed to list posts")
		return
	}
	utils.Success(ctx, page)
}

// GetPost returns a single post with its creator.
func (p *PostController) GetPost(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid post id")
		return
	}

	rctx := ctx.Request.Context()
	key := postCacheKey(id)
	fresh := false
	post, err := utils.GetOrLoad(rctx, p.cache, key, func(c context.Context) (models.Post, error) {
		found, err := p.store.Posts().GetByID(c, id)
		if err != nil {
			return models.Post{}, err
		}
		fresh = true
		return *found, nil
	})
	if err == nil && !fresh {
		// votes only delete the key, so a concurrent load may have cached an old score
		post.Score, err = p.store.Posts().Score(rctx, id)
		if errors.Is(err, common.ErrNotFound) {
			p.cache.Delete(rctx, key)
		}
	}
	if errors.Is(err, common.ErrNotFound) {
		utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
		return
	}
	if err != nil {
		respondError(ctx, p.log, err, 50023, "failed to load post")
		return
	}

	view, err := p.project(ctx, post)
	if err != nil {
		respondError(ctx, p.log, err, 50023, "failed to load post")
		return
	}
	utils.Success(ctx, gin.H{"post": view})
}

// CreatePost allows authenticated users to create new posts.
func (p *PostController) CreatePost(ctx *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required"`
		Text  string `json:"text"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	title := utils.StripTags(req.Title)
	if title == "" {
		respondFieldErrors(ctx, common.FieldErrors{{Field: "title", Message: "title cannot be empty"}})
		return
	}

	post := models.Post{
		Title:     title,
		Text:      utils.Sanitize(req.Text),
		CreatorID: middleware.ViewerID(ctx),
	}
	if err := p.store.Posts().Create(ctx.Request.Context(), &post); err != nil {
		respondError(ctx, p.log, err, 50020, "failed to create post")
		return
	}

	view, err := p.project(ctx, post)
	if err != nil {
		respondError(ctx, p.log, err, 50020, "failed to create post")
		return
	}
	utils.Success(ctx, gin.H{"post": view})
}

// UpdatePost changes the title of a post owned by the viewer.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid post id")
		return
	}
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid request payload")
		return
	}
	title := utils.StripTags(req.Title)
	if title == "" {
		respondFieldErrors(ctx, common.FieldErrors{{Field: "title", Message: "title cannot be empty"}})
		return
	}

	post, err := p.loadOwned(ctx, id, "you can only update your own posts")
	if err != nil {
		respondError(ctx, p.log, err, 50025, "failed to load post")
		return
	}
	if err := p.store.Posts().UpdateTitle(ctx.Request.Context(), id, title); err != nil {
		respondError(ctx, p.log, err, 50026, "failed to update post")
		return
	}
	p.cache.Delete(ctx.Request.Context(), postCacheKey(id))
	p.cache.DeleteLater(cacheRedeleteDelay, postCacheKey(id))

	post.Title = title
	view, err := p.project(ctx, *post)
	if err != nil {
		respondError(ctx, p.log, err, 50026, "failed to update post")
		return
	}
	utils.Success(ctx, gin.H{"post": view})
}

// DeletePost removes a post owned by the viewer together with its votes.
func (p *PostController) DeletePost(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid post id")
		return
	}
	if _, err := p.loadOwned(ctx, id, "you can only delete your own posts"); err != nil {
		respondError(ctx, p.log, err, 50025, "failed to load post")
		return
	}
	if err := p.store.Posts().Delete(ctx.Request.Context(), id); err != nil {
		respondError(ctx, p.log, err, 50028, "failed to delete post")
		return
	}
	p.cache.Delete(ctx.Request.Context(), postCacheKey(id))
	p.cache.DeleteLater(cacheRedeleteDelay, postCacheKey(id))
	utils.Success(ctx, gin.H{"deleted": true})
}

// Vote records an upvote, or a downvote when value is -1.
func (p *PostController) Vote(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid post id")
		return
	}
	var req struct {
		Value int `json:"value"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid request payload")
		return
	}

	voted, err := p.votes.CastVote(ctx.Request.Context(), middleware.ViewerID(ctx), id, req.Value)
	if errors.Is(err, common.ErrNotFound) {
		utils.Error(ctx, http.StatusNotFound, 40402, "post not found")
		return
	}
	if err != nil {
		respondError(ctx, p.log, err, 50040, "failed to vote")
		return
	}
	p.cache.Delete(ctx.Request.Context(), postCacheKey(id))
	utils.Success(ctx, gin.H{"voted": voted})
}

// RetractVote removes the viewer's vote from a post.
func (p *PostController) RetractVote(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid post id")
		return
	}
	retracted, err := p.votes.Retract(ctx.Request.Context(), middleware.ViewerID(ctx), id)
	if errors.Is(err, common.ErrNotFound) {
		utils.Error(ctx, http.StatusNotFound, 40402, "post not found")
		return
	}
	if err != nil {
		respondError(ctx, p.log, err, 50041, "failed to retract vote")
		return
	}
	p.cache.Delete(ctx.Request.Context(), postCacheKey(id))
	utils.Success(ctx, gin.H{"retracted": retracted})
}

// loadOwned fetches the post and fails with common.ErrForbidden unless the viewer created it.
func (p *PostController) loadOwned(ctx *gin.Context, id uint, forbiddenMsg string) (*models.Post, error) {
	post, err := p.store.Posts().GetByID(ctx.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if post.CreatorID != middleware.ViewerID(ctx) {
		return nil, fmt.Errorf("%w: %s", common.ErrForbidden, forbiddenMsg)
	}
	return post, nil
}

func (p *PostController) project(ctx *gin.Context, post models.Post) (feed.PostView, error) {
	creator, found, err := middleware.UserLoaderFrom(ctx, p.store.Users()).Load(post.CreatorID)()
	if err != nil {
		return feed.PostView{}, err
	}
	if !found {
		creator = models.User{ID: post.CreatorID}
	}
	return feed.Project(post, creator, middleware.ViewerID(ctx)), nil
}

func postCacheKey(id uint) string {
	return fmt.Sprintf("%s%d", postCachePrefix, id)
}
