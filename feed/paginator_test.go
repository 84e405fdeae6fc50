package feed

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/jellyfish/common"
	"github.com/cppla/jellyfish/loader"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
	"github.com/cppla/jellyfish/store/storetest"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newFeed(t *testing.T) (*Paginator, store.Store, *gorm.DB) {
	t.Helper()
	db := storetest.Open(t)
	s := store.NewGormStore(db)
	return NewPaginator(s.Posts()), s, db
}

func users(s store.Store) *loader.UserLoader {
	return loader.NewUserLoader(context.Background(), s.Users(), loader.WithWait(0))
}

func walk(t *testing.T, p *Paginator, s store.Store, limit int) []PostView {
	t.Helper()
	var all []PostView
	cursor := ""
	for i := 0; i < 1000; i++ {
		page, err := p.ListPosts(context.Background(), ListRequest{Limit: limit, Cursor: cursor}, users(s))
		require.NoError(t, err)
		all = append(all, page.Posts...)
		if !page.HasMore {
			return all
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
	}
	t.Fatal("pagination did not terminate")
	return nil
}

func TestListPosts_WalkReturnsEveryPostOnce(t *testing.T) {
	p, s, db := newFeed(t)
	u := storetest.SeedUser(t, db, "alice")
	const n = 23
	for i := 0; i < n; i++ {
		storetest.SeedPost(t, db, u.ID, "post", base.Add(time.Duration(i)*time.Minute))
	}

	for _, limit := range []int{1, 5, 10, 50} {
		all := walk(t, p, s, limit)
		require.Len(t, all, n, "limit %d", limit)
		seen := map[uint]bool{}
		for i, v := range all {
			require.False(t, seen[v.ID])
			seen[v.ID] = true
			if i > 0 {
				assert.True(t, all[i-1].CreatedAt.After(v.CreatedAt))
			}
		}
	}
}

func TestListPosts_EqualTimestampsAreNotSkipped(t *testing.T) {
	p, s, db := newFeed(t)
	u := storetest.SeedUser(t, db, "alice")
	for i := 0; i < 7; i++ {
		storetest.SeedPost(t, db, u.ID, "same", base)
	}
	storetest.SeedPost(t, db, u.ID, "older", base.Add(-time.Hour))

	all := walk(t, p, s, 2)
	require.Len(t, all, 8)
	for i := 1; i < 7; i++ {
		assert.Greater(t, all[i-1].ID, all[i].ID)
	}
	assert.Equal(t, "older", all[7].Title)
}

func TestListPosts_ClampsLimit(t *testing.T) {
	p, s, db := newFeed(t)
	u := storetest.SeedUser(t, db, "alice")
	for i := 0; i < 60; i++ {
		storetest.SeedPost(t, db, u.ID, "p", base.Add(time.Duration(i)*time.Second))
	}

	page, err := p.ListPosts(context.Background(), ListRequest{Limit: 1000}, users(s))
	require.NoError(t, err)
	assert.Len(t, page.Posts, MaxPageSize)
	assert.True(t, page.HasMore)

	page, err = p.ListPosts(context.Background(), ListRequest{Limit: 0}, users(s))
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.True(t, page.HasMore)

	page, err = p.ListPosts(context.Background(), ListRequest{Limit: -4}, users(s))
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
}

func TestListPosts_EmptyFeed(t *testing.T) {
	p, s, _ := newFeed(t)
	page, err := p.ListPosts(context.Background(), ListRequest{Limit: 10}, users(s))
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestListPosts_EmailVisibleOnlyToCreator(t *testing.T) {
	p, s, db := newFeed(t)
	alice := storetest.SeedUser(t, db, "alice")
	bob := storetest.SeedUser(t, db, "bob")
	storetest.SeedPost(t, db, alice.ID, "a", base)
	storetest.SeedPost(t, db, bob.ID, "b", base.Add(time.Minute))

	page, err := p.ListPosts(context.Background(), ListRequest{Limit: 10, ViewerID: alice.ID}, users(s))
	require.NoError(t, err)
	require.Len(t, page.Posts, 2)

	byCreator := map[string]PublicUser{}
	for _, v := range page.Posts {
		byCreator[v.Creator.Username] = v.Creator
	}
	assert.Equal(t, "alice@example.com", byCreator["alice"].Email)
	assert.Empty(t, byCreator["bob"].Email)

	anon, err := p.ListPosts(context.Background(), ListRequest{Limit: 10}, users(s))
	require.NoError(t, err)
	for _, v := range anon.Posts {
		assert.Empty(t, v.Creator.Email)
	}
}

type countingUsers struct {
	store.UserRepository
	calls int32
}

func (c *countingUsers) GetByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.UserRepository.GetByIDs(ctx, ids)
}

func TestListPosts_LoadsCreatorsInOneBatch(t *testing.T) {
	p, s, db := newFeed(t)
	for i := 0; i < 4; i++ {
		u := storetest.SeedUser(t, db, "user"+string(rune('a'+i)))
		storetest.SeedPost(t, db, u.ID, "x", base.Add(time.Duration(i)*time.Minute))
		storetest.SeedPost(t, db, u.ID, "y", base.Add(time.Duration(i)*time.Minute+time.Second))
	}
	counter := &countingUsers{UserRepository: s.Users()}
	l := loader.NewUserLoader(context.Background(), counter, loader.WithWait(0))

	page, err := p.ListPosts(context.Background(), ListRequest{Limit: 50}, l)
	require.NoError(t, err)
	require.Len(t, page.Posts, 8)
	for _, v := range page.Posts {
		assert.NotEmpty(t, v.Creator.Username)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&counter.calls))
}

func TestListPosts_MissingCreatorKeepsPost(t *testing.T) {
	p, s, db := newFeed(t)
	storetest.SeedPost(t, db, 777, "orphan", base)

	page, err := p.ListPosts(context.Background(), ListRequest{Limit: 10}, users(s))
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.EqualValues(t, 777, page.Posts[0].Creator.ID)
	assert.Empty(t, page.Posts[0].Creator.Username)
}

func TestListPosts_InvalidCursor(t *testing.T) {
	p, s, _ := newFeed(t)
	_, err := p.ListPosts(context.Background(), ListRequest{Limit: 10, Cursor: "yesterday"}, users(s))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestListPosts_LegacyMillisCursor(t *testing.T) {
	p, s, db := newFeed(t)
	u := storetest.SeedUser(t, db, "alice")
	storetest.SeedPost(t, db, u.ID, "old", base)
	storetest.SeedPost(t, db, u.ID, "new", base.Add(time.Hour))

	cursor := "1709287200000" // base + 1h in unix millis
	page, err := p.ListPosts(context.Background(), ListRequest{Limit: 10, Cursor: cursor}, users(s))
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "old", page.Posts[0].Title)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("short"))
	long := strings.Repeat("ab", 40)
	assert.Equal(t, long[:50], Snippet(long))
	multi := strings.Repeat("é", 60)
	assert.Equal(t, strings.Repeat("é", 50), Snippet(multi))
}

func TestCursorRoundTrip(t *testing.T) {
	post := models.Post{ID: 12, CreatedAt: base.Add(123 * time.Millisecond)}
	c, err := DecodeCursor(EncodeCursor(post))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.CreatedAt.Equal(post.CreatedAt))
	assert.EqualValues(t, 12, c.ID)

	none, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, bad := range []string{"abc", "-5", "100:", "100:x", "100:0"} {
		_, err := DecodeCursor(bad)
		assert.Error(t, err, bad)
	}
}
