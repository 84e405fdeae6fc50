package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/jellyfish/common"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
	"github.com/cppla/jellyfish/store/storetest"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
	fail    error
}

func (r *recorder) fetch(_ context.Context, keys []int) (map[int]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]int(nil), keys...)
	sort.Ints(cp)
	r.batches = append(r.batches, cp)
	if r.fail != nil {
		return nil, r.fail
	}
	out := map[int]string{}
	for _, k := range keys {
		if k >= 0 {
			out[k] = "v" + string(rune('a'+k))
		}
	}
	return out, nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestLoad_CoalescesAndDeduplicates(t *testing.T) {
	rec := &recorder{}
	l := New(context.Background(), rec.fetch, WithWait(0))

	keys := []int{1, 2, 3, 2, 1, 3, 3}
	thunks := l.LoadMany(keys)
	for i, th := range thunks {
		v, found, err := th()
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "v"+string(rune('a'+keys[i])), v)
	}

	require.Equal(t, 1, rec.calls())
	assert.Equal(t, []int{1, 2, 3}, rec.batches[0])
}

func TestLoad_CachedKeyMakesNoFetch(t *testing.T) {
	rec := &recorder{}
	l := New(context.Background(), rec.fetch, WithWait(0))

	_, _, err := l.Load(4)()
	require.NoError(t, err)
	_, _, err = l.Load(4)()
	require.NoError(t, err)

	assert.Equal(t, 1, rec.calls())
}

func TestLoad_MissingKeyIsNotFound(t *testing.T) {
	rec := &recorder{}
	l := New(context.Background(), rec.fetch, WithWait(0))

	v, found, err := l.Load(-1)()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, v)
}

func TestLoad_FetchErrorPropagatesAndIsRetried(t *testing.T) {
	rec := &recorder{fail: errors.New("db down")}
	l := New(context.Background(), rec.fetch, WithWait(0))

	a, b := l.Load(1), l.Load(2)
	_, _, errA := a()
	_, _, errB := b()
	assert.EqualError(t, errA, "db down")
	assert.EqualError(t, errB, "db down")

	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()

	v, found, err := l.Load(1)()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "vb", v)
	assert.Equal(t, 2, rec.calls())
}

func TestLoad_MaxBatchSplits(t *testing.T) {
	rec := &recorder{}
	l := New(context.Background(), rec.fetch, WithWait(0), WithMaxBatch(2))

	thunks := l.LoadMany([]int{0, 1, 2, 3, 4})
	for _, th := range thunks {
		_, found, err := th()
		require.NoError(t, err)
		require.True(t, found)
	}
	assert.Equal(t, 3, rec.calls())
}

func TestLoad_TimerFlushesWithoutAwait(t *testing.T) {
	rec := &recorder{}
	l := New(context.Background(), rec.fetch, WithWait(5*time.Millisecond))

	l.Load(1)
	l.Load(2)
	require.Eventually(t, func() bool { return rec.calls() == 1 }, time.Second, time.Millisecond)
}

func TestLoad_ConcurrentAwaitersShareOneFetch(t *testing.T) {
	var fetches int32
	l := New(context.Background(), func(_ context.Context, keys []int) (map[int]int, error) {
		atomic.AddInt32(&fetches, 1)
		out := map[int]int{}
		for _, k := range keys {
			out[k] = k * 10
		}
		return out, nil
	}, WithWait(0))

	thunks := l.LoadMany([]int{1, 2, 3, 4, 5, 6, 7, 8})
	var wg sync.WaitGroup
	for i, th := range thunks {
		wg.Add(1)
		go func(i int, th Thunk[int]) {
			defer wg.Done()
			v, found, err := th()
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, (i+1)*10, v)
		}(i, th)
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
}

func TestPrime_SkipsFetch(t *testing.T) {
	rec := &recorder{}
	l := New(context.Background(), rec.fetch, WithWait(0))
	l.Prime(9, "primed")

	v, found, err := l.Load(9)()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "primed", v)
	assert.Zero(t, rec.calls())
}

type countingUsers struct {
	store.UserRepository
	calls int32
}

func (c *countingUsers) GetByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.UserRepository.GetByIDs(ctx, ids)
}

func TestUserLoader_OneQueryPerBatch(t *testing.T) {
	db := storetest.Open(t)
	a := storetest.SeedUser(t, db, "ann")
	b := storetest.SeedUser(t, db, "ben")
	users := &countingUsers{UserRepository: store.NewGormStore(db).Users()}

	l := NewUserLoader(context.Background(), users, WithWait(0))
	thunks := l.LoadMany([]uint{a.ID, b.ID, a.ID, 404})

	u, found, err := thunks[0]()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ann", u.Username)

	u, found, err = thunks[1]()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ben", u.Username)

	_, found, err = thunks[3]()
	require.NoError(t, err)
	assert.False(t, found)

	assert.EqualValues(t, 1, atomic.LoadInt32(&users.calls))
}

type failingUsers struct {
	store.UserRepository
}

func (failingUsers) GetByIDs(context.Context, []uint) ([]models.User, error) {
	return nil, fmt.Errorf("%w: connection refused", common.ErrStoreFailure)
}

func TestUserLoader_StoreFailure(t *testing.T) {
	users := &failingUsers{}
	l := NewUserLoader(context.Background(), users, WithWait(0))
	_, _, err := l.Load(1)()
	assert.ErrorIs(t, err, common.ErrStoreFailure)
}
