// Package loader batches and caches keyed lookups made while serving one request.
//
// Every Load queued before the pending batch is flushed is answered by a single
// fetch call. A batch flushes when one of its thunks is awaited, when the wait
// window elapses, or when it reaches the maximum size. Resolved values stay cached
// for the lifetime of the Loader, so a Loader must be created per request.
package loader

import (
	"context"
	"sync"
	"time"
)

const (
	defaultWait     = 2 * time.Millisecond
	defaultMaxBatch = 100
)

// FetchFunc loads many keys at once. Keys missing from the returned map are reported as not found.
type FetchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Thunk blocks until the value is available. found is false when the key does not exist.
type Thunk[V any] func() (value V, found bool, err error)

type options struct {
	wait     time.Duration
	maxBatch int
}

type Option func(*options)

// WithWait sets how long a batch collects keys before it is flushed on its own.
// Zero disables the timer; the batch then flushes on first await or when full.
func WithWait(d time.Duration) Option {
	return func(o *options) { o.wait = d }
}

// WithMaxBatch caps the number of keys sent to one fetch call.
func WithMaxBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatch = n
		}
	}
}

type Loader[K comparable, V any] struct {
	ctx   context.Context
	fetch FetchFunc[K, V]
	opts  options

	mu      sync.Mutex
	cache   map[K]*result[V]
	pending *batch[K, V]
}

type result[V any] struct {
	done  chan struct{}
	flush func()
	value V
	found bool
	err   error
}

func (r *result[V]) thunk() (V, bool, error) {
	select {
	case <-r.done:
	default:
		if r.flush != nil {
			r.flush()
		}
		<-r.done
	}
	return r.value, r.found, r.err
}

type batch[K comparable, V any] struct {
	keys    []K
	results map[K]*result[V]
	once    sync.Once
	timer   *time.Timer
}

// New returns a Loader whose fetches run with ctx.
func New[K comparable, V any](ctx context.Context, fetch FetchFunc[K, V], opts ...Option) *Loader[K, V] {
	o := options{wait: defaultWait, maxBatch: defaultMaxBatch}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[K, V]{
		ctx:   ctx,
		fetch: fetch,
		opts:  o,
		cache: make(map[K]*result[V]),
	}
}

// Load queues key and returns a thunk for its value. It never blocks.
func (l *Loader[K, V]) Load(key K) Thunk[V] {
	l.mu.Lock()
	if r, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return r.thunk
	}

	b := l.pending
	if b == nil {
		b = &batch[K, V]{results: make(map[K]*result[V])}
		l.pending = b
		if l.opts.wait > 0 {
			b.timer = time.AfterFunc(l.opts.wait, func() { l.dispatch(b) })
		}
	}
	r := &result[V]{done: make(chan struct{}), flush: func() { l.dispatch(b) }}
	l.cache[key] = r
	b.keys = append(b.keys, key)
	b.results[key] = r

	full := len(b.keys) >= l.opts.maxBatch
	if full {
		l.pending = nil
	}
	l.mu.Unlock()

	if full {
		go l.dispatch(b)
	}
	return r.thunk
}

// LoadMany queues every key and returns thunks in the same order.
func (l *Loader[K, V]) LoadMany(keys []K) []Thunk[V] {
	thunks := make([]Thunk[V], len(keys))
	for i, k := range keys {
		thunks[i] = l.Load(k)
	}
	return thunks
}

// Prime stores value for key unless the key was already requested.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[key]; ok {
		return
	}
	r := &result[V]{done: make(chan struct{}), value: value, found: true}
	close(r.done)
	l.cache[key] = r
}

func (l *Loader[K, V]) dispatch(b *batch[K, V]) {
	l.mu.Lock()
	if l.pending == b {
		l.pending = nil
	}
	l.mu.Unlock()
	b.once.Do(func() {
		if b.timer != nil {
			b.timer.Stop()
		}
		l.run(b)
	})
}

func (l *Loader[K, V]) run(b *batch[K, V]) {
	values, err := l.fetch(l.ctx, b.keys)
	if err != nil {
		// failed keys are forgotten so a later Load retries them
		l.mu.Lock()
		for k, r := range b.results {
			if l.cache[k] == r {
				delete(l.cache, k)
			}
		}
		l.mu.Unlock()
	}
	for k, r := range b.results {
		if err != nil {
			r.err = err
		} else {
			r.value, r.found = values[k]
		}
		close(r.done)
	}
}
