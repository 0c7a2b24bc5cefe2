package handbook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/singleflight"
)

// PatchOutcome reports what a patch did to the cache.
type PatchOutcome int

const (
	// PatchNotCached means the entry was never fetched; nothing was written.
	PatchNotCached PatchOutcome = iota
	// PatchUnchanged means the entry exists but the patch left it as is.
	PatchUnchanged
	// PatchApplied means a new value replaced the cached one.
	PatchApplied
)

func (o PatchOutcome) String() string {
	switch o {
	case PatchNotCached:
		return "not-cached"
	case PatchUnchanged:
		return "unchanged"
	case PatchApplied:
		return "applied"
	}
	return fmt.Sprintf("PatchOutcome(%d)", int(o))
}

// Invalidator marks cache entries stale.
type Invalidator interface {
	Invalidate(key Key) bool
	InvalidatePrefix(prefix Key) int
}

// ChangeFunc observes a cache entry after it changed.
type ChangeFunc func(key Key, version uint64)

// Fetcher loads the data of a key from the network.
type Fetcher func(ctx context.Context) (any, error)

type cacheEntry struct {
	data      any
	stale     bool
	updatedAt time.Time
	version   uint64
}

type cacheListener struct {
	id string
	fn ChangeFunc
}

// QueryCache is the process-wide query cache. It is safe for concurrent use
// and is passed by reference to everything that reads or patches it.
type QueryCache struct {
	mu        sync.RWMutex
	entries   map[Key]*cacheEntry
	listeners map[Key][]cacheListener
	version   uint64

	staleTime time.Duration
	logger    *slog.Logger
	now       func() time.Time
	group     singleflight.Group
}

// CacheOption configures a QueryCache.
type CacheOption func(*QueryCache)

// WithStaleTime sets how long fetched data stays fresh. Zero means data is
// fresh until invalidated.
func WithStaleTime(d time.Duration) CacheOption {
	return func(c *QueryCache) { c.staleTime = d }
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *QueryCache) { c.logger = logger }
}

// NewQueryCache creates an empty cache.
func NewQueryCache(opts ...CacheOption) *QueryCache {
	c := &QueryCache{
		entries:   make(map[Key]*cacheEntry),
		listeners: make(map[Key][]cacheListener),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ── Reads ────────────────────────────────────────────────

// Get returns the cached value of key.
func (c *QueryCache) Get(key Key) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Version returns the version of key, or 0 if it is not cached.
func (c *QueryCache) Version(key Key) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return e.version
	}
	return 0
}

// IsStale reports whether key is missing, invalidated or older than the stale time.
func (c *QueryCache) IsStale(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return true
	}
	return c.staleLocked(e)
}

func (c *QueryCache) staleLocked(e *cacheEntry) bool {
	if e.stale {
		return true
	}
	return c.staleTime > 0 && c.now().Sub(e.updatedAt) > c.staleTime
}

// Keys returns the cached keys under prefix, sorted. An empty prefix matches all.
func (c *QueryCache) Keys(prefix Key) []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []Key
	for k := range c.entries {
		if prefix == "" || k.HasPrefix(prefix) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ── Writes ───────────────────────────────────────────────

// Set stores data under key and marks it fresh.
func (c *QueryCache) Set(key Key, data any) {
	c.mu.Lock()
	v := c.storeLocked(key, data)
	c.mu.Unlock()
	c.notify(key, v)
}

func (c *QueryCache) storeLocked(key Key, data any) uint64 {
	c.version++
	c.entries[key] = &cacheEntry{
		data:      data,
		updatedAt: c.now(),
		version:   c.version,
	}
	return c.version
}

// Patch rewrites the cached value of key with fn. fn receives the current
// value and returns the replacement and whether anything changed. fn must
// not mutate its argument and must not call back into the cache, which is
// locked while fn runs. Patching does not refresh the entry's fetch time
// and keeps its stale flag.
func (c *QueryCache) Patch(key Key, fn func(old any) (any, bool)) PatchOutcome {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return PatchNotCached
	}
	next, changed := fn(e.data)
	if !changed {
		c.mu.Unlock()
		return PatchUnchanged
	}
	c.version++
	c.entries[key] = &cacheEntry{
		data:      next,
		stale:     e.stale,
		updatedAt: e.updatedAt,
		version:   c.version,
	}
	v := c.version
	c.mu.Unlock()

	c.notify(key, v)
	return PatchApplied
}

// Invalidate marks key stale so the next Fetch goes to the network.
// Subscribers of key are notified. It returns false if key is not cached.
func (c *QueryCache) Invalidate(key Key) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	var v uint64
	if ok {
		e.stale = true
		v = e.version
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.logger.Debug("cache entry invalidated", slog.String("key", key.String()))
	c.notify(key, v)
	return true
}

// InvalidatePrefix marks every key under prefix stale and returns how many were.
func (c *QueryCache) InvalidatePrefix(prefix Key) int {
	c.mu.Lock()
	touched := make(map[Key]uint64)
	for k, e := range c.entries {
		if k.HasPrefix(prefix) {
			e.stale = true
			touched[k] = e.version
		}
	}
	c.mu.Unlock()
	c.logger.Debug("cache prefix invalidated",
		slog.String("prefix", prefix.String()),
		slog.Int("count", len(touched)),
	)
	for k, v := range touched {
		c.notify(k, v)
	}
	return len(touched)
}

// Remove drops key from the cache.
func (c *QueryCache) Remove(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry. Listeners stay registered.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[Key]*cacheEntry)
	c.mu.Unlock()
}

// ── Fetching ─────────────────────────────────────────────

// Fetch returns the cached value of key when it is fresh, otherwise it calls
// fetch, stores the result and returns it. Concurrent fetches of one key
// share a single call. On error the cached value is left untouched.
func (c *QueryCache) Fetch(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	c.mu.RLock()
	if e, ok := c.entries[key]; ok && !c.staleLocked(e) {
		data := e.data
		c.mu.RUnlock()
		return data, nil
	}
	c.mu.RUnlock()

	data, err, shared := c.group.Do(string(key), func() (any, error) {
		start := c.now()
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, data)
		c.logger.Debug("cache entry fetched",
			slog.String("key", key.String()),
			slog.Duration("duration", c.now().Sub(start)),
		)
		return data, nil
	})
	if err != nil {
		c.logger.Warn("cache fetch failed", slog.String("key", key.String()), slog.Any("error", err))
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if shared {
		c.logger.Debug("cache fetch shared", slog.String("key", key.String()))
	}
	return data, nil
}

// ── Observers ────────────────────────────────────────────

// Subscribe registers fn to run after key changes. The returned function
// removes the subscription.
func (c *QueryCache) Subscribe(key Key, fn ChangeFunc) (unsubscribe func()) {
	id := xid.New().String()
	c.mu.Lock()
	c.listeners[key] = append(c.listeners[key], cacheListener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		ls := c.listeners[key]
		for i, l := range ls {
			if l.id == id {
				c.listeners[key] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
		if len(c.listeners[key]) == 0 {
			delete(c.listeners, key)
		}
	}
}

func (c *QueryCache) notify(key Key, version uint64) {
	c.mu.RLock()
	ls := append([]cacheListener(nil), c.listeners[key]...)
	c.mu.RUnlock()
	for _, l := range ls {
		l.fn(key, version)
	}
}

// ============================================================================
// Typed access
// ============================================================================

// GetAs returns the cached value of key as a T.
func GetAs[T any](c *QueryCache, key Key) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// PatchAs is Patch for entries holding a T. Entries of another type are
// left untouched and reported as PatchUnchanged.
func PatchAs[T any](c *QueryCache, key Key, fn func(old T) (T, bool)) PatchOutcome {
	return c.Patch(key, func(old any) (any, bool) {
		t, ok := old.(T)
		if !ok {
			c.logger.Warn("cache patch skipped",
				slog.String("key", key.String()),
				slog.String("want", fmt.Sprintf("%T", t)),
				slog.String("got", fmt.Sprintf("%T", old)),
			)
			return old, false
		}
		return fn(t)
	})
}

// FetchAs is Fetch for entries holding a T.
func FetchAs[T any](ctx context.Context, c *QueryCache, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s holds %T: %w", key, v, ErrUnexpectedPayload)
	}
	return t, nil
}

// PageFetcher loads one page of a paginated collection.
type PageFetcher[T any] func(ctx context.Context, page int) (PageResult[T], error)

// FetchNextPage loads the page after the last cached one and appends it to
// whatever is cached when the response arrives, so patches applied while the
// request is in flight are kept. Items already cached under the same id are
// skipped. When key is not cached the first page is fetched. It reports
// whether more pages are available.
func FetchNextPage[T any](ctx context.Context, c *QueryCache, key Key, fetch PageFetcher[T]) (Paginated[T], bool, error) {
	cur, _ := GetAs[Paginated[T]](c, key)
	param := cur.NextPageParam()

	res, err := fetch(ctx, param)
	if err != nil {
		return cur, false, fmt.Errorf("fetch %s page %d: %w", key, param, err)
	}

	var next Paginated[T]
	out := PatchAs(c, key, func(latest Paginated[T]) (Paginated[T], bool) {
		if slices.Contains(latest.PageParams, param) {
			next = latest
			return latest, false
		}
		next = appendPage(latest, res.Items, param)
		return next, true
	})
	if out == PatchNotCached {
		next = appendPage(Paginated[T]{}, res.Items, param)
		c.Set(key, next)
	}
	return next, res.HasMore, nil
}

func appendPage[T any](p Paginated[T], items []T, param int) Paginated[T] {
	seen := make(map[string]struct{}, p.Len())
	for _, page := range p.Pages {
		for _, item := range page {
			if r, ok := any(item).(identified); ok {
				seen[r.entityID()] = struct{}{}
			}
		}
	}
	page := make([]T, 0, len(items))
	for _, item := range items {
		if r, ok := any(item).(identified); ok {
			if _, dup := seen[r.entityID()]; dup {
				continue
			}
			seen[r.entityID()] = struct{}{}
		}
		page = append(page, item)
	}

	next := Paginated[T]{
		Pages:      make([][]T, 0, len(p.Pages)+1),
		PageParams: make([]int, 0, len(p.PageParams)+1),
	}
	next.Pages = append(append(next.Pages, p.Pages...), page)
	next.PageParams = append(append(next.PageParams, p.PageParams...), param)
	return next
}
