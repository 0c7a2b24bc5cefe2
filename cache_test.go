package handbook

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := NewQueryCache()

	_, ok := c.Get(UserKey("u1"))
	assert.False(t, ok)
	assert.Zero(t, c.Version(UserKey("u1")))
	assert.True(t, c.IsStale(UserKey("u1")))

	c.Set(UserKey("u1"), User{ID: "u1", Name: "An"})
	u, ok := GetAs[User](c, UserKey("u1"))
	require.True(t, ok)
	assert.Equal(t, "An", u.Name)
	assert.False(t, c.IsStale(UserKey("u1")))

	_, ok = GetAs[Post](c, UserKey("u1"))
	assert.False(t, ok, "wrong type")
}

func TestCachePatchOutcomes(t *testing.T) {
	c := NewQueryCache()
	key := UserKey("u1")
	rename := func(u User) (User, bool) {
		if u.Name == "Bình" {
			return u, false
		}
		u.Name = "Bình"
		return u, true
	}

	assert.Equal(t, PatchNotCached, PatchAs(c, key, rename))
	_, ok := c.Get(key)
	assert.False(t, ok, "patch must not create entries")

	c.Set(key, User{ID: "u1", Name: "An"})
	v1 := c.Version(key)

	assert.Equal(t, PatchApplied, PatchAs(c, key, rename))
	assert.Greater(t, c.Version(key), v1)

	v2 := c.Version(key)
	assert.Equal(t, PatchUnchanged, PatchAs(c, key, rename))
	assert.Equal(t, v2, c.Version(key))

	assert.Equal(t, PatchUnchanged, PatchAs(c, key, func(p Post) (Post, bool) { return p, true }),
		"type mismatch leaves the entry alone")
	u, _ := GetAs[User](c, key)
	assert.Equal(t, "Bình", u.Name)
}

func TestCachePatchKeepsStaleFlag(t *testing.T) {
	c := NewQueryCache()
	key := UserKey("u1")
	c.Set(key, User{ID: "u1"})
	require.True(t, c.Invalidate(key))

	PatchAs(c, key, func(u User) (User, bool) {
		u.Name = "An"
		return u, true
	})
	assert.True(t, c.IsStale(key))
}

func TestCacheInvalidate(t *testing.T) {
	c := NewQueryCache()
	assert.False(t, c.Invalidate(FriendsKey("u1")))

	c.Set(ConversationsKey("u1"), Paginated[Conversation]{})
	c.Set(ConversationsKey("u2"), Paginated[Conversation]{})
	c.Set(ConversationKey("c1"), Conversation{ID: "c1"})

	assert.Equal(t, 2, c.InvalidatePrefix(NewKey(ResConversations)))
	assert.True(t, c.IsStale(ConversationsKey("u1")))
	assert.True(t, c.IsStale(ConversationsKey("u2")))
	assert.False(t, c.IsStale(ConversationKey("c1")))

	_, ok := c.Get(ConversationsKey("u1"))
	assert.True(t, ok, "invalidated data stays readable")
}

func TestCacheStaleTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewQueryCache(WithStaleTime(time.Minute))
	c.now = func() time.Time { return now }

	c.Set(GroupsKey("u1"), Paginated[Group]{})
	assert.False(t, c.IsStale(GroupsKey("u1")))

	now = now.Add(2 * time.Minute)
	assert.True(t, c.IsStale(GroupsKey("u1")))
}

func TestCacheKeys(t *testing.T) {
	c := NewQueryCache()
	c.Set(MessagesKey("c2"), nil)
	c.Set(MessagesKey("c1"), nil)
	c.Set(PinnedMessagesKey("c1"), nil)

	assert.Equal(t, []Key{MessagesKey("c1"), MessagesKey("c2")}, c.Keys(NewKey(ResMessages)))
	assert.Len(t, c.Keys(""), 3)

	c.Remove(MessagesKey("c2"))
	assert.Equal(t, []Key{MessagesKey("c1")}, c.Keys(NewKey(ResMessages)))

	c.Clear()
	assert.Empty(t, c.Keys(""))
}

func TestCacheFetch(t *testing.T) {
	ctx := context.Background()
	c := NewQueryCache()
	key := UserKey("u1")
	calls := 0
	fetch := func(context.Context) (User, error) {
		calls++
		return User{ID: "u1", Name: "An"}, nil
	}

	u, err := FetchAs(ctx, c, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, "An", u.Name)

	_, err = FetchAs(ctx, c, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fresh entry is served from cache")

	c.Invalidate(key)
	_, err = FetchAs(ctx, c, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.False(t, c.IsStale(key))
}

func TestCacheFetchError(t *testing.T) {
	c := NewQueryCache()
	key := UserKey("u1")
	c.Set(key, User{ID: "u1", Name: "An"})
	c.Invalidate(key)

	boom := errors.New("boom")
	_, err := c.Fetch(context.Background(), key, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	u, ok := GetAs[User](c, key)
	require.True(t, ok)
	assert.Equal(t, "An", u.Name, "failed fetch keeps the old value")
	assert.True(t, c.IsStale(key))
}

func TestCacheFetchTypeMismatch(t *testing.T) {
	c := NewQueryCache()
	c.Set(UserKey("u1"), Post{ID: "p1"})

	_, err := FetchAs(context.Background(), c, UserKey("u1"), func(context.Context) (User, error) {
		return User{}, nil
	})
	assert.ErrorIs(t, err, ErrUnexpectedPayload)
}

func TestCacheFetchSharesConcurrentCalls(t *testing.T) {
	c := NewQueryCache()
	key := NotificationsKey("u1")

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return Paginated[Notification]{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), key, fetch)
			assert.NoError(t, err)
		}()
	}
	// Let the goroutines pile up on the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(5))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	_, ok := c.Get(key)
	assert.True(t, ok)
}

func TestCacheSubscribe(t *testing.T) {
	c := NewQueryCache()
	key := MessagesKey("c1")

	var got []uint64
	unsubscribe := c.Subscribe(key, func(k Key, v uint64) {
		assert.Equal(t, key, k)
		got = append(got, v)
	})

	c.Set(key, Paginated[Message]{})
	PatchAs(c, key, func(p Paginated[Message]) (Paginated[Message], bool) {
		return PrependItem(p, Message{ID: "m1", ConversationID: "c1"}), true
	})
	PatchAs(c, key, func(p Paginated[Message]) (Paginated[Message], bool) { return p, false })
	c.Invalidate(key)
	c.Set(MessagesKey("c2"), nil)

	require.Len(t, got, 3)
	assert.Less(t, got[0], got[1])
	assert.Equal(t, got[1], got[2], "invalidation keeps the version")

	unsubscribe()
	c.Set(key, Paginated[Message]{})
	assert.Len(t, got, 3)
}

func TestFetchNextPage(t *testing.T) {
	ctx := context.Background()
	c := NewQueryCache()
	key := CommentsKey("p1")

	var pages []int
	fetch := func(_ context.Context, page int) (PageResult[Comment], error) {
		pages = append(pages, page)
		return PageResult[Comment]{
			Items:   []Comment{{ID: "k" + string(rune('0'+page)), PostID: "p1"}},
			HasMore: page < 2,
		}, nil
	}

	p, more, err := FetchNextPage(ctx, c, key, fetch)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []int{1}, p.PageParams)

	p, more, err = FetchNextPage(ctx, c, key, fetch)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []int{1, 2}, p.PageParams)
	assert.Equal(t, []int{1, 2}, pages)

	cached, ok := GetAs[Paginated[Comment]](c, key)
	require.True(t, ok)
	assert.Equal(t, []string{"k1", "k2"}, commentIDs(cached))
}

func TestFetchNextPageKeepsConcurrentPatches(t *testing.T) {
	c := NewQueryCache()
	key := MessagesKey("c1")
	c.Set(key, pages([]Message{msg("m2", "c1"), msg("m1", "c1")}))

	p, more, err := FetchNextPage(context.Background(), c, key, func(_ context.Context, page int) (PageResult[Message], error) {
		assert.Equal(t, 2, page)
		// A socket event lands while the request is in flight.
		AddMessage(c, msg("m3", "c1"))
		return PageResult[Message]{Items: []Message{msg("m0", "c1")}, HasMore: false}, nil
	})
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []string{"m3", "m2", "m1", "m0"}, messageIDs(p))
	assert.Equal(t, []int{1, 2}, p.PageParams)
	assert.Equal(t, []string{"m3", "m2", "m1", "m0"}, messageIDs(cachedMessages(t, c, key)))
}

func TestFetchNextPageSkipsCachedIDs(t *testing.T) {
	c := NewQueryCache()
	key := MessagesKey("c1")
	// m2 was prepended locally, shifting the server's page boundary.
	c.Set(key, pages([]Message{msg("m3", "c1"), msg("m2", "c1")}))

	p, _, err := FetchNextPage(context.Background(), c, key, func(context.Context, int) (PageResult[Message], error) {
		return PageResult[Message]{Items: []Message{msg("m2", "c1"), msg("m1", "c1")}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2", "m1"}, messageIDs(p))
	assert.Equal(t, []Message{msg("m1", "c1")}, p.Pages[1])
}

func TestFetchNextPageError(t *testing.T) {
	c := NewQueryCache()
	key := CommentsKey("p1")
	first := Paginated[Comment]{Pages: [][]Comment{{{ID: "k1"}}}, PageParams: []int{1}}
	c.Set(key, first)

	boom := errors.New("boom")
	p, more, err := FetchNextPage(context.Background(), c, key, func(context.Context, int) (PageResult[Comment], error) {
		return PageResult[Comment]{}, boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, more)
	assert.Equal(t, first, p)
}

func TestPatchOutcomeString(t *testing.T) {
	assert.Equal(t, "not-cached", PatchNotCached.String())
	assert.Equal(t, "unchanged", PatchUnchanged.String())
	assert.Equal(t, "applied", PatchApplied.String())
	assert.Equal(t, "PatchOutcome(9)", PatchOutcome(9).String())
}
