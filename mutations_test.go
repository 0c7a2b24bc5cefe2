package handbook

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMutations(t *testing.T, r chi.Router) (*Mutations, *QueryCache, *toastRecorder) {
	t.Helper()
	cache := NewQueryCache()
	toasts := &toastRecorder{}
	return NewMutations(newTestClient(t, r), cache, toasts), cache, toasts
}

func failWith(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":false,"message":"từ chối"}`))
	}
}

func TestSendMessageOptimistic(t *testing.T) {
	var (
		cache   *QueryCache
		pending []string
	)
	r := chi.NewRouter()
	r.Post("/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		pending = messageIDs(cachedMessages(t, cache, MessagesKey("c1")))
		m := msg("m2", "c1")
		m.SenderID = "u1"
		m.Text = "xin chào"
		writeResult(t, w, http.StatusCreated, m)
	})
	muts, c, toasts := newTestMutations(t, r)
	cache = c
	seedConversation(cache, msg("m1", "c1"))

	got, err := muts.SendMessage(context.Background(), "u1", "c1", SendMessageInput{Text: "xin chào"})
	require.NoError(t, err)
	assert.Equal(t, "m2", got.ID)

	require.Len(t, pending, 2)
	assert.True(t, strings.HasPrefix(pending[0], localIDPrefix), "local copy shown while the request is in flight")
	assert.Equal(t, "m1", pending[1])

	assert.Equal(t, []string{"m2", "m1"}, messageIDs(cachedMessages(t, cache, MessagesKey("c1"))))
	assert.Equal(t, "m2", lastMessageID(t, cache, "u1", "c1"))
	assert.Empty(t, toasts.all())
}

func TestSendMessageRollback(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/conversations/{id}/messages", failWith(http.StatusInternalServerError))
	muts, cache, toasts := newTestMutations(t, r)
	seedConversation(cache, msg("m1", "c1"))

	_, err := muts.SendMessage(context.Background(), "u1", "c1", SendMessageInput{Text: "lỗi"})
	require.Error(t, err)

	assert.Equal(t, []string{"m1"}, messageIDs(cachedMessages(t, cache, MessagesKey("c1"))))
	assert.Equal(t, "m1", lastMessageID(t, cache, "u1", "c1"))

	all := toasts.all()
	require.Len(t, all, 1)
	assert.Equal(t, ToastError, all[0].Level)
	assert.Equal(t, toastSendFailed, all[0].Title)
}

func TestDeleteMessageMutation(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/messages/m2", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Delete("/messages/m1", failWith(http.StatusForbidden))
	muts, cache, toasts := newTestMutations(t, r)
	seedConversation(cache, msg("m2", "c1"), msg("m1", "c1"))
	ctx := context.Background()

	require.NoError(t, muts.DeleteMessage(ctx, "c1", "m2"))
	assert.Equal(t, []string{"m1"}, messageIDs(cachedMessages(t, cache, MessagesKey("c1"))))
	assert.Equal(t, "m1", lastMessageID(t, cache, "u1", "c1"))

	require.Error(t, muts.DeleteMessage(ctx, "c1", "m1"))
	assert.Equal(t, []string{"m1"}, messageIDs(cachedMessages(t, cache, MessagesKey("c1"))), "kept on failure")
	require.Len(t, toasts.all(), 1)
	assert.Equal(t, toastDeleteFailed, toasts.all()[0].Title)
}

func TestPinMutations(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/messages/{id}/pin", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Delete("/messages/{id}/pin", failWith(http.StatusInternalServerError))
	muts, cache, toasts := newTestMutations(t, r)
	seedConversation(cache, msg("m1", "c1"))
	ctx := context.Background()

	require.NoError(t, muts.PinMessage(ctx, msg("m1", "c1")))
	assert.True(t, cachedMessages(t, cache, MessagesKey("c1")).Pages[0][0].IsPinned)

	require.Error(t, muts.UnpinMessage(ctx, msg("m1", "c1")))
	assert.True(t, cachedMessages(t, cache, MessagesKey("c1")).Pages[0][0].IsPinned)
	require.Len(t, toasts.all(), 1)
	assert.Equal(t, toastPinFailed, toasts.all()[0].Title)
}

func TestFriendMutations(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/friend-requests/r1/accept", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Delete("/friends/u3", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	muts, cache, toasts := newTestMutations(t, r)
	cache.Set(FriendsKey("u1"), pages([]User{{ID: "u2"}, {ID: "u3"}}))
	cache.Set(FriendRequestsKey("u1"), nil)
	cache.Set(FollowingsKey("u1"), nil)
	ctx := context.Background()

	require.NoError(t, muts.AcceptFriendRequest(ctx, "u1", "r1"))
	assert.True(t, cache.IsStale(FriendsKey("u1")))
	assert.True(t, cache.IsStale(FriendRequestsKey("u1")))
	assert.Equal(t, []Toast{{Level: ToastSuccess, Title: toastFriendAcceptedOK}}, toasts.all())

	require.NoError(t, muts.Unfriend(ctx, "u1", "u3"))
	friends, _ := GetAs[Paginated[User]](cache, FriendsKey("u1"))
	assert.Equal(t, []User{{ID: "u2"}}, friends.Flatten())

	require.Error(t, muts.Unfriend(ctx, "u1", "u9"))
	assert.Equal(t, toastUnfriendFailed, toasts.all()[1].Title)
}

func TestMarkNotificationReadMutation(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/notifications/n1/read", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Put("/notifications/n2/read", failWith(http.StatusInternalServerError))
	muts, cache, toasts := newTestMutations(t, r)
	cache.Set(NotificationsKey("u1"), pages([]Notification{{ID: "n1", ReceiverID: "u1"}, {ID: "n2", ReceiverID: "u1"}}))
	ctx := context.Background()

	require.NoError(t, muts.MarkNotificationRead(ctx, "u1", "n1"))
	list, _ := GetAs[Paginated[Notification]](cache, NotificationsKey("u1"))
	assert.True(t, list.Flatten()[0].IsRead)
	assert.False(t, cache.IsStale(NotificationsKey("u1")))

	require.Error(t, muts.MarkNotificationRead(ctx, "u1", "n2"))
	assert.True(t, cache.IsStale(NotificationsKey("u1")), "refetch after a rejected write")
	require.Len(t, toasts.all(), 1)
	assert.Equal(t, toastMarkReadFailed, toasts.all()[0].Title)
}
