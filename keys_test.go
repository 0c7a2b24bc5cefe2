package handbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeysAreStructural(t *testing.T) {
	assert.Equal(t, MessagesKey("c1"), MessagesKey("c1"))
	assert.Equal(t, Key("messages/c1"), MessagesKey("c1"))
	assert.NotEqual(t, MessagesKey("c1"), MessagesKey("c2"))
	assert.NotEqual(t, MessagesKey("c1"), PinnedMessagesKey("c1"))
	assert.NotEqual(t, ConversationsKey("u1"), ConversationKey("u1"))
	assert.NotEqual(t, NewKey("a", ""), NewKey("a"))
	assert.Equal(t, Key("posts/group/g1"), PostsKey(PostScopeGroup, "g1"))
	assert.Equal(t, Key("categories"), CategoriesKey())
}

func TestKeyParts(t *testing.T) {
	k := PostsKey(PostScopeUser, "u1")
	assert.Equal(t, ResPosts, k.Resource())
	assert.Equal(t, []string{PostScopeUser, "u1"}, k.Params())

	assert.Equal(t, ResLocations, LocationsKey().Resource())
	assert.Nil(t, LocationsKey().Params())
}

func TestKeyParamsAreEscaped(t *testing.T) {
	assert.NotEqual(t, PostsKey("a/b", "c"), PostsKey("a", "b/c"))
	assert.Equal(t, Key("messages/c%2F1"), MessagesKey("c/1"))
	assert.Equal(t, []string{"a/b", "c"}, PostsKey("a/b", "c").Params())
	assert.False(t, MessagesKey("c/1").HasPrefix(MessagesKey("c")))
}

func TestKeyHasPrefix(t *testing.T) {
	tests := []struct {
		key, prefix Key
		want        bool
	}{
		{ConversationsKey("u1"), NewKey(ResConversations), true},
		{ConversationsKey("u1"), ConversationsKey("u1"), true},
		{ConversationKey("c1"), NewKey(ResConversations), false},
		{ConversationsKey("u10"), ConversationsKey("u1"), false},
		{PostsKey(PostScopeGroup, "g1"), NewKey(ResPosts, PostScopeGroup), true},
		{PostsKey(PostScopeFeed, "u1"), NewKey(ResPosts, PostScopeGroup), false},
	}
	for _, tt := range tests {
		t.Run(tt.key.String()+"~"+tt.prefix.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.HasPrefix(tt.prefix))
		})
	}
}
