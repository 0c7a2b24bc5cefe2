package handbook

import (
	"net/url"
	"strings"
)

// Key identifies a cache entry. It is the tuple (resource, params...) joined
// with "/", so equal inputs always give equal keys and keys are comparable.
type Key string

const keySep = "/"

// Resource families.
const (
	ResMessages       = "messages"
	ResPinnedMessages = "pinnedMessages"
	ResConversations  = "conversations"
	ResConversation   = "conversation"
	ResFriends        = "friends"
	ResFriendRequests = "friendRequests"
	ResFollowings     = "followings"
	ResFollowers      = "followers"
	ResNotifications  = "notifications"
	ResGroups         = "groups"
	ResGroup          = "group"
	ResPosts          = "posts"
	ResPost           = "post"
	ResComments       = "comments"
	ResReplies        = "replies"
	ResCategories     = "categories"
	ResLocations      = "locations"
	ResItems          = "items"
	ResItem           = "item"
	ResUser           = "user"
)

// Post list scopes for PostsKey.
const (
	PostScopeFeed  = "feed"
	PostScopeGroup = "group"
	PostScopeUser  = "user"
)

// NewKey builds a key from a resource name and its parameters. Each
// parameter is path-escaped, so a "/" inside an id never adds a segment.
// Empty trailing parameters are kept so that NewKey("a", "") != NewKey("a").
func NewKey(resource string, params ...string) Key {
	if len(params) == 0 {
		return Key(resource)
	}
	escaped := make([]string, len(params))
	for i, p := range params {
		escaped[i] = url.PathEscape(p)
	}
	return Key(resource + keySep + strings.Join(escaped, keySep))
}

// Resource returns the resource family of the key.
func (k Key) Resource() string {
	s := string(k)
	if i := strings.Index(s, keySep); i >= 0 {
		return s[:i]
	}
	return s
}

// Params returns the parameters following the resource.
func (k Key) Params() []string {
	s := string(k)
	i := strings.Index(s, keySep)
	if i < 0 {
		return nil
	}
	params := strings.Split(s[i+1:], keySep)
	for j, p := range params {
		if v, err := url.PathUnescape(p); err == nil {
			params[j] = v
		}
	}
	return params
}

// HasPrefix reports whether k equals prefix or extends it by whole segments.
func (k Key) HasPrefix(prefix Key) bool {
	if k == prefix {
		return true
	}
	return strings.HasPrefix(string(k), string(prefix)+keySep)
}

func (k Key) String() string { return string(k) }

func MessagesKey(conversationID string) Key { return NewKey(ResMessages, conversationID) }

func PinnedMessagesKey(conversationID string) Key {
	return NewKey(ResPinnedMessages, conversationID)
}

func ConversationsKey(userID string) Key        { return NewKey(ResConversations, userID) }
func ConversationKey(conversationID string) Key { return NewKey(ResConversation, conversationID) }
func FriendsKey(userID string) Key              { return NewKey(ResFriends, userID) }
func FriendRequestsKey(userID string) Key       { return NewKey(ResFriendRequests, userID) }
func FollowingsKey(userID string) Key           { return NewKey(ResFollowings, userID) }
func FollowersKey(userID string) Key            { return NewKey(ResFollowers, userID) }
func NotificationsKey(userID string) Key        { return NewKey(ResNotifications, userID) }
func GroupsKey(userID string) Key               { return NewKey(ResGroups, userID) }
func GroupKey(groupID string) Key               { return NewKey(ResGroup, groupID) }

// PostsKey is the key of a post list. scope is one of PostScopeFeed,
// PostScopeGroup or PostScopeUser and id the owner of that list.
func PostsKey(scope, id string) Key { return NewKey(ResPosts, scope, id) }

func PostKey(postID string) Key       { return NewKey(ResPost, postID) }
func CommentsKey(postID string) Key   { return NewKey(ResComments, postID) }
func RepliesKey(commentID string) Key { return NewKey(ResReplies, commentID) }
func CategoriesKey() Key              { return NewKey(ResCategories) }
func LocationsKey() Key               { return NewKey(ResLocations) }
func ItemsKey(categoryID string) Key  { return NewKey(ResItems, categoryID) }
func ItemKey(itemID string) Key       { return NewKey(ResItem, itemID) }
func UserKey(userID string) Key       { return NewKey(ResUser, userID) }
