package handbook

// Invalidation helpers, one per resource family. Each marks exactly the
// registry key of its resource stale; the next read refetches it.

func InvalidateMessages(inv Invalidator, conversationID string) bool {
	return inv.Invalidate(MessagesKey(conversationID))
}

func InvalidatePinnedMessages(inv Invalidator, conversationID string) bool {
	return inv.Invalidate(PinnedMessagesKey(conversationID))
}

func InvalidateConversations(inv Invalidator, userID string) bool {
	return inv.Invalidate(ConversationsKey(userID))
}

func InvalidateConversation(inv Invalidator, conversationID string) bool {
	return inv.Invalidate(ConversationKey(conversationID))
}

func InvalidateFriends(inv Invalidator, userID string) bool {
	return inv.Invalidate(FriendsKey(userID))
}

func InvalidateFriendRequests(inv Invalidator, userID string) bool {
	return inv.Invalidate(FriendRequestsKey(userID))
}

func InvalidateFollowings(inv Invalidator, userID string) bool {
	return inv.Invalidate(FollowingsKey(userID))
}

func InvalidateFollowers(inv Invalidator, userID string) bool {
	return inv.Invalidate(FollowersKey(userID))
}

func InvalidateNotifications(inv Invalidator, userID string) bool {
	return inv.Invalidate(NotificationsKey(userID))
}

func InvalidateGroups(inv Invalidator, userID string) bool {
	return inv.Invalidate(GroupsKey(userID))
}

func InvalidateGroup(inv Invalidator, groupID string) bool {
	return inv.Invalidate(GroupKey(groupID))
}

func InvalidatePosts(inv Invalidator, scope, id string) bool {
	return inv.Invalidate(PostsKey(scope, id))
}

func InvalidatePost(inv Invalidator, postID string) bool {
	return inv.Invalidate(PostKey(postID))
}

func InvalidateComments(inv Invalidator, postID string) bool {
	return inv.Invalidate(CommentsKey(postID))
}

func InvalidateReplies(inv Invalidator, commentID string) bool {
	return inv.Invalidate(RepliesKey(commentID))
}

func InvalidateCategories(inv Invalidator) bool {
	return inv.Invalidate(CategoriesKey())
}

func InvalidateLocations(inv Invalidator) bool {
	return inv.Invalidate(LocationsKey())
}

func InvalidateItems(inv Invalidator, categoryID string) bool {
	return inv.Invalidate(ItemsKey(categoryID))
}

func InvalidateItem(inv Invalidator, itemID string) bool {
	return inv.Invalidate(ItemKey(itemID))
}

func InvalidateUser(inv Invalidator, userID string) bool {
	return inv.Invalidate(UserKey(userID))
}

// InvalidateSocialGraph marks every relation list of userID stale. It runs
// after a friend request is accepted, or a friend or follow is removed.
func InvalidateSocialGraph(inv Invalidator, userID string) {
	InvalidateFriends(inv, userID)
	InvalidateFriendRequests(inv, userID)
	InvalidateFollowings(inv, userID)
	InvalidateFollowers(inv, userID)
}
