package handbook

// ============================================================================
// Generic collection patches
// ============================================================================
//
// These helpers never modify their input. The returned collection has a new
// Pages slice; pages that did not change share their backing array with the
// input, pages that did are freshly allocated.

// IndexOf returns the page and position of the first entry matching match,
// or -1, -1.
func IndexOf[T any](p Paginated[T], match func(T) bool) (page, pos int) {
	for i, pg := range p.Pages {
		for j, item := range pg {
			if match(item) {
				return i, j
			}
		}
	}
	return -1, -1
}

// ContainsItem reports whether any entry matches.
func ContainsItem[T any](p Paginated[T], match func(T) bool) bool {
	i, _ := IndexOf(p, match)
	return i >= 0
}

// PrependItem adds item at the front of the first page, creating the page if
// the collection is empty.
func PrependItem[T any](p Paginated[T], item T) Paginated[T] {
	pages := make([][]T, max(len(p.Pages), 1))
	copy(pages, p.Pages)

	first := make([]T, 0, len(pages[0])+1)
	first = append(first, item)
	first = append(first, pages[0]...)
	pages[0] = first

	params := p.PageParams
	if len(params) == 0 {
		params = []int{1}
	}
	return Paginated[T]{Pages: pages, PageParams: params}
}

// ReplaceItem applies fn to every matching entry. It reports false when
// nothing matched.
func ReplaceItem[T any](p Paginated[T], match func(T) bool, fn func(T) T) (Paginated[T], bool) {
	pages := make([][]T, len(p.Pages))
	changed := false
	for i, pg := range p.Pages {
		pages[i] = pg
		copied := false
		for j, item := range pg {
			if !match(item) {
				continue
			}
			if !copied {
				pages[i] = append([]T(nil), pg...)
				copied = true
			}
			pages[i][j] = fn(item)
			changed = true
		}
	}
	if !changed {
		return p, false
	}
	return Paginated[T]{Pages: pages, PageParams: p.PageParams}, true
}

// RemoveItem filters matching entries out of every page. It reports false
// when nothing matched.
func RemoveItem[T any](p Paginated[T], match func(T) bool) (Paginated[T], bool) {
	pages := make([][]T, len(p.Pages))
	changed := false
	for i, pg := range p.Pages {
		pages[i] = pg
		var kept []T
		hit := false
		for j, item := range pg {
			if match(item) {
				if !hit {
					kept = append(make([]T, 0, len(pg)-1), pg[:j]...)
					hit = true
				}
				continue
			}
			if hit {
				kept = append(kept, item)
			}
		}
		if hit {
			pages[i] = kept
			changed = true
		}
	}
	if !changed {
		return p, false
	}
	return Paginated[T]{Pages: pages, PageParams: p.PageParams}, true
}

func messageID(id string) func(Message) bool           { return func(m Message) bool { return m.ID == id } }
func conversationID(id string) func(Conversation) bool { return func(c Conversation) bool { return c.ID == id } }
func commentID(id string) func(Comment) bool           { return func(c Comment) bool { return c.ID == id } }
func userID(id string) func(User) bool                 { return func(u User) bool { return u.ID == id } }
func notificationID(id string) func(Notification) bool { return func(n Notification) bool { return n.ID == id } }

// ============================================================================
// Messages
// ============================================================================

// AddMessage prepends msg to the first page of its conversation's message
// list. A message whose id is already cached is ignored. The last message of
// the conversation summaries is rewritten to msg unless msg was a duplicate,
// including when the message list itself was never fetched.
func AddMessage(c *QueryCache, msg Message) PatchOutcome {
	out := PatchAs(c, MessagesKey(msg.ConversationID), func(p Paginated[Message]) (Paginated[Message], bool) {
		if ContainsItem(p, messageID(msg.ID)) {
			return p, false
		}
		return PrependItem(p, msg), true
	})
	if out != PatchUnchanged {
		last := msg
		setLastMessage(c, msg.ConversationID, func(*Message) (*Message, bool) { return &last, true })
	}
	return out
}

// UpdateMessage replaces the cached copy of msg wherever it appears: the
// message list, the pinned list and conversation summaries.
func UpdateMessage(c *QueryCache, msg Message) PatchOutcome {
	replace := func(Message) Message { return msg }
	out := PatchAs(c, MessagesKey(msg.ConversationID), func(p Paginated[Message]) (Paginated[Message], bool) {
		return ReplaceItem(p, messageID(msg.ID), replace)
	})
	PatchAs(c, PinnedMessagesKey(msg.ConversationID), func(p Paginated[Message]) (Paginated[Message], bool) {
		return ReplaceItem(p, messageID(msg.ID), replace)
	})
	setLastMessage(c, msg.ConversationID, func(cur *Message) (*Message, bool) {
		if cur == nil || cur.ID != msg.ID {
			return cur, false
		}
		updated := msg
		return &updated, true
	})
	return out
}

// ReplaceMessage swaps the message with id oldID for msg, keeping its
// position. It is used to confirm optimistic messages. If msg is already
// cached under its own id the placeholder is dropped instead.
func ReplaceMessage(c *QueryCache, oldID string, msg Message) PatchOutcome {
	out := PatchAs(c, MessagesKey(msg.ConversationID), func(p Paginated[Message]) (Paginated[Message], bool) {
		if ContainsItem(p, messageID(msg.ID)) {
			return RemoveItem(p, messageID(oldID))
		}
		return ReplaceItem(p, messageID(oldID), func(Message) Message { return msg })
	})
	setLastMessage(c, msg.ConversationID, func(cur *Message) (*Message, bool) {
		if cur == nil || cur.ID != oldID {
			return cur, false
		}
		confirmed := msg
		return &confirmed, true
	})
	return out
}

// DeleteMessage removes the message from every page of its conversation and
// from the pinned list. If it was the last message of a conversation summary,
// the summary's last message becomes its nearest neighbour in the flattened
// list: the entry before it, else the entry after it, else nil.
func DeleteMessage(c *QueryCache, convID, msgID string) PatchOutcome {
	var neighbour *Message
	out := PatchAs(c, MessagesKey(convID), func(p Paginated[Message]) (Paginated[Message], bool) {
		flat := p.Flatten()
		idx := -1
		for i, m := range flat {
			if m.ID == msgID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return p, false
		}
		neighbour = nearestNeighbour(flat, idx)
		return RemoveItem(p, messageID(msgID))
	})

	PatchAs(c, PinnedMessagesKey(convID), func(p Paginated[Message]) (Paginated[Message], bool) {
		return RemoveItem(p, messageID(msgID))
	})

	switch out {
	case PatchApplied:
		setLastMessage(c, convID, func(cur *Message) (*Message, bool) {
			if cur == nil || cur.ID != msgID {
				return cur, false
			}
			return neighbour, true
		})
	case PatchNotCached:
		// Without the message list there is no neighbour to promote.
		for _, key := range c.Keys(NewKey(ResConversations)) {
			conv, ok := findConversation(c, key, convID)
			if ok && conv.LastMessage != nil && conv.LastMessage.ID == msgID {
				c.Invalidate(key)
			}
		}
	}
	return out
}

func nearestNeighbour(flat []Message, idx int) *Message {
	var m Message
	switch {
	case idx > 0:
		m = flat[idx-1]
	case idx+1 < len(flat):
		m = flat[idx+1]
	default:
		return nil
	}
	return &m
}

// SetMessagePinned sets the pin flag of msg in its conversation's message
// list, leaving every other field and the order untouched, and adds it to or
// removes it from the pinned list.
func SetMessagePinned(c *QueryCache, msg Message, pinned bool) PatchOutcome {
	convID := msg.ConversationID
	out := PatchAs(c, MessagesKey(convID), func(p Paginated[Message]) (Paginated[Message], bool) {
		match := func(m Message) bool { return m.ID == msg.ID && m.IsPinned != pinned }
		return ReplaceItem(p, match, func(m Message) Message {
			m.IsPinned = pinned
			return m
		})
	})

	entry := msg
	if cached, ok := cachedMessage(c, convID, msg.ID); ok {
		entry = cached
	}
	entry.IsPinned = true
	PatchAs(c, PinnedMessagesKey(convID), func(p Paginated[Message]) (Paginated[Message], bool) {
		if !pinned {
			return RemoveItem(p, messageID(msg.ID))
		}
		if ContainsItem(p, messageID(msg.ID)) {
			return p, false
		}
		return PrependItem(p, entry), true
	})

	setLastMessage(c, convID, func(cur *Message) (*Message, bool) {
		if cur == nil || cur.ID != msg.ID || cur.IsPinned == pinned {
			return cur, false
		}
		m := *cur
		m.IsPinned = pinned
		return &m, true
	})
	return out
}

func cachedMessage(c *QueryCache, convID, msgID string) (Message, bool) {
	p, ok := GetAs[Paginated[Message]](c, MessagesKey(convID))
	if !ok {
		return Message{}, false
	}
	i, j := IndexOf(p, messageID(msgID))
	if i < 0 {
		return Message{}, false
	}
	return p.Pages[i][j], true
}

// ============================================================================
// Conversation summaries
// ============================================================================

// setLastMessage rewrites the last message of convID in every cached
// conversation list and in the single-conversation entry.
func setLastMessage(c *QueryCache, convID string, fn func(cur *Message) (*Message, bool)) {
	rewrite := func(conv Conversation) (Conversation, bool) {
		next, changed := fn(conv.LastMessage)
		if !changed {
			return conv, false
		}
		conv.LastMessage = next
		return conv, true
	}

	for _, key := range c.Keys(NewKey(ResConversations)) {
		PatchAs(c, key, func(p Paginated[Conversation]) (Paginated[Conversation], bool) {
			changed := false
			next, _ := ReplaceItem(p, conversationID(convID), func(conv Conversation) Conversation {
				conv, ok := rewrite(conv)
				changed = changed || ok
				return conv
			})
			if !changed {
				return p, false
			}
			return next, true
		})
	}
	PatchAs(c, ConversationKey(convID), rewrite)
}

func findConversation(c *QueryCache, key Key, convID string) (Conversation, bool) {
	p, ok := GetAs[Paginated[Conversation]](c, key)
	if !ok {
		return Conversation{}, false
	}
	i, j := IndexOf(p, conversationID(convID))
	if i < 0 {
		return Conversation{}, false
	}
	return p.Pages[i][j], true
}

// ============================================================================
// Comments
// ============================================================================

// AddComment prepends comment to its post's comment list, or to its parent's
// reply list when it is a reply, and bumps the cached post's comment count.
func AddComment(c *QueryCache, comment Comment) PatchOutcome {
	key := CommentsKey(comment.PostID)
	if comment.ParentID != "" {
		key = RepliesKey(comment.ParentID)
	}
	out := PatchAs(c, key, func(p Paginated[Comment]) (Paginated[Comment], bool) {
		if ContainsItem(p, commentID(comment.ID)) {
			return p, false
		}
		return PrependItem(p, comment), true
	})
	if out != PatchUnchanged {
		PatchAs(c, PostKey(comment.PostID), func(post Post) (Post, bool) {
			post.Comments++
			return post, true
		})
	}
	return out
}

// DeleteComment removes a comment from its post's comment list and every
// cached reply list, drops the comment's own replies and decrements the
// cached post's comment count.
func DeleteComment(c *QueryCache, postID, id string) PatchOutcome {
	out := PatchAs(c, CommentsKey(postID), func(p Paginated[Comment]) (Paginated[Comment], bool) {
		return RemoveItem(p, commentID(id))
	})
	for _, key := range c.Keys(NewKey(ResReplies)) {
		o := PatchAs(c, key, func(p Paginated[Comment]) (Paginated[Comment], bool) {
			return RemoveItem(p, commentID(id))
		})
		if o == PatchApplied {
			out = PatchApplied
		}
	}
	c.Remove(RepliesKey(id))
	if out == PatchApplied {
		PatchAs(c, PostKey(postID), func(post Post) (Post, bool) {
			if post.Comments == 0 {
				return post, false
			}
			post.Comments--
			return post, true
		})
	}
	return out
}

// ============================================================================
// Social graph and notifications
// ============================================================================

// RemoveFriend drops friendID from the cached friend list of userID.
func RemoveFriend(c *QueryCache, uid, friendID string) PatchOutcome {
	return PatchAs(c, FriendsKey(uid), func(p Paginated[User]) (Paginated[User], bool) {
		return RemoveItem(p, userID(friendID))
	})
}

// AddNotification prepends n to the notification list of its receiver.
func AddNotification(c *QueryCache, n Notification) PatchOutcome {
	return PatchAs(c, NotificationsKey(n.ReceiverID), func(p Paginated[Notification]) (Paginated[Notification], bool) {
		if ContainsItem(p, notificationID(n.ID)) {
			return p, false
		}
		return PrependItem(p, n), true
	})
}

// MarkNotificationRead sets the read flag of a cached notification.
func MarkNotificationRead(c *QueryCache, uid, id string) PatchOutcome {
	return PatchAs(c, NotificationsKey(uid), func(p Paginated[Notification]) (Paginated[Notification], bool) {
		match := func(n Notification) bool { return n.ID == id && !n.IsRead }
		return ReplaceItem(p, match, func(n Notification) Notification {
			n.IsRead = true
			return n
		})
	})
}
