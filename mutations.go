package handbook

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const localIDPrefix = "local-"

// Mutations runs REST writes and keeps the cache in step with them. Sends
// are optimistic: the cache shows the change before the server confirms it
// and rolls it back on failure.
type Mutations struct {
	client   *Client
	cache    *QueryCache
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewMutations binds client and cache. A nil notifier drops toasts.
func NewMutations(client *Client, cache *QueryCache, notifier Notifier) *Mutations {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	logger := client.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mutations{
		client:   client,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SendMessage shows a local copy of the message at once, then swaps it for
// the server's copy. On failure the local copy is removed and an error
// toast is shown.
func (m *Mutations) SendMessage(ctx context.Context, senderID, conversationID string, in SendMessageInput) (*Message, error) {
	local := Message{
		ID:             localIDPrefix + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           in.Text,
		Images:         in.Images,
		CreatedAt:      m.now().UTC(),
	}
	AddMessage(m.cache, local)

	msg, err := m.client.Messages.Send(ctx, conversationID, in)
	if err != nil {
		DeleteMessage(m.cache, conversationID, local.ID)
		m.fail(ctx, toastSendFailed, err)
		return nil, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	ReplaceMessage(m.cache, local.ID, *msg)
	return msg, nil
}

// DeleteMessage deletes on the server, then removes the message locally.
func (m *Mutations) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := m.client.Messages.Delete(ctx, messageID); err != nil {
		m.fail(ctx, toastDeleteFailed, err)
		return err
	}
	DeleteMessage(m.cache, conversationID, messageID)
	return nil
}

// PinMessage pins on the server, then flags the cached message.
func (m *Mutations) PinMessage(ctx context.Context, msg Message) error {
	if err := m.client.Messages.Pin(ctx, msg.ID); err != nil {
		m.fail(ctx, toastPinFailed, err)
		return err
	}
	SetMessagePinned(m.cache, msg, true)
	return nil
}

// UnpinMessage unpins on the server, then clears the cached flag.
func (m *Mutations) UnpinMessage(ctx context.Context, msg Message) error {
	if err := m.client.Messages.Unpin(ctx, msg.ID); err != nil {
		m.fail(ctx, toastPinFailed, err)
		return err
	}
	SetMessagePinned(m.cache, msg, false)
	return nil
}

// AcceptFriendRequest accepts and refreshes the user's social graph.
func (m *Mutations) AcceptFriendRequest(ctx context.Context, userID, requestID string) error {
	if err := m.client.Friends.Accept(ctx, requestID); err != nil {
		m.fail(ctx, toastAcceptFailed, err)
		return err
	}
	InvalidateSocialGraph(m.cache, userID)
	InvalidateNotifications(m.cache, userID)
	m.notifier.Notify(ctx, Toast{Level: ToastSuccess, Title: toastFriendAcceptedOK})
	return nil
}

// Unfriend removes the friend on the server and from the cached list.
func (m *Mutations) Unfriend(ctx context.Context, userID, friendID string) error {
	if err := m.client.Friends.Unfriend(ctx, friendID); err != nil {
		m.fail(ctx, toastUnfriendFailed, err)
		return err
	}
	RemoveFriend(m.cache, userID, friendID)
	InvalidateFollowings(m.cache, userID)
	return nil
}

// MarkNotificationRead flags the notification read at once. If the server
// rejects it the notification list is refetched.
func (m *Mutations) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	MarkNotificationRead(m.cache, userID, notificationID)
	if err := m.client.Notifications.MarkRead(ctx, notificationID); err != nil {
		InvalidateNotifications(m.cache, userID)
		m.fail(ctx, toastMarkReadFailed, err)
		return err
	}
	return nil
}

func (m *Mutations) fail(ctx context.Context, title string, err error) {
	m.logger.Warn("mutation failed", slog.String("toast", title), slog.Any("error", err))
	m.notifier.Notify(ctx, Toast{Level: ToastError, Title: title, Body: err.Error()})
}
