package handbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// BridgeState is the subscription state of a Bridge.
type BridgeState string

const (
	BridgeUnsubscribed BridgeState = "unsubscribed"
	BridgeSubscribed   BridgeState = "subscribed"
)

// EnvelopeHandler receives raw real-time envelopes in delivery order.
type EnvelopeHandler func(env Envelope)

// EventSource is anything that delivers envelopes to subscribers.
type EventSource interface {
	Subscribe(h EnvelopeHandler) (unsubscribe func())
}

// CallHandler receives video-call signaling.
type CallHandler func(ctx context.Context, sig *CallSignal)

// BridgeStats counts processed envelopes.
type BridgeStats struct {
	Handled uint64
	Failed  uint64
}

// Bridge turns real-time events into cache patches, invalidations and
// toasts for one authenticated session. Events are handled one at a time in
// the order their source delivers them.
type Bridge struct {
	cache    *QueryCache
	notifier Notifier
	logger   *slog.Logger
	onCall   CallHandler
	onError  func(error)

	mu          sync.Mutex
	state       BridgeState
	source      EventSource
	session     *Session
	unsubscribe func()
	generation  uint64

	handleMu sync.Mutex
	handled  atomic.Uint64
	failed   atomic.Uint64
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

func WithNotifier(n Notifier) BridgeOption {
	return func(b *Bridge) { b.notifier = n }
}

func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

func WithCallHandler(h CallHandler) BridgeOption {
	return func(b *Bridge) { b.onCall = h }
}

// WithErrorHandler registers a callback for events that could not be
// decoded or whose handling failed.
func WithErrorHandler(fn func(error)) BridgeOption {
	return func(b *Bridge) { b.onError = fn }
}

// NewBridge creates an unsubscribed bridge writing to cache.
func NewBridge(cache *QueryCache, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		cache:    cache,
		notifier: nopNotifier{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		state:    BridgeUnsubscribed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ── Subscription ─────────────────────────────────────────

// Attach binds the bridge to source for session. Listeners on a previous
// source are removed first. With a nil source or a session without a user
// the bridge ends up unsubscribed. Attaching the same source and user again
// is a no-op.
func (b *Bridge) Attach(source EventSource, session *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BridgeSubscribed && b.source == source && sameUser(b.session, session) {
		return
	}
	b.detachLocked()

	if source == nil || session == nil || session.UserID == "" {
		return
	}

	b.generation++
	gen := b.generation
	b.source = source
	b.session = session
	b.unsubscribe = source.Subscribe(func(env Envelope) {
		if !b.current(gen) {
			return
		}
		_ = b.HandleEnvelope(context.Background(), env)
	})
	b.state = BridgeSubscribed
	b.logger.Info("bridge subscribed", slog.String("user", session.UserID))
}

// Detach removes the bridge's listeners.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked()
}

func (b *Bridge) detachLocked() {
	if b.state == BridgeUnsubscribed {
		return
	}
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	b.generation++
	b.unsubscribe = nil
	b.source = nil
	b.session = nil
	b.state = BridgeUnsubscribed
	b.logger.Info("bridge unsubscribed")
}

func (b *Bridge) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == BridgeSubscribed && b.generation == gen
}

func sameUser(a, c *Session) bool {
	return a != nil && c != nil && a.UserID == c.UserID
}

// State returns the subscription state.
func (b *Bridge) State() BridgeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Session returns the attached session, or nil.
func (b *Bridge) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Stats returns counters of processed envelopes.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{Handled: b.handled.Load(), Failed: b.failed.Load()}
}

// ── Dispatch ─────────────────────────────────────────────

// HandleEnvelope decodes env and handles the event. Transport envelopes
// (authenticated, pong) are ignored. Failures are reported to the error
// handler and returned.
func (b *Bridge) HandleEnvelope(ctx context.Context, env Envelope) error {
	switch env.Type {
	case EventAuthenticated, EventPong:
		return nil
	}
	ev, err := DecodeEvent(env)
	if err != nil {
		b.fail(err)
		return err
	}
	return b.Handle(ctx, ev)
}

// Handle applies a decoded event. A panic while handling is recovered and
// reported as an error.
func (b *Bridge) Handle(ctx context.Context, ev Event) (err error) {
	sess := b.Session()
	if sess == nil {
		return fmt.Errorf("handle %s: %w", ev.EventType(), ErrNotConnected)
	}

	b.handleMu.Lock()
	defer b.handleMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handle %s: panic: %v", ev.EventType(), r)
		}
		if err != nil {
			b.fail(err)
			return
		}
		b.handled.Add(1)
	}()

	switch e := ev.(type) {
	case *MessageReceived:
		b.onMessage(ctx, sess, e.Message)
	case *MessagePinned:
		b.onPin(ctx, e.Message, true)
	case *MessageUnpinned:
		b.onPin(ctx, e.Message, false)
	case *MessageDeleted:
		out := DeleteMessage(b.cache, e.ConversationID, e.MessageID)
		b.logger.Debug("message deleted",
			slog.String("conversation", e.ConversationID),
			slog.String("message", e.MessageID),
			slog.String("outcome", out.String()),
		)
	case *FriendRequestAccepted:
		b.onFriendAccepted(ctx, sess, e)
	case *NotificationReceived:
		InvalidateNotifications(b.cache, sess.UserID)
		b.notifier.Notify(ctx, Toast{
			Level: ToastInfo,
			Title: toastNewNotification,
			Body:  e.Notification.Message,
			Sound: SoundNotification,
		})
	case *CallSignal:
		if b.onCall != nil {
			b.onCall(ctx, e)
		}
	default:
		return fmt.Errorf("handle %s: %w", ev.EventType(), ErrUnknownEvent)
	}
	return nil
}

func (b *Bridge) onMessage(ctx context.Context, sess *Session, msg Message) {
	out := AddMessage(b.cache, msg)
	b.logger.Debug("message received",
		slog.String("conversation", msg.ConversationID),
		slog.String("message", msg.ID),
		slog.String("outcome", out.String()),
	)
	if out == PatchUnchanged || msg.SenderID == sess.UserID {
		return
	}
	b.notifier.Notify(ctx, Toast{
		Level: ToastInfo,
		Title: toastNewMessage,
		Body:  msg.Text,
		Sound: SoundMessage,
	})
}

func (b *Bridge) onPin(ctx context.Context, msg Message, pinned bool) {
	out := SetMessagePinned(b.cache, msg, pinned)
	b.logger.Debug("message pin changed",
		slog.String("conversation", msg.ConversationID),
		slog.String("message", msg.ID),
		slog.Bool("pinned", pinned),
		slog.String("outcome", out.String()),
	)
	title := toastMessagePinned
	if !pinned {
		title = toastMessageUnpinned
	}
	b.notifier.Notify(ctx, Toast{Level: ToastInfo, Title: title, Body: msg.Text})
}

func (b *Bridge) onFriendAccepted(ctx context.Context, sess *Session, e *FriendRequestAccepted) {
	InvalidateSocialGraph(b.cache, sess.UserID)
	InvalidateNotifications(b.cache, sess.UserID)
	InvalidateConversations(b.cache, sess.UserID)

	name := e.Name
	if name == "" {
		name = e.UserID
	}
	b.notifier.Notify(ctx, Toast{
		Level: ToastSuccess,
		Title: name + " " + toastFriendAccepted,
		Sound: SoundNotification,
	})
}

func (b *Bridge) fail(err error) {
	b.failed.Add(1)
	var evErr *EventError
	if errors.As(err, &evErr) {
		b.logger.Warn("real-time event rejected",
			slog.String("type", evErr.Type),
			slog.String("reason", evErr.Reason),
		)
	} else {
		b.logger.Error("real-time event failed", slog.Any("error", err))
	}
	if b.onError != nil {
		b.onError(err)
	}
}
