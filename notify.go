package handbook

import (
	"context"
	"log/slog"
)

// ToastLevel is the severity of a user-visible notification.
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
)

// Sound is an optional audio cue played with a toast.
type Sound string

const (
	SoundNone         Sound = ""
	SoundMessage      Sound = "message"
	SoundNotification Sound = "notification"
)

// Toast is a transient message shown to the user.
type Toast struct {
	Level ToastLevel
	Title string
	Body  string
	Sound Sound
}

// Notifier delivers toasts to whatever renders them.
type Notifier interface {
	Notify(ctx context.Context, t Toast)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, t Toast)

func (f NotifierFunc) Notify(ctx context.Context, t Toast) { f(ctx, t) }

// LogNotifier writes toasts to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, t Toast) {
	level := slog.LevelInfo
	if t.Level == ToastError {
		level = slog.LevelError
	}
	n.Logger.Log(ctx, level, t.Title,
		slog.String("body", t.Body),
		slog.String("sound", string(t.Sound)),
	)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Toast) {}

// Toast texts. The product UI is Vietnamese.
const (
	toastNewMessage       = "Tin nhắn mới"
	toastMessagePinned    = "Đã ghim tin nhắn"
	toastMessageUnpinned  = "Đã bỏ ghim tin nhắn"
	toastFriendAccepted   = "đã chấp nhận lời mời kết bạn"
	toastNewNotification  = "Thông báo mới"
	toastSendFailed       = "Gửi tin nhắn thất bại"
	toastDeleteFailed     = "Xóa tin nhắn thất bại"
	toastPinFailed        = "Ghim tin nhắn thất bại"
	toastAcceptFailed     = "Chấp nhận lời mời kết bạn thất bại"
	toastMarkReadFailed   = "Đánh dấu đã đọc thất bại"
	toastUnfriendFailed   = "Hủy kết bạn thất bại"
	toastFriendAcceptedOK = "Đã chấp nhận lời mời kết bạn"
)
