package tracker

import "time"

// NotificationKind classifies a lifecycle notification.
type NotificationKind string

// Notification kinds emitted by the tracker.
const (
	KindClosed   NotificationKind = "conversation_closed"
	KindReopened NotificationKind = "conversation_reopened"
)

// Notification is a best-effort lifecycle event for observers.
type Notification struct {
	Kind NotificationKind
	Key  string
	At   time.Time
}

// Notifier receives lifecycle notifications. Implementations must never
// block the tracker; delivery is best-effort.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(Notification) {}

// ChanNotifier delivers notifications to a buffered channel, dropping
// notifications when the observer falls behind.
type ChanNotifier struct {
	ch chan Notification
}

// NewChanNotifier creates a ChanNotifier with the given buffer size.
func NewChanNotifier(buffer int) *ChanNotifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanNotifier{ch: make(chan Notification, buffer)}
}

// C returns the receive side for observers.
func (c *ChanNotifier) C() <-chan Notification { return c.ch }

// Notify implements Notifier. A full buffer drops the notification rather
// than blocking the tracker.
func (c *ChanNotifier) Notify(n Notification) {
	select {
	case c.ch <- n:
	default:
	}
}
