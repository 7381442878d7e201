// Package notify delivers relay events to users, preferring the live
// websocket session and falling back to push for drivers whose app is
// backgrounded.
package notify

import (
	"errors"
	"log/slog"
)

var ErrNoRoute = errors.New("notify: no delivery route for user")

// Sender delivers an event to a live websocket session. The relay hub
// implements this.
type Sender interface {
	SendEvent(userID, event string, payload any) error
}

// Pusher delivers an event through an out-of-band push provider.
type Pusher interface {
	Push(userID, event string, payload any) error
}

type Notifier struct {
	Live Sender
	Push Pusher
	Log  *slog.Logger
}

// Notify sends the event over the live session when one exists, otherwise
// through the push provider. Returns ErrNoRoute when neither path works.
func (n *Notifier) Notify(userID, event string, payload any) error {
	if n.Live != nil {
		if err := n.Live.SendEvent(userID, event, payload); err == nil {
			return nil
		} else if n.Log != nil {
			n.Log.Debug("live delivery failed, trying push", "user_id", userID, "event", event, "err", err)
		}
	}
	if n.Push != nil {
		if err := n.Push.Push(userID, event, payload); err == nil {
			return nil
		} else if n.Log != nil {
			n.Log.Warn("push delivery failed", "user_id", userID, "event", event, "err", err)
		}
	}
	return ErrNoRoute
}
