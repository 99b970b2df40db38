// Package notify delivers pool lifecycle alerts to operators over Telegram
// and Discord. Each alert carries an event type that the configured filter
// may suppress.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the pool services.
const (
	EventPoolCreated   = "pool_created"
	EventPoolFailed    = "pool_failed"
	EventIdeaFinalized = "idea_finalized"
	EventSyncFailed    = "sync_failed"
)

// Field is one labelled value shown under an alert.
type Field struct {
	Name  string
	Value string
}

// Alert is a single operator notification.
type Alert struct {
	Event   string
	Title   string
	Message string
	Fields  []Field
	// Link is an optional explorer URL for the transaction involved.
	Link string
}

// Failed reports whether the alert describes a failure.
func (a Alert) Failed() bool {
	return a.Event == EventPoolFailed || a.Event == EventSyncFailed
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. Only alerts whose event
// is in the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is registered.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends a to every sender if its event passes the filter. A single
// sender failure does not prevent delivery to the rest.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
