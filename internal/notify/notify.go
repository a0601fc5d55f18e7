// Package notify delivers user-facing confirmations for lifecycle
// transitions. Delivery is always best-effort: a failed or dropped
// notification never reverts the transition it describes.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Muggles200/contract-analize-sub003/internal/obs"
)

// Notification templates.
const (
	TemplateDeletionScheduled = "account_deletion_scheduled"
	TemplateDeletionRecovered = "account_deletion_recovered"
	TemplateDeletionExecuted  = "account_deletion_executed"
)

// Notification is one user-facing message.
type Notification struct {
	UserID   string            `json:"user_id"`
	Template string            `json:"template"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Notifier sends a notification through some channel.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications as JSON lines through the shared logger.
// It stands in for the external push/e-mail transport, which is outside this
// subsystem.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, n Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	entry := map[string]any{
		"ts":       n.SentAt.Format(time.RFC3339Nano),
		"type":     "notification",
		"template": n.Template,
		"user_id":  n.UserID,
	}
	if len(n.Metadata) > 0 {
		entry["metadata"] = n.Metadata
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Multi fans a notification out to several notifiers. The first error is
// returned after all notifiers ran.
func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}

type multi []Notifier

func (m multi) Send(ctx context.Context, n Notification) error {
	var first error
	for _, notifier := range m {
		if err := notifier.Send(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
