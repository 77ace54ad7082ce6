package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// filterRecipients drops the excluded principal and anyone opted out of the
// notification type.
func filterRecipients(ctx context.Context, notifier Notifier, watchers []string, t NotificationType, exclude string) []string {
	recipients := make([]string, 0, len(watchers))
	for _, w := range watchers {
		if w == exclude {
			continue
		}
		if notifier.IsOptedOut(ctx, w, t) {
			continue
		}
		recipients = append(recipients, w)
	}
	return recipients
}

// dispatchNotification sends best-effort: a delivery failure is logged and
// never interrupts the operation that triggered it.
func dispatchNotification(ctx context.Context, notifier Notifier, log zerolog.Logger, n Notification) {
	if err := notifier.Send(ctx, n); err != nil {
		log.Warn().Err(err).
			Str("type", string(n.Type)).
			Int("recipients", len(n.Recipients)).
			Msg("Failed to send notification (non-fatal)")
	}
}

// appendAudit writes an audit entry and logs a warning on failure.
func appendAudit(ctx context.Context, audit AuditLog, log zerolog.Logger, entry *approval.AuditEntry) {
	if audit == nil {
		return
	}
	if err := audit.Append(ctx, entry); err != nil {
		log.Warn().Err(err).
			Str("instance_id", entry.InstanceID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
