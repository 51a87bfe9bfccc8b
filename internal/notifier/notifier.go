// Package notifier shows incoming push messages to the person at the
// terminal.
package notifier

import (
	"log/slog"

	"github.com/vssdeo/trustroots/pkg/push"
)

// LogNotifier renders each notification as a structured log record.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "Notifier")}
}

func (n *LogNotifier) Notify(title string, opts push.NotificationOptions) error {
	attrs := []any{"title", title, "body", opts.Body}
	if opts.Icon != "" {
		attrs = append(attrs, "icon", opts.Icon)
	}
	if len(opts.Data) > 0 {
		attrs = append(attrs, "data", opts.Data)
	}
	n.logger.Info("Notification", attrs...)
	return nil
}

// Func adapts a plain function to push.Notifier.
type Func func(title string, opts push.NotificationOptions) error

func (f Func) Notify(title string, opts push.NotificationOptions) error {
	return f(title, opts)
}
