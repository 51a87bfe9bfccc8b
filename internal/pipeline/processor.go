package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/vssdeo/trustroots/internal/metrics"
	"github.com/vssdeo/trustroots/pkg/push"
)

// Dispatchers maps each platform to the dispatcher that serves it. Platforms
// without a dispatcher are skipped.
type Dispatchers map[push.Platform]push.Dispatcher

// NewProcessor looks up the recipient's registrations, sends the
// notification per platform and unregisters tokens the platform rejected.
func NewProcessor(
	dispatchers Dispatchers,
	store push.RegistrationStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[push.DeliveryRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *push.DeliveryRequest) error {
		procLogger := logger.With(
			"recipient_id", request.RecipientID,
			"pubsub_msg_id", original.ID,
		)

		user, err := store.Get(ctx, request.RecipientID)
		if err != nil {
			procLogger.Error("Failed to fetch registrations", "err", err)
			return err
		}

		buckets := groupByPlatform(user.PushRegistrations)
		if len(buckets) == 0 {
			procLogger.Info("No devices registered for user; dropping notification.")
			return nil
		}

		var retryErr error
		for platform, tokens := range buckets {
			dispatcher, ok := dispatchers[platform]
			if !ok {
				procLogger.Warn("No dispatcher for platform", "platform", platform, "tokens", len(tokens))
				m.Dispatch(string(platform), "unsupported")
				continue
			}

			receipt, invalid, err := dispatcher.Dispatch(ctx, tokens, request.Notification, request.Data)

			if len(invalid) > 0 {
				procLogger.Info("Cleaning up invalid tokens", "platform", platform, "count", len(invalid))
				m.InvalidTokens(string(platform), len(invalid))
				for _, t := range invalid {
					if _, err := store.Remove(ctx, request.RecipientID, t); err != nil {
						procLogger.Warn("Failed to delete token", "platform", platform, "err", err)
					}
				}
			}

			if err != nil {
				procLogger.Error("Dispatch failed", "platform", platform, "err", err)
				m.Dispatch(string(platform), "error")
				retryErr = err
				continue
			}
			m.Dispatch(string(platform), "sent")
			procLogger.Info("Dispatched", "platform", platform, "receipt", receipt)
		}

		return retryErr
	}
}

// groupByPlatform buckets tokens; web and android both go through FCM but
// are kept apart so each can be routed on its own.
func groupByPlatform(regs []push.Registration) map[push.Platform][]string {
	out := make(map[push.Platform][]string)
	for _, r := range regs {
		platform := r.Platform
		if platform == "" {
			platform = push.PlatformWeb
		}
		out[platform] = append(out[platform], r.Token)
	}
	return out
}
