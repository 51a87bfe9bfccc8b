// Package fcm sends notifications through Firebase Cloud Messaging. It serves
// both web and Android registrations.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/vssdeo/trustroots/pkg/push"
)

// MessagingClient is the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client      MessagingClient
	defaultIcon string
	logger      *slog.Logger
}

func NewDispatcher(client MessagingClient, defaultIcon string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:      client,
		defaultIcon: defaultIcon,
		logger:      logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch multicasts n to tokens. Tokens FCM reports as invalid or
// unregistered are returned for cleanup; any other per-token failure makes
// the batch retryable.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, n push.Notification, data map[string]string) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	icon := n.Icon
	if icon == "" {
		icon = d.defaultIcon
	}
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: n.Title,
				Body:  n.Body,
				Icon:  icon,
			},
		},
	}

	br, err := d.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			// The payload itself is bad; retrying will not help.
			d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			return "skipped: invalid_argument", nil, nil
		}
		return "", nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	var invalidTokens []string
	retryableErrors := 0
	for idx, resp := range br.Responses {
		if resp.Success {
			continue
		}
		if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			invalidTokens = append(invalidTokens, tokens[idx])
			continue
		}
		retryableErrors++
	}

	if retryableErrors > 0 {
		return "", invalidTokens, fmt.Errorf("batch had %d retryable errors", retryableErrors)
	}

	receipt := fmt.Sprintf("success:%d invalid:%d", br.SuccessCount, len(invalidTokens))
	return receipt, invalidTokens, nil
}
