// Package pipeline turns delivery requests from Pub/Sub into pushes to every
// device a user registered.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/vssdeo/trustroots/pkg/push"
)

// DeliveryRequestTransformer decodes a raw payload into a
// push.DeliveryRequest. Malformed messages are skipped with an error so the
// streaming service can nack them towards the dead-letter topic.
func DeliveryRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.DeliveryRequest, bool, error) {
	var req push.DeliveryRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal delivery request from message %s: %w", msg.ID, err)
	}
	if req.RecipientID == "" {
		return nil, true, fmt.Errorf("delivery request in message %s has no recipient", msg.ID)
	}
	return &req, false, nil
}
