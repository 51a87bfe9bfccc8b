package pipeline_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vssdeo/trustroots/internal/pipeline"
)

func TestDeliveryRequestTransformer(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
	}{
		{
			name:    "Happy Path",
			payload: `{"recipientId":"urn:tr:user:1","notification":{"title":"foo","body":"yay"},"data":{"url":"/messages"}}`,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectError:           true,
			expectedErrorContains: "failed to unmarshal delivery request",
		},
		{
			name:                  "Failure - Missing Recipient",
			payload:               `{"notification":{"title":"foo"}}`,
			expectError:           true,
			expectedErrorContains: "has no recipient",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}

			req, skip, err := pipeline.DeliveryRequestTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, "urn:tr:user:1", req.RecipientID)
			assert.Equal(t, "yay", req.Notification.Body)
			assert.Equal(t, "/messages", req.Data["url"])
		})
	}
}
