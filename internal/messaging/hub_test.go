package messaging_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vssdeo/trustroots/internal/messaging"
	"github.com/vssdeo/trustroots/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_TokenLifecycle(t *testing.T) {
	ctx := context.Background()
	hub, err := messaging.NewHub(messaging.Config{AutoGrant: true}, newTestLogger())
	require.NoError(t, err)

	token, err := hub.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token, "no token before permission")

	require.NoError(t, hub.RequestPermission(ctx))
	assert.True(t, hub.PermissionGranted())

	assert.Empty(t, hub.Token(), "reading the token issues nothing")
	token, err = hub.GetToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, token, hub.Token())

	again, err := hub.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, again, "token is stable until deleted")

	require.NoError(t, hub.DeleteToken(ctx, token))
	assert.Empty(t, hub.Token())
	fresh, err := hub.GetToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, token, fresh)
}

func TestHub_PromptDenied(t *testing.T) {
	ctx := context.Background()
	hub, err := messaging.NewHub(messaging.Config{
		PromptFn: func(context.Context) (bool, error) { return false, nil },
	}, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, hub.RequestPermission(ctx))
	assert.False(t, hub.PermissionGranted())
}

func TestHub_Callbacks(t *testing.T) {
	hub, err := messaging.NewHub(messaging.Config{AutoGrant: true, DeviceToken: "pinned"}, newTestLogger())
	require.NoError(t, err)

	var received []push.Message
	hub.OnMessage(func(m push.Message) { received = append(received, m) })
	refreshed := 0
	hub.OnTokenRefresh(func() { refreshed++ })

	n := hub.Deliver(push.Message{Notification: push.Notification{Title: "foo", Body: "yay"}})
	assert.Equal(t, 1, n)
	require.Len(t, received, 1)
	assert.Equal(t, "yay", received[0].Notification.Body)

	token, err := hub.RotateToken()
	require.NoError(t, err)
	assert.NotEqual(t, "pinned", token)
	assert.Equal(t, 1, refreshed)
}

func TestHub_PersistsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "messaging.yaml")
	cfg := messaging.Config{StatePath: path, AutoGrant: true, DeviceToken: "device-1"}

	hub, err := messaging.NewHub(cfg, newTestLogger())
	require.NoError(t, err)
	assert.True(t, hub.ShouldInitialize())
	require.NoError(t, hub.RequestPermission(ctx))
	_, err = hub.GetToken(ctx)
	require.NoError(t, err)
	require.NoError(t, hub.MarkInitialized())

	reloaded, err := messaging.NewHub(cfg, newTestLogger())
	require.NoError(t, err)
	assert.True(t, reloaded.PermissionGranted())
	assert.False(t, reloaded.ShouldInitialize())
	token, err := reloaded.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "device-1", token)

	require.NoError(t, reloaded.RemoveServiceWorker(ctx))
	wiped, err := messaging.NewHub(cfg, newTestLogger())
	require.NoError(t, err)
	assert.False(t, wiped.PermissionGranted())
}
