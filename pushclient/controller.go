// Package pushclient keeps a device's push registration in line with the
// user's on/off preference.
package pushclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vssdeo/trustroots/pkg/push"
)

// ErrPermissionDenied is returned by Enable when no token could be obtained
// after asking for notification permission.
var ErrPermissionDenied = errors.New("push: notification permission not granted")

// Config holds the static settings of a Controller.
type Config struct {
	// Platform is sent with every registration. Defaults to web.
	Platform push.Platform
	// DefaultIcon is used for incoming messages that carry no icon.
	DefaultIcon string
}

// Deps are the collaborators a Controller coordinates.
type Deps struct {
	Messaging   push.Messaging
	Notifier    push.Notifier
	API         push.RegistrationAPI
	Preferences push.PreferenceStore
	// User is the signed-in user. A nil user is treated as having no
	// registrations.
	User *push.User
}

// Controller is the push preference controller. It is safe for concurrent
// use, but overlapping Enable/Disable calls are not deduplicated.
type Controller struct {
	cfg       Config
	messaging push.Messaging
	notifier  push.Notifier
	api       push.RegistrationAPI
	prefs     push.PreferenceStore
	logger    *slog.Logger

	mu         sync.Mutex
	user       push.User
	token      string
	subscribed bool
}

// New creates a Controller.
func New(cfg Config, deps Deps, logger *slog.Logger) *Controller {
	if cfg.Platform == "" {
		cfg.Platform = push.PlatformWeb
	}
	c := &Controller{
		cfg:       cfg,
		messaging: deps.Messaging,
		notifier:  deps.Notifier,
		api:       deps.API,
		prefs:     deps.Preferences,
		logger:    logger.With("component", "PushController"),
	}
	if deps.User != nil {
		c.user = deps.User.Clone()
	}
	return c
}

// IsSupported reports whether push can work here at all. When false every
// other operation is a no-op.
func (c *Controller) IsSupported() bool {
	return c.messaging != nil && c.notifier != nil && c.messaging.Supported()
}

// IsEnabled reports whether the last known token is registered for the user.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user.HasRegistration(c.token)
}

// User returns a copy of the session user as currently known.
func (c *Controller) User() push.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user.Clone()
}

// Enable asks for permission if needed, obtains a token and registers it
// with the backend unless it is already registered.
func (c *Controller) Enable(ctx context.Context) error {
	if !c.IsSupported() {
		return nil
	}

	token, err := c.fetchToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		c.logger.Debug("No token yet, requesting permission")
		if err := c.messaging.RequestPermission(ctx); err != nil {
			return fmt.Errorf("request permission: %w", err)
		}
		if token, err = c.fetchToken(ctx); err != nil {
			return err
		}
		if token == "" {
			return ErrPermissionDenied
		}
	}

	return c.register(ctx, token)
}

// Disable removes the current token from the backend, forgets the
// preference and drops the token from the messaging SDK.
func (c *Controller) Disable(ctx context.Context) error {
	if !c.IsSupported() {
		return nil
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		var err error
		if token, err = c.fetchToken(ctx); err != nil {
			return err
		}
	}
	if token == "" {
		c.logger.Debug("Disable without a token, clearing preference only")
		return c.setPreference(false)
	}

	user, err := c.api.Unregister(ctx, token)
	if err != nil {
		return fmt.Errorf("unregister token: %w", err)
	}
	c.adopt(user, func(u push.User) push.User { return u.WithoutRegistration(token) })

	if err := c.setPreference(false); err != nil {
		return err
	}
	if err := c.messaging.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()

	c.logger.Info("Push disabled")
	return nil
}

// Init wires the message and token refresh handlers and, when the user left
// push switched on, the permission is still held and the SDK asks for it,
// registers the current token again. It never asks for permission.
func (c *Controller) Init(ctx context.Context) error {
	if !c.IsSupported() {
		return nil
	}

	c.mu.Lock()
	first := !c.subscribed
	c.subscribed = true
	c.mu.Unlock()

	if first {
		c.messaging.OnMessage(c.handleMessage)
		c.messaging.OnTokenRefresh(c.handleTokenRefresh)
	}

	if !c.prefs.Enabled() || !c.messaging.PermissionGranted() || !c.messaging.ShouldInitialize() {
		return nil
	}

	token, err := c.fetchToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		c.logger.Warn("Permission granted but no token available")
		return nil
	}
	return c.register(ctx, token)
}

func (c *Controller) register(ctx context.Context, token string) error {
	c.mu.Lock()
	registered := c.user.HasRegistration(token)
	c.mu.Unlock()

	if !registered {
		user, err := c.api.Register(ctx, push.RegisterRequest{Token: token, Platform: c.cfg.Platform})
		if err != nil {
			return fmt.Errorf("register token: %w", err)
		}
		c.adopt(user, func(u push.User) push.User {
			return u.WithRegistration(push.Registration{
				Token:    token,
				Platform: c.cfg.Platform,
				Created:  time.Now(),
			})
		})
		c.logger.Info("Push registration saved", "platform", c.cfg.Platform)
	}

	return c.setPreference(true)
}

// adopt takes the backend's view of the user when it sent one, otherwise it
// applies fallback to the local copy.
func (c *Controller) adopt(user *push.User, fallback func(push.User) push.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user != nil {
		id := c.user.ID
		c.user = user.Clone()
		if c.user.ID == "" {
			c.user.ID = id
		}
		return
	}
	c.user = fallback(c.user)
}

func (c *Controller) fetchToken(ctx context.Context) (string, error) {
	token, err := c.messaging.GetToken(ctx)
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if token != "" {
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
	}
	return token, nil
}

func (c *Controller) setPreference(on bool) error {
	if err := c.prefs.SetEnabled(on); err != nil {
		return fmt.Errorf("store preference: %w", err)
	}
	return nil
}

func (c *Controller) handleMessage(msg push.Message) {
	icon := msg.Notification.Icon
	if icon == "" {
		icon = c.cfg.DefaultIcon
	}
	err := c.notifier.Notify(msg.Notification.Title, push.NotificationOptions{
		Body: msg.Notification.Body,
		Icon: icon,
		Data: msg.Data,
	})
	if err != nil {
		c.logger.Warn("Failed to show notification", "err", err)
	}
}

func (c *Controller) handleTokenRefresh() {
	if !c.prefs.Enabled() {
		return
	}
	// The SDK callback has no context of its own.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := c.fetchToken(ctx)
	if err != nil {
		c.logger.Warn("Token refresh failed", "err", err)
		return
	}
	if token == "" {
		return
	}
	if err := c.register(ctx, token); err != nil {
		c.logger.Warn("Failed to register refreshed token", "err", err)
	}
}
