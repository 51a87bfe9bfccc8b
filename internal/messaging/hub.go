// Package messaging provides an in-process implementation of the messaging
// SDK facade used by terminal clients and tests.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vssdeo/trustroots/pkg/push"
)

// Config controls how a Hub behaves.
type Config struct {
	// StatePath persists permission, token and initialization state between
	// runs. Empty keeps everything in memory.
	StatePath string
	// DeviceToken pins the token handed out after permission is granted.
	// Empty issues random tokens.
	DeviceToken string
	// AutoGrant makes RequestPermission succeed without asking anyone.
	AutoGrant bool
	// PromptFn asks the user for permission when AutoGrant is false.
	PromptFn func(ctx context.Context) (bool, error)
}

type hubState struct {
	PermissionGranted bool   `yaml:"permission_granted"`
	Token             string `yaml:"token,omitempty"`
	Initialized       bool   `yaml:"initialized"`
}

// Hub implements push.Messaging.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	state          hubState
	onMessage      []func(push.Message)
	onTokenRefresh []func()
}

// NewHub creates a Hub, loading previous state when StatePath exists.
func NewHub(cfg Config, logger *slog.Logger) (*Hub, error) {
	h := &Hub{cfg: cfg, logger: logger.With("component", "MessagingHub")}
	if cfg.StatePath == "" {
		return h, nil
	}
	raw, err := os.ReadFile(cfg.StatePath)
	if errors.Is(err, fs.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read messaging state: %w", err)
	}
	if err := yaml.Unmarshal(raw, &h.state); err != nil {
		return nil, fmt.Errorf("failed to parse messaging state %s: %w", cfg.StatePath, err)
	}
	return h, nil
}

func (h *Hub) Supported() bool { return true }

// ShouldInitialize stays true until MarkInitialized is called.
func (h *Hub) ShouldInitialize() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.state.Initialized
}

// MarkInitialized records that the SDK has been set up.
func (h *Hub) MarkInitialized() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.Initialized = true
	return h.saveLocked()
}

func (h *Hub) PermissionGranted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.PermissionGranted
}

func (h *Hub) RequestPermission(ctx context.Context) error {
	granted := h.cfg.AutoGrant
	if !granted && h.cfg.PromptFn != nil {
		var err error
		if granted, err = h.cfg.PromptFn(ctx); err != nil {
			return fmt.Errorf("permission prompt failed: %w", err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.PermissionGranted = granted
	h.logger.Debug("Permission requested", "granted", granted)
	return h.saveLocked()
}

// GetToken returns "" without permission, otherwise the current token,
// issuing one when none exists.
func (h *Hub) GetToken(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.PermissionGranted {
		return "", nil
	}
	if h.state.Token == "" {
		h.state.Token = h.newTokenLocked()
		if err := h.saveLocked(); err != nil {
			return "", err
		}
	}
	return h.state.Token, nil
}

// Token returns the stored token without issuing one.
func (h *Hub) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Token
}

func (h *Hub) DeleteToken(_ context.Context, token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Token != token {
		return nil
	}
	h.state.Token = ""
	return h.saveLocked()
}

func (h *Hub) OnTokenRefresh(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTokenRefresh = append(h.onTokenRefresh, fn)
}

func (h *Hub) OnMessage(fn func(push.Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = append(h.onMessage, fn)
}

// RemoveServiceWorker forgets every piece of state.
func (h *Hub) RemoveServiceWorker(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = hubState{}
	if h.cfg.StatePath == "" {
		return nil
	}
	if err := os.Remove(h.cfg.StatePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RotateToken replaces the current token and notifies refresh subscribers.
func (h *Hub) RotateToken() (string, error) {
	h.mu.Lock()
	h.state.Token = uuid.NewString()
	token := h.state.Token
	err := h.saveLocked()
	subs := append([]func(){}, h.onTokenRefresh...)
	h.mu.Unlock()
	if err != nil {
		return "", err
	}

	for _, fn := range subs {
		fn()
	}
	return token, nil
}

// Deliver hands msg to every OnMessage subscriber. It returns the number of
// subscribers reached.
func (h *Hub) Deliver(msg push.Message) int {
	h.mu.Lock()
	subs := append([]func(push.Message){}, h.onMessage...)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
	return len(subs)
}

func (h *Hub) newTokenLocked() string {
	if h.cfg.DeviceToken != "" {
		return h.cfg.DeviceToken
	}
	return uuid.NewString()
}

func (h *Hub) saveLocked() error {
	if h.cfg.StatePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.cfg.StatePath), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	raw, err := yaml.Marshal(h.state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(h.cfg.StatePath, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write messaging state: %w", err)
	}
	return nil
}
