package push

import "context"

// Messaging is the facade over the cloud messaging SDK used by the client.
type Messaging interface {
	// Supported reports whether the runtime can receive push messages at all.
	Supported() bool
	// ShouldInitialize is true when the SDK has not been set up by anything
	// else yet and the client is expected to do it.
	ShouldInitialize() bool
	// PermissionGranted reports whether notification permission is held.
	PermissionGranted() bool
	RequestPermission(ctx context.Context) error
	// GetToken returns the current messaging token, or "" when permission
	// has not been granted.
	GetToken(ctx context.Context) (string, error)
	DeleteToken(ctx context.Context, token string) error
	OnTokenRefresh(fn func())
	OnMessage(fn func(Message))
	RemoveServiceWorker(ctx context.Context) error
}

// NotificationOptions mirrors the options bag of a native notification.
type NotificationOptions struct {
	Body string
	Icon string
	Data map[string]string
}

// Notifier shows a native notification.
type Notifier interface {
	Notify(title string, opts NotificationOptions) error
}

// RegistrationAPI is the client side of the registration endpoints. Both
// calls return the updated user.
type RegistrationAPI interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	Unregister(ctx context.Context, token string) (*User, error)
}

// PreferenceStore records whether the user wants push enabled on this device.
type PreferenceStore interface {
	Enabled() bool
	SetEnabled(on bool) error
}

// RegistrationStore is the backend's source of truth for registrations.
type RegistrationStore interface {
	Get(ctx context.Context, userID string) (*User, error)
	// Add stores r for the user unless the token is already registered.
	Add(ctx context.Context, userID string, r Registration) (*User, error)
	// Remove deletes token from the user. Removing an absent token is not an error.
	Remove(ctx context.Context, userID string, token string) (*User, error)
}

// Dispatcher sends a notification to a batch of platform tokens. It returns
// the tokens the platform reported as permanently invalid.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, n Notification, data map[string]string) (string, []string, error)
}
