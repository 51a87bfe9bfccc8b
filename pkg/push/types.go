// Package push contains the domain types and collaborator contracts shared by
// the push preference client and the registration backend.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a user has no record.
var ErrNotFound = errors.New("push: not found")

// Platform identifies the kind of device a registration belongs to.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWeb, PlatformAndroid, PlatformIOS:
		return true
	}
	return false
}

// Registration binds a messaging token to a user's profile.
// Registrations are unique by Token.
type Registration struct {
	Token    string
	Platform Platform
	Created  time.Time
}

type registrationJSON struct {
	Token    string          `json:"token"`
	Platform Platform        `json:"platform"`
	Created  json.RawMessage `json:"created,omitempty"`
}

// MarshalJSON writes Created as a millisecond epoch, which is what the
// front end compares against.
func (r Registration) MarshalJSON() ([]byte, error) {
	out := registrationJSON{Token: r.Token, Platform: r.Platform}
	if !r.Created.IsZero() {
		out.Created = json.RawMessage(fmt.Sprintf("%d", r.Created.UnixMilli()))
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts Created either as a millisecond epoch or as an
// RFC3339 string.
func (r *Registration) UnmarshalJSON(data []byte) error {
	var in registrationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Token = in.Token
	r.Platform = in.Platform
	r.Created = time.Time{}

	if len(in.Created) == 0 || string(in.Created) == "null" {
		return nil
	}
	var millis int64
	if err := json.Unmarshal(in.Created, &millis); err == nil {
		r.Created = time.UnixMilli(millis).UTC()
		return nil
	}
	var ts time.Time
	if err := json.Unmarshal(in.Created, &ts); err != nil {
		return fmt.Errorf("invalid created timestamp %s: %w", in.Created, err)
	}
	r.Created = ts.UTC()
	return nil
}

// User is the slice of the user profile this feature reads and writes.
type User struct {
	ID                string         `json:"_id,omitempty"`
	PushRegistrations []Registration `json:"pushRegistration"`
}

// HasRegistration reports whether token is registered for u.
func (u *User) HasRegistration(token string) bool {
	if u == nil || token == "" {
		return false
	}
	for _, r := range u.PushRegistrations {
		if r.Token == token {
			return true
		}
	}
	return false
}

// WithRegistration returns a copy of u that includes r. An existing
// registration with the same token is kept as is.
func (u User) WithRegistration(r Registration) User {
	if u.HasRegistration(r.Token) {
		return u.Clone()
	}
	out := u.Clone()
	out.PushRegistrations = append(out.PushRegistrations, r)
	return out
}

// WithoutRegistration returns a copy of u without token.
func (u User) WithoutRegistration(token string) User {
	out := User{ID: u.ID, PushRegistrations: make([]Registration, 0, len(u.PushRegistrations))}
	for _, r := range u.PushRegistrations {
		if r.Token != token {
			out.PushRegistrations = append(out.PushRegistrations, r)
		}
	}
	return out
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	regs := make([]Registration, len(u.PushRegistrations))
	copy(regs, u.PushRegistrations)
	return User{ID: u.ID, PushRegistrations: regs}
}

// UserResponse is the envelope the registration endpoints answer with.
type UserResponse struct {
	User User `json:"user"`
}

// RegisterRequest is the body of POST /api/users/push/registrations.
type RegisterRequest struct {
	Token    string   `json:"token"`
	Platform Platform `json:"platform"`
}

// Notification is the user-visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
}

// Message is what the messaging SDK hands to OnMessage subscribers.
type Message struct {
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// DeliveryRequest asks the backend to push a notification to every device
// a user has registered.
type DeliveryRequest struct {
	RecipientID  string            `json:"recipientId"`
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}
