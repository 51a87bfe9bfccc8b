package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vssdeo/trustroots/pkg/push"
)

// Store implements push.RegistrationStore using Google Cloud Firestore.
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// registrationRecord is the internal DB representation.
type registrationRecord struct {
	Token    string    `firestore:"token"`
	Platform string    `firestore:"platform"`
	Created  time.Time `firestore:"created"`
}

func (s *Store) Get(ctx context.Context, userID string) (*push.User, error) {
	iter := s.registrations(userID).Documents(ctx)
	defer iter.Stop()

	user := &push.User{ID: userID, PushRegistrations: make([]push.Registration, 0)}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record registrationRecord
		if err := doc.DataTo(&record); err != nil {
			// Skip rows we cannot read rather than failing the whole profile.
			continue
		}
		user.PushRegistrations = append(user.PushRegistrations, push.Registration{
			Token:    record.Token,
			Platform: push.Platform(record.Platform),
			Created:  record.Created,
		})
	}

	sort.SliceStable(user.PushRegistrations, func(i, j int) bool {
		return user.PushRegistrations[i].Created.Before(user.PushRegistrations[j].Created)
	})
	return user, nil
}

// Add creates the registration document unless it already exists, so the
// original created time is kept.
func (s *Store) Add(ctx context.Context, userID string, r push.Registration) (*push.User, error) {
	record := registrationRecord{
		Token:    r.Token,
		Platform: string(r.Platform),
		Created:  r.Created,
	}
	_, err := s.registrations(userID).Doc(hashToken(r.Token)).Create(ctx, record)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return nil, fmt.Errorf("failed to store registration: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *Store) Remove(ctx context.Context, userID string, token string) (*push.User, error) {
	if _, err := s.registrations(userID).Doc(hashToken(token)).Delete(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete registration: %w", err)
	}
	return s.Get(ctx, userID)
}

// registrations: users/{userID}/pushRegistrations/{tokenHash}
func (s *Store) registrations(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("pushRegistrations")
}

// hashToken keeps document IDs short and free of '/'.
func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
