// Package postgres stores push registrations in PostgreSQL through gorm.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vssdeo/trustroots/pkg/push"
)

// PushRegistration is the row backing one push.Registration.
type PushRegistration struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;not null"`
	Platform  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// Store implements push.RegistrationStore.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the registrations table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewStore(db)
}

// NewStore migrates the schema on db.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&PushRegistration{}); err != nil {
		return nil, fmt.Errorf("failed to migrate push registrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, userID string) (*push.User, error) {
	var rows []PushRegistration
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	user := &push.User{ID: userID, PushRegistrations: make([]push.Registration, 0, len(rows))}
	for _, row := range rows {
		user.PushRegistrations = append(user.PushRegistrations, push.Registration{
			Token:    row.Token,
			Platform: push.Platform(row.Platform),
			Created:  row.CreatedAt.UTC(),
		})
	}
	return user, nil
}

// Add inserts the token. A token already held by another user moves to
// userID.
func (s *Store) Add(ctx context.Context, userID string, r push.Registration) (*push.User, error) {
	row := &PushRegistration{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     r.Token,
		Platform:  string(r.Platform),
		CreatedAt: r.Created,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id"}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to store registration: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *Store) Remove(ctx context.Context, userID string, token string) (*push.User, error) {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID, token).
		Delete(&PushRegistration{}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to delete registration: %w", err)
	}
	return s.Get(ctx, userID)
}
