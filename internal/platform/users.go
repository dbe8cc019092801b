package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User is the identity subset handlers consume.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// UserStore persists and retrieves platform users.
type UserStore interface {
	UpsertIdentity(ctx context.Context, identity Identity) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
}

type userRecord struct {
	ID        string         `gorm:"column:id;primaryKey"`
	Provider  string         `gorm:"column:provider;not null;uniqueIndex:idx_users_provider_subject"`
	Subject   string         `gorm:"column:subject;not null;uniqueIndex:idx_users_provider_subject"`
	Email     string         `gorm:"column:email;index;not null"`
	Metadata  map[string]any `gorm:"column:user_metadata;serializer:json"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (userRecord) TableName() string {
	return "users"
}

func (record userRecord) toUser() User {
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return User{ID: record.ID, Email: record.Email, UserMetadata: metadata}
}

// DatabaseUserStore keeps users in the platform database.
type DatabaseUserStore struct {
	database *Database
}

// NewDatabaseUserStore constructs a GORM-backed user store.
func NewDatabaseUserStore(database *Database) *DatabaseUserStore {
	return &DatabaseUserStore{database: database}
}

// UpsertIdentity creates the user on first sign-in and refreshes email and metadata afterwards.
func (store *DatabaseUserStore) UpsertIdentity(ctx context.Context, identity Identity) (User, error) {
	driverLabel := store.database.driverLabel
	if strings.TrimSpace(identity.Provider) == "" || strings.TrimSpace(identity.Subject) == "" {
		return User{}, fmt.Errorf("users.upsert.%s: provider and subject must be non-empty", driverLabel)
	}
	var record userRecord
	transactionErr := store.database.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		candidate := userRecord{
			ID:       uuid.NewString(),
			Provider: identity.Provider,
			Subject:  identity.Subject,
			Email:    identity.Email,
			Metadata: identity.Metadata(),
		}
		insert := transaction.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "subject"}},
			DoNothing: true,
		}).Create(&candidate)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 1 {
			record = candidate
			return nil
		}
		if findErr := transaction.Where("provider = ? AND subject = ?", identity.Provider, identity.Subject).Take(&record).Error; findErr != nil {
			return findErr
		}
		merged := make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			merged[key] = value
		}
		for key, value := range identity.Metadata() {
			merged[key] = value
		}
		record.Email = identity.Email
		record.Metadata = merged
		return transaction.Save(&record).Error
	})
	if transactionErr != nil {
		return User{}, fmt.Errorf("users.upsert.%s: %w", driverLabel, transactionErr)
	}
	return record.toUser(), nil
}

// GetUser loads a user by id.
func (store *DatabaseUserStore) GetUser(ctx context.Context, userID string) (User, error) {
	driverLabel := store.database.driverLabel
	var record userRecord
	err := store.database.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("users.get.%s: %w", driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("users.get.%s: %w", driverLabel, err)
	}
	return record.toUser(), nil
}
