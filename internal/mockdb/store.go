// Package mockdb stores users and items for the mock target application.
// MemoryStore replaces the real database during load tests; GormStore talks
// to PostgreSQL when a DSN is configured.
package mockdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a user or item does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when creating a user whose email is taken
	ErrDuplicate = errors.New("already exists")
)

// User is an account of the target application
type User struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	Email          string    `json:"email" gorm:"uniqueIndex;not null"`
	HashedPassword string    `json:"-" gorm:"not null"`
	FullName       string    `json:"full_name"`
	IsActive       bool      `json:"is_active" gorm:"default:true"`
	IsSuperuser    bool      `json:"is_superuser" gorm:"default:false"`
	CreatedAt      time.Time `json:"created_at"`
}

// Item is owned by a user
type Item struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Title       string    `json:"title" gorm:"not null"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id" gorm:"index;size:36"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistence used by the mock API
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, skip, limit int) ([]User, int64, error)

	CreateItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	// ListItems lists the items of ownerID, or every item when ownerID is empty
	ListItems(ctx context.Context, ownerID string, skip, limit int) ([]Item, int64, error)
	UpdateItem(ctx context.Context, it *Item) error
	DeleteItem(ctx context.Context, id string) error

	Close() error
}

// HashPassword returns the stored form of a password
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CheckPassword reports whether password matches u
func (u *User) CheckPassword(password string) bool {
	return u.HashedPassword == HashPassword(password)
}

// NewUser builds an active user with a fresh id
func NewUser(email, password, fullName string, superuser bool) *User {
	return &User{
		ID:             uuid.NewString(),
		Email:          normalizeEmail(email),
		HashedPassword: HashPassword(password),
		FullName:       fullName,
		IsActive:       true,
		IsSuperuser:    superuser,
		CreatedAt:      time.Now().UTC(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func page(total, skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if skip > total {
		skip = total
	}
	end := total
	if limit > 0 && skip+limit < total {
		end = skip + limit
	}
	return skip, end
}
