package mockdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore persists users and items in PostgreSQL
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore connects to the PostgreSQL database at dsn and migrates the
// schema
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open gorm connection
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&User{}, &Item{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// EnsureUser creates the given user unless its email is already registered
func (s *GormStore) EnsureUser(ctx context.Context, u *User) error {
	err := s.CreateUser(ctx, u)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func (s *GormStore) CreateUser(ctx context.Context, u *User) error {
	u.Email = normalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", u.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicate
	}

	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "email = ?", normalizeEmail(email)).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *GormStore) ListUsers(ctx context.Context, skip, limit int) ([]User, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []User
	q := s.db.WithContext(ctx).Order("created_at, id").Offset(skip)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *GormStore) CreateItem(ctx context.Context, it *Item) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(it).Error
}

func (s *GormStore) GetItem(ctx context.Context, id string) (*Item, error) {
	var it Item
	if err := s.db.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &it, nil
}

func (s *GormStore) ListItems(ctx context.Context, ownerID string, skip, limit int) ([]Item, int64, error) {
	q := s.db.WithContext(ctx).Model(&Item{})
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []Item
	q = q.Order("created_at, id").Offset(skip)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *GormStore) UpdateItem(ctx context.Context, it *Item) error {
	result := s.db.WithContext(ctx).Model(&Item{}).Where("id = ?", it.ID).
		Updates(map[string]interface{}{"title": it.Title, "description": it.Description})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	updated, err := s.GetItem(ctx, it.ID)
	if err != nil {
		return err
	}
	*it = *updated
	return nil
}

func (s *GormStore) DeleteItem(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&Item{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation matches PostgreSQL error 23505
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key")
}
