// Package localstore is the device-local persistent key-value store. Values
// are JSON-encoded strings; the session store keeps the cached identity under
// "user" and the cart store mirrors line items under "cart".
package localstore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the local persistent storage consumed by the session and cart
// stores. Get reports whether the key existed.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// StorageError wraps a local storage read/write failure.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local storage %q: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type entry struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     string `gorm:"column:value"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "kv_entries" }

// SQLite is a Store backed by a single-table sqlite database.
type SQLite struct {
	db *gorm.DB
}

// Open opens (and creates if needed) the sqlite database at path.
func Open(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(key string) (string, bool, error) {
	var e entry
	err := s.db.First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageError{Key: key, Err: err}
	}
	return e.Value, true, nil
}

func (s *SQLite) Set(key, value string) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry{Key: key, Value: value, UpdatedAt: time.Now()}).Error
	if err != nil {
		return &StorageError{Key: key, Err: err}
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	if err := s.db.Delete(&entry{}, "key = ?", key).Error; err != nil {
		return &StorageError{Key: key, Err: err}
	}
	return nil
}
