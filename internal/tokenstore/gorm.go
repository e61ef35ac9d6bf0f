package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionEntry struct {
	Key       string    `gorm:"column:entry_key;primaryKey"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SessionEntry) TableName() string { return "session_entries" }

// GormBackend keeps entries in a SQL table so they survive restarts.
type GormBackend struct {
	DB *gorm.DB
}

var _ Backend = (*GormBackend)(nil)

func NewGormBackend(ctx context.Context, db *gorm.DB) (*GormBackend, error) {
	if err := db.WithContext(ctx).AutoMigrate(&SessionEntry{}); err != nil {
		return nil, fmt.Errorf("migrate session_entries: %w", err)
	}
	return &GormBackend{DB: db}, nil
}

func (b *GormBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var entry SessionEntry
	err := b.DB.WithContext(ctx).Where("entry_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (b *GormBackend) SetMany(ctx context.Context, values map[string]string) error {
	now := time.Now().UTC()
	return b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			entry := SessionEntry{Key: k, Value: v, UpdatedAt: now}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "entry_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&entry).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *GormBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.DB.WithContext(ctx).Where("entry_key IN ?", keys).Delete(&SessionEntry{}).Error
}
