// Package store persists device traffic.
package store

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"openfms/framekit/internal/model"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// TrafficStore reads and writes the traffic log
type TrafficStore struct {
	db *gorm.DB
}

// Open connects to postgres and migrates the traffic log table
func Open(dsn string) (*TrafficStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func New(db *gorm.DB) *TrafficStore {
	return &TrafficStore{db: db}
}

// Close releases the underlying connection pool
func (s *TrafficStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *TrafficStore) Migrate() error {
	if err := s.db.AutoMigrate(&model.TrafficLog{}); err != nil {
		return fmt.Errorf("migrate traffic log: %w", err)
	}
	return nil
}

// Insert stores one entry and fills in its ID
func (s *TrafficStore) Insert(ctx context.Context, entry *model.TrafficLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert traffic log: %w", err)
	}
	return nil
}

// BySession returns a session's traffic, newest first
func (s *TrafficStore) BySession(ctx context.Context, sessionID string, limit, offset int) ([]model.TrafficLog, error) {
	return s.find(ctx, "session_id = ?", sessionID, limit, offset)
}

// ByDevice returns a device's traffic across sessions, newest first
func (s *TrafficStore) ByDevice(ctx context.Context, fingerprint string, limit, offset int) ([]model.TrafficLog, error) {
	return s.find(ctx, "device_fingerprint = ?", fingerprint, limit, offset)
}

func (s *TrafficStore) find(ctx context.Context, where string, arg any, limit, offset int) ([]model.TrafficLog, error) {
	var logs []model.TrafficLog
	limit, offset = Page(limit, offset)
	err := s.db.WithContext(ctx).
		Where(where, arg).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("query traffic log: %w", err)
	}
	return logs, nil
}

// Page clamps paging parameters
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
