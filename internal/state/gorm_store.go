package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "crabstack.local/projects/crab-voice/internal/db"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string, logger *log.Logger) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}

	store := &GormStore{db: gormDB}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&callRow{}); err != nil {
		return fmt.Errorf("migrate calls: %w", err)
	}
	return nil
}

func (s *GormStore) GetAssistant(ctx context.Context, chatID int64) (string, error) {
	var row callRow
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoAssistant
		}
		return "", fmt.Errorf("get assistant: %w", err)
	}
	if strings.TrimSpace(row.Assistant) == "" {
		return "", ErrNoAssistant
	}
	return row.Assistant, nil
}

func (s *GormStore) SetAssistant(ctx context.Context, chatID int64, identity string) error {
	now := time.Now().UTC()
	row := callRow{
		ChatID:    chatID,
		Assistant: strings.TrimSpace(identity),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"assistant", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set assistant: %w", err)
	}
	return nil
}

func (s *GormStore) SetPlaying(ctx context.Context, chatID int64, paused bool) error {
	query := s.db.WithContext(ctx).Model(&callRow{}).Where("chat_id = ?", chatID)
	if paused {
		query = query.Where("active = ?", true)
	}
	res := query.Updates(map[string]any{
		"paused":     paused,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("set playing: %w", res.Error)
	}
	if paused && res.RowsAffected == 0 {
		return ErrNotActive
	}
	return nil
}

func (s *GormStore) AddActiveCall(ctx context.Context, chatID int64) error {
	now := time.Now().UTC()
	row := callRow{
		ChatID:    chatID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active", "paused", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("add active call: %w", err)
	}
	return nil
}

func (s *GormStore) RemoveActiveCall(ctx context.Context, chatID int64) error {
	res := s.db.WithContext(ctx).Model(&callRow{}).Where("chat_id = ?", chatID).Updates(map[string]any{
		"active":     false,
		"paused":     false,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("remove active call: %w", res.Error)
	}
	return nil
}

func (s *GormStore) HasActiveCall(ctx context.Context, chatID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&callRow{}).
		Where("chat_id = ? AND active = ?", chatID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("has active call: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) GetCall(ctx context.Context, chatID int64) (CallRecord, bool, error) {
	var row callRow
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CallRecord{}, false, nil
		}
		return CallRecord{}, false, fmt.Errorf("get call: %w", err)
	}
	return row.toRecord(), true, nil
}

func (s *GormStore) ActiveCalls(ctx context.Context) ([]int64, error) {
	var chatIDs []int64
	err := s.db.WithContext(ctx).Model(&callRow{}).
		Where("active = ?", true).
		Order("chat_id ASC").
		Pluck("chat_id", &chatIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list active calls: %w", err)
	}
	return chatIDs, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
