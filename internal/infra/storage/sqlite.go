package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"pm_terminal/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists the active-tokens record and key/value settings in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path. An empty path resolves
// to the per-user config directory.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		var err error
		if path, err = defaultDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure Go SQLite, no cgo.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.ActiveTokens{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func defaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}
	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "PMTerminal", "data", "pm_terminal.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Active Tokens
// ======================================================================================

// SaveActiveTokens replaces the single active-tokens record.
func (s *Storage) SaveActiveTokens(ctx context.Context, rec *domain.ActiveTokens) error {
	rec.ID = 1
	return s.db.WithContext(ctx).Save(rec).Error
}

// LoadActiveTokens returns the active-tokens record, or nil if none is saved.
func (s *Storage) LoadActiveTokens(ctx context.Context) (*domain.ActiveTokens, error) {
	var rec domain.ActiveTokens
	err := s.db.WithContext(ctx).First(&rec, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteActiveTokens removes the active-tokens record.
func (s *Storage) DeleteActiveTokens(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("id = ?", 1).Delete(&domain.ActiveTokens{}).Error
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(ctx context.Context, key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.WithContext(ctx).Save(&config).Error
}

// LoadConfig loads one user configuration. ok is false when the key is absent.
func (s *Storage) LoadConfig(ctx context.Context, key string) (value string, ok bool, err error) {
	var cfg domain.AppConfig
	err = s.db.WithContext(ctx).First(&cfg, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cfg.Value, true, nil
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap(ctx context.Context) (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.WithContext(ctx).Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
