package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"webtestflow/replayer/internal/config"
	"webtestflow/replayer/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no binding exists for the requested key.
var ErrNotFound = errors.New("binding not found")

// Store is the background process's durable key-value store for session
// configuration and tab-to-session bindings.
type Store struct {
	db *gorm.DB
}

func Open(cfg *config.Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Printf("Database connected successfully (%s)", cfg.Database.Driver)

	return NewStore(db)
}

// NewStore wraps an open connection and migrates the binding tables.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.SessionBinding{}, &models.TabBinding{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveSession(sessionID string, cfg models.SessionConfig) error {
	binding := models.NewSessionBinding(sessionID, cfg)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"api_base", "links", "updated_at"}),
	}).Create(&binding).Error
	if err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Session(sessionID string) (*models.SessionConfig, error) {
	var binding models.SessionBinding
	err := s.db.Where("session_id = ?", sessionID).First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	cfg := binding.Config()
	return &cfg, nil
}

func (s *Store) BindTab(tabID, sessionID string) error {
	binding := models.TabBinding{TabID: tabID, SessionID: sessionID, UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tab_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "updated_at"}),
	}).Create(&binding).Error
	if err != nil {
		return fmt.Errorf("bind tab %s: %w", tabID, err)
	}
	return nil
}

func (s *Store) TabSession(tabID string) (string, error) {
	var binding models.TabBinding
	err := s.db.Where("tab_id = ?", tabID).First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load tab %s: %w", tabID, err)
	}
	return binding.SessionID, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
