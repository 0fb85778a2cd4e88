package data

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/winlogon/minechat/internal/core"
)

// SQLStore persists the registries to a relational database. It exists for
// deployments that already run a database alongside the game host; the json
// engine remains the default.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(cfg *core.Config) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Engine {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.Filename)
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL())
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", cfg.Database.Engine)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Error)})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.AutoMigrate(&LinkCode{}, &Client{}); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) LoadLinkCodes() ([]LinkCode, error) {
	var codes []LinkCode
	if err := s.db.Order("code").Find(&codes).Error; err != nil {
		return nil, fmt.Errorf("error loading link codes: %w", err)
	}
	return codes, nil
}

func (s *SQLStore) SaveLinkCodes(codes []LinkCode) error {
	return s.replaceAll(&LinkCode{}, func(tx *gorm.DB) error {
		if len(codes) == 0 {
			return nil
		}
		return tx.Create(&codes).Error
	})
}

func (s *SQLStore) LoadClients() ([]Client, error) {
	var clients []Client
	if err := s.db.Order("client_uuid").Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("error loading clients: %w", err)
	}
	return clients, nil
}

func (s *SQLStore) SaveClients(clients []Client) error {
	return s.replaceAll(&Client{}, func(tx *gorm.DB) error {
		if len(clients) == 0 {
			return nil
		}
		return tx.Create(&clients).Error
	})
}

// replaceAll swaps the full contents of a table within one transaction, since
// the registries are flushed as complete snapshots.
func (s *SQLStore) replaceAll(model interface{}, insert func(tx *gorm.DB) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return fmt.Errorf("error clearing stored records: %w", err)
		}
		return insert(tx)
	})
}

func (s *SQLStore) Close() error {
	database, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}
