package repository

import (
	"fmt"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenMySQL connects to the orders and catalog database.
func OpenMySQL(cfg *config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// Migrate creates or updates the order tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Order{}, &models.OrderItem{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// MigrateCatalogs creates the three catalog tables. In production they belong
// to the listing services; this is for local setups and tests.
func MigrateCatalogs(db *gorm.DB) error {
	for _, c := range models.CatalogPriority {
		if err := db.Table(c.Table()).AutoMigrate(&models.Product{}); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", c.Table(), err)
		}
	}
	return nil
}
