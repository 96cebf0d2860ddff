// Package database provides the durable audit store for the
// auto-investor pipeline: every decision, execution, snapshot, and
// guardrail record is logged here. The store runs on GORM with an
// embedded sqlite file by default; DB_DRIVER=postgres selects a shared
// server instead.
package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kenyonj/auto-investor/config"
)

// Database holds the GORM database connection.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect opens the audit store using the configured driver.
func Connect(cfg config.DatabaseConfig) (*Database, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.Path)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Printf("✅ Audit store connected (%s)", driverName(cfg))
	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func driverName(cfg config.DatabaseConfig) string {
	if cfg.Driver == "postgres" {
		return "postgres " + cfg.Host + ":" + cfg.Port
	}
	return "sqlite " + cfg.Path
}
