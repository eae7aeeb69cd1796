package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewStorage opens the database selected by cfg.DBDriver.
func NewStorage(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		return NewPSQLStorage(cfg.DBURL)
	case "sqlite":
		return NewSQLiteStorage(cfg.DBURL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}

func NewPSQLStorage(connString string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(connString), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)

	return db, nil
}

// NewSQLiteStorage opens a SQLite file. SQLite only supports one writer at a
// time, so the pool is limited to a single connection.
func NewSQLiteStorage(path string) (*gorm.DB, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	for _, model := range models.All() {
		log.Printf("Migrating %T table...", model)
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %T table: %w", model, err)
		}
	}
	return nil
}

// Drop removes the given tables, or every table when none are given.
func Drop(db *gorm.DB, tables ...interface{}) error {
	if len(tables) == 0 {
		all := models.All()
		// Reverse so dependents go first.
		for i := len(all) - 1; i >= 0; i-- {
			tables = append(tables, all[i])
		}
	}
	for _, table := range tables {
		if err := db.Migrator().DropTable(table); err != nil {
			return fmt.Errorf("error dropping table %T: %w", table, err)
		}
		log.Printf("Table %T dropped", table)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
	log.Println("Database connection closed")
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	}
}
