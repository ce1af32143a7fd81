package database

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/disblox/disblox-api/internal/config"
	"github.com/disblox/disblox-api/internal/models"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	if db.Dialector.Name() == "sqlite" {
		// sqlite allows a single writer, and every :memory: connection is its own database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		return sqlite.Open(cfg.DatabasePath), nil
	case "mysql":
		return mysql.Open(MySQLDSN(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

func MySQLDSN(cfg *config.Config) string {
	dsn := mysqldriver.NewConfig()
	dsn.User = cfg.MySQLUser
	dsn.Passwd = cfg.MySQLPassword
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.MySQLHost, strconv.Itoa(cfg.MySQLPort))
	dsn.DBName = cfg.MySQLDatabase
	dsn.ParseTime = true
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	return dsn.FormatDSN()
}
