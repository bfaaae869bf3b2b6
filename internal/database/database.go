package database

import (
	"fmt"
	"os"

	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init 按配置连接数据库并自动迁移
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite 只允许单写连接，内存库每个连接都是独立数据库
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		password := cfg.Password
		if env := os.Getenv("DATABASE_PASSWORD"); env != "" {
			password = env
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, password, cfg.DBName, cfg.SSLMode)
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Migrate 自动迁移所有表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.MissionModel{},
		&model.ApplicationModel{},
		&model.MilestoneModel{},
		&model.DisputeModel{},
		&model.PaymentModel{},
		&model.NotificationModel{},
		&model.TransactionModel{},
		&model.SyncWatermarkModel{},
		&model.DeadLetterModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// OpenMemory 打开内存 SQLite 数据库并迁移
func OpenMemory() (*gorm.DB, error) {
	return Init(config.DatabaseConfig{Driver: "sqlite", Path: "file::memory:"})
}
