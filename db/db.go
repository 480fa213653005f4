package db

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"go.unify.dev/uploads/config"
	"go.unify.dev/uploads/db/models"
)

func NewDatabase(cm *config.Manager, rootLogger *zap.Logger) (*gorm.DB, error) {
	cfg := cm.Config().Core.DB

	var db *gorm.DB
	var err error

	switch cfg.Type {
	case "mysql":
		db, err = openMySQLDatabase(cfg, rootLogger)
	case "", "sqlite":
		db, err = openSQLiteDatabase(cfg.File, rootLogger)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(models.GetModels()...); err != nil {
		return nil, err
	}

	return db, nil
}

func openMySQLDatabase(cfg config.DatabaseConfig, rootLogger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.Charset)

	return gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: newLogger(rootLogger),
	})
}

func openSQLiteDatabase(file string, rootLogger *zap.Logger) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(file), &gorm.Config{
		Logger: newLogger(rootLogger),
	})
}

const (
	retryAttempts  = 5
	retryBaseDelay = 50 * time.Millisecond
)

// RetryOnLock reruns a write that failed because the database was busy.
// sqlite surfaces contention as "database is locked", mysql as a deadlock or
// lock wait timeout. Retries back off exponentially with jitter and are
// capped at retryAttempts; any other error is returned immediately.
func RetryOnLock(database *gorm.DB, operation func(tx *gorm.DB) *gorm.DB) error {
	for attempt := 0; ; attempt++ {
		result := operation(database)
		if result.Error == nil {
			return nil
		}
		if !isLockError(result.Error) || attempt == retryAttempts-1 {
			return result.Error
		}

		jitter := time.Duration(rand.Int64N(int64(retryBaseDelay)))
		time.Sleep(retryBaseDelay<<attempt + jitter)
	}
}

func isLockError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock wait timeout")
}
