package db

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultSQLiteDSN   = "crab-voice.db"
	slowQueryThreshold = 500 * time.Millisecond
)

// OpenGorm opens a gorm handle for the given driver. Queries slower than
// slowQueryThreshold and errors other than record-not-found go to logger.
func OpenGorm(driver, dsn string, logger *log.Logger) (*gorm.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = DriverSQLite
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if driver != DriverSQLite {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
		dsn = defaultSQLiteDSN
	}

	cfg := &gorm.Config{Logger: newGormLogger(logger)}
	switch driver {
	case DriverSQLite:
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		return gorm.Open(sqliteDriver.Open(dsn), cfg)
	case DriverPostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func newGormLogger(logger *log.Logger) gormlogger.Interface {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return gormlogger.New(logger, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

func ensureSQLiteDirectory(dsn string) error {
	path, ok := sqliteFilePath(dsn)
	if !ok {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}

func sqliteFilePath(dsn string) (string, bool) {
	raw := strings.TrimSpace(dsn)
	lower := strings.ToLower(raw)
	if raw == "" || lower == ":memory:" || strings.HasPrefix(lower, "file::memory:") {
		return "", false
	}
	if !strings.HasPrefix(lower, "file:") {
		return stripQuery(raw), true
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return stripQuery(strings.TrimPrefix(raw, "file:")), true
	}
	if strings.EqualFold(parsed.Query().Get("mode"), "memory") {
		return "", false
	}
	if parsed.Path != "" {
		return parsed.Path, true
	}
	if parsed.Opaque != "" {
		return stripQuery(parsed.Opaque), true
	}
	return "", false
}

func stripQuery(v string) string {
	if i := strings.Index(v, "?"); i >= 0 {
		return v[:i]
	}
	return v
}
