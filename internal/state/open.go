package state

import (
	"log"
	"strings"
)

const DriverMemory = "memory"

// Open returns the store for the configured driver. "memory" keeps state in
// process; any other driver is handed to gorm.
func Open(driver, dsn string, logger *log.Logger) (Store, error) {
	if strings.EqualFold(strings.TrimSpace(driver), DriverMemory) {
		return NewMemoryStore(), nil
	}
	return NewGormStore(driver, dsn, logger)
}
