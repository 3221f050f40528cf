package diskit

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gobeaver/diskit/config"
)

// Namespace returns the configuration namespace of a disk, for example
// "filesystem.sftp".
func Namespace(disk string) string {
	return "filesystem." + disk
}

// DriverFactory builds the adapter of a disk from configuration.
type DriverFactory func(disk string, r config.Resolver, logger *slog.Logger) (Adapter, error)

var (
	driverFactories = make(map[string]DriverFactory)
	factoryMutex    sync.RWMutex
)

// RegisterDriver registers a driver factory function
func RegisterDriver(name string, factory DriverFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	driverFactories[name] = factory
}

// Drivers returns the names of all registered drivers.
func Drivers() []string {
	factoryMutex.RLock()
	defer factoryMutex.RUnlock()

	names := make([]string, 0, len(driverFactories))
	for name := range driverFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateAdapter builds the adapter of disk. The driver is read from
// filesystem.<disk>.driver and defaults to the disk name itself.
func CreateAdapter(disk string, r config.Resolver, logger *slog.Logger) (Adapter, error) {
	key := config.Key(Namespace(disk), "driver")
	driver := config.String(r, key, disk)

	factoryMutex.RLock()
	factory, exists := driverFactories[driver]
	factoryMutex.RUnlock()

	if !exists {
		return nil, &ConfigError{Disk: disk, Key: key, Reason: fmt.Sprintf("driver %q not registered", driver)}
	}
	if logger == nil {
		logger = NoopLogger()
	}
	return factory(disk, r, logger.With("disk", disk))
}
