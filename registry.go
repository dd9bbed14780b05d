package dbsession

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-dbsession/dbsession/driver"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]driver.Driver)
)

// Register makes a backend available under a URL dialect name. Backend
// packages call it from init, so importing a backend for side effects is
// enough:
//
//	import _ "github.com/go-dbsession/dbsession/postgres"
//
// Register panics if drv is nil or the name is already taken.
func Register(name string, drv driver.Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if drv == nil {
		panic("dbsession: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("dbsession: Register called twice for driver " + name)
	}
	drivers[name] = drv
}

// Drivers returns the sorted names of the registered backends.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupDriver(dialect string) (driver.Driver, error) {
	driversMu.RLock()
	drv, ok := drivers[dialect]
	driversMu.RUnlock()
	if !ok {
		registered := Drivers()
		if len(registered) == 0 {
			return nil, fmt.Errorf("dbsession: unknown driver %q (forgotten backend import?)", dialect)
		}
		return nil, fmt.Errorf("dbsession: unknown driver %q (forgotten backend import? registered: %s)",
			dialect, strings.Join(registered, ", "))
	}
	return drv, nil
}
