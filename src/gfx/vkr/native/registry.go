// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package native

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Driver opens devices.
type Driver interface {
	Name() string
	Open(cfg Config) (Device, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by name. It is meant to be called
// from the init function of a driver package.
func Register(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("native: Register driver is nil")
	}
	if _, dup := drivers[d.Name()]; dup {
		panic("native: Register called twice for driver " + d.Name())
	}
	drivers[d.Name()] = d
}

// Drivers returns the sorted names of registered drivers.
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

// Open opens a device of the named driver.
func Open(name string, cfg Config) (Device, error) {
	driversMu.RLock()
	d, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDriver, "driver %q", name)
	}
	return d.Open(cfg)
}
