// Package discover implements bus/device auto-discovery, treated as an
// external collaborator out of the control core's scope (spec.md §1,
// §6).
package discover

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// deviceGlobs are the known serial-device path patterns the wireless
// controller commonly enumerates under.
var deviceGlobs = []string{
	"/dev/ttyACM*",
	"/dev/ttyUSB*",
}

// AutoDevice returns the first matching serial device path, in glob
// priority order.
func AutoDevice() (string, error) {
	for _, pattern := range deviceGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return "", fmt.Errorf("discover: glob %s: %w", pattern, err)
		}
		sort.Strings(matches)
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", errors.New("discover: no wireless controller device found")
}

// AutoI2CBus opens the first available I2C bus reported by the host
// driver registry.
func AutoI2CBus() (i2c.BusCloser, error) {
	buses := i2creg.All()
	if len(buses) == 0 {
		return nil, errors.New("discover: no I2C bus found")
	}
	return i2creg.Open(buses[0].Name)
}

// OpenI2CBus opens the I2C bus identified by number, as named by the
// host driver registry (e.g. "1" for /dev/i2c-1).
func OpenI2CBus(number int) (i2c.BusCloser, error) {
	return i2creg.Open(fmt.Sprintf("%d", number))
}
