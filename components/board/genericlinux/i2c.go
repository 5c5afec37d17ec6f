package genericlinux

import (
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/tocado/motorctl/components/board"
)

// OpenI2C opens the named I2C bus ("1" for /dev/i2c-1, or "" for the first bus found).
// The caller closes the returned bus.
func OpenI2C(busName string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, board.NewHardwareUnavailableError("initializing i2c host drivers", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, board.NewHardwareUnavailableError("opening i2c bus "+busName, err)
	}
	return bus, nil
}
