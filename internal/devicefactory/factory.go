package devicefactory

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalpoll/internal/device"
	"github.com/srg/vitalpoll/internal/device/go-ble"
)

var (
	radioOnce sync.Once
	radio     goble.Radio
	radioErr  error
)

// RadioFactory opens the host controller.
// This is a variable so that it can be overridden in tests.
var RadioFactory = func() (goble.Radio, error) {
	dev, err := goble.DeviceFactory()
	if err != nil {
		return nil, err
	}
	return goble.NewRadio(dev), nil
}

// NewRadio returns the process-wide radio, opening it on first use.
// HCI sockets can be opened only once per process, so the radio is shared
// by scanning, polling and resend connections.
func NewRadio() (goble.Radio, error) {
	radioOnce.Do(func() {
		radio, radioErr = RadioFactory()
	})
	return radio, radioErr
}

// ResetRadio forgets the shared radio so the next NewRadio call goes through RadioFactory again.
func ResetRadio() {
	radioOnce = sync.Once{}
	radio, radioErr = nil, nil
}

// NewDeviceFromAdvertisement creates a new BLE device from a device.Advertisement.
// This is used during scanning to create device instances from discovered advertisements.
func NewDeviceFromAdvertisement(r goble.Radio, adv device.Advertisement, logger *logrus.Logger) device.Device {
	return goble.NewBLEDeviceFromAdvertisement(r, adv, logger)
}
