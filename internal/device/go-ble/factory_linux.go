//go:build linux

package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DefaultDialerTimeout bounds the HCI create-connection command.
const DefaultDialerTimeout = 10 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = func() (ble.Device, error) {
	dev, err := linux.NewDevice(ble.OptDialerTimeout(DefaultDialerTimeout))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return dev, nil
}
