package main

import (
	"errors"
	"fmt"

	"github.com/srg/vitalpoll/internal/device"
	"github.com/srg/vitalpoll/internal/vitals"
)

// FormatUserError turns an error chain into the single line printed after "ERROR:".
// Known conditions get a hint; anything else is printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		nf     *device.NotFoundError
		decErr *vitals.DecodeError
	)

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or the adapter is unavailable; enable it and try again"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v; vitalpoll needs Linux (HCI) or macOS (CoreBluetooth)", err)
	case errors.Is(err, device.ErrDeviceNotFound):
		return fmt.Sprintf("%v; check the address with 'vitalpoll scan'", err)
	case errors.As(err, &nf):
		return fmt.Sprintf("%v; is this the vital-signs device?", err)
	case errors.As(err, &decErr):
		return fmt.Sprintf("unexpected payload from device: %v", decErr)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v; the device stopped answering", err)
	default:
		return err.Error()
	}
}
