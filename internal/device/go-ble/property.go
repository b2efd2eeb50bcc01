package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/vitalpoll/internal/device"
)

// NewProperties converts ble.Property bit flags into device.Properties.
func NewProperties(p ble.Property) device.Properties {
	return device.Properties{
		Read:                 p&ble.CharRead != 0,
		Write:                p&ble.CharWrite != 0,
		WriteWithoutResponse: p&ble.CharWriteNR != 0,
		Notify:               p&ble.CharNotify != 0,
		Indicate:             p&ble.CharIndicate != 0,
	}
}
