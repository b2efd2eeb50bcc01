package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/vitalpoll/internal/device"
)

// GATTClient is the part of ble.Client a connection uses.
// ble.Client satisfies it directly.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

// Radio is a host controller: it can scan for advertisements and dial peripherals.
type Radio interface {
	device.Scanner
	Dial(ctx context.Context, address string) (GATTClient, error)
}

// bleRadio adapts a ble.Device to Radio
type bleRadio struct {
	dev ble.Device
}

// NewRadio wraps a go-ble device.
func NewRadio(dev ble.Device) Radio {
	return &bleRadio{dev: dev}
}

// Scan converts every ble.Advertisement into a device.Advertisement before calling handler.
func (r *bleRadio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := r.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	return NormalizeError(err)
}

func (r *bleRadio) Dial(ctx context.Context, address string) (GATTClient, error) {
	client, err := r.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}
