package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/vitalpoll/internal/bledb"
	"github.com/srg/vitalpoll/internal/device"
)

// BLECharacteristic is a discovered characteristic bound to the connection that found it.
type BLECharacteristic struct {
	uuid       string
	knownName  string
	properties device.Properties
	BLEChar    *ble.Characteristic
	connection *BLEConnection
}

func NewCharacteristic(c *ble.Characteristic, conn *BLEConnection) *BLECharacteristic {
	rawUUID := c.UUID.String()

	return &BLECharacteristic{
		uuid:       device.NormalizeUUID(rawUUID),
		knownName:  bledb.LookupCharacteristic(rawUUID),
		properties: NewProperties(c.Property),
		BLEChar:    c,
		connection: conn,
	}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) KnownName() string {
	return c.knownName
}

func (c *BLECharacteristic) GetProperties() device.Properties {
	return c.properties
}

// Read issues a GATT read and blocks until the peripheral answers, ctx ends,
// the link drops or the connection's I/O timeout passes.
func (c *BLECharacteristic) Read(ctx context.Context) ([]byte, error) {
	if c.connection == nil || c.BLEChar == nil {
		return nil, fmt.Errorf("characteristic %s: %w", c.uuid, device.ErrNotInitialized)
	}

	return c.connection.do(ctx, "read characteristic "+c.uuid, func(client GATTClient) ([]byte, error) {
		return client.ReadCharacteristic(c.BLEChar)
	})
}

// Write sends data with a response when the characteristic declares "write",
// otherwise as a write command. Writes on one connection are serialized.
func (c *BLECharacteristic) Write(ctx context.Context, data []byte) error {
	if c.connection == nil || c.BLEChar == nil {
		return fmt.Errorf("characteristic %s: %w", c.uuid, device.ErrNotInitialized)
	}

	noRsp := !c.properties.Write && c.properties.WriteWithoutResponse

	c.connection.writeMutex.Lock()
	defer c.connection.writeMutex.Unlock()

	_, err := c.connection.do(ctx, "write characteristic "+c.uuid, func(client GATTClient) ([]byte, error) {
		return nil, client.WriteCharacteristic(c.BLEChar, data, noRsp)
	})
	return err
}
