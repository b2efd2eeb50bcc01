package goble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalpoll/internal/device"
)

// DefaultConnectTimeout applies when Connect is called without options.
const DefaultConnectTimeout = 30 * time.Second

// gapDeviceNameChar is the GAP Device Name characteristic
const gapDeviceNameChar = "2a00"

// BLEDevice implements the Device interface for BLE devices
type BLEDevice struct {
	address            string
	name               string
	rssi               int
	connectable        bool
	lastSeen           time.Time
	advertisedServices []string
	connection         *BLEConnection
	logger             *logrus.Logger
	mu                 sync.RWMutex
}

// NewBLEDevice creates a BLEDevice with a pre-created connection that dials through radio.
func NewBLEDevice(radio Radio, address string, logger *logrus.Logger) *BLEDevice {
	if logger == nil {
		logger = logrus.New()
	}

	return &BLEDevice{
		address:            address,
		advertisedServices: make([]string, 0),
		lastSeen:           time.Now(),
		connection:         NewBLEConnection(radio, logger),
		logger:             logger,
	}
}

// NewBLEDeviceFromAdvertisement creates a BLEDevice from a device.Advertisement
func NewBLEDeviceFromAdvertisement(radio Radio, adv device.Advertisement, logger *logrus.Logger) *BLEDevice {
	dev := NewBLEDevice(radio, adv.Addr(), logger)
	dev.name = adv.LocalName()
	dev.rssi = adv.RSSI()
	dev.connectable = adv.Connectable()
	dev.mergeServices(adv.Services())
	return dev
}

func (d *BLEDevice) ID() string {
	return d.Address()
}

// Name returns the advertised or GAP name, falling back to the address.
func (d *BLEDevice) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.name == "" {
		return d.address
	}
	return d.name
}

func (d *BLEDevice) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.address
}

func (d *BLEDevice) RSSI() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

func (d *BLEDevice) IsConnectable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connectable
}

func (d *BLEDevice) AdvertisedServices() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.advertisedServices...)
}

func (d *BLEDevice) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Connect establishes a BLE connection and resolves the GAP device name when exposed.
func (d *BLEDevice) Connect(ctx context.Context, opts *device.ConnectOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connection == nil {
		return fmt.Errorf("internal error: connection is not initialized")
	}

	if opts == nil {
		opts = &device.ConnectOptions{ConnectTimeout: DefaultConnectTimeout}
	}

	if err := d.connection.Connect(ctx, d.address, opts); err != nil {
		return err
	}

	// GAP Device Name is more authoritative than the advertised name
	char, err := d.connection.GetCharacteristic(gapDeviceNameChar)
	if err != nil || !char.GetProperties().Read {
		return nil
	}
	data, err := char.Read(ctx)
	if err != nil {
		d.logger.WithError(err).Debug("Failed to read GAP device name")
		return nil
	}
	name := strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
	if isValidDeviceName(name) {
		d.name = name
		d.logger.WithFields(logrus.Fields{
			"address": d.address,
			"name":    name,
		}).Debug("Resolved device name from GAP")
	}
	return nil
}

// Disconnect closes the connection
func (d *BLEDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connection == nil {
		return fmt.Errorf("internal error: connection is not initialized")
	}
	return d.connection.Disconnect()
}

// IsConnected returns connection status
func (d *BLEDevice) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connection != nil && d.connection.IsConnected()
}

// Update refreshes device information from a new advertisement
func (d *BLEDevice) Update(adv device.Advertisement) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rssi = adv.RSSI()
	d.lastSeen = time.Now()
	if adv.Connectable() {
		d.connectable = true
	}
	if name := adv.LocalName(); name != "" {
		d.name = name
	}
	d.mergeServices(adv.Services())
}

// GetConnection returns the BLE connection interface
func (d *BLEDevice) GetConnection() device.Connection {
	return d.connection
}

// mergeServices adds unseen service UUIDs; caller holds d.mu or owns d exclusively.
func (d *BLEDevice) mergeServices(uuids []string) {
	needsSort := false
	for _, svc := range uuids {
		normalized := device.NormalizeUUID(svc)
		if !d.hasServiceUUID(normalized) {
			d.advertisedServices = append(d.advertisedServices, normalized)
			needsSort = true
		}
	}
	if needsSort {
		sort.Strings(d.advertisedServices)
	}
}

func (d *BLEDevice) hasServiceUUID(uuid string) bool {
	for _, s := range d.advertisedServices {
		if s == uuid {
			return true
		}
	}
	return false
}

// isValidDeviceName checks if a string looks like a valid device name
func isValidDeviceName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}

	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
