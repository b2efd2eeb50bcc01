package testutils

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/srg/vitalpoll/internal/device"
)

// errLinkDropped is what a dropped link answers; go-ble reports the same text.
var errLinkDropped = errors.New("device not connected")

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string
	Properties string // e.g., "read,write,notify"
	Value      []byte
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string
	Characteristics []CharacteristicConfig
}

// PeripheralDeviceBuilder builds a MockPeripheral with a full service/characteristic profile
type PeripheralDeviceBuilder struct {
	services       []ServiceConfig
	readErrors     map[string]error
	discoverErr    error
	dropAfterReads int
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{readErrors: make(map[string]error)}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.services = append(b.services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.services) - 1
	b.services[last].Characteristics = append(b.services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithReadError makes every read of uuid fail with err.
func (b *PeripheralDeviceBuilder) WithReadError(uuid string, err error) *PeripheralDeviceBuilder {
	b.readErrors[device.NormalizeUUID(uuid)] = err
	return b
}

// WithDiscoverError makes profile discovery fail with err.
func (b *PeripheralDeviceBuilder) WithDiscoverError(err error) *PeripheralDeviceBuilder {
	b.discoverErr = err
	return b
}

// WithDropAfterReads drops every link after it has served n reads: the next operation fails
// and the link's Disconnected channel closes. 0 keeps links up.
func (b *PeripheralDeviceBuilder) WithDropAfterReads(n int) *PeripheralDeviceBuilder {
	b.dropAfterReads = n
	return b
}

// Build creates the peripheral.
func (b *PeripheralDeviceBuilder) Build() *MockPeripheral {
	p := &MockPeripheral{
		profile:        &blelib.Profile{},
		values:         make(map[string][]byte),
		readErrors:     make(map[string]error),
		reads:          make(map[string]int),
		discoverErr:    b.discoverErr,
		dropAfterReads: b.dropAfterReads,
	}
	for uuid, err := range b.readErrors {
		p.readErrors[uuid] = err
	}

	for _, svcCfg := range b.services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcCfg.UUID)}
		for _, charCfg := range svcCfg.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charCfg.UUID),
				Property: parseCharacteristicProperties(charCfg.Properties),
			})
			p.values[device.NormalizeUUID(charCfg.UUID)] = append([]byte(nil), charCfg.Value...)
		}
		p.profile.Services = append(p.profile.Services, svc)
	}
	return p
}

// parseCharacteristicProperties converts a comma-separated property list to ble.Property flags
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "write-without-response":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		default:
			panic(fmt.Sprintf("unknown characteristic property %q", p))
		}
	}
	return property
}

// WriteRecord is one write the peripheral received.
type WriteRecord struct {
	UUID  string
	Data  []byte
	NoRsp bool
}

// MockPeripheral holds the state of a simulated vital-signs device across connections.
type MockPeripheral struct {
	mu             sync.Mutex
	profile        *blelib.Profile
	values         map[string][]byte
	readErrors     map[string]error
	discoverErr    error
	dropAfterReads int

	reads   map[string]int
	writes  []WriteRecord
	links   int
	cancels int
	current *PeripheralLink
}

// NewLink opens a new connection to the peripheral.
func (p *MockPeripheral) NewLink() *PeripheralLink {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.links++
	link := &PeripheralLink{p: p, disconnected: make(chan struct{})}
	p.current = link
	return link
}

// Drop simulates the peripheral going out of range on the current link.
func (p *MockPeripheral) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.dropLocked()
	}
}

// SetValue replaces the value served for uuid.
func (p *MockPeripheral) SetValue(uuid string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[device.NormalizeUUID(uuid)] = append([]byte(nil), data...)
}

// Value returns the value currently held for uuid.
func (p *MockPeripheral) Value(uuid string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.values[device.NormalizeUUID(uuid)]...)
}

// Writes returns every write received, in order.
func (p *MockPeripheral) Writes() []WriteRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WriteRecord(nil), p.writes...)
}

// WritesTo returns the payloads written to uuid, in order.
func (p *MockPeripheral) WritesTo(uuid string) [][]byte {
	uuid = device.NormalizeUUID(uuid)

	p.mu.Lock()
	defer p.mu.Unlock()

	var result [][]byte
	for _, w := range p.writes {
		if w.UUID == uuid {
			result = append(result, w.Data)
		}
	}
	return result
}

// Reads returns how many successful reads uuid served.
func (p *MockPeripheral) Reads(uuid string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads[device.NormalizeUUID(uuid)]
}

// Links returns how many connections were opened.
func (p *MockPeripheral) Links() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.links
}

// Cancels returns how many times a link was closed by the central.
func (p *MockPeripheral) Cancels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancels
}

// PeripheralLink is one connection to a MockPeripheral; it implements goble.GATTClient.
type PeripheralLink struct {
	p            *MockPeripheral
	disconnected chan struct{}
	closeOnce    sync.Once
	dropped      bool
	reads        int
}

// dropLocked marks the link down; caller holds p.mu.
func (l *PeripheralLink) dropLocked() {
	l.dropped = true
	l.closeOnce.Do(func() { close(l.disconnected) })
}

func (l *PeripheralLink) DiscoverProfile(_ bool) (*blelib.Profile, error) {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()

	if l.p.discoverErr != nil {
		return nil, l.p.discoverErr
	}
	return l.p.profile, nil
}

func (l *PeripheralLink) ReadCharacteristic(c *blelib.Characteristic) ([]byte, error) {
	uuid := device.NormalizeUUID(c.UUID.String())

	l.p.mu.Lock()
	defer l.p.mu.Unlock()

	if l.dropped {
		return nil, errLinkDropped
	}
	if err, ok := l.p.readErrors[uuid]; ok {
		return nil, err
	}
	if l.p.dropAfterReads > 0 && l.reads >= l.p.dropAfterReads {
		l.dropLocked()
		return nil, errLinkDropped
	}

	l.reads++
	l.p.reads[uuid]++
	return append([]byte(nil), l.p.values[uuid]...), nil
}

func (l *PeripheralLink) WriteCharacteristic(c *blelib.Characteristic, value []byte, noRsp bool) error {
	uuid := device.NormalizeUUID(c.UUID.String())

	l.p.mu.Lock()
	defer l.p.mu.Unlock()

	if l.dropped {
		return errLinkDropped
	}

	data := append([]byte(nil), value...)
	l.p.writes = append(l.p.writes, WriteRecord{UUID: uuid, Data: data, NoRsp: noRsp})
	l.p.values[uuid] = data
	return nil
}

func (l *PeripheralLink) CancelConnection() error {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()

	l.p.cancels++
	l.dropLocked()
	return nil
}

// Disconnected is closed once the link drops or is cancelled.
func (l *PeripheralLink) Disconnected() <-chan struct{} {
	return l.disconnected
}
