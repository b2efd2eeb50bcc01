package testutils

import (
	"github.com/srg/vitalpoll/internal/device"
)

// MockAdvertisement is a static device.Advertisement.
type MockAdvertisement struct {
	name        string
	address     string
	rssi        int
	connectable bool
	services    []string
}

func (a *MockAdvertisement) LocalName() string  { return a.name }
func (a *MockAdvertisement) Addr() string       { return a.address }
func (a *MockAdvertisement) RSSI() int          { return a.rssi }
func (a *MockAdvertisement) Connectable() bool  { return a.connectable }
func (a *MockAdvertisement) Services() []string { return a.services }

// AdvertisementBuilder builds mocked BLE advertisements for testing.
// The builder starts with connectable=true.
type AdvertisementBuilder struct {
	adv MockAdvertisement
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: MockAdvertisement{connectable: true}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.services = append(b.adv.services, uuids...)
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.connectable = c
	return b
}

// Build returns a copy, so one builder can produce several advertisements.
func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	adv.services = append([]string(nil), b.adv.services...)
	return &adv
}

// CreateMockAdvertisement is a shorthand for the common name/address/RSSI case.
func CreateMockAdvertisement(name, address string, rssi int) device.Advertisement {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi).Build()
}
