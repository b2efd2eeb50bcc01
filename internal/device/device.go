package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "device", "characteristic"
	UUIDs    []string // UUIDs or addresses that were looked up
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found", e.Resource, strings.Join(e.UUIDs, ", "))
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout        = errors.New("timeout")
	ErrUnsupported    = errors.New("unsupported")
	ErrBluetoothOff   = errors.New("bluetooth is turned off")
	ErrDeviceNotFound = errors.New("device not found")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is the subset of a BLE advertisement the scanner needs.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
	Services() []string
}

// Scanner delivers advertisements to handler until ctx is done or the scan fails.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

//nolint:revive // DeviceInfo name is intentional for clarity when used as a device.DeviceInfo
type DeviceInfo interface {
	ID() string
	Name() string
	Address() string
	RSSI() int
	IsConnectable() bool
	AdvertisedServices() []string
	LastSeen() time.Time
}

// Device defines a discovered peripheral that can be connected to.
type Device interface {
	DeviceInfo

	Connect(ctx context.Context, opts *ConnectOptions) error
	Disconnect() error
	IsConnected() bool
	Update(adv Advertisement)
	GetConnection() Connection
}

// Connection represents a live BLE connection with its discovered characteristics.
type Connection interface {
	// Characteristics returns every discovered characteristic, sorted by UUID.
	Characteristics() []Characteristic
	// GetCharacteristic looks a characteristic up by UUID in any service.
	GetCharacteristic(uuid string) (Characteristic, error)
	// Context is cancelled when the link is torn down; its cause tells why.
	Context() context.Context
}

// CharacteristicInfo represents characteristic metadata
type CharacteristicInfo interface {
	UUID() string
	KnownName() string
	GetProperties() Properties
}

// CharacteristicReader provides read operations
type CharacteristicReader interface {
	Read(ctx context.Context) ([]byte, error)
}

// CharacteristicWriter provides write operations
type CharacteristicWriter interface {
	Write(ctx context.Context, data []byte) error
}

// Characteristic combines info + operations
type Characteristic interface {
	CharacteristicInfo
	CharacteristicReader
	CharacteristicWriter
}

// Properties is the set of operations a characteristic declares.
type Properties struct {
	Read                 bool
	Write                bool
	WriteWithoutResponse bool
	Notify               bool
	Indicate             bool
}

// String renders the properties as a comma-separated list, e.g. "read,write".
func (p Properties) String() string {
	var parts []string
	if p.Read {
		parts = append(parts, "read")
	}
	if p.Write {
		parts = append(parts, "write")
	}
	if p.WriteWithoutResponse {
		parts = append(parts, "write-without-response")
	}
	if p.Notify {
		parts = append(parts, "notify")
	}
	if p.Indicate {
		parts = append(parts, "indicate")
	}
	return strings.Join(parts, ",")
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	ConnectTimeout time.Duration
	// IOTimeout bounds each characteristic read or write; 0 blocks until the transport answers.
	IOTimeout time.Duration
}
