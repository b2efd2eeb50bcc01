// Package vitals describes the characteristics exposed by the vital-signs peripheral and
// converts their payloads to and from Go values.
package vitals

import (
	"fmt"

	"github.com/srg/vitalpoll/internal/bledb"
)

// Encoding is the wire format of a characteristic value.
type Encoding int

const (
	Float32 Encoding = iota // 4 bytes, IEEE 754, little-endian
	Uint8                   // 1 byte
	Uint32                  // 4 bytes, little-endian
	Clock                   // ASCII HH:MM:SS
)

func (e Encoding) String() string {
	switch e {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	case Uint32:
		return "uint32"
	case Clock:
		return "clock"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// Size returns the payload length the encoding requires; Clock is fixed at 8 ASCII bytes.
func (e Encoding) Size() int {
	switch e {
	case Float32, Uint32:
		return 4
	case Uint8:
		return 1
	case Clock:
		return len(ClockLayout)
	default:
		return 0
	}
}

// Field is one entry of the characteristic table.
type Field struct {
	Name     string
	UUID     string
	Encoding Encoding
	// Guarded fields are length-checked before decoding; a bad length is reported and skipped
	// instead of aborting the sweep.
	Guarded bool
}

// Characteristic table of the vital-signs peripheral.
var (
	BPM         = Field{Name: "bpm", UUID: bledb.NormalizeUUID("2A2A"), Encoding: Float32}
	SpO2        = Field{Name: "spo2", UUID: bledb.NormalizeUUID("2A2C"), Encoding: Float32}
	Emergency   = Field{Name: "emergency", UUID: bledb.NormalizeUUID("2A2D"), Encoding: Uint8}
	Temperature = Field{Name: "temperature", UUID: bledb.NormalizeUUID("2A6E"), Encoding: Float32}
	Battery     = Field{Name: "battery", UUID: bledb.NormalizeUUID("2A19"), Encoding: Uint32, Guarded: true}
	MaxIR       = Field{Name: "max_ir", UUID: bledb.NormalizeUUID("2A2E"), Encoding: Float32}
	MinIR       = Field{Name: "min_ir", UUID: bledb.NormalizeUUID("2A2F"), Encoding: Float32}
	Time        = Field{Name: "time", UUID: bledb.NormalizeUUID("2A2B"), Encoding: Clock}
	Confirm     = Field{Name: "confirm", UUID: bledb.NormalizeUUID("2A59"), Encoding: Uint8}
)

// Telemetry lists the fields read on every sweep, in read order.
var Telemetry = []Field{BPM, SpO2, Emergency, Temperature, Battery, MaxIR, MinIR}

// All returns the telemetry fields followed by the time and confirm fields.
func All() []Field {
	all := make([]Field, 0, len(Telemetry)+2)
	all = append(all, Telemetry...)
	return append(all, Time, Confirm)
}

// ConfirmValue is the acknowledgement written after every sweep.
const ConfirmValue byte = 1

// ConfirmPayload returns the single-byte acknowledgement.
func ConfirmPayload() []byte {
	return []byte{ConfirmValue}
}
