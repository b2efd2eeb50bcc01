package vitals

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ClockLayout is the time format written to the time characteristic.
const ClockLayout = "15:04:05"

// DecodeError reports a payload whose length does not match its encoding.
type DecodeError struct {
	Field string
	Want  int
	Got   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: want %d bytes, got %d", e.Field, e.Want, e.Got)
}

// DecodeFloat32 decodes a 4-byte little-endian IEEE 754 value.
func DecodeFloat32(field string, data []byte) (float32, error) {
	if len(data) != 4 {
		return 0, &DecodeError{Field: field, Want: 4, Got: len(data)}
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
}

// EncodeFloat32 is the inverse of DecodeFloat32.
func EncodeFloat32(v float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

// DecodeUint8 decodes a single unsigned byte.
func DecodeUint8(field string, data []byte) (uint8, error) {
	if len(data) != 1 {
		return 0, &DecodeError{Field: field, Want: 1, Got: len(data)}
	}
	return data[0], nil
}

// DecodeUint32 decodes a 4-byte little-endian unsigned integer.
func DecodeUint32(field string, data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, &DecodeError{Field: field, Want: 4, Got: len(data)}
	}
	return binary.LittleEndian.Uint32(data), nil
}

// EncodeUint32 is the inverse of DecodeUint32.
func EncodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

// FormatClock renders t as 8 ASCII bytes, HH:MM:SS, in t's location.
func FormatClock(t time.Time) []byte {
	return []byte(t.Format(ClockLayout))
}

// Decode converts a payload according to f's encoding.
// Float32 fields yield float32, Uint8 uint8, Uint32 uint32 and Clock a string.
func (f Field) Decode(data []byte) (any, error) {
	switch f.Encoding {
	case Float32:
		return DecodeFloat32(f.Name, data)
	case Uint8:
		return DecodeUint8(f.Name, data)
	case Uint32:
		return DecodeUint32(f.Name, data)
	case Clock:
		if len(data) != len(ClockLayout) {
			return nil, &DecodeError{Field: f.Name, Want: len(ClockLayout), Got: len(data)}
		}
		if _, err := time.Parse(ClockLayout, string(data)); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("decode %s: unknown %s", f.Name, f.Encoding)
	}
}
