// Package bledb normalises BLE UUIDs and resolves the assigned names of the
// services, characteristics and descriptors the vital-signs peripheral exposes.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) without dashes.
const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1809": "Health Thermometer",
	"1822": "Pulse Oximeter Service",
}

// Entries for 2a2a..2a2f and 2a59 carry the assigned-number names. The vital-signs firmware reuses
// these slots for its own fields; the poller labels them through the vitals table instead.
var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a19": "Battery Level",
	"2a29": "Manufacturer Name String",
	"2a2a": "IEEE 11073-20601 Regulatory Certification Data List",
	"2a2b": "Current Time",
	"2a2c": "Magnetic Declination",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a59": "Analog Output",
	"2a5e": "PLX Spot-Check Measurement",
	"2a5f": "PLX Continuous Measurement",
	"2a6e": "Temperature",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}

// NormalizeUUID converts a UUID string to the internal lookup form: lowercase, no dashes, braces or
// 0x prefix. Full 128-bit UUIDs built on the Bluetooth SIG base collapse to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, uuid := range uuids {
		normalized[i] = NormalizeUUID(uuid)
	}
	return normalized
}

// LookupService returns the assigned name of a service UUID, or "" when unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a characteristic UUID, or "" when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the assigned name of a descriptor UUID, or "" when unknown.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}
