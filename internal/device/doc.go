// Package device defines the transport-neutral view of a BLE peripheral used by the scanner
// and the poller.
//
// It covers:
//   - Advertisement and DeviceInfo for discovery results
//   - Device, Connection and Characteristic for one GATT session
//   - The error taxonomy (ConnectionError, NotFoundError and the Err* sentinels)
//   - UUID and address normalisation helpers
//
// The go-ble backed implementation lives in the go-ble subpackage.
package device
