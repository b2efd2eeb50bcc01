package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/vitalpoll/internal/device"
	goble "github.com/srg/vitalpoll/internal/device/go-ble"
	"github.com/srg/vitalpoll/internal/devicefactory"
)

// DefaultEventBufferSize bounds the device event ring; older events are overwritten.
const DefaultEventBufferSize uint32 = 256

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type       DeviceEventType
	DeviceInfo device.DeviceInfo
}

// Scanner handles BLE device discovery
type Scanner struct {
	radio   goble.Radio
	logger  *logrus.Logger
	devices *hashmap.Map[string, device.Device]
	events  mpmc.RichOverlappedRingBuffer[DeviceEvent]

	overwritten atomic.Int64
	scanMu      sync.Mutex
	scanOptions *ScanOptions
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration time.Duration
	// DuplicateFilter reports each address once per scan instead of on every advertisement.
	DuplicateFilter bool
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        5 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a new BLE scanner on top of radio
func NewScanner(radio goble.Radio, logger *logrus.Logger) (*Scanner, error) {
	if radio == nil {
		return nil, fmt.Errorf("scanner: %w", device.ErrNotInitialized)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		radio:   radio,
		logger:  logger,
		devices: hashmap.New[string, device.Device](),
		events:  mpmc.NewOverlappedRingBuffer[DeviceEvent](DefaultEventBufferSize),
	}, nil
}

// Scan performs BLE discovery with provided options and returns every accepted device keyed by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (map[string]device.DeviceInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	err := s.run(ctx, opts, nil)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	devices := make(map[string]device.DeviceInfo, s.devices.Len())
	s.devices.Range(func(key string, value device.Device) bool {
		devices[key] = value
		return true
	})
	return devices, nil
}

// Find scans for up to window and returns the first device whose address matches address.
// The scan stops as soon as the device is seen. No name, RSSI or service filtering is applied.
// It returns an error wrapping device.ErrDeviceNotFound when the window passes without a match.
func (s *Scanner) Find(ctx context.Context, address string, window time.Duration) (device.Device, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found atomic.Pointer[device.Device]
	match := func(dev device.Device) {
		if device.SameAddress(dev.Address(), address) && found.CompareAndSwap(nil, &dev) {
			cancel()
		}
	}

	s.logger.WithFields(logrus.Fields{
		"address": address,
		"window":  window,
	}).Debug("Searching for device...")

	err := s.run(scanCtx, &ScanOptions{Duration: window, DuplicateFilter: true}, match)

	if dev := found.Load(); dev != nil {
		return *dev, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, address)
}

// run scans with opts, calling onDevice for every accepted advertisement.
// Context expiry ends the scan normally.
func (s *Scanner) run(ctx context.Context, opts *ScanOptions, onDevice func(device.Device)) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.devices = hashmap.New[string, device.Device]()
	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()

	err := s.radio.Scan(ctx, !opts.DuplicateFilter, func(adv device.Advertisement) {
		if dev := s.handleAdvertisement(adv); dev != nil && onDevice != nil {
			onDevice(dev)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// handleAdvertisement updates existing or adds a new device; it returns nil for filtered advertisements.
func (s *Scanner) handleAdvertisement(adv device.Advertisement) device.Device {
	deviceID := adv.Addr()

	dev, existing := s.devices.Get(deviceID)
	if !existing {
		if !s.shouldIncludeDevice(adv, s.scanOptions) {
			return nil
		}
		dev, existing = s.devices.GetOrInsert(deviceID, devicefactory.NewDeviceFromAdvertisement(s.radio, adv, s.logger))
	}

	event := DeviceEvent{DeviceInfo: dev}

	if existing {
		dev.Update(adv)
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name(),
			"address": dev.Address(),
			"rssi":    dev.RSSI(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	if overwrites, err := s.events.EnqueueM(event); err != nil {
		s.logger.WithError(err).Warn("Failed to record device event")
	} else {
		s.overwritten.Add(int64(overwrites))
	}
	return dev
}

// shouldIncludeDevice applies to allow/block/service filters
func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	if opts == nil {
		return true
	}
	addr := adv.Addr()

	for _, blocked := range opts.BlockList {
		if device.SameAddress(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if device.SameAddress(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		advertised := device.NormalizeUUIDs(adv.Services())
		for _, required := range device.NormalizeUUIDs(opts.ServiceUUIDs) {
			for _, advUUID := range advertised {
				if required == advUUID {
					return true
				}
			}
		}
		return false
	}

	return true
}

// DrainEvents returns the buffered device events, oldest first, and empties the buffer.
func (s *Scanner) DrainEvents() []DeviceEvent {
	var result []DeviceEvent
	for !s.events.IsEmpty() {
		ev, err := s.events.Dequeue()
		if err != nil {
			break
		}
		result = append(result, ev)
	}
	return result
}

// OverwrittenEvents reports how many events were dropped because nobody drained them in time.
func (s *Scanner) OverwrittenEvents() int64 {
	return s.overwritten.Load()
}
