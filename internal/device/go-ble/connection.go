package goble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalpoll/internal/device"
	"github.com/srg/vitalpoll/internal/groutine"
)

// BLEConnection represents a live BLE connection (reads, writes)
type BLEConnection struct {
	radio      Radio
	client     GATTClient
	logger     *logrus.Logger
	writeMutex sync.Mutex
	connMutex  sync.RWMutex
	ioTimeout  time.Duration

	characteristics map[string]*BLECharacteristic

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewBLEConnection creates a disconnected connection that dials through radio.
func NewBLEConnection(radio Radio, logger *logrus.Logger) *BLEConnection {
	if logger == nil {
		logger = logrus.New()
	}

	// a never-connected connection reports a cancelled context
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(device.ErrNotConnected)

	return &BLEConnection{
		radio:           radio,
		logger:          logger,
		characteristics: make(map[string]*BLECharacteristic),
		ctx:             ctx,
	}
}

// Connect dials address, discovers the GATT profile and indexes every characteristic by UUID.
func (c *BLEConnection) Connect(ctx context.Context, address string, opts *device.ConnectOptions) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if strings.TrimSpace(address) == "" {
		c.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}

	if c.radio == nil {
		return device.ErrNotInitialized
	}

	if c.isConnectedInternal() {
		c.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}

	// the transport dropped the previous link; release the stale handle first
	if c.client != nil {
		if err := c.client.CancelConnection(); err != nil {
			c.logger.WithField("error", err).Debug("Failed to cancel stale connection")
		}
		c.client = nil
	}

	if opts == nil {
		opts = &device.ConnectOptions{}
	}
	c.ioTimeout = opts.IOTimeout

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := c.radio.Dial(dialCtx, address)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address \"%s\": %w", address, err)
	}

	c.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}
	if profile == nil {
		_ = client.CancelConnection()
		return fmt.Errorf("failed to discover profile: %w", device.ErrNotInitialized)
	}

	chars := make(map[string]*BLECharacteristic)
	for _, svc := range profile.Services {
		for _, bleChar := range svc.Characteristics {
			char := NewCharacteristic(bleChar, c)
			if _, dup := chars[char.UUID()]; dup {
				c.logger.WithFields(logrus.Fields{
					"service_uuid": svc.UUID.String(),
					"char_uuid":    char.UUID(),
				}).Debug("Characteristic UUID already seen in another service, keeping the first")
				continue
			}
			chars[char.UUID()] = char
			c.logger.WithFields(logrus.Fields{
				"service_uuid": svc.UUID.String(),
				"char_uuid":    char.UUID(),
				"properties":   char.GetProperties().String(),
			}).Debug("Found characteristic")
		}
	}

	c.client = client
	c.characteristics = chars

	// connection lifetime follows the caller's context; the cause tells why it ended
	c.ctx, c.cancel = context.WithCancelCause(ctx)

	if notifier, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		connCtx, cancel := c.ctx, c.cancel
		logger := c.logger
		groutine.Go(connCtx, "ble-connection-monitor", func(_ context.Context) {
			select {
			case <-notifier.Disconnected():
				logger.WithField("address", address).Warn("Transport reported disconnection, cancelling connection context")
				cancel(device.ErrNotConnected)
			case <-connCtx.Done():
			}
		})
	} else {
		c.logger.Debug("Client does not expose a Disconnected() channel")
	}

	c.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("BLE device connected successfully")
	return nil
}

// Disconnect releases the link. Calling it on a closed connection is a no-op.
func (c *BLEConnection) Disconnect() error {
	c.connMutex.Lock()
	if c.client == nil {
		c.connMutex.Unlock()
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	c.logger.WithField("characteristics", len(c.characteristics)).Info("Disconnecting BLE device...")

	// release the lock before the blocking network call
	client := c.client
	cancel := c.cancel
	c.client = nil
	c.cancel = nil
	c.connMutex.Unlock()

	if cancel != nil {
		cancel(device.ErrNotConnected)
	}

	disconnectErr := NormalizeError(client.CancelConnection())
	if disconnectErr != nil {
		c.logger.WithField("error", disconnectErr).Warn("BLE device disconnected with errors")
	} else {
		c.logger.Info("BLE device disconnected successfully")
	}
	return disconnectErr
}

// isConnectedInternal checks the connection status without acquiring locks.
// Should only be called when the caller already holds connMutex.
func (c *BLEConnection) isConnectedInternal() bool {
	return c.client != nil && c.ctx.Err() == nil
}

// IsConnected reports whether the link is up and has not been reported lost.
func (c *BLEConnection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.isConnectedInternal()
}

// Context is cancelled when the link is torn down.
func (c *BLEConnection) Context() context.Context {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.ctx
}

// Characteristics returns every discovered characteristic, sorted by UUID.
func (c *BLEConnection) Characteristics() []device.Characteristic {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	result := make([]device.Characteristic, 0, len(c.characteristics))
	for _, char := range c.characteristics {
		result = append(result, char)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}

// GetCharacteristic retrieves a characteristic by UUID in any service.
// The UUID is normalized, so "2A2A" and the full 128-bit form match the same entry.
func (c *BLEConnection) GetCharacteristic(uuid string) (device.Characteristic, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if c.client == nil {
		return nil, device.ErrNotConnected
	}

	char, ok := c.characteristics[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return char, nil
}

// session snapshots what an I/O operation needs without holding the lock while it blocks.
func (c *BLEConnection) session() (GATTClient, context.Context, time.Duration, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.isConnectedInternal() {
		return nil, nil, 0, device.ErrNotConnected
	}
	return c.client, c.ctx, c.ioTimeout, nil
}

type ioResult struct {
	data []byte
	err  error
}

// do runs a blocking client call and gives up when ctx ends, the link drops or the I/O timeout passes.
// go-ble calls cannot be interrupted, so an abandoned call finishes in the background.
func (c *BLEConnection) do(ctx context.Context, op string, call func(client GATTClient) ([]byte, error)) ([]byte, error) {
	client, connCtx, timeout, err := c.session()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resultCh := make(chan ioResult, 1)
	go func() {
		data, err := call(client)
		resultCh <- ioResult{data: data, err: err}
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("%s: %w", op, NormalizeError(result.err))
		}
		return result.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, context.Cause(ctx))
	case <-connCtx.Done():
		return nil, fmt.Errorf("%s: %w", op, context.Cause(connCtx))
	case <-timeoutCh:
		return nil, fmt.Errorf("%s: %w after %v", op, device.ErrTimeout, timeout)
	}
}
