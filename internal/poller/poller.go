// Package poller runs the reconnect loop against the vital-signs peripheral: find it by address,
// connect, sweep the telemetry characteristics once per interval, acknowledge, and start over
// from discovery whenever anything fails.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalpoll/internal/device"
	"github.com/srg/vitalpoll/internal/vitals"
)

// Discoverer finds a device by address within a scan window.
// scanner.Scanner implements it.
type Discoverer interface {
	Find(ctx context.Context, address string, window time.Duration) (device.Device, error)
}

// Poller owns the loop state. Run must not be called concurrently.
type Poller struct {
	address    string
	discoverer Discoverer
	policy     Policy
	logger     *logrus.Logger

	session      Session
	state        atomic.Int32
	onTransition func(from, to State)
}

// New creates a poller for the device at address. Zero policy durations take their defaults.
func New(address string, discoverer Discoverer, policy Policy, logger *logrus.Logger) *Poller {
	if logger == nil {
		logger = logrus.New()
	}

	return &Poller{
		address:    address,
		discoverer: discoverer,
		policy:     policy.withDefaults(),
		logger:     logger,
	}
}

// OnTransition registers fn to be called on every state change, from the loop goroutine.
func (p *Poller) OnTransition(fn func(from, to State)) {
	p.onTransition = fn
}

// State returns the current loop state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Session returns a copy of the carried IR values.
func (p *Poller) Session() Session {
	return p.session
}

// Policy returns the effective policy, defaults applied.
func (p *Poller) Policy() Policy {
	return p.policy
}

func (p *Poller) setState(to State) {
	from := State(p.state.Swap(int32(to)))
	if from == to {
		return
	}
	p.logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Debug("State transition")
	if p.onTransition != nil {
		p.onTransition(from, to)
	}
}

// Run drives SCANNING → CONNECTING → POLLING → RESENDING → SCANNING until ctx is cancelled.
// Failures never end the loop; the returned error is always the context's.
func (p *Poller) Run(ctx context.Context) error {
	p.state.Store(int32(Scanning))
	log := p.logger.WithField("address", p.address)
	log.Info("Starting vital-signs poller")

	var dev device.Device
	state := Scanning

	for {
		if err := ctx.Err(); err != nil {
			log.Info("Poller stopped")
			return err
		}
		p.setState(state)

		switch state {
		case Scanning:
			dev = nil
			found, err := p.discoverer.Find(ctx, p.address, p.policy.ScanWindow)
			switch {
			case err == nil:
				log.WithFields(logrus.Fields{
					"name": found.Name(),
					"rssi": found.RSSI(),
				}).Info("Found device")
				dev = found
				state = Connecting
			case ctx.Err() != nil:
				continue
			case errors.Is(err, device.ErrDeviceNotFound):
				log.WithField("retry_in", p.policy.DiscoveryRetryDelay).Warn("Device not found, retrying device discovery")
				_ = p.policy.Sleep(ctx, p.policy.DiscoveryRetryDelay)
			default:
				log.WithError(err).Error("Device discovery failed")
				_ = p.policy.Sleep(ctx, p.policy.RetryDelay)
			}

		case Connecting:
			err := dev.Connect(ctx, &device.ConnectOptions{
				ConnectTimeout: p.policy.ConnectTimeout,
				IOTimeout:      p.policy.IOTimeout,
			})
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.WithError(err).Error("Connection failed, attempting to reconnect")
				_ = p.policy.Sleep(ctx, p.policy.RetryDelay)
				state = Scanning
				continue
			}
			log.Info("Connected to device")
			state = Polling

		case Polling:
			err := p.poll(ctx, dev)
			if ctx.Err() != nil {
				continue
			}
			log.WithError(err).Error("Connection lost or error occurred, attempting to reconnect")
			_ = p.policy.Sleep(ctx, p.policy.RetryDelay)
			state = Resending

		case Resending:
			p.resend(ctx, dev)
			state = Scanning
		}
	}
}

// poll runs sweeps on a connected device until one fails. The device is always disconnected
// on return.
func (p *Poller) poll(ctx context.Context, dev device.Device) error {
	defer func() {
		if err := dev.Disconnect(); err != nil {
			p.logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	conn := dev.GetConnection()
	chars, err := resolve(conn, vitals.All())
	if err != nil {
		return err
	}
	p.logger.WithField("characteristics", len(chars)).Info("Services discovered")

	// the cycle ends with the caller's context or with the link
	cycleCtx, cancel := context.WithCancelCause(ctx)
	connCtx := conn.Context()
	stopWatch := context.AfterFunc(connCtx, func() {
		cancel(context.Cause(connCtx))
	})

	notifyDone := p.startNotifications(cycleCtx)
	defer func() {
		stopWatch()
		cancel(nil)
		<-notifyDone
	}()

	for {
		if _, err := p.sweep(cycleCtx, chars); err != nil {
			return err
		}
		if err := p.acknowledge(cycleCtx, chars); err != nil {
			return err
		}
		if err := p.policy.Sleep(cycleCtx, p.policy.PollInterval); err != nil {
			return err
		}
	}
}

// resolve looks every field's characteristic up once per connection.
func resolve(conn device.Connection, fields []vitals.Field) (map[string]device.Characteristic, error) {
	chars := make(map[string]device.Characteristic, len(fields))
	var missing []string
	for _, f := range fields {
		c, err := conn.GetCharacteristic(f.UUID)
		if err != nil {
			var nf *device.NotFoundError
			if errors.As(err, &nf) {
				missing = append(missing, f.UUID)
				continue
			}
			return nil, err
		}
		chars[f.UUID] = c
	}
	if len(missing) > 0 {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: missing}
	}
	return chars, nil
}

// sweep reads and decodes every telemetry field in table order. A guarded field with a bad
// length is logged and skipped; any other read or decode failure ends the sweep.
func (p *Poller) sweep(ctx context.Context, chars map[string]device.Characteristic) (vitals.Reading, error) {
	var reading vitals.Reading

	for _, f := range vitals.Telemetry {
		log := p.logger.WithFields(logrus.Fields{
			"field": f.Name,
			"uuid":  f.UUID,
		})

		data, err := chars[f.UUID].Read(ctx)
		if err != nil {
			return reading, fmt.Errorf("read %s: %w", f.Name, err)
		}

		if f.Guarded {
			log.WithField("raw", fmt.Sprintf("% x", data)).Debug("Raw payload")
			if len(data) != f.Encoding.Size() {
				log.WithFields(logrus.Fields{
					"length":   len(data),
					"expected": f.Encoding.Size(),
				}).Warn("Unexpected payload length, skipping")
				continue
			}
		}

		value, err := f.Decode(data)
		if err != nil {
			return reading, err
		}
		if err := reading.Set(f, value); err != nil {
			return reading, err
		}
		if v, ok := value.(float32); ok {
			p.session.Record(f, v)
		}

		log.WithField("value", value).Info("Reading received")
	}

	return reading, nil
}

// acknowledge writes the wall-clock time, then the confirm byte.
func (p *Poller) acknowledge(ctx context.Context, chars map[string]device.Characteristic) error {
	clock := vitals.FormatClock(p.policy.Now())
	if err := chars[vitals.Time.UUID].Write(ctx, clock); err != nil {
		return fmt.Errorf("write %s: %w", vitals.Time.Name, err)
	}
	p.logger.WithField("time", string(clock)).Info("Sent time")

	if err := chars[vitals.Confirm.UUID].Write(ctx, vitals.ConfirmPayload()); err != nil {
		return fmt.Errorf("write %s: %w", vitals.Confirm.Name, err)
	}
	p.logger.WithField("value", vitals.ConfirmValue).Debug("Sent confirmation")
	return nil
}

// resend opens a short connection to write the last IR extremes back. Failures are logged
// and otherwise ignored.
func (p *Poller) resend(ctx context.Context, dev device.Device) {
	if !p.session.Valid() {
		p.logger.Debug("No IR values recorded yet, skipping resend")
		return
	}

	log := p.logger.WithFields(logrus.Fields{
		"max_ir": p.session.MaxIR,
		"min_ir": p.session.MinIR,
	})

	err := dev.Connect(ctx, &device.ConnectOptions{
		ConnectTimeout: p.policy.ConnectTimeout,
		IOTimeout:      p.policy.IOTimeout,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to reconnect for IR resend")
		return
	}
	defer func() {
		if err := dev.Disconnect(); err != nil {
			log.WithError(err).Warn("Disconnect after IR resend failed")
		}
	}()

	chars, err := resolve(dev.GetConnection(), []vitals.Field{vitals.MaxIR, vitals.MinIR})
	if err != nil {
		log.WithError(err).Warn("IR characteristics unavailable, skipping resend")
		return
	}

	if err := chars[vitals.MaxIR.UUID].Write(ctx, vitals.EncodeFloat32(p.session.MaxIR)); err != nil {
		log.WithError(err).Warn("Failed to send Max IR")
		return
	}
	if err := chars[vitals.MinIR.UUID].Write(ctx, vitals.EncodeFloat32(p.session.MinIR)); err != nil {
		log.WithError(err).Warn("Failed to send Min IR")
		return
	}
	log.Info("Sent stored IR values")
}

// ReadOnce finds and connects to the device, sweeps once and disconnects. With ack the sweep
// is followed by the time and confirm writes, as in the loop.
func (p *Poller) ReadOnce(ctx context.Context, ack bool) (vitals.Reading, error) {
	dev, err := p.discoverer.Find(ctx, p.address, p.policy.ScanWindow)
	if err != nil {
		return vitals.Reading{}, err
	}

	err = dev.Connect(ctx, &device.ConnectOptions{
		ConnectTimeout: p.policy.ConnectTimeout,
		IOTimeout:      p.policy.IOTimeout,
	})
	if err != nil {
		return vitals.Reading{}, err
	}
	defer func() {
		if err := dev.Disconnect(); err != nil {
			p.logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	chars, err := resolve(dev.GetConnection(), vitals.All())
	if err != nil {
		return vitals.Reading{}, err
	}

	reading, err := p.sweep(ctx, chars)
	if err != nil {
		return reading, err
	}
	if ack {
		if err := p.acknowledge(ctx, chars); err != nil {
			return reading, err
		}
	}
	return reading, nil
}
