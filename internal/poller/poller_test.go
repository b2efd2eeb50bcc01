package poller_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalpoll/internal/device"
	"github.com/srg/vitalpoll/internal/poller"
	"github.com/srg/vitalpoll/internal/testutils"
	"github.com/srg/vitalpoll/internal/vitals"
	"github.com/srg/vitalpoll/scanner"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const deviceAddress = "7E:7D:A3:FC:06:C9"

// fakeClock records every requested delay without waiting and cancels the run once stopAt
// returns true.
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
	stopAt func(n int, d time.Duration) bool
	cancel context.CancelFunc
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	stop := c.stopAt != nil && c.stopAt(len(c.sleeps), d)
	c.mu.Unlock()

	if stop {
		c.cancel()
	}
	return context.Cause(ctx)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// afterSleeps stops the run at the n-th sleep.
func afterSleeps(n int) func(int, time.Duration) bool {
	return func(count int, _ time.Duration) bool { return count >= n }
}

type transition struct{ from, to poller.State }

type PollerTestSuite struct {
	testutils.MockBLEPeripheralSuite

	clock       *fakeClock
	ctx         context.Context
	transitions []transition
}

func vitalSignsPeripheral() *testutils.PeripheralDeviceBuilder {
	return testutils.NewPeripheralDeviceBuilder().
		WithService("1822").
		WithCharacteristic("2A2A", "read", vitals.EncodeFloat32(72.5)).
		WithCharacteristic("2A2C", "read", vitals.EncodeFloat32(98.0)).
		WithCharacteristic("2A2D", "read", []byte{0}).
		WithCharacteristic("2A6E", "read", vitals.EncodeFloat32(36.6)).
		WithCharacteristic("2A2E", "read,write", vitals.EncodeFloat32(1.23)).
		WithCharacteristic("2A2F", "read,write", vitals.EncodeFloat32(0.45)).
		WithService("180F").
		WithCharacteristic("2A19", "read", vitals.EncodeUint32(85)).
		WithService("1805").
		WithCharacteristic("2A2B", "write", nil).
		WithCharacteristic("2A59", "write", nil)
}

func (s *PollerTestSuite) SetupTest() {
	s.MockBLEPeripheralSuite.SetupTest()

	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	s.ctx = ctx
	s.clock = &fakeClock{cancel: cancel}
	s.transitions = nil
}

// usePeripheral advertises and serves p from the mock radio.
func (s *PollerTestSuite) usePeripheral(p *testutils.MockPeripheral) {
	s.Peripheral = p
	adv := testutils.CreateMockAdvertisement("", deviceAddress, -60)
	s.Radio.On("Scan", mock.Anything, false).Return([]device.Advertisement{adv}, nil)
	s.Radio.On("Dial", mock.Anything, deviceAddress).Return(p, nil)
}

func (s *PollerTestSuite) newPoller() *poller.Poller {
	sc, err := scanner.NewScanner(s.Radio, s.Logger)
	s.Require().NoError(err)

	p := poller.New(deviceAddress, sc, poller.Policy{
		Sleep: s.clock.Sleep,
		Now: func() time.Time {
			return time.Date(2024, 3, 1, 13, 4, 5, 0, time.Local)
		},
	}, s.Logger)
	p.OnTransition(func(from, to poller.State) {
		s.transitions = append(s.transitions, transition{from, to})
	})
	return p
}

func (s *PollerTestSuite) run(p *poller.Poller) {
	err := p.Run(s.ctx)
	s.Require().ErrorIs(err, context.Canceled, "Run MUST only end through cancellation")
}

// readings renders the "Reading received" entries as field=value lines.
func (s *PollerTestSuite) readings() string {
	var lines []string
	for _, e := range s.Helper.EntriesWith("Reading received") {
		lines = append(lines, fmt.Sprintf("%v=%v", e.Data["field"], e.Data["value"]))
	}
	return strings.Join(lines, "\n")
}

func (s *PollerTestSuite) TestEndToEndCycle() {
	// GOAL: one cycle against a healthy peripheral logs all seven values, writes time then
	// confirm, sleeps the poll interval and lets no error escape.
	//
	// TEST SCENARIO: peripheral serves the reference values → run until the first sleep →
	// assert log transcript, writes, delays and session.

	s.usePeripheral(vitalSignsPeripheral().Build())
	s.clock.stopAt = afterSleeps(1)

	p := s.newPoller()
	s.run(p)

	testutils.NewTranscriptAsserter(s.T()).Assert(s.readings(), `
bpm=72.5
spo2=98
emergency=0
temperature=36.6
battery=85
max_ir=1.23
min_ir=0.45`)

	s.Equal([]testutils.WriteRecord{
		{UUID: "2a2b", Data: []byte("13:04:05")},
		{UUID: "2a59", Data: []byte{1}},
	}, s.Peripheral.Writes(), "time MUST be written before confirm")

	s.Equal([]time.Duration{time.Second}, s.clock.Sleeps(), "cycle MUST sleep the poll interval")
	s.Empty(s.Helper.Messages(logrus.ErrorLevel), "no error MUST escape a healthy cycle")

	session := p.Session()
	s.True(session.Valid())
	s.Equal(float32(1.23), session.MaxIR)
	s.Equal(float32(0.45), session.MinIR)

	s.Equal([]transition{
		{poller.Scanning, poller.Connecting},
		{poller.Connecting, poller.Polling},
	}, s.transitions)
	s.Equal(1, s.Peripheral.Cancels(), "connection MUST be released when the cycle exits")
}

func (s *PollerTestSuite) TestConnectionLossRediscoversAndResends() {
	// GOAL: after the link drops the loop resends the last IR values on a separate connection
	// and then goes back to discovery instead of reusing the old device handle.
	//
	// TEST SCENARIO: every link drops after 7 reads → first sweep succeeds, second fails →
	// resend → rescan → reconnect → sweep → stop at the next poll sleep.

	s.usePeripheral(vitalSignsPeripheral().WithDropAfterReads(7).Build())
	s.clock.stopAt = afterSleeps(3)

	p := s.newPoller()
	s.run(p)

	s.Radio.AssertNumberOfCalls(s.T(), "Scan", 2)
	s.Equal(3, s.Peripheral.Links(), "poll, resend and second poll MUST each open a link")
	s.Equal([]time.Duration{time.Second, 2 * time.Second, time.Second}, s.clock.Sleeps(),
		"retry MUST wait the fixed retry delay")

	s.Equal([][]byte{vitals.EncodeFloat32(1.23)}, s.Peripheral.WritesTo("2a2e"), "resend MUST write the last max IR")
	s.Equal([][]byte{vitals.EncodeFloat32(0.45)}, s.Peripheral.WritesTo("2a2f"), "resend MUST write the last min IR")

	var order []string
	for _, w := range s.Peripheral.Writes() {
		order = append(order, w.UUID)
	}
	s.Equal([]string{"2a2b", "2a59", "2a2e", "2a2f", "2a2b", "2a59"}, order)

	s.Equal([]transition{
		{poller.Scanning, poller.Connecting},
		{poller.Connecting, poller.Polling},
		{poller.Polling, poller.Resending},
		{poller.Resending, poller.Scanning},
		{poller.Scanning, poller.Connecting},
		{poller.Connecting, poller.Polling},
	}, s.transitions)

	s.NotEmpty(s.Helper.EntriesWith("Connection lost or error occurred"))
	s.NotEmpty(s.Helper.EntriesWith("Sent stored IR values"))
}

func (s *PollerTestSuite) TestResendWritesLatestIRValues() {
	// GOAL: the resend carries the IR values of the most recent sweep, not the first ones seen.
	//
	// TEST SCENARIO: sweep 1 reads 1.23/0.45 → device switches to 9.75/0.125 during the poll
	// sleep → sweep 2 reads them → link drops on sweep 3 → resend → stop at the next poll sleep.

	peripheral := vitalSignsPeripheral().WithDropAfterReads(14).Build()
	s.usePeripheral(peripheral)
	s.clock.stopAt = func(n int, _ time.Duration) bool {
		if n == 1 {
			peripheral.SetValue("2A2E", vitals.EncodeFloat32(9.75))
			peripheral.SetValue("2A2F", vitals.EncodeFloat32(0.125))
		}
		return n >= 4
	}

	p := s.newPoller()
	s.run(p)

	s.Equal([]time.Duration{time.Second, time.Second, 2 * time.Second, time.Second}, s.clock.Sleeps())
	s.Equal([][]byte{vitals.EncodeFloat32(9.75)}, peripheral.WritesTo("2a2e"), "resend MUST write the latest max IR")
	s.Equal([][]byte{vitals.EncodeFloat32(0.125)}, peripheral.WritesTo("2a2f"), "resend MUST write the latest min IR")

	session := p.Session()
	s.Equal(float32(9.75), session.MaxIR)
	s.Equal(float32(0.125), session.MinIR)
}

func (s *PollerTestSuite) TestReadErrorAbortsCycle() {
	// GOAL: a failing GATT read ends the sweep before anything is written and names the field.

	attErr := errors.New("insufficient authentication")
	s.usePeripheral(vitalSignsPeripheral().WithReadError("2A6E", attErr).Build())
	s.clock.stopAt = afterSleeps(1)

	p := s.newPoller()
	s.run(p)

	s.Empty(s.Peripheral.Writes(), "aborted sweep MUST NOT write")
	s.Equal([]time.Duration{2 * time.Second}, s.clock.Sleeps())
	s.Equal(1, s.Peripheral.Reads("2a2a"))
	s.Zero(s.Peripheral.Reads("2a19"), "fields after the failing one MUST NOT be read")
	s.False(p.Session().Valid())

	errs := s.Helper.EntriesWith("Connection lost or error occurred")
	s.Require().Len(errs, 1)
	err, ok := errs[0].Data[logrus.ErrorKey].(error)
	s.Require().True(ok)
	s.ErrorIs(err, attErr)
	s.Contains(err.Error(), "read temperature")
}

func (s *PollerTestSuite) TestDeviceNotFoundRetriesDiscovery() {
	p := vitalSignsPeripheral().Build()
	s.Peripheral = p
	adv := testutils.CreateMockAdvertisement("", deviceAddress, -60)
	other := testutils.CreateMockAdvertisement("Other", "11:22:33:44:55:66", -40)
	s.Radio.On("Scan", mock.Anything, false).Return([]device.Advertisement{other}, nil).Once()
	s.Radio.On("Scan", mock.Anything, false).Return([]device.Advertisement{adv}, nil)
	s.Radio.On("Dial", mock.Anything, deviceAddress).Return(p, nil)
	s.clock.stopAt = afterSleeps(2)

	s.run(s.newPoller())

	s.Radio.AssertNumberOfCalls(s.T(), "Scan", 2)
	s.Equal([]time.Duration{5 * time.Second, time.Second}, s.clock.Sleeps(),
		"a missed scan MUST wait the discovery retry delay")
	s.NotEmpty(s.Helper.EntriesWith("Device not found"))
	s.Radio.AssertNotCalled(s.T(), "Dial", mock.Anything, "11:22:33:44:55:66")
}

func (s *PollerTestSuite) TestBadBatteryLengthIsSkipped() {
	for _, payload := range [][]byte{{}, {85}, {85, 0}, {85, 0, 0}, {85, 0, 0, 0, 0}, make([]byte, 8)} {
		s.Run(fmt.Sprintf("%d bytes", len(payload)), func() {
			s.SetupTest()
			peripheral := vitalSignsPeripheral().Build()
			peripheral.SetValue("2A19", payload)
			s.usePeripheral(peripheral)
			s.clock.stopAt = afterSleeps(1)

			s.run(s.newPoller())

			testutils.NewTranscriptAsserter(s.T()).Assert(s.readings(), `
bpm=72.5
spo2=98
emergency=0
temperature=36.6
max_ir=1.23
min_ir=0.45`)

			warnings := s.Helper.EntriesWith("Unexpected payload length")
			s.Require().Len(warnings, 1)
			s.Equal(len(payload), warnings[0].Data["length"])
			s.Equal("battery", warnings[0].Data["field"])

			s.Len(s.Peripheral.Writes(), 2, "sweep MUST continue to the writes")
			s.Empty(s.Helper.Messages(logrus.ErrorLevel))
		})
	}
}

func (s *PollerTestSuite) TestDecodeErrorAbortsCycle() {
	// GOAL: a malformed unguarded field ends the cycle like a disconnect; without IR values
	// there is nothing to resend.

	peripheral := vitalSignsPeripheral().Build()
	peripheral.SetValue("2A2A", []byte{1, 2, 3})
	s.usePeripheral(peripheral)
	s.clock.stopAt = afterSleeps(2)

	p := s.newPoller()
	s.run(p)

	s.Empty(s.Peripheral.Writes(), "aborted sweep MUST NOT write")
	s.Equal([]time.Duration{2 * time.Second, 2 * time.Second}, s.clock.Sleeps())
	s.Equal(2, s.Peripheral.Links(), "resend MUST be skipped without recorded IR values")
	s.False(p.Session().Valid())

	errs := s.Helper.EntriesWith("Connection lost or error occurred")
	s.Require().NotEmpty(errs)
	err, ok := errs[0].Data[logrus.ErrorKey].(error)
	s.Require().True(ok)
	var decErr *vitals.DecodeError
	s.Require().ErrorAs(err, &decErr)
	s.Equal("bpm", decErr.Field)
	s.Equal(3, decErr.Got)
}

func (s *PollerTestSuite) TestMissingCharacteristicAbortsCycle() {
	peripheral := testutils.NewPeripheralDeviceBuilder().
		WithService("1822").
		WithCharacteristic("2A2A", "read", vitals.EncodeFloat32(72.5)).
		Build()
	s.usePeripheral(peripheral)
	s.clock.stopAt = afterSleeps(1)

	s.run(s.newPoller())

	errs := s.Helper.EntriesWith("Connection lost or error occurred")
	s.Require().Len(errs, 1)
	err, _ := errs[0].Data[logrus.ErrorKey].(error)
	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Contains(nf.UUIDs, "2a59")
	s.NotContains(nf.UUIDs, "2a2a")
	s.Zero(peripheral.Reads("2a2a"), "nothing MUST be read when the profile is incomplete")
	s.Equal(1, peripheral.Cancels())
}

func (s *PollerTestSuite) TestConnectFailureGoesBackToScanning() {
	adv := testutils.CreateMockAdvertisement("", deviceAddress, -60)
	s.Radio.On("Scan", mock.Anything, false).Return([]device.Advertisement{adv}, nil)
	s.Radio.On("Dial", mock.Anything, deviceAddress).Return(nil, errors.New("connection refused"))
	s.clock.stopAt = afterSleeps(2)

	s.run(s.newPoller())

	s.Radio.AssertNumberOfCalls(s.T(), "Scan", 2)
	s.Equal([]time.Duration{2 * time.Second, 2 * time.Second}, s.clock.Sleeps())
	s.Len(s.Helper.EntriesWith("Connection failed"), 2)
	s.Equal([]transition{
		{poller.Scanning, poller.Connecting},
		{poller.Connecting, poller.Scanning},
		{poller.Scanning, poller.Connecting},
	}, s.transitions)
}

func (s *PollerTestSuite) TestReadOnce() {
	s.Run("without acknowledgement", func() {
		s.SetupTest()
		s.usePeripheral(vitalSignsPeripheral().Build())

		reading, err := s.newPoller().ReadOnce(s.ctx, false)

		s.Require().NoError(err)
		s.Require().NotNil(reading.BPM)
		s.Equal(float32(72.5), *reading.BPM)
		s.Require().NotNil(reading.Battery)
		s.Equal(uint32(85), *reading.Battery)
		s.Empty(s.Peripheral.Writes())
		s.Equal(1, s.Peripheral.Cancels(), "connection MUST be released")
	})

	s.Run("with acknowledgement", func() {
		s.SetupTest()
		s.usePeripheral(vitalSignsPeripheral().Build())

		_, err := s.newPoller().ReadOnce(s.ctx, true)

		s.Require().NoError(err)
		s.Len(s.Peripheral.Writes(), 2)
	})

	s.Run("device absent", func() {
		s.SetupTest()
		s.Radio.On("Scan", mock.Anything, false).Return(nil, nil)

		_, err := s.newPoller().ReadOnce(s.ctx, false)

		s.ErrorIs(err, device.ErrDeviceNotFound)
	})
}

func TestPollerTestSuite(t *testing.T) {
	suite.Run(t, new(PollerTestSuite))
}
