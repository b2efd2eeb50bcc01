package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/vitalpoll/internal/device"
	goble "github.com/srg/vitalpoll/internal/device/go-ble"
	"github.com/srg/vitalpoll/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const testAddress = "7E:7D:A3:FC:06:C9"

type ConnectionTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (s *ConnectionTestSuite) SetupTest() {
	s.MockBLEPeripheralSuite.SetupTest()

	s.Peripheral = testutils.NewPeripheralDeviceBuilder().
		WithService("1800").
		WithCharacteristic("2A00", "read", []byte("Vitals-01\x00")).
		WithService("180F").
		WithCharacteristic("2A19", "read,notify", []byte{85, 0, 0, 0}).
		WithService("1805").
		WithCharacteristic("2A2B", "write", nil).
		WithCharacteristic("2A59", "write-without-response", nil).
		Build()
}

func (s *ConnectionTestSuite) connect(opts *device.ConnectOptions) *goble.BLEDevice {
	s.Radio.On("Dial", mock.Anything, testAddress).Return(s.Peripheral, nil)

	dev := goble.NewBLEDevice(s.Radio, testAddress, s.Logger)
	s.Require().NoError(dev.Connect(context.Background(), opts), "connect MUST succeed against the mock peripheral")
	s.T().Cleanup(func() { _ = dev.Disconnect() })
	return dev
}

func (s *ConnectionTestSuite) TestConnectIndexesCharacteristics() {
	dev := s.connect(nil)

	s.True(dev.IsConnected(), "device MUST report connected after Connect")

	var uuids []string
	for _, c := range dev.GetConnection().Characteristics() {
		uuids = append(uuids, c.UUID())
	}
	s.Equal([]string{"2a00", "2a19", "2a2b", "2a59"}, uuids, "characteristics MUST be sorted by normalized UUID")

	char, err := dev.GetConnection().GetCharacteristic("00002A19-0000-1000-8000-00805F9B34FB")
	s.Require().NoError(err, "lookup MUST accept the 128-bit form")
	s.Equal("Battery Level", char.KnownName())
	s.True(char.GetProperties().Read)
	s.True(char.GetProperties().Notify)
}

func (s *ConnectionTestSuite) TestConnectResolvesGAPName() {
	dev := s.connect(nil)

	s.Equal("Vitals-01", dev.Name(), "GAP device name MUST replace the address as display name")
}

func (s *ConnectionTestSuite) TestReadAndWrite() {
	dev := s.connect(nil)
	ctx := context.Background()

	battery, err := dev.GetConnection().GetCharacteristic("2a19")
	s.Require().NoError(err)
	data, err := battery.Read(ctx)
	s.Require().NoError(err)
	s.Equal([]byte{85, 0, 0, 0}, data)

	timeChar, err := dev.GetConnection().GetCharacteristic("2a2b")
	s.Require().NoError(err)
	s.Require().NoError(timeChar.Write(ctx, []byte("12:34:56")))

	confirm, err := dev.GetConnection().GetCharacteristic("2a59")
	s.Require().NoError(err)
	s.Require().NoError(confirm.Write(ctx, []byte{1}))

	writes := s.Peripheral.Writes()
	s.Require().Len(writes, 2)
	s.Equal(testutils.WriteRecord{UUID: "2a2b", Data: []byte("12:34:56"), NoRsp: false}, writes[0],
		"write-capable characteristic MUST be written with response")
	s.Equal(testutils.WriteRecord{UUID: "2a59", Data: []byte{1}, NoRsp: true}, writes[1],
		"write-without-response characteristic MUST be written as a command")
}

func (s *ConnectionTestSuite) TestUnknownCharacteristic() {
	dev := s.connect(nil)

	_, err := dev.GetConnection().GetCharacteristic("2a2a")

	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf, "unknown UUID MUST yield NotFoundError")
	s.Equal("characteristic", nf.Resource)
}

func (s *ConnectionTestSuite) TestDisconnect() {
	dev := s.connect(nil)
	conn := dev.GetConnection()
	battery, err := conn.GetCharacteristic("2a19")
	s.Require().NoError(err)

	s.Require().NoError(dev.Disconnect())

	s.False(dev.IsConnected(), "device MUST report disconnected")
	s.Error(conn.Context().Err(), "connection context MUST be cancelled on disconnect")
	s.Equal(1, s.Peripheral.Cancels(), "link MUST be cancelled exactly once")

	_, err = battery.Read(context.Background())
	s.ErrorIs(err, device.ErrNotConnected, "reads after disconnect MUST fail with ErrNotConnected")

	_, err = conn.GetCharacteristic("2a19")
	s.ErrorIs(err, device.ErrNotConnected)

	s.NoError(dev.Disconnect(), "second disconnect MUST be a no-op")
	s.Equal(1, s.Peripheral.Cancels())
}

func (s *ConnectionTestSuite) TestTransportDropCancelsContext() {
	dev := s.connect(nil)
	conn := dev.GetConnection()

	s.Peripheral.Drop()

	select {
	case <-conn.Context().Done():
	case <-time.After(s.TestTimeout):
		s.FailNow("connection context MUST be cancelled when the transport reports disconnection")
	}

	s.ErrorIs(context.Cause(conn.Context()), device.ErrNotConnected, "cause MUST be ErrNotConnected")
	s.False(dev.IsConnected())

	battery, err := conn.GetCharacteristic("2a19")
	s.Require().NoError(err, "characteristic table stays until Disconnect")
	_, err = battery.Read(context.Background())
	s.ErrorIs(err, device.ErrNotConnected)
}

func (s *ConnectionTestSuite) TestReconnectAfterDrop() {
	dev := s.connect(nil)
	s.Peripheral.Drop()
	s.Eventually(func() bool { return !dev.IsConnected() }, s.TestTimeout, 5*time.Millisecond)

	s.Require().NoError(dev.Connect(context.Background(), nil), "reconnect MUST succeed after a drop")
	s.True(dev.IsConnected())
	s.Equal(2, s.Peripheral.Links(), "reconnect MUST open a new link")
}

func (s *ConnectionTestSuite) TestConnectTwice() {
	dev := s.connect(nil)

	err := dev.Connect(context.Background(), nil)
	s.ErrorIs(err, device.ErrAlreadyConnected)
}

func (s *ConnectionTestSuite) TestDialFailure() {
	s.Radio.On("Dial", mock.Anything, testAddress).Return(nil, errors.New("can't dial: device not connected"))

	dev := goble.NewBLEDevice(s.Radio, testAddress, s.Logger)
	err := dev.Connect(context.Background(), &device.ConnectOptions{ConnectTimeout: time.Second})

	s.Require().Error(err)
	s.Contains(err.Error(), testAddress)
	s.False(dev.IsConnected())
}

func (s *ConnectionTestSuite) TestDiscoverFailureCancelsLink() {
	s.Peripheral = testutils.NewPeripheralDeviceBuilder().
		WithDiscoverError(errors.New("att: discovery failed")).
		Build()
	s.Radio.On("Dial", mock.Anything, testAddress).Return(s.Peripheral, nil)

	dev := goble.NewBLEDevice(s.Radio, testAddress, s.Logger)
	err := dev.Connect(context.Background(), nil)

	s.Require().Error(err)
	s.Contains(err.Error(), "failed to discover profile")
	s.Equal(1, s.Peripheral.Cancels(), "link MUST be released when discovery fails")
	s.False(dev.IsConnected())
}

func (s *ConnectionTestSuite) TestReadHonorsCallerContext() {
	blocking := &blockingClient{
		link:      s.Peripheral.NewLink(),
		blockUUID: "2a19",
		release:   make(chan struct{}),
	}
	defer close(blocking.release)
	s.Radio.On("Dial", mock.Anything, testAddress).Return(blocking, nil)

	dev := goble.NewBLEDevice(s.Radio, testAddress, s.Logger)
	s.Require().NoError(dev.Connect(context.Background(), &device.ConnectOptions{}))
	defer func() { _ = dev.Disconnect() }()

	battery, err := dev.GetConnection().GetCharacteristic("2a19")
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = battery.Read(ctx)
	s.ErrorIs(err, context.DeadlineExceeded, "read MUST give up when the caller's context ends")
}

func (s *ConnectionTestSuite) TestReadHonorsIOTimeout() {
	blocking := &blockingClient{
		link:      s.Peripheral.NewLink(),
		blockUUID: "2a19",
		release:   make(chan struct{}),
	}
	defer close(blocking.release)
	s.Radio.On("Dial", mock.Anything, testAddress).Return(blocking, nil)

	dev := goble.NewBLEDevice(s.Radio, testAddress, s.Logger)
	s.Require().NoError(dev.Connect(context.Background(), &device.ConnectOptions{IOTimeout: 20 * time.Millisecond}))
	defer func() { _ = dev.Disconnect() }()

	battery, err := dev.GetConnection().GetCharacteristic("2a19")
	s.Require().NoError(err)

	_, err = battery.Read(context.Background())
	s.ErrorIs(err, device.ErrTimeout, "read MUST fail with ErrTimeout after the I/O timeout")
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}

// blockingClient serves everything from a peripheral link except reads of blockUUID,
// which hang until release is closed.
type blockingClient struct {
	link      *testutils.PeripheralLink
	blockUUID string
	release   chan struct{}
}

func (b *blockingClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	return b.link.DiscoverProfile(force)
}

func (b *blockingClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	if device.NormalizeUUID(c.UUID.String()) == b.blockUUID {
		<-b.release
		return nil, errors.New("released")
	}
	return b.link.ReadCharacteristic(c)
}

func (b *blockingClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return b.link.WriteCharacteristic(c, value, noRsp)
}

func (b *blockingClient) CancelConnection() error {
	return b.link.CancelConnection()
}
