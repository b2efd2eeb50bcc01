package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	goble "github.com/srg/vitalpoll/internal/device/go-ble"
	"github.com/srg/vitalpoll/internal/devicefactory"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite provides a reusable test suite with a mock radio and peripheral.
//
// The suite swaps devicefactory.RadioFactory for one returning Radio, so code that opens the
// radio through devicefactory.NewRadio talks to the mock.
//
//	type ReadSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func (s *ReadSuite) SetupTest() {
//	    s.MockBLEPeripheralSuite.SetupTest()
//	    s.Peripheral = testutils.NewPeripheralDeviceBuilder().
//	        WithService("180F").
//	        WithCharacteristic("2A19", "read", []byte{85, 0, 0, 0}).
//	        Build()
//	    s.Radio.On("Dial", mock.Anything, mock.Anything).Return(s.Peripheral, nil)
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Radio       *MockRadio
	Peripheral  *MockPeripheral
	TestTimeout time.Duration

	originalRadioFactory func() (goble.Radio, error)
}

// SetupTest installs a fresh mock radio before each test.
func (s *MockBLEPeripheralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second

	s.Radio = new(MockRadio)
	s.Peripheral = nil

	// subtests may call SetupTest again; keep the factory that was there before the first swap
	if s.originalRadioFactory == nil {
		s.originalRadioFactory = devicefactory.RadioFactory
	}
	devicefactory.RadioFactory = func() (goble.Radio, error) {
		return s.Radio, nil
	}
	devicefactory.ResetRadio()
}

// TearDownTest restores the radio factory after each test.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.originalRadioFactory != nil {
		devicefactory.RadioFactory = s.originalRadioFactory
		s.originalRadioFactory = nil
	}
	devicefactory.ResetRadio()
}
