package testutils

import (
	"context"

	"github.com/srg/vitalpoll/internal/device"
	goble "github.com/srg/vitalpoll/internal/device/go-ble"
	"github.com/stretchr/testify/mock"
)

// MockRadio is a testify mock of goble.Radio.
//
// Scan expectations return ([]device.Advertisement, error); the advertisements are delivered
// to the handler before Scan returns. Dial expectations return (goble.GATTClient, error); a
// *MockPeripheral is turned into a fresh link on every call, so each connection gets its own
// disconnect channel.
//
//	radio := new(testutils.MockRadio)
//	radio.On("Scan", mock.Anything, false).Return([]device.Advertisement{adv}, nil)
//	radio.On("Dial", mock.Anything, "7E:7D:A3:FC:06:C9").Return(peripheral, nil)
type MockRadio struct {
	mock.Mock
}

var _ goble.Radio = (*MockRadio)(nil)

func (m *MockRadio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup)

	if ads, ok := args.Get(0).([]device.Advertisement); ok {
		for _, adv := range ads {
			if ctx.Err() != nil {
				break
			}
			handler(adv)
		}
	}
	return args.Error(1)
}

func (m *MockRadio) Dial(ctx context.Context, address string) (goble.GATTClient, error) {
	args := m.Called(ctx, address)

	switch client := args.Get(0).(type) {
	case *MockPeripheral:
		if err := args.Error(1); err != nil {
			return nil, err
		}
		return client.NewLink(), nil
	case goble.GATTClient:
		return client, args.Error(1)
	default:
		return nil, args.Error(1)
	}
}
