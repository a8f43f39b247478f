package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testCredentials = Credentials{SSID: "home", Password: "pw"}
	testIdentity    = DeviceIdentity{ClientID: "picow-1", DeviceID: 7}
	testEndpoint    = BrokerEndpoint{Host: "10.0.0.5", SubscribeTopic: "picow/led", PublishTopic: "picow/readings"}
)

type loopFixture struct {
	network *MockNetworkConnector
	broker  *MockBrokerClient
	session *MockBrokerSession
	sensor  *MockSensor
	clock   *fakeClock

	received []string
}

func newLoopFixture() *loopFixture {
	return &loopFixture{
		network: &MockNetworkConnector{},
		broker:  &MockBrokerClient{},
		session: &MockBrokerSession{},
		sensor:  &MockSensor{},
		clock:   newFakeClock(),
	}
}

func (f *loopFixture) loop(t *testing.T) *TelemetryLoop {
	loop, err := NewTelemetryLoop(TelemetryLoopParams{
		Network: f.network,
		Broker:  f.broker,
		Sensor:  f.sensor,
		OnMessage: func(topic string, payload []byte) {
			f.received = append(f.received, string(payload))
		},
		Clock:         f.clock,
		Credentials:   testCredentials,
		Identity:      testIdentity,
		Endpoint:      testEndpoint,
		PayloadFormat: PayloadFormatLegacy,
	})
	require.NoError(t, err)
	return loop
}

func (f *loopFixture) connected() {
	f.network.On("Connect", mock.Anything, testCredentials, TelemetryDefaultConnectTimeout).
		Return(&NetworkSession{State: NetworkConnected, Status: LinkUp, Address: "10.0.0.9"}, nil).Once()
	f.broker.On("Connect", mock.Anything, testIdentity, testEndpoint, mock.Anything).
		Return(f.session, nil).Once()
}

func TestNewTelemetryLoop_MissingParams(t *testing.T) {
	_, err := NewTelemetryLoop(TelemetryLoopParams{})
	require.Error(t, err)

	_, err = NewTelemetryLoop(TelemetryLoopParams{Network: &MockNetworkConnector{}})
	require.Error(t, err)

	_, err = NewTelemetryLoop(TelemetryLoopParams{Network: &MockNetworkConnector{}, Broker: &MockBrokerClient{}})
	require.Error(t, err)

	_, err = NewTelemetryLoop(TelemetryLoopParams{Network: &MockNetworkConnector{}, Broker: &MockBrokerClient{}, Sensor: &MockSensor{}})
	require.Error(t, err)
}

func TestTelemetryLoop_Run_Publishes(t *testing.T) {
	f := newLoopFixture()
	f.connected()
	loop := f.loop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var payloads []string
	var publishedAt []time.Time

	f.session.On("PollInbound").Return(nil)
	f.session.On("Publish", "picow/readings", mock.Anything).Run(func(args mock.Arguments) {
		payloads = append(payloads, string(args.Get(1).([]byte)))
		publishedAt = append(publishedAt, f.clock.Now())
		if len(payloads) == 3 {
			cancel()
		}
	}).Return(nil)
	f.session.On("Close").Return(nil).Once()
	f.sensor.On("Read").Return(Measurement{Temperature: float(21.5), Humidity: float(40.0)}, nil)

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, payloads, 3)
	assert.Equal(t, `{"picowId": 7, "temperature": 21.5, "humidity": 40.0, "timestamp": 2024-01-01T00:00:00}`, payloads[0])
	assert.Equal(t, `{"picowId": 7, "temperature": 21.5, "humidity": 40.0, "timestamp": 2024-01-01T00:00:05}`, payloads[1])
	for i := 1; i < len(publishedAt); i++ {
		assert.GreaterOrEqual(t, publishedAt[i].Sub(publishedAt[i-1]), 5*time.Second)
	}

	status := loop.Status()
	assert.Equal(t, LoopRunning, status.State)
	assert.Equal(t, uint64(3), status.Published)
	assert.Equal(t, uint64(3), status.Ticks)
	assert.Equal(t, publishedAt[2], status.LastPublished)

	f.network.AssertExpectations(t)
	f.broker.AssertExpectations(t)
	f.session.AssertExpectations(t)
}

func TestTelemetryLoop_Run_SensorFailureSkipsPublish(t *testing.T) {
	f := newLoopFixture()
	f.connected()
	loop := f.loop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.session.On("PollInbound").Return(nil)
	f.session.On("Close").Return(nil).Once()
	f.sensor.On("Read").Return(Measurement{Humidity: float(40.0)}, nil).Once()
	f.sensor.On("Read").Return(Measurement{}, fmt.Errorf("checksum mismatch")).Once()
	f.sensor.On("Read").Return(Measurement{Temperature: float(19.0), Humidity: float(55.5)}, nil).Once()

	var publishedAt time.Time
	f.session.On("Publish", "picow/readings", mock.Anything).Run(func(args mock.Arguments) {
		publishedAt = f.clock.Now()
		cancel()
	}).Return(nil).Once()

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	f.sensor.AssertNumberOfCalls(t, "Read", 3)
	f.session.AssertNumberOfCalls(t, "Publish", 1)
	assert.Equal(t, 10*time.Second, publishedAt.Sub(time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)))
	assert.Equal(t, 0, f.clock.Sleeps(5*time.Second))
	assert.Equal(t, 200, f.clock.Sleeps(TelemetryDefaultIdleInterval))
	assert.Equal(t, uint64(3), loop.Status().Ticks)
	assert.Equal(t, uint64(1), loop.Status().Published)

	f.session.AssertExpectations(t)
	f.sensor.AssertExpectations(t)
}

func TestTelemetryLoop_Run_PublishFaultRestarts(t *testing.T) {
	f := newLoopFixture()
	f.connected()
	loop := f.loop(t)

	f.session.On("PollInbound").Return(nil).Once()
	f.session.On("Publish", "picow/readings", mock.Anything).Return(fmt.Errorf("%w: broken pipe", ErrBrokerIO)).Once()
	f.session.On("Close").Return(nil).Once()
	f.sensor.On("Read").Return(Measurement{Temperature: float(21.5), Humidity: float(40.0)}, nil).Once()

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRestart)
	assert.ErrorIs(t, err, ErrBrokerIO)

	assert.Equal(t, LoopRestarting, loop.Status().State)
	assert.Equal(t, 10*time.Second, f.clock.LastSleep())
	assert.Equal(t, 1, f.clock.Sleeps(10*time.Second))
	assert.Equal(t, 0, f.clock.Sleeps(5*time.Second))
	assert.Equal(t, uint64(0), loop.Status().Published)

	f.session.AssertExpectations(t)
	f.sensor.AssertExpectations(t)
}

func TestTelemetryLoop_Run_PollFaultRestarts(t *testing.T) {
	f := newLoopFixture()
	f.connected()
	loop := f.loop(t)

	f.session.On("PollInbound").Return(fmt.Errorf("%w: connection lost", ErrBrokerIO)).Once()
	f.session.On("Close").Return(nil).Once()

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrRestart)
	assert.ErrorIs(t, err, ErrBrokerIO)
	assert.Equal(t, 10*time.Second, f.clock.LastSleep())

	f.session.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	f.sensor.AssertNotCalled(t, "Read")
	f.session.AssertExpectations(t)
}

func TestTelemetryLoop_Run_NetworkFaultRestarts(t *testing.T) {
	f := newLoopFixture()
	loop := f.loop(t)

	f.network.On("Connect", mock.Anything, testCredentials, TelemetryDefaultConnectTimeout).
		Return(&NetworkSession{State: NetworkFailed}, fmt.Errorf("%w: link status bad-auth", ErrNetworkUnreachable)).Once()

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrRestart)
	assert.ErrorIs(t, err, ErrNetworkUnreachable)
	assert.Equal(t, 10*time.Second, f.clock.LastSleep())

	f.broker.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.network.AssertExpectations(t)
}

func TestTelemetryLoop_Run_BrokerConnectFaultRestarts(t *testing.T) {
	f := newLoopFixture()
	loop := f.loop(t)

	f.network.On("Connect", mock.Anything, testCredentials, TelemetryDefaultConnectTimeout).
		Return(&NetworkSession{State: NetworkConnected, Status: LinkUp, Address: "10.0.0.9"}, nil).Once()
	f.broker.On("Connect", mock.Anything, testIdentity, testEndpoint, mock.Anything).
		Return(nil, fmt.Errorf("%w: connection refused", ErrBrokerConnectFailed)).Once()

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrRestart)
	assert.ErrorIs(t, err, ErrBrokerConnectFailed)
	assert.Equal(t, 1, f.clock.Sleeps(10*time.Second))

	f.network.AssertExpectations(t)
	f.broker.AssertExpectations(t)
}

func TestTelemetryLoop_Run_DispatchesInbound(t *testing.T) {
	f := newLoopFixture()
	f.network.On("Connect", mock.Anything, testCredentials, TelemetryDefaultConnectTimeout).
		Return(&NetworkSession{State: NetworkConnected, Status: LinkUp, Address: "10.0.0.9"}, nil).Once()

	var onMessage MessageHandler
	f.broker.On("Connect", mock.Anything, testIdentity, testEndpoint, mock.Anything).Run(func(args mock.Arguments) {
		onMessage = args.Get(3).(MessageHandler)
	}).Return(f.session, nil).Once()

	loop := f.loop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	polls := 0
	f.session.On("PollInbound").Run(func(args mock.Arguments) {
		polls++
		switch polls {
		case 1:
			onMessage("picow/led", []byte("LEDon"))
		case 2:
			onMessage("picow/led", []byte("LEDoff"))
		case 3:
			cancel()
		}
	}).Return(nil)
	f.session.On("Publish", "picow/readings", mock.Anything).Return(nil)
	f.session.On("Close").Return(nil).Once()
	f.sensor.On("Read").Return(Measurement{Temperature: float(21.5), Humidity: float(40.0)}, nil)

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"LEDon", "LEDoff"}, f.received)
	assert.Equal(t, 3, polls)

	f.session.AssertExpectations(t)
}

func TestTelemetryLoop_Run_CancelledDuringBootstrap(t *testing.T) {
	f := newLoopFixture()
	loop := f.loop(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.network.On("Connect", mock.Anything, testCredentials, TelemetryDefaultConnectTimeout).Run(func(args mock.Arguments) {
		cancel()
	}).Return(nil, context.Canceled).Once()

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRestart)
	assert.Equal(t, 0, f.clock.Sleeps(10*time.Second))
}
