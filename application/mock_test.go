package application

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockNetworkConnector struct {
	mock.Mock
}

func (m *MockNetworkConnector) Connect(ctx context.Context, creds Credentials, timeoutSeconds int) (*NetworkSession, error) {
	args := m.Called(ctx, creds, timeoutSeconds)

	var session *NetworkSession
	if s := args.Get(0); s != nil {
		session = s.(*NetworkSession)
	}
	return session, args.Error(1)
}

var _ NetworkConnector = &MockNetworkConnector{}

type MockBrokerClient struct {
	mock.Mock
}

func (m *MockBrokerClient) Connect(ctx context.Context, identity DeviceIdentity, endpoint BrokerEndpoint, onMessage MessageHandler) (BrokerSession, error) {
	args := m.Called(ctx, identity, endpoint, onMessage)

	var session BrokerSession
	if s := args.Get(0); s != nil {
		session = s.(BrokerSession)
	}
	return session, args.Error(1)
}

var _ BrokerClient = &MockBrokerClient{}

type MockBrokerSession struct {
	mock.Mock
}

func (m *MockBrokerSession) PollInbound() error {
	return m.Called().Error(0)
}

func (m *MockBrokerSession) Publish(topic string, payload []byte) error {
	return m.Called(topic, payload).Error(0)
}

func (m *MockBrokerSession) State() BrokerState {
	return m.Called().Get(0).(BrokerState)
}

func (m *MockBrokerSession) Close() error {
	return m.Called().Error(0)
}

var _ BrokerSession = &MockBrokerSession{}

type MockSensor struct {
	mock.Mock
}

func (m *MockSensor) Read() (Measurement, error) {
	args := m.Called()
	return args.Get(0).(Measurement), args.Error(1)
}

var _ Sensor = &MockSensor{}

type MockIndicator struct {
	mock.Mock
}

func (m *MockIndicator) Set(on bool) error {
	return m.Called(on).Error(0)
}

var _ Indicator = &MockIndicator{}

// fakeClock advances its time on every Sleep instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Sleeps(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

func (c *fakeClock) LastSleep() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sleeps) == 0 {
		return 0
	}
	return c.sleeps[len(c.sleeps)-1]
}

var _ Clock = &fakeClock{}

func float(f float64) *float64 {
	return &f
}
