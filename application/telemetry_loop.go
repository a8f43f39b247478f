package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	TelemetryDefaultConnectTimeout  = 10
	TelemetryDefaultMessageInterval = 5 * time.Second
	TelemetryDefaultRestartDelay    = 10 * time.Second
	TelemetryDefaultIdleInterval    = 50 * time.Millisecond
)

// ErrRestart ends a lifetime that hit a fatal fault. The fault is wrapped
// alongside it.
var ErrRestart = fmt.Errorf("restart required")

type LoopState int32

const (
	LoopBootstrapping LoopState = iota
	LoopRunning
	LoopRestarting
)

func (s LoopState) String() string {
	switch s {
	case LoopBootstrapping:
		return "bootstrapping"
	case LoopRunning:
		return "running"
	case LoopRestarting:
		return "restarting"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

type LoopStatus struct {
	State         LoopState
	Ticks         uint64
	Published     uint64
	LastPublished time.Time
}

type NetworkConnector interface {
	Connect(ctx context.Context, creds Credentials, timeoutSeconds int) (*NetworkSession, error)
}

type TelemetryLoopParams struct {
	Network   NetworkConnector
	Broker    BrokerClient
	Sensor    Sensor
	OnMessage MessageHandler
	Clock     Clock

	Credentials Credentials
	Identity    DeviceIdentity
	Endpoint    BrokerEndpoint

	ConnectTimeout  int
	MessageInterval time.Duration
	RestartDelay    time.Duration
	IdleInterval    time.Duration
	PayloadFormat   PayloadFormat

	Log zerolog.Logger
}

func (p *TelemetryLoopParams) EnsureDefaults() {
	if p.Clock == nil {
		p.Clock = SystemClock{}
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = TelemetryDefaultConnectTimeout
	}
	if p.MessageInterval == 0 {
		p.MessageInterval = TelemetryDefaultMessageInterval
	}
	if p.RestartDelay == 0 {
		p.RestartDelay = TelemetryDefaultRestartDelay
	}
	if p.IdleInterval == 0 {
		p.IdleInterval = TelemetryDefaultIdleInterval
	}
	if p.PayloadFormat == "" {
		p.PayloadFormat = PayloadFormatJSON
	}
}

// TelemetryLoop drives one lifetime of the device: bootstrap the network
// and broker session, then poll commands and publish readings until a
// fault ends it. Everything it touches belongs to that lifetime only.
type TelemetryLoop struct {
	params TelemetryLoopParams

	lastMessage time.Time

	state         atomic.Int32
	ticks         atomic.Uint64
	published     atomic.Uint64
	lastPublished atomic.Pointer[time.Time]

	log zerolog.Logger
}

func NewTelemetryLoop(params TelemetryLoopParams) (*TelemetryLoop, error) {
	if params.Network == nil {
		return nil, fmt.Errorf("Network is nil")
	}
	if params.Broker == nil {
		return nil, fmt.Errorf("Broker is nil")
	}
	if params.Sensor == nil {
		return nil, fmt.Errorf("Sensor is nil")
	}
	if params.OnMessage == nil {
		return nil, fmt.Errorf("OnMessage is nil")
	}
	params.EnsureDefaults()

	t := &TelemetryLoop{params: params, log: params.Log}
	t.lastPublished.Store(&time.Time{})
	return t, nil
}

func (t *TelemetryLoop) Status() LoopStatus {
	return LoopStatus{
		State:         LoopState(t.state.Load()),
		Ticks:         t.ticks.Load(),
		Published:     t.published.Load(),
		LastPublished: *t.lastPublished.Load(),
	}
}

// Run executes the lifetime. It returns ctx.Err() on shutdown, otherwise
// an error wrapping ErrRestart once the restart delay has elapsed.
func (t *TelemetryLoop) Run(ctx context.Context) error {
	t.setState(LoopBootstrapping)

	network, err := t.params.Network.Connect(ctx, t.params.Credentials, t.params.ConnectTimeout)
	if err != nil {
		return t.restart(ctx, err)
	}

	session, err := t.params.Broker.Connect(ctx, t.params.Identity, t.params.Endpoint, t.params.OnMessage)
	if err != nil {
		return t.restart(ctx, err)
	}
	t.log.Info().
		Str("broker", t.params.Endpoint.Host).
		Str("client_id", t.params.Identity.ClientID).
		Str("topic", t.params.Endpoint.SubscribeTopic).
		Str("ip", network.Address).
		Msg("connected to broker and subscribed")

	t.setState(LoopRunning)
	err = t.running(ctx, session)

	if closeErr := session.Close(); closeErr != nil {
		t.log.Debug().Err(closeErr).Msg("close broker session")
	}
	if err == nil {
		return ctx.Err()
	}
	return t.restart(ctx, err)
}

// running returns nil when ctx is done and the fatal fault otherwise.
func (t *TelemetryLoop) running(ctx context.Context, session BrokerSession) error {
	for ctx.Err() == nil {
		if err := session.PollInbound(); err != nil {
			return err
		}
		t.log.Trace().Uint64("counter", t.ticks.Load()).Msg("tick")

		now := t.params.Clock.Now()
		if now.Sub(t.lastMessage) < t.params.MessageInterval {
			if err := t.params.Clock.Sleep(ctx, t.params.IdleInterval); err != nil {
				return nil
			}
			continue
		}

		if err := t.sampleAndPublish(ctx, session, now); err != nil {
			return err
		}
	}
	return nil
}

func (t *TelemetryLoop) sampleAndPublish(ctx context.Context, session BrokerSession, now time.Time) error {
	defer t.ticks.Add(1)

	reading, err := t.read()
	if err != nil {
		t.log.Warn().Err(err).Msg("sensor error, skipping publish")
		t.lastMessage = now
		return nil
	}

	payload, err := reading.Encode(t.params.PayloadFormat)
	if err != nil {
		t.log.Warn().Err(err).Msg("failed to encode reading, skipping publish")
		t.lastMessage = now
		return nil
	}

	t.log.Info().Str("topic", t.params.Endpoint.PublishTopic).Bytes("payload", payload).Msg("publishing")
	if err := session.Publish(t.params.Endpoint.PublishTopic, payload); err != nil {
		return err
	}

	published := t.params.Clock.Now()
	t.lastMessage = published
	t.lastPublished.Store(&published)
	t.published.Add(1)

	// Inbound commands wait until this pause is over.
	_ = t.params.Clock.Sleep(ctx, t.params.MessageInterval)
	return nil
}

func (t *TelemetryLoop) read() (Reading, error) {
	m, err := t.params.Sensor.Read()
	if err != nil {
		if !errors.Is(err, ErrSensor) {
			err = fmt.Errorf("%w: %v", ErrSensor, err)
		}
		return Reading{}, err
	}
	return NewReading(t.params.Identity.DeviceID, m, t.params.Clock.Now())
}

func (t *TelemetryLoop) restart(ctx context.Context, fault error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	t.setState(LoopRestarting)
	t.log.Error().Err(fault).Dur("delay", t.params.RestartDelay).Msg("failed, restarting")

	if err := t.params.Clock.Sleep(ctx, t.params.RestartDelay); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRestart, fault)
}

func (t *TelemetryLoop) setState(s LoopState) {
	t.state.Store(int32(s))
}
