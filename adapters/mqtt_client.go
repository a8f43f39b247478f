package adapters

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"picow-telemetry/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout = 30 * time.Second
	MQTTDefaultPublishTimeout = 5 * time.Second
	MQTTDefaultKeepAlive      = 60 * time.Second
	MQTTDefaultInboundBuffer  = 16
)

var (
	ErrMQTTNotConnected   = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout = fmt.Errorf("publish timeout")
)

type MQTTClientParams struct {
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	KeepAlive      time.Duration

	// InboundBuffer is how many received messages may wait for
	// PollInbound before new ones are dropped.
	InboundBuffer int

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.KeepAlive == 0 {
		m.KeepAlive = MQTTDefaultKeepAlive
	}

	if m.InboundBuffer == 0 {
		m.InboundBuffer = MQTTDefaultInboundBuffer
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTClient opens MQTT 3.1.1 sessions with paho. Automatic reconnects are
// disabled: a lost connection ends the session.
type MQTTClient struct {
	params MQTTClientParams

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	return &MQTTClient{params: params, log: params.Log}
}

func (m *MQTTClient) Connect(ctx context.Context, identity application.DeviceIdentity, endpoint application.BrokerEndpoint, onMessage application.MessageHandler) (application.BrokerSession, error) {
	brokerURL, err := BrokerURL(endpoint.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", application.ErrBrokerConnectFailed, err)
	}

	s := &mqttSession{
		inbound:        make(chan inboundMessage, m.params.InboundBuffer),
		onMessage:      onMessage,
		publishTimeout: m.params.PublishTimeout,
		log:            m.log,
	}
	s.client = m.params.NewClientFunc(m.newClientOptions(brokerURL, identity.ClientID, s))

	m.log.Info().Str("broker", brokerURL).Str("client_id", identity.ClientID).Msg("connecting to broker")
	if err := waitToken(ctx, s.client.Connect(), m.params.ConnectTimeout, ErrMQTTConnectTimeout); err != nil {
		// A connect still in flight would otherwise leave a live client behind.
		s.state.Store(int32(application.BrokerClosed))
		s.client.Disconnect(0)
		return nil, fmt.Errorf("%w: connect %s: %v", application.ErrBrokerConnectFailed, brokerURL, err)
	}

	token := s.client.Subscribe(endpoint.SubscribeTopic, 0, s.enqueue)
	if err := waitToken(ctx, token, m.params.ConnectTimeout, ErrMQTTConnectTimeout); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", application.ErrBrokerConnectFailed, endpoint.SubscribeTopic, err)
	}

	s.state.Store(int32(application.BrokerSubscribed))
	return s, nil
}

func (m *MQTTClient) newClientOptions(brokerURL, clientID string, s *mqttSession) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(m.params.KeepAlive)
	opts.SetConnectTimeout(m.params.ConnectTimeout)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetDefaultPublishHandler(s.enqueue)
	opts.OnConnect = s.OnConnect
	opts.OnConnectionLost = s.OnConnectionLost

	return opts
}

var _ application.BrokerClient = &MQTTClient{}

type inboundMessage struct {
	topic   string
	payload []byte
}

// offerInbound queues msg without blocking. When the queue is full the
// oldest message is dropped so the latest command always survives.
func offerInbound(inbound chan inboundMessage, msg inboundMessage, log zerolog.Logger) {
	for {
		select {
		case inbound <- msg:
			return
		default:
		}

		select {
		case dropped := <-inbound:
			log.Warn().Str("topic", dropped.topic).Bytes("payload", dropped.payload).Msg("inbound queue full, oldest message dropped")
		default:
		}
	}
}

type mqttSession struct {
	client mqtt.Client

	inbound        chan inboundMessage
	onMessage      application.MessageHandler
	publishTimeout time.Duration

	state atomic.Int32
	lost  atomic.Pointer[error]

	log zerolog.Logger
}

func (s *mqttSession) State() application.BrokerState {
	return application.BrokerState(s.state.Load())
}

func (s *mqttSession) PollInbound() error {
	if err := s.fault(); err != nil {
		return err
	}

	select {
	case msg := <-s.inbound:
		s.onMessage(msg.topic, msg.payload)
	default:
	}
	return nil
}

func (s *mqttSession) Publish(topic string, payload []byte) error {
	if err := s.fault(); err != nil {
		return err
	}

	token := s.client.Publish(topic, 0, false, payload)
	if err := waitToken(context.Background(), token, s.publishTimeout, ErrMQTTPublishTimeout); err != nil {
		_ = s.Close()
		return fmt.Errorf("%w: publish %s: %v", application.ErrBrokerIO, topic, err)
	}
	return nil
}

func (s *mqttSession) Close() error {
	if application.BrokerState(s.state.Swap(int32(application.BrokerClosed))) == application.BrokerClosed {
		return nil
	}
	s.client.Disconnect(250)
	return nil
}

func (s *mqttSession) fault() error {
	if errp := s.lost.Load(); errp != nil {
		_ = s.Close()
		return fmt.Errorf("%w: connection lost: %v", application.ErrBrokerIO, *errp)
	}
	if s.State() == application.BrokerClosed {
		return fmt.Errorf("%w: %v", application.ErrBrokerIO, ErrMQTTNotConnected)
	}
	return nil
}

// enqueue runs on paho's goroutine; it only hands the message over.
func (s *mqttSession) enqueue(client mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	offerInbound(s.inbound, inboundMessage{topic: msg.Topic(), payload: payload}, s.log)
}

func (s *mqttSession) OnConnect(client mqtt.Client) {
	s.log.Info().Msg("connected")
}

func (s *mqttSession) OnConnectionLost(client mqtt.Client, err error) {
	s.log.Warn().Err(err).Msg("connection lost")
	if err == nil {
		err = ErrMQTTNotConnected
	}
	s.lost.Store(&err)
}

var _ application.BrokerSession = &mqttSession{}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration, timeoutErr error) error {
	tc := time.NewTimer(timeout)
	defer tc.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.C:
		return timeoutErr
	case <-token.Done():
		return token.Error()
	}
}
