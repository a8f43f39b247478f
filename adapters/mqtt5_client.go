package adapters

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"picow-telemetry/application"

	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"
)

const MQTT5DefaultKeepAlive uint16 = 60

type MQTT5ClientParams struct {
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	KeepAlive      uint16
	InboundBuffer  int

	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	Log zerolog.Logger
}

func (m *MQTT5ClientParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}
	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}
	if m.KeepAlive == 0 {
		m.KeepAlive = MQTT5DefaultKeepAlive
	}
	if m.InboundBuffer == 0 {
		m.InboundBuffer = MQTTDefaultInboundBuffer
	}
	if m.Dial == nil {
		m.Dial = (&net.Dialer{}).DialContext
	}
}

// MQTT5Client opens MQTT 5 sessions over a single TCP connection with the
// low level paho.golang client, which never reconnects on its own.
type MQTT5Client struct {
	params MQTT5ClientParams

	log zerolog.Logger
}

func NewMQTT5Client(params MQTT5ClientParams) *MQTT5Client {
	params.EnsureDefaults()

	return &MQTT5Client{params: params, log: params.Log}
}

func (m *MQTT5Client) Connect(ctx context.Context, identity application.DeviceIdentity, endpoint application.BrokerEndpoint, onMessage application.MessageHandler) (application.BrokerSession, error) {
	addr, err := brokerAddress(endpoint.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", application.ErrBrokerConnectFailed, err)
	}

	connCtx, cancel := context.WithTimeout(ctx, m.params.ConnectTimeout)
	defer cancel()

	m.log.Info().Str("broker", addr).Str("client_id", identity.ClientID).Msg("connecting to broker")
	conn, err := m.params.Dial(connCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", application.ErrBrokerConnectFailed, addr, err)
	}

	s := &mqtt5Session{
		inbound:        make(chan inboundMessage, m.params.InboundBuffer),
		onMessage:      onMessage,
		publishTimeout: m.params.PublishTimeout,
		log:            m.log,
	}
	s.client = paho.NewClient(paho.ClientConfig{
		ClientID:           identity.ClientID,
		Conn:               conn,
		OnPublishReceived:  []func(paho.PublishReceived) (bool, error){s.enqueue},
		OnClientError:      s.onClientError,
		OnServerDisconnect: s.onServerDisconnect,
	})
	s.client.SetErrorLogger(pahoLogger{log: m.log, level: zerolog.ErrorLevel})

	if _, err := s.client.Connect(connCtx, &paho.Connect{
		ClientID:   identity.ClientID,
		KeepAlive:  m.params.KeepAlive,
		CleanStart: true,
	}); err != nil {
		s.state.Store(int32(application.BrokerClosed))
		_ = conn.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", application.ErrBrokerConnectFailed, addr, err)
	}

	sa, err := s.client.Subscribe(connCtx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: endpoint.SubscribeTopic, QoS: 0}},
	})
	if err == nil {
		for _, reason := range sa.Reasons {
			if reason >= 0x80 {
				err = fmt.Errorf("suback reason code 0x%02x", reason)
			}
		}
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", application.ErrBrokerConnectFailed, endpoint.SubscribeTopic, err)
	}

	s.state.Store(int32(application.BrokerSubscribed))
	return s, nil
}

var _ application.BrokerClient = &MQTT5Client{}

type mqtt5Session struct {
	client *paho.Client

	inbound        chan inboundMessage
	onMessage      application.MessageHandler
	publishTimeout time.Duration

	state atomic.Int32
	lost  atomic.Pointer[error]

	log zerolog.Logger
}

func (s *mqtt5Session) State() application.BrokerState {
	return application.BrokerState(s.state.Load())
}

func (s *mqtt5Session) PollInbound() error {
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

func (s *mqtt5Session) Publish(topic string, payload []byte) error {
	if err := s.fault(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()

	if _, err := s.client.Publish(ctx, &paho.Publish{Topic: topic, QoS: 0, Payload: payload}); err != nil {
		_ = s.Close()
		return fmt.Errorf("%w: publish %s: %v", application.ErrBrokerIO, topic, err)
	}
	return nil
}

func (s *mqtt5Session) Close() error {
	if application.BrokerState(s.state.Swap(int32(application.BrokerClosed))) == application.BrokerClosed {
		return nil
	}
	return s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (s *mqtt5Session) fault() error {
	if errp := s.lost.Load(); errp != nil {
		_ = s.Close()
		return fmt.Errorf("%w: connection lost: %v", application.ErrBrokerIO, *errp)
	}
	if s.State() == application.BrokerClosed {
		return fmt.Errorf("%w: %v", application.ErrBrokerIO, ErrMQTTNotConnected)
	}
	return nil
}

func (s *mqtt5Session) enqueue(pr paho.PublishReceived) (bool, error) {
	payload := make([]byte, len(pr.Packet.Payload))
	copy(payload, pr.Packet.Payload)

	offerInbound(s.inbound, inboundMessage{topic: pr.Packet.Topic, payload: payload}, s.log)
	return true, nil
}

func (s *mqtt5Session) onClientError(err error) {
	s.log.Warn().Err(err).Msg("connection lost")
	s.lost.Store(&err)
}

func (s *mqtt5Session) onServerDisconnect(d *paho.Disconnect) {
	err := fmt.Errorf("server disconnect, reason code 0x%02x", d.ReasonCode)
	s.log.Warn().Err(err).Msg("connection lost")
	s.lost.Store(&err)
}

var _ application.BrokerSession = &mqtt5Session{}
