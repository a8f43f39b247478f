package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	NetworkDefaultPollInterval  = time.Second
	NetworkDefaultBlinkDuration = 100 * time.Millisecond
)

var ErrNetworkUnreachable = fmt.Errorf("network unreachable")

// LinkStatus is the association state reported by the wireless stack.
type LinkStatus int

const (
	LinkBadAuth LinkStatus = -3
	LinkNoNet   LinkStatus = -2
	LinkFail    LinkStatus = -1
	LinkDown    LinkStatus = 0
	LinkJoin    LinkStatus = 1
	LinkNoIP    LinkStatus = 2
	LinkUp      LinkStatus = 3
)

func (s LinkStatus) String() string {
	switch s {
	case LinkBadAuth:
		return "bad-auth"
	case LinkNoNet:
		return "no-net"
	case LinkFail:
		return "fail"
	case LinkDown:
		return "down"
	case LinkJoin:
		return "join"
	case LinkNoIP:
		return "no-ip"
	case LinkUp:
		return "up"
	default:
		return fmt.Sprintf("LinkStatus(%d)", int(s))
	}
}

type Credentials struct {
	SSID     string
	Password string
}

type LinkDriver interface {
	// Associate starts an association attempt and returns without waiting
	// for it to complete.
	Associate(ssid, password string) error
	Status() LinkStatus
	Address() string
}

type NetworkState int

const (
	NetworkDisconnected NetworkState = iota
	NetworkConnecting
	NetworkConnected
	NetworkFailed
)

func (s NetworkState) String() string {
	switch s {
	case NetworkDisconnected:
		return "disconnected"
	case NetworkConnecting:
		return "connecting"
	case NetworkConnected:
		return "connected"
	case NetworkFailed:
		return "failed"
	default:
		return fmt.Sprintf("NetworkState(%d)", int(s))
	}
}

type NetworkSession struct {
	State   NetworkState
	Status  LinkStatus
	Address string
}

type NetworkSessionManagerParams struct {
	Link      LinkDriver
	Indicator Indicator
	Clock     Clock

	PollInterval  time.Duration
	BlinkDuration time.Duration

	Log zerolog.Logger
}

func (p *NetworkSessionManagerParams) EnsureDefaults() {
	if p.Clock == nil {
		p.Clock = SystemClock{}
	}
	if p.PollInterval == 0 {
		p.PollInterval = NetworkDefaultPollInterval
	}
	if p.BlinkDuration == 0 {
		p.BlinkDuration = NetworkDefaultBlinkDuration
	}
}

type NetworkSessionManager struct {
	params NetworkSessionManagerParams

	log zerolog.Logger
}

func NewNetworkSessionManager(params NetworkSessionManagerParams) (*NetworkSessionManager, error) {
	if params.Link == nil {
		return nil, fmt.Errorf("Link is nil")
	}
	params.EnsureDefaults()
	return &NetworkSessionManager{params: params, log: params.Log}, nil
}

// Connect associates with the network and polls the link until it is up,
// a negative status is reported, or timeoutSeconds polls have been made.
func (m *NetworkSessionManager) Connect(ctx context.Context, creds Credentials, timeoutSeconds int) (*NetworkSession, error) {
	session := &NetworkSession{State: NetworkConnecting, Status: LinkDown}

	m.log.Info().Str("ssid", creds.SSID).Int("timeout", timeoutSeconds).Msg("connecting to network")
	if err := m.params.Link.Associate(creds.SSID, creds.Password); err != nil {
		session.State = NetworkFailed
		return session, fmt.Errorf("%w: associate: %v", ErrNetworkUnreachable, err)
	}

	for attempt := 1; attempt <= timeoutSeconds; attempt++ {
		session.Status = m.params.Link.Status()

		if session.Status < 0 || session.Status > LinkUp {
			session.State = NetworkFailed
			return session, fmt.Errorf("%w: link status %s", ErrNetworkUnreachable, session.Status)
		}
		if session.Status == LinkUp {
			session.State = NetworkConnected
			session.Address = m.params.Link.Address()
			m.log.Info().Str("ip", session.Address).Msg("connected")
			m.blink(ctx, int(session.Status))
			return session, nil
		}

		m.log.Info().Stringer("status", session.Status).Msg("waiting for connection...")
		if attempt == timeoutSeconds {
			break
		}
		if err := m.params.Clock.Sleep(ctx, m.params.PollInterval); err != nil {
			session.State = NetworkFailed
			return session, err
		}
	}

	session.State = NetworkFailed
	return session, fmt.Errorf("%w: timed out with link status %s", ErrNetworkUnreachable, session.Status)
}

func (m *NetworkSessionManager) blink(ctx context.Context, times int) {
	if m.params.Indicator == nil {
		return
	}

	for i := 0; i < times; i++ {
		if err := m.params.Indicator.Set(true); err != nil {
			m.log.Warn().Err(err).Msg("failed to blink indicator")
			return
		}
		_ = m.params.Clock.Sleep(ctx, m.params.BlinkDuration)
		if err := m.params.Indicator.Set(false); err != nil {
			m.log.Warn().Err(err).Msg("failed to blink indicator")
			return
		}
	}
}
