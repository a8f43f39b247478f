package application

import (
	"context"
	"fmt"
)

var (
	ErrBrokerConnectFailed = fmt.Errorf("broker connect failed")
	ErrBrokerIO            = fmt.Errorf("broker i/o error")
)

type DeviceIdentity struct {
	ClientID string
	DeviceID int
}

type BrokerEndpoint struct {
	Host           string
	SubscribeTopic string
	PublishTopic   string
}

type BrokerState int

const (
	BrokerUnconnected BrokerState = iota
	BrokerSubscribed
	BrokerClosed
)

func (s BrokerState) String() string {
	switch s {
	case BrokerUnconnected:
		return "unconnected"
	case BrokerSubscribed:
		return "subscribed"
	case BrokerClosed:
		return "closed"
	default:
		return fmt.Sprintf("BrokerState(%d)", int(s))
	}
}

// MessageHandler receives inbound messages. It is only ever called from
// BrokerSession.PollInbound, on the goroutine that polls.
type MessageHandler func(topic string, payload []byte)

type BrokerSession interface {
	// PollInbound delivers at most one pending message and never blocks.
	PollInbound() error
	Publish(topic string, payload []byte) error

	State() BrokerState
	Close() error
}

type BrokerClient interface {
	Connect(ctx context.Context, identity DeviceIdentity, endpoint BrokerEndpoint, onMessage MessageHandler) (BrokerSession, error)
}
