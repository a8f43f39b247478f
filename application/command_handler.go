package application

import (
	"bytes"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	CommandLEDOn  = []byte("LEDon")
	CommandLEDOff = []byte("LEDoff")
)

type CommandHandlerParams struct {
	Indicator Indicator

	Log zerolog.Logger
}

// CommandHandler turns inbound broker messages into indicator changes.
// Topics are not checked, the broker subscription already routes them.
type CommandHandler struct {
	indicator Indicator
	on        bool

	log zerolog.Logger
}

func NewCommandHandler(params CommandHandlerParams) (*CommandHandler, error) {
	if params.Indicator == nil {
		return nil, fmt.Errorf("Indicator is nil")
	}
	return &CommandHandler{indicator: params.Indicator, log: params.Log}, nil
}

func (c *CommandHandler) OnMessage(topic string, payload []byte) {
	c.log.Info().Str("topic", topic).Bytes("payload", payload).Msg("message received")

	var on bool
	switch {
	case bytes.Equal(payload, CommandLEDOn):
		on = true
	case bytes.Equal(payload, CommandLEDOff):
		on = false
	default:
		c.log.Info().Bytes("payload", payload).Msg("unknown command ignored")
		return
	}

	if err := c.indicator.Set(on); err != nil {
		c.log.Warn().Err(err).Bool("on", on).Msg("failed to set indicator")
		return
	}
	c.on = on
	c.log.Info().Bool("on", on).Msg("indicator set")
}

// State reports the last commanded indicator state.
func (c *CommandHandler) State() bool {
	return c.on
}
