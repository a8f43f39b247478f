package adapters

import (
	"fmt"
	"os"
	"sync/atomic"

	"picow-telemetry/application"

	"github.com/rs/zerolog"
)

// LEDIndicator drives a LED through its sysfs brightness file, e.g.
// /sys/class/leds/led0/brightness.
type LEDIndicator struct {
	Path string
}

func NewLEDIndicator(path string) (*LEDIndicator, error) {
	if path == "" {
		return nil, fmt.Errorf("led path is empty")
	}
	return &LEDIndicator{Path: path}, nil
}

func (l *LEDIndicator) Set(on bool) error {
	value := "0"
	if on {
		value = "1"
	}

	if err := os.WriteFile(l.Path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("set led %s: %w", l.Path, err)
	}
	return nil
}

// LogIndicator stands in for a LED on hosts without one.
type LogIndicator struct {
	on  atomic.Bool
	log zerolog.Logger
}

func NewLogIndicator(log zerolog.Logger) *LogIndicator {
	return &LogIndicator{log: log}
}

func (l *LogIndicator) Set(on bool) error {
	if l.on.Swap(on) != on {
		l.log.Info().Bool("on", on).Msg("indicator")
	}
	return nil
}

func (l *LogIndicator) On() bool {
	return l.on.Load()
}

var _ application.Indicator = &LEDIndicator{}
var _ application.Indicator = &LogIndicator{}
