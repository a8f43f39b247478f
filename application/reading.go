package application

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const TimestampLayout = "2006-01-02T15:04:05"

type PayloadFormat string

const (
	// PayloadFormatJSON is the legacy layout with the timestamp quoted,
	// which makes it valid JSON.
	PayloadFormatJSON PayloadFormat = "json"
	// PayloadFormatLegacy reproduces the legacy firmware payload byte for
	// byte, including the unquoted timestamp. It is not valid JSON.
	PayloadFormatLegacy PayloadFormat = "legacy"
)

func ParsePayloadFormat(s string) (PayloadFormat, error) {
	switch PayloadFormat(s) {
	case PayloadFormatJSON, PayloadFormatLegacy:
		return PayloadFormat(s), nil
	default:
		return "", fmt.Errorf("invalid payload format: %q", s)
	}
}

type Reading struct {
	DeviceID    int
	Temperature float64
	Humidity    float64
	Timestamp   time.Time
}

// NewReading builds a Reading from a complete, finite measurement.
func NewReading(deviceID int, m Measurement, ts time.Time) (Reading, error) {
	if !m.Complete() {
		return Reading{}, fmt.Errorf("%w: measurement incomplete", ErrSensor)
	}
	if !finite(*m.Temperature) || !finite(*m.Humidity) {
		return Reading{}, fmt.Errorf("%w: measurement not finite", ErrSensor)
	}

	return Reading{
		DeviceID:    deviceID,
		Temperature: *m.Temperature,
		Humidity:    *m.Humidity,
		Timestamp:   ts,
	}, nil
}

// readingTemplate is shared by both formats so they differ only in how the
// timestamp is rendered.
const readingTemplate = `{"picowId": %d, "temperature": %s, "humidity": %s, "timestamp": %s}`

func (r Reading) Encode(format PayloadFormat) ([]byte, error) {
	ts := r.Timestamp.Format(TimestampLayout)

	switch format {
	case PayloadFormatLegacy:
	case PayloadFormatJSON, "":
		quoted, err := json.Marshal(ts)
		if err != nil {
			return nil, err
		}
		ts = string(quoted)
	default:
		return nil, fmt.Errorf("invalid payload format: %q", format)
	}

	return []byte(fmt.Sprintf(readingTemplate,
		r.DeviceID, formatSensorFloat(r.Temperature), formatSensorFloat(r.Humidity), ts)), nil
}

// formatSensorFloat keeps a trailing ".0" on whole numbers so consumers of
// the legacy firmware see the same number text.
func formatSensorFloat(f float64) string {
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
