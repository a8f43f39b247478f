package application

import (
	"context"
	"fmt"
	"time"
)

var ErrSensor = fmt.Errorf("sensor read failed")

// Measurement is what the sensor driver returned. A nil field means the
// driver could not produce that value.
type Measurement struct {
	Temperature *float64
	Humidity    *float64
}

func (m Measurement) Complete() bool {
	return m.Temperature != nil && m.Humidity != nil
}

type Sensor interface {
	Read() (Measurement, error)
}

type Indicator interface {
	Set(on bool) error
}

// Clock is the time source of a lifetime. Sleep returns early only when
// ctx is done.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Clock = SystemClock{}
