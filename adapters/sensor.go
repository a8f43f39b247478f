package adapters

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"picow-telemetry/application"
)

const (
	IIOTemperatureFile = "in_temp_input"
	IIOHumidityFile    = "in_humidityrelative_input"
)

// IIOSensor reads a DHT-class sensor exposed through the Linux industrial
// I/O subsystem, e.g. /sys/bus/iio/devices/iio:device0. Values are in
// milli-units.
type IIOSensor struct {
	Dir string
}

func NewIIOSensor(dir string) (*IIOSensor, error) {
	if dir == "" {
		return nil, fmt.Errorf("sensor path is empty")
	}
	return &IIOSensor{Dir: dir}, nil
}

func (s *IIOSensor) Read() (application.Measurement, error) {
	temperature, err := s.readChannel(IIOTemperatureFile)
	if err != nil {
		return application.Measurement{}, err
	}

	humidity, err := s.readChannel(IIOHumidityFile)
	if err != nil {
		return application.Measurement{Temperature: temperature}, err
	}

	return application.Measurement{Temperature: temperature, Humidity: humidity}, nil
}

func (s *IIOSensor) readChannel(name string) (*float64, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", application.ErrSensor, err)
	}

	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", application.ErrSensor, name, err)
	}

	value := float64(milli) / 1000
	return &value, nil
}

// SimulatedSensor produces plausible readings drifting around a base value.
type SimulatedSensor struct {
	mu sync.Mutex

	rnd         *rand.Rand
	temperature float64
	humidity    float64
}

func NewSimulatedSensor(seed int64) *SimulatedSensor {
	return &SimulatedSensor{
		rnd:         rand.New(rand.NewSource(seed)),
		temperature: 21.0,
		humidity:    45.0,
	}
}

func (s *SimulatedSensor) Read() (application.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temperature = clamp(s.temperature+(s.rnd.Float64()-0.5)*0.2, -40, 80)
	s.humidity = clamp(s.humidity+(s.rnd.Float64()-0.5), 0, 100)

	temperature := roundTenth(s.temperature)
	humidity := roundTenth(s.humidity)
	return application.Measurement{Temperature: &temperature, Humidity: &humidity}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

var _ application.Sensor = &IIOSensor{}
var _ application.Sensor = &SimulatedSensor{}
