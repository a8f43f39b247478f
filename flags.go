package main

import (
	"picow-telemetry/application"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagSecretsFile = &cli.StringFlag{
	Name:     "secrets-file",
	Usage:    "yaml file with ssid, pw, broker, subtopic, pubtopic, client_id and picow_id",
	EnvVars:  []string{"PICOW_SECRETS_FILE"},
	Value:    "secrets.yaml",
	Required: false,
}

var FlagWifiInterface = &cli.StringFlag{
	Name:     "wifi-interface",
	EnvVars:  []string{"PICOW_WIFI_INTERFACE"},
	Value:    "wlan0",
	Required: false,
}

var FlagWifiAssociateCommand = &cli.StringFlag{
	Name:     "wifi-associate-command",
	Usage:    "command started with ssid and password appended, e.g. \"nmcli device wifi connect\"",
	EnvVars:  []string{"PICOW_WIFI_ASSOCIATE_COMMAND"},
	Required: false,
}

var FlagConnectTimeout = &cli.IntFlag{
	Name:     "connect-timeout",
	Usage:    "wifi link polls, one per second",
	EnvVars:  []string{"PICOW_CONNECT_TIMEOUT"},
	Value:    application.TelemetryDefaultConnectTimeout,
	Required: false,
}

var FlagSensor = &cli.StringFlag{
	Name:     "sensor",
	Usage:    "one of: [iio, simulated]",
	EnvVars:  []string{"PICOW_SENSOR"},
	Value:    "iio",
	Required: false,
}

var FlagSensorPath = &cli.StringFlag{
	Name:     "sensor-path",
	EnvVars:  []string{"PICOW_SENSOR_PATH"},
	Value:    "/sys/bus/iio/devices/iio:device0",
	Required: false,
}

var FlagLEDPath = &cli.StringFlag{
	Name:     "led-path",
	Usage:    "sysfs brightness file, the indicator is logged when empty",
	EnvVars:  []string{"PICOW_LED_PATH"},
	Required: false,
}

var FlagMQTTProtocol = &cli.StringFlag{
	Name:     "mqtt-protocol",
	Usage:    "one of: [v3, v5]",
	EnvVars:  []string{"MQTT_PROTOCOL"},
	Value:    "v3",
	Required: false,
}

var FlagPayloadFormat = &cli.StringFlag{
	Name:     "payload-format",
	Usage:    "one of: [json, legacy]",
	EnvVars:  []string{"PICOW_PAYLOAD_FORMAT"},
	Value:    string(application.PayloadFormatJSON),
	Required: false,
}

var FlagMessageInterval = &cli.DurationFlag{
	Name:     "message-interval",
	EnvVars:  []string{"PICOW_MESSAGE_INTERVAL"},
	Value:    application.TelemetryDefaultMessageInterval,
	Required: false,
}

var FlagRestartDelay = &cli.DurationFlag{
	Name:     "restart-delay",
	EnvVars:  []string{"PICOW_RESTART_DELAY"},
	Value:    application.TelemetryDefaultRestartDelay,
	Required: false,
}

var FlagSimulatedSeed = &cli.Int64Flag{
	Name:     "simulated-seed",
	Usage:    "seed of the simulated sensor, 0 picks one from the clock",
	EnvVars:  []string{"PICOW_SIMULATED_SEED"},
	Required: false,
}
