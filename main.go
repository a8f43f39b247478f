package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"picow-telemetry/adapters"
	"picow-telemetry/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagSecretsFile,
	FlagWifiInterface,
	FlagWifiAssociateCommand,
	FlagConnectTimeout,
	FlagSensor,
	FlagSensorPath,
	FlagLEDPath,
	FlagMQTTProtocol,
	FlagPayloadFormat,
	FlagMessageInterval,
	FlagRestartDelay,
	FlagSimulatedSeed,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "picow-telemetry",
		Version: "v0.1.0",
		Usage:   "publish temperature and humidity readings over MQTT and follow LED commands",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			switch ctx.String(FlagLogWriter.Name) {
			case "console":
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			case "json":
				logWriter = os.Stderr
			default:
				return fmt.Errorf("invalid log writer: %s", ctx.String(FlagLogWriter.Name))
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "picow-telemetry").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("device starting...")

			secrets, err := adapters.LoadSecrets(ctx.String(FlagSecretsFile.Name))
			if err != nil {
				return err
			}

			payloadFormat, err := application.ParsePayloadFormat(ctx.String(FlagPayloadFormat.Name))
			if err != nil {
				return err
			}

			adapters.SetPahoLogger(logger.With().Str("module", "paho").Logger())

			appCtx, cancel := signal.NotifyContext(logger.WithContext(context.Background()), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			newLifetime := func() (application.Lifetime, error) {
				return newTelemetryLoop(ctx, secrets, payloadFormat, logger)
			}

			supervisor, err := application.NewSupervisor(application.SupervisorParams{
				NewLifetime:  newLifetime,
				RestartDelay: ctx.Duration(FlagRestartDelay.Name),
				Log:          logger.With().Str("module", "supervisor").Logger(),
			})
			if err != nil {
				return err
			}

			g, gCtx := errgroup.WithContext(appCtx)
			g.Go(func() error {
				<-gCtx.Done()
				if appCtx.Err() != nil {
					logger.Warn().Msg("interrupt signal received")
				}
				return nil
			})
			g.Go(func() error {
				defer cancel()
				return supervisor.Run(gCtx)
			})

			logger.Info().
				Int("picowId", secrets.PicowID).
				Str("clientId", secrets.ClientID).
				Str("broker", secrets.Broker).
				Msg("device started")

			if err := g.Wait(); err != nil {
				return err
			}

			logger.Info().Uint64("lifetimes", supervisor.Lifetimes()).Msg("device terminating...")
			return nil
		},
		Authors: []*cli.Author{
			{
				Name: "picow-telemetry authors",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("device terminated")
		os.Exit(1)
	}
}

// newTelemetryLoop wires one lifetime. Every collaborator is created here
// so a restart starts from a clean state.
func newTelemetryLoop(ctx *cli.Context, secrets *adapters.Secrets, payloadFormat application.PayloadFormat, logger zerolog.Logger) (*application.TelemetryLoop, error) {
	indicator, err := newIndicator(ctx, logger)
	if err != nil {
		return nil, err
	}

	commandHandler, err := application.NewCommandHandler(application.CommandHandlerParams{
		Indicator: indicator,
		Log:       logger.With().Str("module", "command-handler").Logger(),
	})
	if err != nil {
		return nil, err
	}

	link, err := adapters.NewInterfaceLink(adapters.InterfaceLinkParams{
		Interface:        ctx.String(FlagWifiInterface.Name),
		AssociateCommand: strings.Fields(ctx.String(FlagWifiAssociateCommand.Name)),
		Log:              logger.With().Str("module", "link").Logger(),
	})
	if err != nil {
		return nil, err
	}

	network, err := application.NewNetworkSessionManager(application.NetworkSessionManagerParams{
		Link:      link,
		Indicator: indicator,
		Log:       logger.With().Str("module", "network").Logger(),
	})
	if err != nil {
		return nil, err
	}

	broker, err := newBrokerClient(ctx, logger)
	if err != nil {
		return nil, err
	}

	sensor, err := newSensor(ctx)
	if err != nil {
		return nil, err
	}

	return application.NewTelemetryLoop(application.TelemetryLoopParams{
		Network:         network,
		Broker:          broker,
		Sensor:          sensor,
		OnMessage:       commandHandler.OnMessage,
		Credentials:     secrets.Credentials(),
		Identity:        secrets.Identity(),
		Endpoint:        secrets.Endpoint(),
		ConnectTimeout:  ctx.Int(FlagConnectTimeout.Name),
		MessageInterval: ctx.Duration(FlagMessageInterval.Name),
		RestartDelay:    ctx.Duration(FlagRestartDelay.Name),
		PayloadFormat:   payloadFormat,
		Log:             logger.With().Str("module", "telemetry-loop").Logger(),
	})
}

func newIndicator(ctx *cli.Context, logger zerolog.Logger) (application.Indicator, error) {
	if path := ctx.String(FlagLEDPath.Name); path != "" {
		return adapters.NewLEDIndicator(path)
	}
	return adapters.NewLogIndicator(logger.With().Str("module", "led").Logger()), nil
}

func newBrokerClient(ctx *cli.Context, logger zerolog.Logger) (application.BrokerClient, error) {
	switch ctx.String(FlagMQTTProtocol.Name) {
	case "v3":
		return adapters.NewMQTTClient(adapters.MQTTClientParams{
			Log: logger.With().Str("module", "mqtt-client").Logger(),
		}), nil
	case "v5":
		return adapters.NewMQTT5Client(adapters.MQTT5ClientParams{
			Log: logger.With().Str("module", "mqtt5-client").Logger(),
		}), nil
	default:
		return nil, fmt.Errorf("invalid mqtt protocol: %s", ctx.String(FlagMQTTProtocol.Name))
	}
}

func newSensor(ctx *cli.Context) (application.Sensor, error) {
	switch ctx.String(FlagSensor.Name) {
	case "iio":
		return adapters.NewIIOSensor(ctx.String(FlagSensorPath.Name))
	case "simulated":
		seed := ctx.Int64(FlagSimulatedSeed.Name)
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return adapters.NewSimulatedSensor(seed), nil
	default:
		return nil, fmt.Errorf("invalid sensor: %s", ctx.String(FlagSensor.Name))
	}
}
