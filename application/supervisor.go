package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// Lifetime is one boot of the device.
type Lifetime interface {
	Run(ctx context.Context) error
}

type SupervisorParams struct {
	// NewLifetime builds every collaborator of a lifetime from scratch, so
	// nothing survives a restart.
	NewLifetime func() (Lifetime, error)

	// Clock and RestartDelay pace the restart after a panic. Faults the
	// lifetime reports itself have already waited.
	Clock        Clock
	RestartDelay time.Duration

	Log zerolog.Logger
}

type Supervisor struct {
	params SupervisorParams

	lifetimes uint64

	log zerolog.Logger
}

func NewSupervisor(params SupervisorParams) (*Supervisor, error) {
	if params.NewLifetime == nil {
		return nil, fmt.Errorf("NewLifetime is nil")
	}
	if params.Clock == nil {
		params.Clock = SystemClock{}
	}
	if params.RestartDelay == 0 {
		params.RestartDelay = TelemetryDefaultRestartDelay
	}
	return &Supervisor{params: params, log: params.Log}, nil
}

// Run starts lifetimes until ctx is done. A lifetime that ends in
// ErrRestart or panics is replaced by a fresh one; any other error is
// returned.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		s.lifetimes++
		log := s.log.With().Uint64("lifetime", s.lifetimes).Logger()
		log.Info().Msg("booting")

		lifetime, err := s.params.NewLifetime()
		if err != nil {
			return fmt.Errorf("build lifetime: %w", err)
		}

		var runErr error
		var pc panics.Catcher
		pc.Try(func() { runErr = lifetime.Run(ctx) })
		if r := pc.Recovered(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r.Value)).Dur("delay", s.params.RestartDelay).Msg("lifetime panicked, restarting")
			if err := s.params.Clock.Sleep(ctx, s.params.RestartDelay); err != nil {
				return nil
			}
			continue
		}

		switch {
		case runErr == nil, errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
			if ctx.Err() != nil {
				log.Info().Msg("stopped")
				return nil
			}
			log.Warn().Msg("lifetime ended without fault, restarting")
		case errors.Is(runErr, ErrRestart):
			log.Info().Err(runErr).Msg("restarting")
		default:
			return runErr
		}
	}
}

func (s *Supervisor) Lifetimes() uint64 {
	return s.lifetimes
}
