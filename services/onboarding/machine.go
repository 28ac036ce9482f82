// Package onboarding drives the dashboard through its first-run onboarding
// and obtains the credential every later call uses.
package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"boardsync/pkg/homarr"
)

// DefaultMaxSteps bounds the number of onboarding steps handled in one run.
const DefaultMaxSteps = 32

// ErrOnboardingStuck is returned when onboarding does not reach the finish
// step within the step budget.
var ErrOnboardingStuck = errors.New("onboarding: did not finish")

// Remote is the part of the dashboard API used during onboarding.
type Remote interface {
	OnboardingStep(ctx context.Context) (string, error)
	AdvanceOnboarding(ctx context.Context) error
	CreateInitialUser(ctx context.Context, username, password string) error
	ApplySettings(ctx context.Context, settings homarr.Settings) error
}

// Machine walks the onboarding steps until the dashboard reports finish.
type Machine struct {
	remote   Remote
	username string
	password string
	settings homarr.Settings
	maxSteps int
	log      zerolog.Logger
}

// MachineConfig holds what the onboarding steps submit.
type MachineConfig struct {
	Username string
	Password string
	Settings homarr.Settings
	MaxSteps int
}

// NewMachine returns a machine driving remote with the credentials in cfg.
func NewMachine(remote Remote, cfg MachineConfig, log zerolog.Logger) *Machine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return &Machine{
		remote:   remote,
		username: cfg.Username,
		password: cfg.Password,
		settings: cfg.Settings,
		maxSteps: cfg.MaxSteps,
		log:      log,
	}
}

// Run completes onboarding. Each iteration reads the current step and
// performs its action; the loop ends at StepFinish.
func (m *Machine) Run(ctx context.Context) error {
	last := ""
	for range m.maxSteps {
		if err := ctx.Err(); err != nil {
			return err
		}

		name, err := m.remote.OnboardingStep(ctx)
		if err != nil {
			return err
		}
		last = name
		step := ParseStep(name)
		m.log.Info().Str("step", name).Msg("onboarding step")

		switch step {
		case StepFinish:
			return nil
		case StepUser:
			err = m.remote.CreateInitialUser(ctx, m.username, m.password)
		case StepSettings:
			err = m.remote.ApplySettings(ctx, m.settings)
		default:
			err = m.remote.AdvanceOnboarding(ctx)
		}
		if err != nil {
			return fmt.Errorf("onboarding step %s: %w", step, err)
		}
	}
	return fmt.Errorf("%w after %d steps, last step %q", ErrOnboardingStuck, m.maxSteps, last)
}
