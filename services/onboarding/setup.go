package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"boardsync/pkg/homarr"
	"boardsync/services/state"
)

// CredentialSink receives the administrator credentials after setup.
type CredentialSink interface {
	SyncCredentials(username, password string) error
}

// SetupConfig describes the first-boot result.
type SetupConfig struct {
	Board       homarr.BoardSpec
	ColorScheme string
}

// Setup runs first-boot setup: onboarding, authentication, the default
// board, its home board flag and the color scheme.
type Setup struct {
	machine *Machine
	auth    *Authenticator
	cfg     SetupConfig
	sink    CredentialSink
	log     zerolog.Logger
}

// NewSetup returns first-boot setup built on machine and auth.
func NewSetup(machine *Machine, auth *Authenticator, cfg SetupConfig, log zerolog.Logger) *Setup {
	return &Setup{machine: machine, auth: auth, cfg: cfg, log: log}
}

// WithCredentialSink exports the administrator credentials at the end of setup.
func (s *Setup) WithCredentialSink(sink CredentialSink) *Setup {
	s.sink = sink
	return s
}

// Ensure authenticates and, until first boot has completed once, performs
// the setup steps. It marks st but does not save it.
func (s *Setup) Ensure(ctx context.Context, st *state.State) (*homarr.Client, error) {
	if st.FirstBootCompleted {
		return s.auth.Authenticate(ctx, st)
	}

	s.log.Info().Msg("first boot detected, running setup")
	if err := s.machine.Run(ctx); err != nil {
		return nil, err
	}

	client, err := s.auth.Authenticate(ctx, st)
	if err != nil {
		return nil, err
	}

	boardID, err := s.ensureBoard(ctx, client)
	if err != nil {
		return nil, err
	}
	if err := client.SetHomeBoard(ctx, boardID); err != nil {
		return nil, err
	}
	if s.cfg.ColorScheme != "" {
		if err := client.SetColorScheme(ctx, s.cfg.ColorScheme); err != nil {
			return nil, err
		}
	}

	if s.sink != nil {
		if err := s.sink.SyncCredentials(s.machine.username, s.machine.password); err != nil {
			s.log.Warn().Err(err).Msg("failed to export credentials")
		}
	}

	st.FirstBootCompleted = true
	s.log.Info().Str("board", s.cfg.Board.Name).Msg("first-boot setup complete")
	return client, nil
}

func (s *Setup) ensureBoard(ctx context.Context, client *homarr.Client) (string, error) {
	board, err := client.BoardByName(ctx, s.cfg.Board.Name)
	if err == nil {
		s.log.Info().Str("board", board.Name).Msg("board already exists")
		return board.ID, nil
	}
	if !errors.Is(err, homarr.ErrNotFound) {
		return "", err
	}

	s.log.Info().Str("board", s.cfg.Board.Name).Msg("creating board")
	id, err := client.CreateBoard(ctx, s.cfg.Board)
	if err != nil {
		return "", fmt.Errorf("ensure default board: %w", err)
	}
	return id, nil
}
