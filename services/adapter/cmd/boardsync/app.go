package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"boardsync/pkg/bus"
	"boardsync/pkg/homarr"
	"boardsync/pkg/telemetry"
	"boardsync/services/adapter/internal/config"
	"boardsync/services/authelia"
	"boardsync/services/branding"
	"boardsync/services/daemon"
	"boardsync/services/discovery"
	"boardsync/services/onboarding"
	"boardsync/services/reconciler"
	"boardsync/services/registry"
	"boardsync/services/state"
)

const serviceName = "boardsync"

type rootOptions struct {
	envFile      string
	brandingFile string
	stateFile    string
	registryDir  string
	boardName    string
	debug        bool
}

// app holds what every command shares. Dashboard pieces are built on demand
// so state-only commands work without a branding file.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	store *state.Store

	brand    *branding.Config
	setup    *onboarding.Setup
	docker   *discovery.Docker
	bus      *bus.Bus
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(ctx, opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.brandingFile != "" {
		cfg.BrandingFile = opts.brandingFile
	}
	if opts.stateFile != "" {
		cfg.StateFile = opts.stateFile
	}
	if opts.registryDir != "" {
		cfg.RegistryDir = opts.registryDir
	}
	if opts.boardName != "" {
		cfg.BoardName = opts.boardName
	}
	if opts.debug {
		cfg.Debug = true
	}

	log := telemetry.NewLogger(serviceName, cfg.LogFormat, cfg.Debug, os.Stderr)

	var storeOpts []state.StoreOption
	if cfg.StateAgeIdentityFile != "" {
		identity, err := state.LoadIdentity(cfg.StateAgeIdentityFile)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, state.WithIdentity(identity))
	}

	shutdown, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		store:    state.NewStore(cfg.StateFile, storeOpts...),
		shutdown: shutdown,
	}, nil
}

func (a *app) Close() {
	if a.docker != nil {
		_ = a.docker.Close()
	}
	a.bus.Close()
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}
}

// LoadState reads the state file, starting over when it is corrupt.
func (a *app) LoadState() (*state.State, error) {
	st, err := a.store.Load()
	if errors.Is(err, state.ErrStateCorrupt) {
		a.log.Warn().Err(err).Msg("starting from empty state")
		return st, nil
	}
	return st, err
}

func (a *app) Branding() (*branding.Config, error) {
	if a.brand != nil {
		return a.brand, nil
	}
	brand, err := a.cfg.Branding()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", registry.ErrConfig, err)
	}
	a.brand = brand
	return brand, nil
}

// Setup wires onboarding, authentication and first-boot setup.
func (a *app) Setup() (*onboarding.Setup, error) {
	if a.setup != nil {
		return a.setup, nil
	}
	brand, err := a.Branding()
	if err != nil {
		return nil, err
	}

	client, err := homarr.NewClient(a.cfg.HomarrURL,
		homarr.WithAssetServer(a.cfg.AssetServerURL),
		homarr.WithLogger(a.log.With().Str("component", "homarr").Logger()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", registry.ErrConfig, err)
	}

	creds := brand.Credentials
	machine := onboarding.NewMachine(client, onboarding.MachineConfig{
		Username: creds.AdminUsername,
		Password: creds.AdminPassword,
		Settings: brand.ServerSettings(),
		MaxSteps: a.cfg.OnboardingMaxSteps,
	}, a.log.With().Str("component", "onboarding").Logger())

	auth := onboarding.NewAuthenticator(client, a.store, onboarding.AuthConfig{
		BootstrapKeyFile: a.cfg.BootstrapKeyFile,
		Username:         creds.AdminUsername,
		Password:         creds.AdminPassword,
	}, a.log.With().Str("component", "auth").Logger())

	setup := onboarding.NewSetup(machine, auth, onboarding.SetupConfig{
		Board:       brand.BoardSpec(),
		ColorScheme: brand.Theme.DefaultColorScheme,
	}, a.log.With().Str("component", "setup").Logger())

	if a.cfg.AutheliaUsersDatabase != "" {
		setup.WithCredentialSink(authelia.NewExporter(a.cfg.AutheliaUsersDatabase, a.cfg.AutheliaEmail,
			a.log.With().Str("component", "authelia").Logger()))
	}

	a.setup = setup
	return setup, nil
}

// Source merges the cockpit tile, the descriptor directory and, when
// enabled, docker discovery. Earlier sources win on duplicate URLs.
func (a *app) Source() (registry.Source, error) {
	brand, err := a.Branding()
	if err != nil {
		return nil, err
	}

	var sources []registry.Source
	if cockpit, ok := brand.CockpitEntry(); ok {
		sources = append(sources, registry.Static{cockpit})
	}
	sources = append(sources, registry.NewDir(a.cfg.RegistryDir, a.log.With().Str("component", "registry").Logger()))

	if a.cfg.DockerDiscovery {
		docker, err := discovery.New(a.cfg.DockerHost, a.log.With().Str("component", "discovery").Logger())
		if err != nil {
			a.log.Warn().Err(err).Msg("docker discovery disabled")
		} else {
			a.docker = docker
			sources = append(sources, docker)
		}
	}

	return registry.Merge(a.log, sources...), nil
}

func (a *app) Reconciler() (*reconciler.Reconciler, error) {
	setup, err := a.Setup()
	if err != nil {
		return nil, err
	}
	source, err := a.Source()
	if err != nil {
		return nil, err
	}
	return reconciler.New(setup, a.store, source, reconciler.Config{BoardName: a.cfg.BoardName},
		a.log.With().Str("component", "reconciler").Logger()), nil
}

func (a *app) Daemon() (*daemon.Daemon, error) {
	rec, err := a.Reconciler()
	if err != nil {
		return nil, err
	}

	var opts []daemon.Option
	if a.docker != nil {
		opts = append(opts, daemon.WithWatcher(a.docker))
	}
	if a.cfg.NATSURL != "" {
		b, err := bus.New(a.cfg.NATSURL, serviceName)
		if err != nil {
			a.log.Warn().Err(err).Str("url", a.cfg.NATSURL).Msg("event bus disabled")
		} else {
			a.bus = b
			opts = append(opts, daemon.WithPublisher(b), daemon.WithSubscriber(b))
		}
	}

	return daemon.New(rec, a.store, daemon.Config{
		Interval:       a.cfg.SyncInterval,
		RetryInterval:  a.cfg.RetryInterval,
		RetryAttempts:  a.cfg.RetryAttempts,
		StatusAddr:     a.cfg.StatusAddr,
		RefreshSubject: a.cfg.RefreshSubject,
		EventSubject:   a.cfg.EventSubject,
	}, a.log.With().Str("component", "daemon").Logger(), opts...), nil
}
