// Package config loads the adapter settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"boardsync/services/branding"
	"boardsync/services/registry"
)

// Config holds runtime configuration for the adapter.
type Config struct {
	HomarrURL      string `env:"HOMARR_URL,default=http://localhost:80"`
	AssetServerURL string `env:"ASSET_SERVER_URL"`
	BrandingFile   string `env:"BRANDING_FILE,default=/etc/halos-homarr-branding/branding.toml"`
	StateFile      string `env:"STATE_FILE,default=/var/lib/homarr-container-adapter/state.json"`
	RegistryDir    string `env:"REGISTRY_DIR,default=/etc/halos/webapps.d"`

	// BoardName limits syncing to one board. SyncAllBoards clears it.
	BoardName     string `env:"BOARD_NAME"`
	SyncAllBoards bool   `env:"SYNC_ALL_BOARDS,default=false"`

	BootstrapKeyFile      string `env:"BOOTSTRAP_KEY_FILE,default=/var/lib/homarr-container-adapter/bootstrap-api-key"`
	StateAgeIdentityFile  string `env:"STATE_AGE_IDENTITY_FILE"`
	OnboardingMaxSteps    int    `env:"ONBOARDING_MAX_STEPS,default=32"`
	AutheliaUsersDatabase string `env:"AUTHELIA_USERS_DB"`
	AutheliaEmail         string `env:"AUTHELIA_EMAIL"`

	DockerDiscovery bool   `env:"DOCKER_DISCOVERY,default=true"`
	DockerHost      string `env:"DOCKER_HOST"`

	NATSURL        string `env:"NATS_URL"`
	RefreshSubject string `env:"NATS_REFRESH_SUBJECT,default=boardsync.refresh"`
	EventSubject   string `env:"NATS_EVENT_SUBJECT,default=boardsync.synced"`

	SyncInterval  time.Duration `env:"SYNC_INTERVAL,default=5m"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL,default=30s"`
	RetryAttempts uint64        `env:"RETRY_ATTEMPTS,default=5"`
	StatusAddr    string        `env:"STATUS_ADDR,default=127.0.0.1:8772"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogFormat    string `env:"LOG_FORMAT,default=console"`
	Debug        bool   `env:"DEBUG,default=false"`
}

// Load reads the optional env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(ctx context.Context, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}

	if cfg.AssetServerURL == "" {
		cfg.AssetServerURL = defaultAssetServer()
	}
	if cfg.SyncAllBoards {
		cfg.BoardName = ""
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultAssetServer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return fmt.Sprintf("http://%s.local:8771", host)
}

// Validate checks values that envconfig cannot.
func (c Config) Validate() error {
	var errs []error

	for name, raw := range map[string]string{"HOMARR_URL": c.HomarrURL, "ASSET_SERVER_URL": c.AssetServerURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an http(s) URL, got %q", name, raw))
		}
	}
	if c.StateFile == "" {
		errs = append(errs, errors.New("STATE_FILE is required"))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL must be positive"))
	}
	if c.RetryInterval <= 0 {
		errs = append(errs, errors.New("RETRY_INTERVAL must be positive"))
	}
	if c.OnboardingMaxSteps <= 0 {
		errs = append(errs, errors.New("ONBOARDING_MAX_STEPS must be positive"))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", registry.ErrConfig, err)
	}
	return nil
}

// Branding loads the branding file named by the config.
func (c Config) Branding() (*branding.Config, error) {
	return branding.Load(c.BrandingFile)
}
