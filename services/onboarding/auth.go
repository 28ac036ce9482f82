package onboarding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"boardsync/pkg/homarr"
	"boardsync/services/state"
)

// Authenticator decides which credential a run uses: the cached API key,
// a key obtained by rotating the bootstrap key, or a session login.
type Authenticator struct {
	client        *homarr.Client
	store         *state.Store
	bootstrapFile string
	username      string
	password      string
	log           zerolog.Logger
}

// AuthConfig configures an Authenticator.
type AuthConfig struct {
	BootstrapKeyFile string
	Username         string
	Password         string
}

// NewAuthenticator returns an authenticator that caches keys in store.
func NewAuthenticator(client *homarr.Client, store *state.Store, cfg AuthConfig, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		client:        client,
		store:         store,
		bootstrapFile: cfg.BootstrapKeyFile,
		username:      cfg.Username,
		password:      cfg.Password,
		log:           log,
	}
}

// Authenticate returns a client carrying the credential for this run.
//
// A bootstrap key is exchanged at most once: the permanent key is written
// to the state file before it is used and the bootstrap file is then
// removed. A failed save is returned as an error.
func (a *Authenticator) Authenticate(ctx context.Context, st *state.State) (*homarr.Client, error) {
	if st.APIKey != "" {
		return a.client.WithCredential(homarr.APIKey(st.APIKey)), nil
	}

	bootstrap, err := a.readBootstrapKey()
	if err != nil {
		return nil, err
	}
	if bootstrap != "" {
		key, err := a.client.RotateAPIKey(ctx, bootstrap)
		if err != nil {
			return nil, err
		}
		st.APIKey = key
		if err := a.store.Save(st); err != nil {
			return nil, fmt.Errorf("persist rotated api key: %w", err)
		}
		a.log.Info().Msg("bootstrap api key rotated")

		if err := os.Remove(a.bootstrapFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.log.Warn().Err(err).Str("file", a.bootstrapFile).Msg("failed to remove bootstrap key file")
		}
		return a.client.WithCredential(homarr.APIKey(key)), nil
	}

	session := a.client.WithCredential(homarr.Credential{})
	if err := session.Login(ctx, a.username, a.password); err != nil {
		return nil, err
	}
	a.log.Debug().Str("user", a.username).Msg("logged in with session")
	return session, nil
}

func (a *Authenticator) readBootstrapKey() (string, error) {
	if a.bootstrapFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(a.bootstrapFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read bootstrap key: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
