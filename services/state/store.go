package state

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"

	"boardsync/pkg/fileutil"
)

// ErrStateCorrupt is returned together with a fresh state when the stored
// document cannot be parsed. Callers log it and continue.
var ErrStateCorrupt = errors.New("state: corrupt state file")

// ErrSealedKey means the cached API key is sealed but the configured identity
// cannot open it. Retrying does not help; the identity must be fixed or the
// state reset.
var ErrSealedKey = errors.New("state: cannot unseal api key")

// document is the on-disk layout. RemovedApps is only read, from version 1 files.
type document struct {
	Version            string               `json:"version"`
	FirstBootCompleted bool                 `json:"first_boot_completed"`
	APIKey             string               `json:"api_key,omitempty"`
	APIKeySealed       string               `json:"api_key_sealed,omitempty"`
	Removed            map[string]URLSet    `json:"removed,omitempty"`
	RemovedApps        URLSet               `json:"removed_apps,omitempty"`
	DiscoveredApps     map[string]AppRecord `json:"discovered_apps"`
	LastSync           *time.Time           `json:"last_sync,omitempty"`
}

// Store reads and writes the state document at a fixed path. Only one
// process may use a state file at a time.
type Store struct {
	path     string
	identity *age.X25519Identity
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIdentity seals the API key to identity when saving and unseals it when loading.
func WithIdentity(identity *age.X25519Identity) StoreOption {
	return func(s *Store) { s.identity = identity }
}

// NewStore returns a store for the document at path.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// LoadIdentity reads an age X25519 identity file such as one written by age-keygen.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("identity file %s holds no X25519 identity", path)
}

// Load reads the state. A missing file yields a fresh state. An unparsable
// file yields a fresh state and an error wrapping ErrStateCorrupt.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return New(), fmt.Errorf("%w: %s: %v", ErrStateCorrupt, s.path, err)
	}

	st := New()
	st.FirstBootCompleted = doc.FirstBootCompleted
	st.LastSync = doc.LastSync
	for url, rec := range doc.DiscoveredApps {
		st.DiscoveredApps[url] = rec
	}
	for board, set := range doc.Removed {
		if len(set) > 0 {
			st.Removed[board] = set
		}
	}
	for url := range doc.RemovedApps {
		st.MarkRemoved(AllBoards, url)
	}

	switch {
	case doc.APIKeySealed != "":
		key, err := s.unseal(doc.APIKeySealed)
		if err != nil {
			return nil, err
		}
		st.APIKey = key
	default:
		st.APIKey = doc.APIKey
	}

	return st, nil
}

// Save writes st atomically with mode 0600, creating the parent directory.
func (s *Store) Save(st *State) error {
	doc := document{
		Version:            SchemaVersion,
		FirstBootCompleted: st.FirstBootCompleted,
		Removed:            st.Removed,
		DiscoveredApps:     st.DiscoveredApps,
		LastSync:           st.LastSync,
	}
	if doc.DiscoveredApps == nil {
		doc.DiscoveredApps = map[string]AppRecord{}
	}
	if st.APIKey != "" {
		if s.identity != nil {
			sealed, err := s.seal(st.APIKey)
			if err != nil {
				return err
			}
			doc.APIKeySealed = sealed
		} else {
			doc.APIKey = st.APIKey
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := fileutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Reset deletes the state document. A missing document is not an error.
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

func (s *Store) seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("seal api key: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("seal api key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("seal api key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *Store) unseal(sealed string) (string, error) {
	if s.identity == nil {
		return "", fmt.Errorf("%w: no identity is configured", ErrSealedKey)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrSealedKey, err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedKey, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedKey, err)
	}
	return string(plaintext), nil
}
