// Package authelia keeps the dashboard administrator in an Authelia file
// based users database, so single sign-on accepts the same credentials.
package authelia

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"boardsync/pkg/fileutil"
)

const header = "# Authelia Users Database\n" +
	"# This file is managed by boardsync\n" +
	"# Manual edits may be overwritten\n\n"

// Params are argon2id cost parameters.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams match Authelia's defaults.
var DefaultParams = Params{Memory: 65536, Iterations: 3, Parallelism: 4, SaltLength: 16, KeyLength: 32}

// User is one entry of the users database.
type User struct {
	DisplayName string   `yaml:"displayname"`
	Password    string   `yaml:"password"`
	Email       string   `yaml:"email"`
	Groups      []string `yaml:"groups"`
}

// Database is the users_database.yml document.
type Database struct {
	Users map[string]User `yaml:"users"`
}

// LoadDatabase reads the database at path. A missing file yields an empty database.
func LoadDatabase(path string) (*Database, error) {
	db := &Database{Users: make(map[string]User)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read authelia users database: %w", err)
	}
	if err := yaml.Unmarshal(data, db); err != nil {
		return nil, fmt.Errorf("parse authelia users database %s: %w", path, err)
	}
	if db.Users == nil {
		db.Users = make(map[string]User)
	}
	return db, nil
}

// Save writes the database with its managed-file header.
func (db *Database) Save(path string) error {
	body, err := yaml.Marshal(db)
	if err != nil {
		return fmt.Errorf("marshal authelia users database: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, append([]byte(header), body...), 0o600); err != nil {
		return fmt.Errorf("write authelia users database: %w", err)
	}
	return nil
}

// HashPassword returns an argon2id hash in PHC string format.
func HashPassword(password string, p Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches a PHC argon2id hash.
func VerifyPassword(password, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("authelia: not an argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, fmt.Errorf("authelia: unsupported argon2 version %q", parts[2])
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return false, fmt.Errorf("authelia: parse argon2 params: %w", err)
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("authelia: decode salt: %w", err)
	}
	want, err := enc.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("authelia: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Exporter writes the administrator account into a users database.
type Exporter struct {
	Path   string
	Email  string
	Params Params
	Log    zerolog.Logger
}

// NewExporter returns an exporter using Authelia's default hash parameters.
func NewExporter(path, email string, log zerolog.Logger) *Exporter {
	return &Exporter{Path: path, Email: email, Params: DefaultParams, Log: log}
}

// SyncCredentials creates or updates username as an admin. The stored hash is
// kept when it already matches password.
func (e *Exporter) SyncCredentials(username, password string) error {
	db, err := LoadDatabase(e.Path)
	if err != nil {
		return err
	}

	email := e.Email
	if email == "" {
		email = username + "@example.local"
	}

	existing, ok := db.Users[username]
	if ok && existing.Email == email {
		if match, err := VerifyPassword(password, existing.Password); err == nil && match {
			e.Log.Debug().Str("user", username).Msg("authelia credentials already current")
			return nil
		}
	}

	hash, err := HashPassword(password, e.Params)
	if err != nil {
		return err
	}

	groups := existing.Groups
	if len(groups) == 0 {
		groups = []string{"admins"}
	}
	displayName := existing.DisplayName
	if displayName == "" {
		displayName = username
	}
	db.Users[username] = User{DisplayName: displayName, Password: hash, Email: email, Groups: groups}

	if err := db.Save(e.Path); err != nil {
		return err
	}
	e.Log.Info().Str("user", username).Str("path", e.Path).Msg("synced credentials to authelia")
	return nil
}
