package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"boardsync/pkg/homarr"
)

// DefaultDir is where packages drop their app descriptors.
const DefaultDir = "/etc/halos/webapps.d"

// descriptor is one app file. TOML and YAML share the field names.
type descriptor struct {
	Name        string `toml:"name" yaml:"name"`
	URL         string `toml:"url" yaml:"url"`
	Description string `toml:"description" yaml:"description"`
	IconURL     string `toml:"icon_url" yaml:"icon_url"`
	Category    string `toml:"category" yaml:"category"`
	PingURL     string `toml:"ping_url" yaml:"ping_url"`
	Hidden      bool   `toml:"hidden" yaml:"hidden"`
	Type        struct {
		ContainerName string `toml:"container_name" yaml:"container_name"`
		External      bool   `toml:"external" yaml:"external"`
	} `toml:"type" yaml:"type"`
	Layout struct {
		Priority *int `toml:"priority" yaml:"priority"`
		Width    int  `toml:"width" yaml:"width"`
		Height   int  `toml:"height" yaml:"height"`
		XOffset  *int `toml:"x_offset" yaml:"x_offset"`
		YOffset  *int `toml:"y_offset" yaml:"y_offset"`
	} `toml:"layout" yaml:"layout"`
}

func (d descriptor) entry() homarr.AppEntry {
	e := homarr.AppEntry{
		Name:        strings.TrimSpace(d.Name),
		URL:         strings.TrimSpace(d.URL),
		Description: d.Description,
		IconURL:     d.IconURL,
		PingURL:     d.PingURL,
		Category:    d.Category,
		Hidden:      d.Hidden,
		Layout: homarr.EntryLayout{
			Priority: homarr.DefaultPriority,
			Width:    d.Layout.Width,
			Height:   d.Layout.Height,
			X:        d.Layout.XOffset,
			Y:        d.Layout.YOffset,
		},
	}
	if d.Layout.Priority != nil {
		e.Layout.Priority = *d.Layout.Priority
	}
	switch {
	case d.Type.ContainerName != "":
		e.Kind = homarr.KindContainer
		e.ContainerName = d.Type.ContainerName
	case d.Type.External:
		e.Kind = homarr.KindExternal
	}
	return e
}

// Dir loads app descriptors (*.toml, *.yaml, *.yml) from a directory.
type Dir struct {
	path string
	log  zerolog.Logger
}

// NewDir returns a source reading path.
func NewDir(path string, log zerolog.Logger) *Dir {
	return &Dir{path: path, log: log}
}

// Load parses every descriptor in the directory. A missing directory yields
// no entries; a path that is not a directory is ErrConfig. Files that fail to
// parse or validate are skipped with a warning.
func (d *Dir) Load(ctx context.Context) ([]homarr.AppEntry, error) {
	info, err := os.Stat(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		d.log.Warn().Str("dir", d.path).Msg("registry directory does not exist, no apps loaded")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat registry dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrConfig, d.path)
	}

	files, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("read registry dir: %w", err)
	}

	var entries []homarr.AppEntry
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.IsDir() {
			continue
		}
		path := filepath.Join(d.path, f.Name())
		entry, ok, err := loadFile(path)
		if !ok {
			continue
		}
		if err != nil {
			d.log.Warn().Err(err).Str("file", path).Msg("skipping app descriptor")
			continue
		}
		d.log.Debug().Str("file", path).Str("name", entry.Name).Msg("loaded app descriptor")
		entries = append(entries, entry)
	}

	SortByPriority(entries)
	d.log.Info().Int("count", len(entries)).Str("dir", d.path).Msg("loaded registry apps")
	return entries, nil
}

// loadFile reports ok=false for files that are not descriptors.
func loadFile(path string) (homarr.AppEntry, bool, error) {
	var unmarshal func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		unmarshal = toml.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return homarr.AppEntry{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return homarr.AppEntry{}, true, err
	}
	var d descriptor
	if err := unmarshal(data, &d); err != nil {
		return homarr.AppEntry{}, true, fmt.Errorf("parse: %w", err)
	}
	entry := d.entry()
	if err := entry.Validate(); err != nil {
		return homarr.AppEntry{}, true, err
	}
	return entry, true, nil
}
