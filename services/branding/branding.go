// Package branding reads the product branding file: admin credentials,
// default board, theme and onboarding server settings.
package branding

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"boardsync/pkg/homarr"
)

// DefaultPath is where the branding package installs its file.
const DefaultPath = "/etc/halos-homarr-branding/branding.toml"

type Config struct {
	Identity    Identity    `toml:"identity"`
	Theme       Theme       `toml:"theme"`
	Credentials Credentials `toml:"credentials"`
	Board       Board       `toml:"board"`
	Settings    Settings    `toml:"settings"`
}

type Identity struct {
	ProductName string `toml:"product_name"`
	LogoPath    string `toml:"logo_path"`
	FaviconPath string `toml:"favicon_path"`
}

type Theme struct {
	DefaultColorScheme string `toml:"default_color_scheme"`
	PrimaryColor       string `toml:"primary_color"`
	SecondaryColor     string `toml:"secondary_color"`
	ItemRadius         string `toml:"item_radius"`
	Opacity            int    `toml:"opacity"`
}

type Credentials struct {
	AdminUsername string `toml:"admin_username"`
	AdminPassword string `toml:"admin_password"`
}

type Board struct {
	Name        string      `toml:"name"`
	DisplayName string      `toml:"display_name"`
	ColumnCount int         `toml:"column_count"`
	IsPublic    bool        `toml:"is_public"`
	Cockpit     CockpitTile `toml:"cockpit"`
}

// CockpitTile is a fixed tile placed on the default board during setup.
type CockpitTile struct {
	Enabled     bool   `toml:"enabled"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Href        string `toml:"href"`
	IconURL     string `toml:"icon_url"`
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	XOffset     int    `toml:"x_offset"`
	YOffset     int    `toml:"y_offset"`
}

type Settings struct {
	Analytics struct {
		EnableGeneral         bool `toml:"enable_general"`
		EnableWidgetData      bool `toml:"enable_widget_data"`
		EnableIntegrationData bool `toml:"enable_integration_data"`
		EnableUserData        bool `toml:"enable_user_data"`
	} `toml:"analytics"`
	Crawling struct {
		NoIndex              bool `toml:"no_index"`
		NoFollow             bool `toml:"no_follow"`
		NoTranslate          bool `toml:"no_translate"`
		NoSitelinksSearchBox bool `toml:"no_sitelinks_search_box"`
	} `toml:"crawling"`
}

// Load reads and validates the branding file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("branding config not found at %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read branding config: %w", err)
	}

	cfg := &Config{
		Theme: Theme{DefaultColorScheme: "light", ItemRadius: "lg", Opacity: 100},
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse branding config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the keys setup cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Credentials.AdminUsername) == "" {
		return errors.New("branding: credentials.admin_username is required")
	}
	if c.Credentials.AdminPassword == "" {
		return errors.New("branding: credentials.admin_password is required")
	}
	if strings.TrimSpace(c.Board.Name) == "" {
		return errors.New("branding: board.name is required")
	}
	if c.Board.ColumnCount < 0 {
		return errors.New("branding: board.column_count must not be negative")
	}
	if c.Board.Cockpit.Enabled && (c.Board.Cockpit.Name == "" || c.Board.Cockpit.Href == "") {
		return errors.New("branding: board.cockpit needs name and href when enabled")
	}
	return nil
}

// ServerSettings converts the onboarding settings into their API form.
func (c *Config) ServerSettings() homarr.Settings {
	var s homarr.Settings
	s.Analytics.EnableGeneral = c.Settings.Analytics.EnableGeneral
	s.Analytics.EnableWidgetData = c.Settings.Analytics.EnableWidgetData
	s.Analytics.EnableIntegrationData = c.Settings.Analytics.EnableIntegrationData
	s.Analytics.EnableUserData = c.Settings.Analytics.EnableUserData
	s.CrawlingAndIndexing.NoIndex = c.Settings.Crawling.NoIndex
	s.CrawlingAndIndexing.NoFollow = c.Settings.Crawling.NoFollow
	s.CrawlingAndIndexing.NoTranslate = c.Settings.Crawling.NoTranslate
	s.CrawlingAndIndexing.NoSiteLinksSearchBox = c.Settings.Crawling.NoSitelinksSearchBox
	return s
}

// BoardSpec describes the default board.
func (c *Config) BoardSpec() homarr.BoardSpec {
	return homarr.BoardSpec{
		Name:        c.Board.Name,
		ColumnCount: c.Board.ColumnCount,
		IsPublic:    c.Board.IsPublic,
	}
}

// CockpitEntry returns the cockpit tile as a desired entry with a fixed
// position ahead of every other entry.
func (c *Config) CockpitEntry() (homarr.AppEntry, bool) {
	tile := c.Board.Cockpit
	if !tile.Enabled {
		return homarr.AppEntry{}, false
	}
	x, y := tile.XOffset, tile.YOffset
	return homarr.AppEntry{
		Name:        tile.Name,
		URL:         tile.Href,
		Description: tile.Description,
		IconURL:     tile.IconURL,
		Kind:        homarr.KindExternal,
		Layout: homarr.EntryLayout{
			Priority: 0,
			Width:    tile.Width,
			Height:   tile.Height,
			X:        &x,
			Y:        &y,
		},
	}, true
}
