package branding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brandingassets "boardsync/infra/branding"
	"boardsync/pkg/homarr"
)

const sample = `
[identity]
product_name = "HaLOS"
logo_path = "/usr/share/halos/logo.svg"

[theme]
default_color_scheme = "dark"
primary_color = "#1a73e8"
secondary_color = "#34a853"

[credentials]
admin_username = "admin"
admin_password = "halos"

[board]
name = "default"
display_name = "HaLOS"
column_count = 12
is_public = true

[board.cockpit]
enabled = true
name = "Cockpit"
description = "System administration"
href = "https://halos.local:9090"
icon_url = "/usr/share/pixmaps/cockpit.svg"
width = 2
height = 1
x_offset = 0
y_offset = 0

[settings.analytics]
enable_general = false
enable_widget_data = false
enable_integration_data = false
enable_user_data = false

[settings.crawling]
no_index = true
no_follow = true
no_translate = true
no_sitelinks_search_box = true
`

func writeBranding(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "branding.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeBranding(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "HaLOS", cfg.Identity.ProductName)
	assert.Equal(t, "dark", cfg.Theme.DefaultColorScheme)
	assert.Equal(t, "lg", cfg.Theme.ItemRadius)
	assert.Equal(t, 100, cfg.Theme.Opacity)
	assert.Equal(t, "admin", cfg.Credentials.AdminUsername)
	assert.Equal(t, homarr.BoardSpec{Name: "default", ColumnCount: 12, IsPublic: true}, cfg.BoardSpec())

	settings := cfg.ServerSettings()
	assert.True(t, settings.CrawlingAndIndexing.NoIndex)
	assert.True(t, settings.CrawlingAndIndexing.NoSiteLinksSearchBox)
	assert.False(t, settings.Analytics.EnableGeneral)
}

func TestCockpitEntry(t *testing.T) {
	cfg, err := Load(writeBranding(t, sample))
	require.NoError(t, err)

	entry, ok := cfg.CockpitEntry()
	require.True(t, ok)
	assert.Equal(t, "Cockpit", entry.Name)
	assert.Equal(t, "https://halos.local:9090", entry.URL)
	assert.Equal(t, 0, entry.Layout.Priority)
	x, y, explicit := entry.Layout.Explicit()
	assert.True(t, explicit)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
	w, _ := entry.Layout.Size()
	assert.Equal(t, 2, w)

	cfg.Board.Cockpit.Enabled = false
	_, ok = cfg.CockpitEntry()
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "not found")

	_, err = Load(writeBranding(t, "[board\n"))
	assert.Error(t, err)

	_, err = Load(writeBranding(t, "[board]\nname = \"default\"\n"))
	assert.ErrorContains(t, err, "admin_username")
}

func TestShippedExampleLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "branding.toml")
	require.NoError(t, os.WriteFile(path, brandingassets.Example, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "halos", cfg.Board.Name)
	assert.Equal(t, 12, cfg.BoardSpec().ColumnCount)

	cockpit, ok := cfg.CockpitEntry()
	require.True(t, ok)
	assert.Equal(t, "Cockpit", cockpit.Name)
	assert.NoError(t, cockpit.Validate())
}
