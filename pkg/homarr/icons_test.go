package homarr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIconURL(t *testing.T) {
	const asset = "http://localhost:8771"

	tests := []struct {
		name string
		icon string
		want string
	}{
		{name: "pixmaps file", icon: "/usr/share/pixmaps/app.png", want: asset + "/icons/app.png"},
		{name: "pixmaps nested", icon: "/usr/share/pixmaps/subdir/icon.svg", want: asset + "/icons/subdir/icon.svg"},
		{name: "http passthrough", icon: "http://example.com/icon.png", want: "http://example.com/icon.png"},
		{name: "https passthrough", icon: "https://cdn.example.com/icons/docker.svg", want: "https://cdn.example.com/icons/docker.svg"},
		{name: "empty", icon: "", want: asset + "/icons/docker.svg"},
		{name: "unknown absolute path", icon: "/some/other/path/icon.png", want: asset + "/icons/docker.svg"},
		{name: "relative path", icon: "icons/app.png", want: asset + "/icons/docker.svg"},
		{name: "icons path", icon: "/icons/existing.svg", want: asset + "/icons/existing.svg"},
		{name: "bare pixmaps dir", icon: "/usr/share/pixmaps/", want: asset + "/icons/docker.svg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IconURL(tt.icon, asset))
		})
	}
}

func TestIconURLTrimsAssetSlash(t *testing.T) {
	assert.Equal(t, "http://assets/icons/docker.svg", IconURL("", "http://assets/"))
}

func TestNormalizeHref(t *testing.T) {
	assert.Equal(t, "http://x", NormalizeHref(" http://x/ "))
	assert.Equal(t, "http://x/a", NormalizeHref("http://x/a//"))

	apps := []RemoteApp{{ID: "1", Href: "http://grafana.local/"}}
	got, ok := FindByHref(apps, "http://grafana.local")
	assert.True(t, ok)
	assert.Equal(t, "1", got.ID)

	_, ok = FindByHref(apps, "")
	assert.False(t, ok)
}
