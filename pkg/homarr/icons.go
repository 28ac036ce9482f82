package homarr

import "strings"

const (
	pixmapsPrefix = "/usr/share/pixmaps/"
	defaultIcon   = "/icons/docker.svg"
)

// IconURL turns an icon reference into an absolute URL. The asset server
// serves /usr/share/pixmaps under /icons. Absolute http(s) URLs pass through,
// anything unrecognized falls back to the generic container icon.
func IconURL(icon, assetURL string) string {
	assetURL = strings.TrimRight(assetURL, "/")
	icon = strings.TrimSpace(icon)

	switch {
	case icon == "":
		return assetURL + defaultIcon
	case strings.HasPrefix(icon, "http://"), strings.HasPrefix(icon, "https://"):
		return icon
	case strings.HasPrefix(icon, "/icons/"):
		return assetURL + icon
	case strings.HasPrefix(icon, pixmapsPrefix):
		name := strings.TrimPrefix(icon, pixmapsPrefix)
		if name == "" {
			return assetURL + defaultIcon
		}
		return assetURL + "/icons/" + name
	default:
		return assetURL + defaultIcon
	}
}
