package homarr

import (
	"errors"
	"strings"
)

// DefaultPriority orders entries that do not declare a priority.
const DefaultPriority = 50

// EntryKind classifies where a desired entry comes from.
type EntryKind string

const (
	KindUnclassified EntryKind = ""
	KindContainer    EntryKind = "container"
	KindExternal     EntryKind = "external"
)

// AppEntry is one app the dashboard should show. URL is the identity used to
// deduplicate across syncs.
type AppEntry struct {
	Name          string
	URL           string
	Description   string
	IconURL       string
	PingURL       string
	Category      string
	Kind          EntryKind
	ContainerName string
	ContainerID   string
	Hidden        bool
	Layout        EntryLayout
}

// EntryLayout holds the placement hints of an entry.
type EntryLayout struct {
	Priority int
	Width    int
	Height   int
	X        *int
	Y        *int
}

// Explicit returns the requested offsets when both are set.
func (l EntryLayout) Explicit() (x, y int, ok bool) {
	if l.X == nil || l.Y == nil {
		return 0, 0, false
	}
	return *l.X, *l.Y, true
}

// Size returns width and height with unset values defaulted to 1.
func (l EntryLayout) Size() (width, height int) {
	width, height = l.Width, l.Height
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	return width, height
}

// Validate checks the fields every entry needs.
func (e AppEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("app entry: name is required")
	}
	if strings.TrimSpace(e.URL) == "" {
		return errors.New("app entry: url is required")
	}
	switch e.Kind {
	case KindUnclassified, KindContainer, KindExternal:
	default:
		return errors.New("app entry: unknown kind " + string(e.Kind))
	}
	return nil
}
