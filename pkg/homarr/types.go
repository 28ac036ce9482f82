package homarr

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"boardsync/pkg/placement"
)

// ItemKindApp is the board item kind that links to an app record.
const ItemKindApp = "app"

// Board is a dashboard board as returned by board.getBoardByName.
type Board struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Sections []Section   `json:"sections"`
	Layouts  []Layout    `json:"layouts"`
	Items    []BoardItem `json:"items"`
}

// Section is a board section. Only the identity is interpreted; the full
// document is sent back unchanged on save.
type Section struct {
	ID   string
	Kind string
	raw  json.RawMessage
}

// NewSection builds a section from its identity.
func NewSection(id, kind string) Section {
	raw, _ := json.Marshal(map[string]any{"id": id, "kind": kind, "xOffset": 0, "yOffset": 0})
	return Section{ID: id, Kind: kind, raw: raw}
}

func (s *Section) UnmarshalJSON(data []byte) error {
	var head struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	s.ID = head.ID
	s.Kind = head.Kind
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (s Section) MarshalJSON() ([]byte, error) {
	if len(s.raw) > 0 {
		return s.raw, nil
	}
	return json.Marshal(map[string]any{"id": s.ID, "kind": s.Kind})
}

// Layout is a responsive layout template of a board.
type Layout struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ColumnCount int    `json:"columnCount"`
	Breakpoint  int    `json:"breakpoint"`
}

// ItemLayout is the placement of an item within one layout.
type ItemLayout struct {
	LayoutID  string `json:"layoutId"`
	SectionID string `json:"sectionId"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	XOffset   int    `json:"xOffset"`
	YOffset   int    `json:"yOffset"`
}

// Rect converts the layout into grid cells.
func (l ItemLayout) Rect() placement.Rect {
	return placement.Rect{X: l.XOffset, Y: l.YOffset, Width: l.Width, Height: l.Height}
}

// BoardItem is one tile on a board. Options and AdvancedOptions are kept as
// raw JSON so items the adapter did not create survive a save untouched.
type BoardItem struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	Options         json.RawMessage `json:"options"`
	Layouts         []ItemLayout    `json:"layouts"`
	IntegrationIDs  []string        `json:"integrationIds"`
	AdvancedOptions json.RawMessage `json:"advancedOptions"`
}

// AppID returns the linked app id of an app item, or "" for any other kind.
func (i BoardItem) AppID() string {
	if i.Kind != ItemKindApp || len(i.Options) == 0 {
		return ""
	}
	var opts struct {
		AppID string `json:"appId"`
	}
	if err := json.Unmarshal(i.Options, &opts); err != nil {
		return ""
	}
	return opts.AppID
}

// NewAppItem returns a fresh app item placed at pos in the given layout and section.
func NewAppItem(appID string, pos ItemLayout) BoardItem {
	if pos.Width <= 0 {
		pos.Width = 1
	}
	if pos.Height <= 0 {
		pos.Height = 1
	}
	options, _ := json.Marshal(map[string]string{"appId": appID})
	return BoardItem{
		ID:              uuid.NewString(),
		Kind:            ItemKindApp,
		Options:         options,
		Layouts:         []ItemLayout{pos},
		IntegrationIDs:  []string{},
		AdvancedOptions: json.RawMessage(`{"customCssClasses":[]}`),
	}
}

// ColumnCount returns the column count of the primary layout.
func (b Board) ColumnCount() int {
	if len(b.Layouts) > 0 && b.Layouts[0].ColumnCount > 0 {
		return b.Layouts[0].ColumnCount
	}
	return placement.DefaultColumns
}

// PrimaryLayoutID returns the id of the first layout or "" when the board has none.
func (b Board) PrimaryLayoutID() string {
	if len(b.Layouts) == 0 {
		return ""
	}
	return b.Layouts[0].ID
}

// PrimarySectionID returns the id of the first section or "" when the board has none.
func (b Board) PrimarySectionID() string {
	if len(b.Sections) == 0 {
		return ""
	}
	return b.Sections[0].ID
}

// FindAppItem returns the first item linked to appID.
func (b Board) FindAppItem(appID string) (BoardItem, bool) {
	if appID == "" {
		return BoardItem{}, false
	}
	for _, item := range b.Items {
		if item.AppID() == appID {
			return item, true
		}
	}
	return BoardItem{}, false
}

// Occupied lists the cells taken in layoutID. Placements without a layout id
// count for every layout.
func (b Board) Occupied(layoutID string) []placement.Rect {
	var rects []placement.Rect
	for _, item := range b.Items {
		for _, l := range item.Layouts {
			if layoutID != "" && l.LayoutID != "" && l.LayoutID != layoutID {
				continue
			}
			rects = append(rects, l.Rect())
		}
	}
	return rects
}

// Permission is one entry of a board permission list.
type Permission struct {
	Permission string `json:"permission"`
}

// BoardSummary is a board as listed by board.getAllBoards.
type BoardSummary struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	IsPublic         bool         `json:"isPublic"`
	UserPermissions  []Permission `json:"userPermissions"`
	GroupPermissions []Permission `json:"groupPermissions"`
}

// Writable reports whether the caller may modify the board.
func (s BoardSummary) Writable() bool {
	for _, perms := range [][]Permission{s.UserPermissions, s.GroupPermissions} {
		for _, p := range perms {
			switch p.Permission {
			case "modify", "full":
				return true
			}
		}
	}
	return false
}

// BoardSpec describes a board to create.
type BoardSpec struct {
	Name        string `json:"name"`
	ColumnCount int    `json:"columnCount"`
	IsPublic    bool   `json:"isPublic"`
}

// RemoteApp is an app record stored by the dashboard.
type RemoteApp struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IconURL     string `json:"iconUrl"`
	Href        string `json:"href"`
	PingURL     string `json:"pingUrl"`
}

// AppSpec is the payload of app.create and app.update.
type AppSpec struct {
	Name        string
	Description string
	IconURL     string
	Href        string
	PingURL     string
}

func (s AppSpec) payload(id string) map[string]any {
	p := map[string]any{
		"name":        s.Name,
		"description": s.Description,
		"iconUrl":     s.IconURL,
		"href":        s.Href,
		"pingUrl":     nil,
	}
	if s.PingURL != "" {
		p["pingUrl"] = s.PingURL
	}
	if id != "" {
		p["id"] = id
	}
	return p
}

// FindByHref returns the app whose href matches href after normalization.
func FindByHref(apps []RemoteApp, href string) (RemoteApp, bool) {
	want := NormalizeHref(href)
	if want == "" {
		return RemoteApp{}, false
	}
	for _, app := range apps {
		if NormalizeHref(app.Href) == want {
			return app, true
		}
	}
	return RemoteApp{}, false
}

// NormalizeHref trims whitespace and a trailing slash so that
// "http://x/" and "http://x" compare equal.
func NormalizeHref(href string) string {
	return strings.TrimRight(strings.TrimSpace(href), "/")
}
