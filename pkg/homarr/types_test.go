package homarr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/pkg/placement"
)

const boardJSON = `{
  "id": "b1",
  "name": "default",
  "sections": [{"id": "s1", "kind": "empty", "xOffset": 0, "yOffset": 0, "collapsed": false}],
  "layouts": [{"id": "l1", "name": "Base", "columnCount": 12, "breakpoint": 0}],
  "items": [
    {"id": "i1", "kind": "app", "options": {"appId": "a1"},
     "layouts": [{"layoutId": "l1", "sectionId": "s1", "width": 2, "height": 1, "xOffset": 0, "yOffset": 0}],
     "integrationIds": [], "advancedOptions": {"customCssClasses": ["x"]}},
    {"id": "i2", "kind": "clock", "options": {"is24HourFormat": true},
     "layouts": [{"layoutId": "l2", "sectionId": "s1", "width": 1, "height": 1, "xOffset": 5, "yOffset": 3}],
     "integrationIds": [], "advancedOptions": {"customCssClasses": []}}
  ]
}`

func TestBoardDecode(t *testing.T) {
	var b Board
	require.NoError(t, json.Unmarshal([]byte(boardJSON), &b))

	assert.Equal(t, 12, b.ColumnCount())
	assert.Equal(t, "l1", b.PrimaryLayoutID())
	assert.Equal(t, "s1", b.PrimarySectionID())

	item, ok := b.FindAppItem("a1")
	require.True(t, ok)
	assert.Equal(t, "i1", item.ID)

	_, ok = b.FindAppItem("missing")
	assert.False(t, ok)
	assert.Equal(t, "", b.Items[1].AppID())

	assert.Equal(t, []placement.Rect{{X: 0, Y: 0, Width: 2, Height: 1}}, b.Occupied("l1"))
	assert.Len(t, b.Occupied(""), 2)
}

func TestBoardPreservesForeignItems(t *testing.T) {
	var b Board
	require.NoError(t, json.Unmarshal([]byte(boardJSON), &b))

	out, err := json.Marshal(b)
	require.NoError(t, err)

	var again Board
	require.NoError(t, json.Unmarshal(out, &again))
	assert.JSONEq(t, `{"is24HourFormat": true}`, string(again.Items[1].Options))
	assert.JSONEq(t, `{"customCssClasses": ["x"]}`, string(again.Items[0].AdvancedOptions))

	section, err := json.Marshal(again.Sections[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "s1", "kind": "empty", "xOffset": 0, "yOffset": 0, "collapsed": false}`, string(section))
}

func TestBoardDefaults(t *testing.T) {
	var b Board
	assert.Equal(t, placement.DefaultColumns, b.ColumnCount())
	assert.Equal(t, "", b.PrimaryLayoutID())
	assert.Equal(t, "", b.PrimarySectionID())
}

func TestNewAppItem(t *testing.T) {
	item := NewAppItem("a9", ItemLayout{LayoutID: "l1", SectionID: "s1", XOffset: 3, YOffset: 1})

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, ItemKindApp, item.Kind)
	assert.Equal(t, "a9", item.AppID())
	require.Len(t, item.Layouts, 1)
	assert.Equal(t, 1, item.Layouts[0].Width)
	assert.Equal(t, 1, item.Layouts[0].Height)

	other := NewAppItem("a9", ItemLayout{})
	assert.NotEqual(t, item.ID, other.ID)
}

func TestBoardSummaryWritable(t *testing.T) {
	tests := []struct {
		name    string
		summary BoardSummary
		want    bool
	}{
		{name: "no permissions", summary: BoardSummary{}, want: false},
		{name: "view only", summary: BoardSummary{UserPermissions: []Permission{{"view"}}}, want: false},
		{name: "user modify", summary: BoardSummary{UserPermissions: []Permission{{"modify"}}}, want: true},
		{name: "group full", summary: BoardSummary{GroupPermissions: []Permission{{"full"}}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.Writable())
		})
	}
}

func TestAppEntryLayout(t *testing.T) {
	x, y := 2, 4
	l := EntryLayout{X: &x}
	_, _, ok := l.Explicit()
	assert.False(t, ok)

	l.Y = &y
	gx, gy, ok := l.Explicit()
	assert.True(t, ok)
	assert.Equal(t, 2, gx)
	assert.Equal(t, 4, gy)

	w, h := EntryLayout{Width: 3}.Size()
	assert.Equal(t, 3, w)
	assert.Equal(t, 1, h)
}

func TestAppEntryValidate(t *testing.T) {
	assert.NoError(t, AppEntry{Name: "a", URL: "http://a"}.Validate())
	assert.Error(t, AppEntry{URL: "http://a"}.Validate())
	assert.Error(t, AppEntry{Name: "a"}.Validate())
	assert.Error(t, AppEntry{Name: "a", URL: "http://a", Kind: "vm"}.Validate())
}
