// Package placement computes grid positions for board items that were not
// given explicit coordinates.
//
// The heuristic is greedy: it only ever looks at the bottom-most occupied row
// and never backfills gaps in earlier rows. Given the same rectangles and
// column count it always returns the same position.
package placement

// DefaultColumns is used when a board reports no usable column count.
const DefaultColumns = 12

// Rect is the cell rectangle occupied by one placed item.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Rect) normalized() Rect {
	if r.Width <= 0 {
		r.Width = 1
	}
	if r.Height <= 0 {
		r.Height = 1
	}
	return r
}

// Bottom returns the first row below the rectangle.
func (r Rect) Bottom() int {
	n := r.normalized()
	return n.Y + n.Height
}

// Next returns the position for a new 1x1 item.
func Next(items []Rect, columns int) (x, y int) {
	return NextFor(items, columns, 1)
}

// NextFor returns the position for a new item that spans width columns.
//
// Among the items whose bottom edge is the lowest on the board, it collects
// the occupied columns and returns the first run of width free columns in
// the row just above that edge. When the row has no room the item starts a
// new row at (0, maxBottom).
func NextFor(items []Rect, columns, width int) (x, y int) {
	if columns <= 0 {
		columns = DefaultColumns
	}
	if width <= 0 {
		width = 1
	}
	if width > columns {
		width = columns
	}

	maxBottom := 0
	occupied := make(map[int]struct{})
	for _, item := range items {
		r := item.normalized()
		bottom := r.Y + r.Height
		if bottom > maxBottom {
			maxBottom = bottom
			clear(occupied)
		}
		if bottom == maxBottom {
			for col := r.X; col < r.X+r.Width; col++ {
				occupied[col] = struct{}{}
			}
		}
	}

	row := max(maxBottom-1, 0)
	for start := 0; start+width <= columns; start++ {
		if runIsFree(occupied, start, width) {
			return start, row
		}
	}

	return 0, maxBottom
}

func runIsFree(occupied map[int]struct{}, start, width int) bool {
	for col := start; col < start+width; col++ {
		if _, taken := occupied[col]; taken {
			return false
		}
	}
	return true
}

// Overlaps reports whether a and b share at least one cell.
func Overlaps(a, b Rect) bool {
	a, b = a.normalized(), b.normalized()
	return a.X < b.X+b.Width && b.X < a.X+a.Width &&
		a.Y < b.Y+b.Height && b.Y < a.Y+a.Height
}
