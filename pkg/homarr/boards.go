package homarr

import (
	"context"
	"fmt"
)

// BoardByName fetches a board with its sections, layouts and items.
// It returns ErrNotFound when no board has that name.
func (c *Client) BoardByName(ctx context.Context, name string) (Board, error) {
	var board Board
	if err := c.query(ctx, "board.getBoardByName", map[string]string{"name": name}, &board); err != nil {
		return Board{}, fmt.Errorf("get board %q: %w", name, err)
	}
	return board, nil
}

// CreateBoard creates a board and returns its id.
func (c *Client) CreateBoard(ctx context.Context, spec BoardSpec) (string, error) {
	var out struct {
		BoardID string `json:"boardId"`
	}
	if err := c.mutate(ctx, "board.createBoard", spec, &out); err != nil {
		return "", fmt.Errorf("create board %q: %w", spec.Name, err)
	}
	if out.BoardID == "" {
		return "", fmt.Errorf("create board %q: %w", spec.Name,
			&APIError{Procedure: "board.createBoard", Message: "empty board id", Err: ErrRemoteProtocol})
	}
	return out.BoardID, nil
}

// WritableBoards lists the boards the caller may modify.
func (c *Client) WritableBoards(ctx context.Context) ([]BoardSummary, error) {
	var all []BoardSummary
	if err := c.query(ctx, "board.getAllBoards", nil, &all); err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}

	writable := make([]BoardSummary, 0, len(all))
	for _, b := range all {
		if b.Writable() {
			writable = append(writable, b)
		}
	}
	return writable, nil
}

// SaveBoardItems replaces the item list of board. Sections are sent back as
// they were read. The dashboard has no version token, so a concurrent edit
// between the read of board and this call is overwritten.
func (c *Client) SaveBoardItems(ctx context.Context, board Board, items []BoardItem) error {
	if items == nil {
		items = []BoardItem{}
	}
	sections := board.Sections
	if sections == nil {
		sections = []Section{}
	}
	input := map[string]any{
		"id":           board.ID,
		"sections":     sections,
		"items":        items,
		"integrations": []any{},
	}
	if err := c.mutate(ctx, "board.saveBoard", input, nil); err != nil {
		return fmt.Errorf("save board %q: %w", board.Name, err)
	}
	return nil
}

// SetHomeBoard makes the board the home board of the current user.
func (c *Client) SetHomeBoard(ctx context.Context, boardID string) error {
	if err := c.mutate(ctx, "board.setHomeBoard", map[string]string{"id": boardID}, nil); err != nil {
		return fmt.Errorf("set home board: %w", err)
	}
	return nil
}
