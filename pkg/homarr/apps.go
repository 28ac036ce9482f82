package homarr

import (
	"context"
	"fmt"
	"strings"
)

// AllApps returns every app record known to the dashboard.
func (c *Client) AllApps(ctx context.Context) ([]RemoteApp, error) {
	var apps []RemoteApp
	if err := c.query(ctx, "app.all", nil, &apps); err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	return apps, nil
}

// UpsertApp creates an app when existingID is empty and updates it in place
// otherwise. The returned id equals existingID on update.
func (c *Client) UpsertApp(ctx context.Context, existingID string, spec AppSpec) (string, error) {
	if existingID != "" {
		if err := c.mutate(ctx, "app.update", spec.payload(existingID), nil); err != nil {
			return "", fmt.Errorf("update app %q: %w", spec.Name, err)
		}
		return existingID, nil
	}

	var out struct {
		AppID string `json:"appId"`
		ID    string `json:"id"`
	}
	if err := c.mutate(ctx, "app.create", spec.payload(""), &out); err != nil {
		return "", fmt.Errorf("create app %q: %w", spec.Name, err)
	}
	id := out.AppID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return "", fmt.Errorf("create app %q: %w", spec.Name,
			&APIError{Procedure: "app.create", Message: "empty app id", Err: ErrRemoteProtocol})
	}
	return id, nil
}

// AppSpecFor builds the app payload for a desired entry, rewriting its icon
// against the asset server.
func (c *Client) AppSpecFor(entry AppEntry) AppSpec {
	return AppSpec{
		Name:        entry.Name,
		Description: entry.Description,
		IconURL:     IconURL(entry.IconURL, c.assetURL),
		Href:        strings.TrimSpace(entry.URL),
		PingURL:     entry.PingURL,
	}
}
