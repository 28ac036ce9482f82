package homarr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Login establishes a session cookie with username and password. The cookie
// lands in the client's jar and is used by later calls that carry no API key.
func (c *Client) Login(ctx context.Context, username, password string) error {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return err
	}

	form := url.Values{
		"csrfToken": {token},
		"name":      {username},
		"password":  {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/auth/callback/credentials", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// A successful sign-in answers with a redirect; following it would hide
	// the error query parameter of a failed one.
	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Procedure: "auth.login", Message: err.Error(), Err: ErrRemoteUnavailable}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return &APIError{Procedure: "auth.login", StatusCode: resp.StatusCode, Message: "server error", Err: ErrRemoteUnavailable}
	case resp.StatusCode == http.StatusFound || (resp.StatusCode >= 200 && resp.StatusCode < 300):
		if strings.Contains(resp.Header.Get("Location"), "error=") {
			return &APIError{Procedure: "auth.login", StatusCode: resp.StatusCode, Message: "credentials rejected", Err: ErrAuthRejected}
		}
		c.log.Debug().Str("user", username).Msg("homarr session established")
		return nil
	default:
		return &APIError{Procedure: "auth.login", StatusCode: resp.StatusCode, Message: "login failed", Err: ErrAuthRejected}
	}
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/csrf", nil)
	if err != nil {
		return "", fmt.Errorf("create csrf request: %w", err)
	}

	data, status, err := c.send(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &APIError{Procedure: "auth.csrf", Message: err.Error(), Err: ErrRemoteUnavailable}
	}
	if status < 200 || status >= 300 {
		return "", &APIError{Procedure: "auth.csrf", StatusCode: status, Message: "unexpected status", Err: classifyStatus(status, "")}
	}

	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.CSRFToken == "" {
		return "", &APIError{Procedure: "auth.csrf", StatusCode: status, Message: "missing csrf token", Err: ErrRemoteProtocol}
	}
	return body.CSRFToken, nil
}

// RotateAPIKey exchanges a one-time bootstrap key for a permanent API key.
// The request is authenticated with the bootstrap key regardless of the
// client's credential.
func (c *Client) RotateAPIKey(ctx context.Context, bootstrapKey string) (string, error) {
	bootstrap := c.WithCredential(APIKey(bootstrapKey))

	var out struct {
		APIKey string `json:"apiKey"`
	}
	if err := bootstrap.mutate(ctx, "apiKeys.create", nil, &out); err != nil {
		return "", fmt.Errorf("rotate api key: %w", err)
	}
	if out.APIKey == "" {
		return "", fmt.Errorf("rotate api key: %w", &APIError{Procedure: "apiKeys.create", Message: "empty key", Err: ErrRemoteProtocol})
	}
	return out.APIKey, nil
}
