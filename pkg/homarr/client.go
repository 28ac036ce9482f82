// Package homarr talks to a Homarr dashboard over its tRPC HTTP API.
//
// Queries are sent as GET /api/trpc/<proc>?input=<{"json":...}> and
// mutations as POST /api/trpc/<proc> with a {"json":...} body. Every answer
// is wrapped in {"result":{"data":{"json":...}}}.
package homarr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 8 << 20
)

// Credential selects how requests are authenticated. The zero value uses the
// session cookie established by Login.
type Credential struct {
	APIKey string
}

// APIKey returns a bearer credential.
func APIKey(key string) Credential {
	return Credential{APIKey: strings.TrimSpace(key)}
}

// IsAPIKey reports whether the credential carries a bearer key.
func (c Credential) IsAPIKey() bool {
	return c.APIKey != ""
}

// Client is a Homarr API client. A Client is safe for concurrent use.
type Client struct {
	http     *http.Client
	baseURL  string
	assetURL string
	cred     Credential
	log      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The client should carry a cookie
// jar when session login is used.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCredential sets the initial credential.
func WithCredential(cred Credential) Option {
	return func(c *Client) { c.cred = cred }
}

// WithAssetServer sets the base URL icon paths are rewritten against.
func WithAssetServer(assetURL string) Option {
	return func(c *Client) { c.assetURL = strings.TrimRight(assetURL, "/") }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient returns a client for the dashboard at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse homarr url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("homarr url %q must use http or https", baseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("homarr url %q has no host", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		http: &http.Client{
			Timeout:   defaultTimeout,
			Jar:       jar,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(parsed.String(), "/"),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.assetURL == "" {
		c.assetURL = c.baseURL
	}
	return c, nil
}

// BaseURL returns the normalized dashboard URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Credential returns the credential used for requests.
func (c *Client) Credential() Credential {
	return c.cred
}

// WithCredential returns a copy of c that authenticates with cred. The copy
// shares the HTTP client and its cookie jar.
func (c *Client) WithCredential(cred Credential) *Client {
	cp := *c
	cp.cred = cred
	return &cp
}

type envelope struct {
	JSON any `json:"json"`
}

type resultEnvelope struct {
	Result struct {
		Data struct {
			JSON json.RawMessage `json:"json"`
		} `json:"data"`
	} `json:"result"`
}

type errorEnvelope struct {
	Error struct {
		JSON struct {
			Message string `json:"message"`
			Data    struct {
				Code       string `json:"code"`
				HTTPStatus int    `json:"httpStatus"`
			} `json:"data"`
		} `json:"json"`
	} `json:"error"`
}

func (c *Client) query(ctx context.Context, proc string, input, out any) error {
	return c.call(ctx, http.MethodGet, proc, input, out)
}

func (c *Client) mutate(ctx context.Context, proc string, input, out any) error {
	if input == nil {
		input = map[string]any{}
	}
	return c.call(ctx, http.MethodPost, proc, input, out)
}

func (c *Client) call(ctx context.Context, method, proc string, input, out any) error {
	endpoint := c.baseURL + "/api/trpc/" + proc

	var body io.Reader
	if input != nil {
		payload, err := json.Marshal(envelope{JSON: input})
		if err != nil {
			return fmt.Errorf("marshal %s input: %w", proc, err)
		}
		if method == http.MethodGet {
			endpoint += "?input=" + url.QueryEscape(string(payload))
		} else {
			body = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", proc, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cred.IsAPIKey() {
		req.Header.Set("Authorization", "Bearer "+c.cred.APIKey)
	}

	data, status, err := c.send(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Procedure: proc, Message: err.Error(), Err: ErrRemoteUnavailable}
	}

	c.log.Debug().Str("proc", proc).Int("status", status).Msg("homarr call")

	if status < 200 || status >= 300 {
		return decodeError(proc, status, data)
	}
	if out == nil {
		return nil
	}

	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &APIError{Procedure: proc, StatusCode: status, Message: err.Error(), Err: ErrRemoteProtocol}
	}
	raw := env.Result.Data.JSON
	if len(raw) == 0 || string(raw) == "null" {
		return &APIError{Procedure: proc, StatusCode: status, Message: "empty result", Err: ErrRemoteProtocol}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Procedure: proc, StatusCode: status, Message: err.Error(), Err: ErrRemoteProtocol}
	}
	return nil
}

func (c *Client) send(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func decodeError(proc string, status int, data []byte) error {
	var env errorEnvelope
	message := strings.TrimSpace(string(data))
	code := ""
	if err := json.Unmarshal(data, &env); err == nil && env.Error.JSON.Message != "" {
		message = env.Error.JSON.Message
		code = env.Error.JSON.Data.Code
	}
	if len(message) > 512 {
		message = message[:512]
	}
	return &APIError{
		Procedure:  proc,
		StatusCode: status,
		Message:    message,
		Err:        classifyStatus(status, code),
	}
}

// IsRetryable reports whether err is a transient dashboard failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}
